// Package router implements the routing table that demultiplexes decoded
// envelopes into per-channel consumer queues.
//
// The table maps a channel key to one bounded queue. Delivery never blocks:
// a frame for a channel with no consumer, or for a consumer whose queue is
// full, is dropped. The table lock only guards the key lookup and insert, so
// delivery to one channel never waits on registration of another.
package router
