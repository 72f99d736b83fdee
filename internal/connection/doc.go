// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Multiplexes many logical channels over one duplex message socket
//   - Owns the write half; concurrent sends are serialized
//   - Runs one reader goroutine that decodes envelopes and routes them
//   - Drops frames for absent or saturated consumers instead of blocking
//   - Closes every consumer queue when the socket goes away
//
// Sockets are usually WebSocket connections obtained with Dial or Accept.
// Pipe provides an in-memory pair for tests.
package connection
