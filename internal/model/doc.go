// Package model defines the envelope exchanged over a multiplexed connection
// and its wire encoding.
//
// Every transport message carries exactly one envelope encoded as a flat JSON
// object with two string fields:
//
//	{"channel":"<key>","data":"<payload>"}
//
// The channel key and the payload are opaque Unicode text. Nothing in this
// package interprets the payload.
package model
