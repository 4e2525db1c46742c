// Package apns implements the legacy binary Apple Push Notification protocol.
//
// A notification is encoded as a single frame (command 2) holding five
// tag-length-value items and written over a fresh mutually-authenticated TLS
// connection. The gateway never acknowledges a successful frame; it only
// answers with a 6-byte error response (command 8) when it rejects one, and
// then closes the connection. Session.Send therefore waits a bounded
// ProbeWindow for that reply: a nil error means "not known to have failed",
// not a delivery receipt.
//
// The feedback service streams fixed 38-byte records naming device tokens
// that should no longer receive notifications. FeedbackDecoder reads them
// until the stream ends.
package apns
