// Package connection is a websocket client for the public round event
// stream served at /ws.
//
// Client wraps one connection: it answers server pings, sends its own
// keepalive pings and reports a stale connection on Errors. Watcher keeps
// a Client connected, reconnecting with exponential backoff, and decodes
// each message into a round.Event.
package connection
