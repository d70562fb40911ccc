// Package signaling implements the websocket endpoint browser clients talk
// to: one connection per participant, JSON text frames, one session state
// machine per connection.
//
// The read loop is the only goroutine that touches the session; everything it
// calls into (rooms, participants, media endpoints) is safe for concurrent
// use, so callbacks from the media layer may fire at any time.
package signaling
