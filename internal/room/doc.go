// Package room owns the signaling server's mutable conference state: the
// registry of named rooms, each room's participant set, and the media
// endpoints linking participants.
//
// All state is shared across connection-handling goroutines. The registry
// serializes room creation so a room name maps to exactly one pipeline;
// rooms use a concurrent map for their participant set; each participant
// guards its own endpoint and candidate-buffer maps with one mutex so the
// "an incoming endpoint for X implies no buffered candidates for X"
// invariant holds.
package room
