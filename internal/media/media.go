// Package media defines the boundary to the media relay engine and provides
// a pion/webrtc implementation of it.
//
// The signaling core never touches RTP or SDP contents itself; it creates
// pipelines and endpoints through Factory and treats offers, answers and ICE
// candidates as opaque payloads.
package media

import "errors"

// ErrReleased is returned by operations on a pipeline or endpoint that has
// already been released.
var ErrReleased = errors.New("media: released")

// Candidate is a trickle ICE candidate as exchanged with clients.
type Candidate struct {
	Candidate     string
	SDPMid        *string
	SDPMLineIndex *uint16
}

// Factory creates media pipelines. One pipeline is shared by all
// participants of a room.
type Factory interface {
	CreatePipeline() (Pipeline, error)
}

// Pipeline groups the endpoints of one room. Releasing a pipeline releases
// every endpoint created from it.
type Pipeline interface {
	CreateEndpoint() (Endpoint, error)
	Release() error
}

// Endpoint is one media relay termination: a participant's published stream
// or one directed subscribe link between two participants.
type Endpoint interface {
	// ProcessOffer negotiates the endpoint against an SDP offer and returns
	// the SDP answer.
	ProcessOffer(sdpOffer string) (string, error)

	// GatherCandidates starts delivering discovered ICE candidates to the
	// callback registered with OnCandidateDiscovered. Candidates discovered
	// earlier are delivered first, in discovery order.
	GatherCandidates() error

	// AddCandidate applies a remote ICE candidate to the endpoint.
	AddCandidate(Candidate) error

	// OnCandidateDiscovered registers the candidate callback. It must be
	// called before GatherCandidates; the callback may be invoked
	// concurrently with other endpoint operations.
	OnCandidateDiscovered(func(Candidate))

	// Connect routes this endpoint's media into sink.
	Connect(sink Endpoint) error

	Release() error
}
