package room

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/vidbridge/signaling/internal/media"
	"github.com/vidbridge/signaling/internal/metrics"
)

type fakeFactory struct {
	mu        sync.Mutex
	pipelines []*fakePipeline
	createErr error
}

func (f *fakeFactory) CreatePipeline() (media.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	p := &fakePipeline{}
	f.pipelines = append(f.pipelines, p)
	return p, nil
}

func (f *fakeFactory) pipelineCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pipelines)
}

type fakePipeline struct {
	mu        sync.Mutex
	endpoints []*fakeEndpoint
	releases  int

	// nextOfferErr makes the next created endpoint fail ProcessOffer.
	nextOfferErr error
	// onCreate runs after an endpoint is created, outside the lock.
	onCreate func()
}

func (p *fakePipeline) CreateEndpoint() (media.Endpoint, error) {
	p.mu.Lock()
	ep := &fakeEndpoint{
		answer:   fmt.Sprintf("answer-%d", len(p.endpoints)),
		offerErr: p.nextOfferErr,
	}
	p.nextOfferErr = nil
	p.endpoints = append(p.endpoints, ep)
	hook := p.onCreate
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ep, nil
}

func (p *fakePipeline) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases++
	return nil
}

func (p *fakePipeline) releaseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releases
}

type fakeEndpoint struct {
	mu          sync.Mutex
	released    int
	offers      []string
	answer      string
	offerErr    error
	candidates  []media.Candidate
	sinks       []media.Endpoint
	onCandidate func(media.Candidate)
	gathered    bool
}

func (e *fakeEndpoint) ProcessOffer(sdpOffer string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.offerErr != nil {
		return "", e.offerErr
	}
	e.offers = append(e.offers, sdpOffer)
	return e.answer, nil
}

func (e *fakeEndpoint) GatherCandidates() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gathered = true
	return nil
}

func (e *fakeEndpoint) AddCandidate(c media.Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released > 0 {
		return media.ErrReleased
	}
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *fakeEndpoint) OnCandidateDiscovered(cb func(media.Candidate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCandidate = cb
}

func (e *fakeEndpoint) Connect(sink media.Endpoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
	return nil
}

func (e *fakeEndpoint) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.released++
	if e.released > 1 {
		return media.ErrReleased
	}
	return nil
}

// discover simulates the media engine announcing a local candidate.
func (e *fakeEndpoint) discover(c media.Candidate) {
	e.mu.Lock()
	cb := e.onCandidate
	e.mu.Unlock()
	if cb != nil {
		cb(c)
	}
}

func (e *fakeEndpoint) appliedCandidates() []media.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]media.Candidate, len(e.candidates))
	copy(out, e.candidates)
	return out
}

func (e *fakeEndpoint) releaseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

func (e *fakeEndpoint) connectedSinks() []media.Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]media.Endpoint, len(e.sinks))
	copy(out, e.sinks)
	return out
}

var errConnUnreachable = errors.New("connection unreachable")

type fakeConn struct {
	id string

	mu      sync.Mutex
	sendErr error
	sent    []any
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.sent))
	copy(out, c.sent)
	return out
}

func newTestRegistry(t *testing.T) (*Registry, *fakeFactory) {
	t.Helper()
	f := &fakeFactory{}
	return NewRegistry(f, slog.Default(), metrics.New()), f
}

// outgoingEndpoint digs out a participant's outgoing fake endpoint.
func outgoingEndpoint(t *testing.T, p *Participant) *fakeEndpoint {
	t.Helper()
	ep, ok := p.outgoing.(*fakeEndpoint)
	if !ok {
		t.Fatalf("outgoing endpoint is %T, want *fakeEndpoint", p.outgoing)
	}
	return ep
}

// incomingEndpoint digs out a participant's incoming fake endpoint for
// remoteName, or nil when no subscription exists.
func incomingEndpoint(p *Participant, remoteName string) *fakeEndpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep, ok := p.incoming[remoteName]
	if !ok {
		return nil
	}
	return ep.(*fakeEndpoint)
}
