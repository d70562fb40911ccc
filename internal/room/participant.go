package room

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vidbridge/signaling/internal/media"
	"github.com/vidbridge/signaling/internal/metrics"
	"github.com/vidbridge/signaling/internal/protocol"
)

// ErrSessionClosed is returned by operations on a participant whose
// resources have already been released.
var ErrSessionClosed = errors.New("room: participant session closed")

// Conn is the transport connection used to push messages to one client.
// Implementations must serialize writes and silently drop messages once the
// underlying connection is closed.
type Conn interface {
	ID() string
	Send(v any) error
}

// Participant is the per-connected-client session inside one room: the
// participant's published stream plus one incoming endpoint per remote
// participant being viewed.
type Participant struct {
	name     string
	role     string
	roomName string
	conn     Conn
	pipeline media.Pipeline
	log      *slog.Logger
	metrics  *metrics.Metrics
	outgoing media.Endpoint

	mu       sync.Mutex
	closed   bool
	incoming map[string]media.Endpoint
	pending  map[string][]media.Candidate
}

func newParticipant(name, role, roomName string, conn Conn, pipeline media.Pipeline, logger *slog.Logger, m *metrics.Metrics) (*Participant, error) {
	outgoing, err := pipeline.CreateEndpoint()
	if err != nil {
		return nil, fmt.Errorf("create outgoing endpoint: %w", err)
	}

	p := &Participant{
		name:     name,
		role:     role,
		roomName: roomName,
		conn:     conn,
		pipeline: pipeline,
		log:      logger.With("participant", name, "room", roomName),
		metrics:  m,
		outgoing: outgoing,
		incoming: make(map[string]media.Endpoint),
		pending:  make(map[string][]media.Candidate),
	}

	// Candidates for the published stream are tagged with the participant's
	// own name; conn and name are immutable, so the callback is safe to run
	// concurrently with everything else.
	outgoing.OnCandidateDiscovered(func(c media.Candidate) {
		p.Send(protocol.IceCandidateMessage(name, c))
	})

	return p, nil
}

func (p *Participant) Name() string { return p.name }
func (p *Participant) Role() string { return p.role }

// Publish negotiates the participant's own outgoing endpoint against the
// client's SDP offer, delivers the answer, and starts candidate gathering.
func (p *Participant) Publish(sdpOffer string) (string, error) {
	p.log.Info("negotiating published stream")

	answer, err := p.outgoing.ProcessOffer(sdpOffer)
	if err != nil {
		return "", fmt.Errorf("negotiate published stream: %w", err)
	}

	p.Send(protocol.ReceiveVideoAnswerMessage(p.name, answer))
	if err := p.outgoing.GatherCandidates(); err != nil {
		p.log.Warn("gather candidates", "err", err)
	}
	return answer, nil
}

// SubscribeTo creates an incoming endpoint fed by remote's published stream,
// replays any candidates buffered for remote, and negotiates it against the
// client's SDP offer. An existing subscription to remote is superseded: the
// old endpoint is released and replaced.
func (p *Participant) SubscribeTo(remote *Participant, sdpOffer string) (string, error) {
	p.log.Info("subscribing", "sender", remote.Name())

	incoming, err := p.pipeline.CreateEndpoint()
	if err != nil {
		return "", fmt.Errorf("create incoming endpoint: %w", err)
	}

	remoteName := remote.Name()
	incoming.OnCandidateDiscovered(func(c media.Candidate) {
		p.Send(protocol.IceCandidateMessage(remoteName, c))
	})

	if err := remote.outgoing.Connect(incoming); err != nil {
		_ = incoming.Release()
		return "", fmt.Errorf("connect %s to %s: %w", remoteName, p.name, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = incoming.Release()
		return "", ErrSessionClosed
	}
	superseded := p.incoming[remoteName]
	// Replay buffered candidates before the endpoint becomes visible so a
	// concurrently arriving candidate cannot jump the queue.
	buffered := p.pending[remoteName]
	delete(p.pending, remoteName)
	for _, c := range buffered {
		if err := incoming.AddCandidate(c); err != nil {
			p.log.Warn("replay buffered candidate", "sender", remoteName, "err", err)
		}
	}
	p.incoming[remoteName] = incoming
	p.mu.Unlock()

	if len(buffered) > 0 {
		p.log.Debug("replayed buffered candidates", "sender", remoteName, "count", len(buffered))
		p.metrics.Add(metrics.CandidatesReplayed, uint64(len(buffered)))
	}
	if superseded != nil {
		p.log.Warn("superseding existing subscription", "sender", remoteName)
		if err := superseded.Release(); err != nil {
			p.log.Warn("release superseded endpoint", "sender", remoteName, "err", err)
		}
	}

	answer, err := incoming.ProcessOffer(sdpOffer)
	if err != nil {
		p.UnsubscribeFrom(remoteName)
		return "", fmt.Errorf("negotiate subscription to %s: %w", remoteName, err)
	}

	p.Send(protocol.ReceiveVideoAnswerMessage(remoteName, answer))
	if err := incoming.GatherCandidates(); err != nil {
		p.log.Warn("gather candidates", "sender", remoteName, "err", err)
	}
	return answer, nil
}

// UnsubscribeFrom releases the incoming endpoint for remoteName. It is a
// no-op when no such subscription exists.
func (p *Participant) UnsubscribeFrom(remoteName string) {
	p.mu.Lock()
	incoming, ok := p.incoming[remoteName]
	if ok {
		delete(p.incoming, remoteName)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	p.log.Debug("canceling subscription", "sender", remoteName)
	if err := incoming.Release(); err != nil {
		p.log.Warn("release incoming endpoint", "sender", remoteName, "err", err)
	}
}

// AddRemoteCandidate applies a client candidate to the endpoint named by
// targetName: the participant's own name selects the outgoing endpoint, a
// remote's name selects the subscription to that remote. Candidates for a
// subscription that does not exist yet are buffered and replayed, oldest
// first, when it is created.
func (p *Participant) AddRemoteCandidate(c media.Candidate, targetName string) error {
	if targetName == p.name {
		p.metrics.Inc(metrics.CandidatesApplied)
		return p.outgoing.AddCandidate(c)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrSessionClosed
	}
	if incoming, ok := p.incoming[targetName]; ok {
		p.mu.Unlock()
		p.metrics.Inc(metrics.CandidatesApplied)
		return incoming.AddCandidate(c)
	}
	p.pending[targetName] = append(p.pending[targetName], c)
	p.mu.Unlock()

	p.log.Debug("buffering candidate", "sender", targetName)
	p.metrics.Inc(metrics.CandidatesBuffered)
	return nil
}

// Send delivers a message to the owning connection, best-effort. Delivery
// failures mean the peer is unreachable; they are counted and logged, never
// propagated.
func (p *Participant) Send(v any) {
	if err := p.conn.Send(v); err != nil {
		p.metrics.Inc(metrics.NotifyFailures)
		p.log.Debug("send failed", "err", err)
	}
}

// Close releases every incoming endpoint and the outgoing endpoint. It is
// idempotent; individual release failures are logged and do not prevent
// releasing the remainder.
func (p *Participant) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	incoming := p.incoming
	p.incoming = nil
	p.pending = nil
	p.mu.Unlock()

	p.log.Debug("releasing participant resources")
	for remoteName, ep := range incoming {
		if err := ep.Release(); err != nil && !errors.Is(err, media.ErrReleased) {
			p.log.Warn("release incoming endpoint", "sender", remoteName, "err", err)
		}
	}
	if err := p.outgoing.Release(); err != nil && !errors.Is(err, media.ErrReleased) {
		p.log.Warn("release outgoing endpoint", "err", err)
	}
}
