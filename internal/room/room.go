package room

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/go4org/hashtriemap"

	"github.com/vidbridge/signaling/internal/media"
	"github.com/vidbridge/signaling/internal/metrics"
	"github.com/vidbridge/signaling/internal/protocol"
)

var (
	// ErrRoomClosed is returned by Join after the room has been closed.
	ErrRoomClosed = errors.New("room: closed")

	// ErrNameTaken is returned by Join when the display name is already in
	// use in the room.
	ErrNameTaken = errors.New("room: participant name already taken")
)

// Room is a named set of participants sharing one media pipeline.
type Room struct {
	name     string
	pipeline media.Pipeline
	log      *slog.Logger
	metrics  *metrics.Metrics

	participants hashtriemap.HashTrieMap[string, *Participant]

	mu     sync.Mutex
	closed bool
}

func newRoom(name string, pipeline media.Pipeline, logger *slog.Logger, m *metrics.Metrics) *Room {
	r := &Room{
		name:     name,
		pipeline: pipeline,
		log:      logger.With("room", name),
		metrics:  m,
	}
	r.log.Info("room created")
	return r
}

func (r *Room) Name() string { return r.name }

// Join adds a participant to the room: it creates the session (and its
// outgoing endpoint), announces the arrival to every other participant, and
// sends the joiner the current roster. Joining with a name already present
// is rejected with ErrNameTaken.
func (r *Room) Join(name, role string, conn Conn) (*Participant, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRoomClosed
	}
	r.mu.Unlock()

	r.log.Info("participant joining", "participant", name, "role", role)

	p, err := newParticipant(name, role, r.name, conn, r.pipeline, r.log, r.metrics)
	if err != nil {
		return nil, err
	}

	if _, loaded := r.participants.LoadOrStore(name, p); loaded {
		p.Close()
		r.metrics.Inc(metrics.JoinRejected)
		return nil, ErrNameTaken
	}

	// Close may have swept the map between the check above and the store;
	// re-check so the joiner cannot stay registered in a room whose
	// pipeline is already released.
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		r.participants.Delete(name)
		p.Close()
		return nil, ErrRoomClosed
	}
	r.metrics.Inc(metrics.ParticipantsJoined)

	arrived := protocol.NewParticipantArrivedMessage(name, role)
	roster := make([]protocol.ParticipantInfo, 0)
	r.participants.Range(func(otherName string, other *Participant) bool {
		if otherName == name {
			return true
		}
		// Best-effort fan-out: an unreachable peer must not abort the rest.
		other.Send(arrived)
		roster = append(roster, protocol.ParticipantInfo{Name: other.Name(), Role: other.Role()})
		return true
	})

	p.Send(protocol.ExistingParticipantsMessage(roster))
	return p, nil
}

// Leave removes the participant, tears down every remaining participant's
// subscription to it, announces the departure, and releases the leaver's
// resources.
func (r *Room) Leave(p *Participant) {
	r.log.Info("participant leaving", "participant", p.Name())

	r.participants.Delete(p.Name())

	left := protocol.ParticipantLeftMessage(p.Name())
	r.participants.Range(func(_ string, other *Participant) bool {
		other.UnsubscribeFrom(p.Name())
		other.Send(left)
		return true
	})

	p.Close()
	r.metrics.Inc(metrics.ParticipantsLeft)
}

// Participant returns the session registered under name.
func (r *Room) Participant(name string) (*Participant, bool) {
	return r.participants.Load(name)
}

// Empty reports whether the room has no participants.
func (r *Room) Empty() bool {
	empty := true
	r.participants.Range(func(string, *Participant) bool {
		empty = false
		return false
	})
	return empty
}

// Close releases every remaining participant and the room's pipeline. It is
// safe to call more than once; only the first call releases the pipeline.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.participants.Range(func(name string, p *Participant) bool {
		r.participants.Delete(name)
		p.Close()
		return true
	})

	if err := r.pipeline.Release(); err != nil && !errors.Is(err, media.ErrReleased) {
		r.log.Warn("release pipeline", "err", err)
	}
	r.metrics.Inc(metrics.RoomsClosed)
	r.log.Info("room closed")
}
