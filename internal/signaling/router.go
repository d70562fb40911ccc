package signaling

import (
	"errors"
	"log/slog"

	"github.com/vidbridge/signaling/internal/metrics"
	"github.com/vidbridge/signaling/internal/protocol"
	"github.com/vidbridge/signaling/internal/room"
)

// session is the per-connection signaling state machine. It starts unbound,
// becomes bound to a room and participant on joinRoom, and is torn down by
// leaveRoom or when the connection drops. Only the connection's read loop
// calls into it.
type session struct {
	conn     *wsConn
	registry *room.Registry
	log      *slog.Logger
	metrics  *metrics.Metrics

	room        *room.Room
	participant *room.Participant
}

func newSession(conn *wsConn, registry *room.Registry, logger *slog.Logger, m *metrics.Metrics) *session {
	return &session{
		conn:     conn,
		registry: registry,
		log:      logger.With("conn", conn.ID()),
		metrics:  m,
	}
}

func (s *session) handle(msg protocol.Message) {
	switch msg.ID {
	case protocol.IDJoinRoom:
		s.handleJoin(msg)
	case protocol.IDReceiveVideoFrom:
		s.handleReceiveVideoFrom(msg)
	case protocol.IDLeaveRoom:
		s.leave()
	case protocol.IDOnIceCandidate:
		s.handleCandidate(msg)
	}
}

func (s *session) handleJoin(msg protocol.Message) {
	if s.participant != nil {
		s.metrics.Inc(metrics.ProtocolErrors)
		s.sendError("already in a room")
		return
	}

	role := msg.Role
	if role == "" {
		role = protocol.DefaultRole
	}

	r, err := s.registry.GetOrCreate(msg.Room)
	if err != nil {
		s.log.Error("create room", "room", msg.Room, "err", err)
		s.metrics.Inc(metrics.PipelineError)
		s.sendError("could not create room")
		return
	}

	p, err := r.Join(msg.Name, role, s.conn)
	if errors.Is(err, room.ErrNameTaken) {
		s.sendError("name already taken")
		return
	}
	if errors.Is(err, room.ErrRoomClosed) {
		// The room was torn down between lookup and join; one retry gets a
		// fresh instance.
		s.handleJoinRetry(msg, role)
		return
	}
	if err != nil {
		s.log.Error("join room", "room", msg.Room, "participant", msg.Name, "err", err)
		s.metrics.Inc(metrics.MediaErrors)
		s.sendError("could not join room")
		return
	}

	s.room = r
	s.participant = p
	s.log = s.log.With("room", msg.Room, "participant", msg.Name)
	s.log.Info("session bound")
}

func (s *session) handleJoinRetry(msg protocol.Message, role string) {
	r, err := s.registry.GetOrCreate(msg.Room)
	if err != nil {
		s.metrics.Inc(metrics.PipelineError)
		s.sendError("could not create room")
		return
	}
	p, err := r.Join(msg.Name, role, s.conn)
	if err != nil {
		s.log.Error("join room retry", "room", msg.Room, "participant", msg.Name, "err", err)
		s.sendError("could not join room")
		return
	}
	s.room = r
	s.participant = p
	s.log = s.log.With("room", msg.Room, "participant", msg.Name)
	s.log.Info("session bound")
}

func (s *session) handleReceiveVideoFrom(msg protocol.Message) {
	if s.participant == nil {
		// Not an error: messages on an unbound connection are stale.
		s.log.Debug("ignoring receiveVideoFrom on unbound session")
		return
	}

	if msg.Sender == s.participant.Name() {
		if _, err := s.participant.Publish(msg.SDPOffer); err != nil {
			s.log.Error("publish", "err", err)
			s.metrics.Inc(metrics.MediaErrors)
			s.sendError("could not publish stream")
		}
		return
	}

	sender, ok := s.room.Participant(msg.Sender)
	if !ok {
		// The sender may have just left; the request is stale, not a fault.
		s.log.Debug("ignoring receiveVideoFrom for absent sender", "sender", msg.Sender)
		return
	}
	if _, err := s.participant.SubscribeTo(sender, msg.SDPOffer); err != nil {
		s.log.Error("subscribe", "sender", msg.Sender, "err", err)
		s.metrics.Inc(metrics.MediaErrors)
		s.sendError("could not subscribe to " + msg.Sender)
	}
}

func (s *session) handleCandidate(msg protocol.Message) {
	if s.participant == nil {
		s.log.Debug("ignoring candidate on unbound session")
		return
	}

	// Older clients omit the target name on candidates for their own
	// published stream.
	target := msg.Name
	if target == "" {
		target = s.participant.Name()
	}

	err := s.participant.AddRemoteCandidate(msg.Candidate.ToMedia(), target)
	if err != nil && !errors.Is(err, room.ErrSessionClosed) {
		s.log.Warn("add candidate", "target", target, "err", err)
		s.metrics.Inc(metrics.MediaErrors)
	}
}

// leave unbinds the session from its room. Safe to call when unbound and
// after the connection has dropped.
func (s *session) leave() {
	if s.participant == nil {
		return
	}
	r, p := s.room, s.participant
	s.room, s.participant = nil, nil

	r.Leave(p)
	if r.Empty() {
		s.registry.Remove(r)
	}
	s.log.Info("session unbound")
}

// close tears the session down when the connection goes away.
func (s *session) close() {
	s.leave()
	s.conn.Close()
}

// sendError delivers an error frame. Callers count the failure under the
// counter that fits its cause; sendError itself counts nothing so media
// faults are not also tallied as protocol errors.
func (s *session) sendError(message string) {
	if err := s.conn.Send(protocol.ErrorMessage(message)); err != nil {
		s.log.Debug("send error message", "err", err)
	}
}
