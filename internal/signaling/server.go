package signaling

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vidbridge/signaling/internal/config"
	"github.com/vidbridge/signaling/internal/metrics"
	"github.com/vidbridge/signaling/internal/protocol"
	"github.com/vidbridge/signaling/internal/room"
)

// Server upgrades HTTP requests to signaling websocket connections and runs
// one read loop per connection.
//
// Per-connection limits guard the signaling plane: frames above the size cap
// kill the connection, and a token bucket caps the message rate so one
// client cannot monopolize the room fan-out.
type Server struct {
	cfg      config.Config
	registry *room.Registry
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, registry *room.Registry, logger *slog.Logger, m *metrics.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		log:      logger,
		metrics:  m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r, cfg.AllowedOrigins)
			},
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}

	conn := newWSConn(ws, s.cfg.WriteTimeout, s.metrics)
	sess := newSession(conn, s.registry, s.log, s.metrics)
	defer sess.close()

	ws.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	stopPings := make(chan struct{})
	defer close(stopPings)
	go s.pingLoop(conn, stopPings)

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MaxMessagesPerSecond), s.cfg.MaxMessagesPerSecond)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.log.Debug("connection closed", "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			conn.CloseWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}
		if !limiter.Allow() {
			s.metrics.Inc(metrics.ConnsRateLimited)
			conn.CloseWith(websocket.ClosePolicyViolation, "message rate limit exceeded")
			return
		}

		s.metrics.Inc(metrics.MessagesIn)
		msg, err := protocol.Parse(data)
		if err != nil {
			sess.log.Debug("rejecting message", "err", err)
			s.metrics.Inc(metrics.ProtocolErrors)
			sess.sendError("invalid message")
			continue
		}
		sess.handle(msg)
	}
}

func (s *Server) pingLoop(conn *wsConn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval())
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}
