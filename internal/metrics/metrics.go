package metrics

import "sync"

// Event counter names. One flat namespace keeps the registry trivial; the
// Prometheus handler exports them as labels on a single counter.
const (
	RoomsCreated  = "rooms_created"
	RoomsClosed   = "rooms_closed"
	PipelineError = "pipeline_error"

	ParticipantsJoined = "participants_joined"
	ParticipantsLeft   = "participants_left"
	JoinRejected       = "join_rejected"

	CandidatesApplied  = "candidates_applied"
	CandidatesBuffered = "candidates_buffered"
	CandidatesReplayed = "candidates_replayed"

	MessagesIn       = "messages_in"
	MessagesOut      = "messages_out"
	ProtocolErrors   = "protocol_errors"
	NotifyFailures   = "notify_failures"
	MediaErrors      = "media_errors"
	ConnsRateLimited = "conns_rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A deployment that wants a real metrics backend can scrape the Prometheus
// endpoint; this type exists so the room and signaling logic stays testable
// without one.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
