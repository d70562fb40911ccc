package room

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/vidbridge/signaling/internal/media"
	"github.com/vidbridge/signaling/internal/metrics"
)

// Registry is the process-wide mapping from room name to Room. Rooms are
// created lazily on first join and removed once empty.
type Registry struct {
	factory media.Factory
	log     *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry(factory media.Factory, logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factory: factory,
		log:     logger,
		metrics: m,
		rooms:   make(map[string]*Room),
	}
}

// GetOrCreate returns the room registered under name, creating it (and its
// media pipeline) if absent. The registry lock spans pipeline creation so
// two simultaneous first-joiners get the same room and exactly one
// pipeline.
func (r *Registry) GetOrCreate(name string) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[name]; ok {
		return room, nil
	}

	pipeline, err := r.factory.CreatePipeline()
	if err != nil {
		r.metrics.Inc(metrics.PipelineError)
		return nil, fmt.Errorf("create pipeline for room %q: %w", name, err)
	}

	room := newRoom(name, pipeline, r.log, r.metrics)
	r.rooms[name] = room
	r.metrics.Inc(metrics.RoomsCreated)
	return room, nil
}

// Remove unregisters the room and closes it, releasing its pipeline.
// Removing a room that is no longer registered only re-runs the idempotent
// close.
func (r *Registry) Remove(room *Room) {
	r.mu.Lock()
	if current, ok := r.rooms[room.Name()]; ok && current == room {
		delete(r.rooms, room.Name())
	}
	r.mu.Unlock()

	room.Close()
	r.log.Info("room removed", "room", room.Name())
}

// ActiveRooms returns the number of registered rooms.
func (r *Registry) ActiveRooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
