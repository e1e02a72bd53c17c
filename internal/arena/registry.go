package arena

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// registry holds the rooms of arenas this process is running.
type registry struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]*Room
}

func newRegistry() *registry {
	return &registry{rooms: make(map[uuid.UUID]*Room)}
}

func (g *registry) get(id uuid.UUID) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[id]
	return r, ok
}

// getOrLoad returns the room for id, calling load at most once per concurrent miss.
func (g *registry) getOrLoad(ctx context.Context, id uuid.UUID, load func(context.Context, uuid.UUID) (*Room, error)) (*Room, error) {
	if r, ok := g.get(id); ok {
		return r, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[id]; ok {
		return r, nil
	}
	r, err := load(ctx, id)
	if err != nil {
		return nil, err
	}
	g.rooms[id] = r
	return r, nil
}

func (g *registry) put(r *Room) {
	g.mu.Lock()
	g.rooms[r.session.ID] = r
	g.mu.Unlock()
}

func (g *registry) remove(id uuid.UUID) {
	g.mu.Lock()
	delete(g.rooms, id)
	g.mu.Unlock()
}

func (g *registry) all() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out
}
