package raster

import (
	"context"
	"fmt"
	"sync"
)

// MemoryReader serves scenes held in memory, keyed by scene ID.
type MemoryReader struct {
	mu     sync.RWMutex
	scenes map[string]*Scene
}

// NewMemoryReader returns a reader preloaded with the given scenes.
func NewMemoryReader(scenes ...*Scene) *MemoryReader {
	m := &MemoryReader{scenes: make(map[string]*Scene, len(scenes))}
	for _, s := range scenes {
		m.scenes[s.ID] = s
	}
	return m
}

// Put adds or replaces a scene.
func (m *MemoryReader) Put(s *Scene) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenes[s.ID] = s
}

func (m *MemoryReader) ReadScene(ctx context.Context, id string) (*Scene, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scenes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s not found", ErrSceneUnreadable, id)
	}
	return s, nil
}
