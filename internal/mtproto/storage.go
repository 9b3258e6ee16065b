package mtproto

import (
	"context"
	"sync"

	"github.com/gotd/td/session"
)

// memorySession holds the serialized session in memory. The relay persists
// it through its own credential store.
type memorySession struct {
	mu   sync.Mutex
	data []byte
}

var _ session.Storage = (*memorySession)(nil)

func (m *memorySession) LoadSession(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.data) == 0 {
		return nil, session.ErrNotFound
	}
	return append([]byte(nil), m.data...), nil
}

func (m *memorySession) StoreSession(_ context.Context, data []byte) error {
	m.mu.Lock()
	m.data = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

func (m *memorySession) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}
