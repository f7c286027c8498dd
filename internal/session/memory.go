package session

import (
	"context"
	"sync"
	"time"

	"github.com/inksuite/signet/internal/clock"
)

// memoryBackend is the last-resort tier. It never fails, survives no
// restart, and shares nothing across processes; its only job is keeping
// sign-in alive while redis and the master store are both down.
type memoryBackend struct {
	clk clock.Clock

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

func newMemoryBackend(clk clock.Clock) *memoryBackend {
	return &memoryBackend{clk: clk, entries: make(map[string]memoryEntry)}
}

func (b *memoryBackend) Name() string { return "memory" }

func (b *memoryBackend) Probe(ctx context.Context) error { return nil }

func (b *memoryBackend) Set(ctx context.Context, sessionID string, payload []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[sessionID] = memoryEntry{
		payload:   append([]byte(nil), payload...),
		expiresAt: b.clk.Now().UTC().Add(ttl),
	}
	return nil
}

func (b *memoryBackend) Get(ctx context.Context, sessionID string) ([]byte, error) {
	b.mu.RLock()
	entry, ok := b.entries[sessionID]
	b.mu.RUnlock()
	if !ok || !entry.expiresAt.After(b.clk.Now().UTC()) {
		return nil, nil
	}
	return append([]byte(nil), entry.payload...), nil
}

func (b *memoryBackend) Delete(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, sessionID)
	return nil
}

func (b *memoryBackend) Exists(ctx context.Context, sessionID string) (bool, error) {
	payload, _ := b.Get(ctx, sessionID)
	return payload != nil, nil
}

func (b *memoryBackend) Sweep() int {
	now := b.clk.Now().UTC()
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for id, entry := range b.entries {
		if !entry.expiresAt.After(now) {
			delete(b.entries, id)
			removed++
		}
	}
	return removed
}
