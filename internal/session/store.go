// Package session keeps short-lived sign-in state behind a tiered store:
// redis when configured, the master database, then process memory. Tiers
// degrade in order; losing redis and the database still leaves sign-in
// working within the process.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/inksuite/signet/internal/clock"
	"github.com/inksuite/signet/internal/config"
	"github.com/inksuite/signet/internal/observability/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type StoreParam struct {
	fx.In

	Cfg     config.Config
	Master  *gorm.DB
	Redis   *redis.Client `optional:"true"`
	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Store struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	ttl     time.Duration

	tiers  []Backend
	sql    *sqlBackend
	memory *memoryBackend
}

func NewStore(p StoreParam) *Store {
	s := &Store{
		log:     p.Log.Named("session.store"),
		metrics: p.Metrics,
		ttl:     time.Duration(p.Cfg.SessionTTLSeconds) * time.Second,
		sql:     newSQLBackend(p.Master, p.Clock),
		memory:  newMemoryBackend(p.Clock),
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	if p.Redis != nil {
		s.tiers = append(s.tiers, newRedisBackend(p.Redis))
	}
	s.tiers = append(s.tiers, s.sql, s.memory)
	return s
}

// pick probes the tiers in order and returns the first healthy one. Probing
// happens per operation, never cached, so a recovered tier is used again
// without a restart.
func (s *Store) pick(ctx context.Context) Backend {
	for _, tier := range s.tiers {
		if err := tier.Probe(ctx); err != nil {
			s.tierDown(tier, err)
			continue
		}
		return tier
	}
	return s.memory
}

// Set writes to the selected tier, degrading to process memory when even
// that write fails. A write landing below the primary is counted, not an
// error.
func (s *Store) Set(ctx context.Context, sessionID string, data map[string]interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	tier := s.pick(ctx)
	if err := tier.Set(ctx, sessionID, payload, ttl); err != nil {
		s.tierDown(tier, err)
		tier = s.memory
		_ = s.memory.Set(ctx, sessionID, payload, ttl)
	}
	if tier != s.tiers[0] {
		s.metrics.IncSessionFallback(tier.Name())
	}
	return nil
}

// Get returns nil without error when the selected tier does not know the
// session. Losing state written to a tier that has since recovered is an
// accepted degradation.
func (s *Store) Get(ctx context.Context, sessionID string) (map[string]interface{}, error) {
	tier := s.pick(ctx)
	payload, err := tier.Get(ctx, sessionID)
	if err != nil {
		s.tierDown(tier, err)
		tier = s.memory
		payload, _ = s.memory.Get(ctx, sessionID)
	}
	if tier != s.tiers[0] {
		s.metrics.IncSessionFallback(tier.Name())
	}
	if payload == nil {
		return nil, nil
	}
	var data map[string]interface{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// Update merges the patch into the stored state, creating the session when
// absent. The merged state is rewritten with a fresh TTL.
func (s *Store) Update(ctx context.Context, sessionID string, patch map[string]interface{}) error {
	data, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if data == nil {
		data = make(map[string]interface{}, len(patch))
	}
	for k, v := range patch {
		data[k] = v
	}
	return s.Set(ctx, sessionID, data, 0)
}

// Delete removes the session from every tier, not just the primary, so a
// recovered tier cannot resurrect it.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	for _, tier := range s.tiers {
		if err := tier.Delete(ctx, sessionID); err != nil {
			s.tierDown(tier, err)
		}
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, sessionID string) (bool, error) {
	tier := s.pick(ctx)
	ok, err := tier.Exists(ctx, sessionID)
	if err != nil {
		s.tierDown(tier, err)
		ok, _ = s.memory.Exists(ctx, sessionID)
	}
	return ok, nil
}

// Sweep drops expired state from the tiers that do not expire on their own.
func (s *Store) Sweep(ctx context.Context) {
	if removed, err := s.sql.Sweep(ctx); err != nil {
		s.log.Warn("session sweep failed", zap.Error(err))
	} else if removed > 0 {
		s.log.Debug("swept sessions", zap.Int64("removed", removed))
	}
	s.memory.Sweep()
}

func (s *Store) tierDown(tier Backend, err error) {
	s.log.Warn("session tier unavailable",
		zap.String("backend", tier.Name()),
		zap.Error(err))
}
