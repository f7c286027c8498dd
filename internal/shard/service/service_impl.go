package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/inksuite/signet/internal/clock"
	"github.com/inksuite/signet/internal/config"
	"github.com/inksuite/signet/internal/observability/metrics"
	quotadomain "github.com/inksuite/signet/internal/quota/domain"
	sharddomain "github.com/inksuite/signet/internal/shard/domain"
	"github.com/inksuite/signet/internal/tenant"
	dbpkg "github.com/inksuite/signet/pkg/db"
	"github.com/inksuite/signet/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ManagerParam struct {
	fx.In

	Cfg      config.Config
	Master   *gorm.DB
	Log      *zap.Logger
	Registry sharddomain.Registry
	Clock    clock.Clock
	Metrics  *metrics.Metrics `optional:"true"`
}

// Manager caches one bounded connection pool per shard for the process
// lifetime and provisions missing shards optimistically. Provisioning holds
// no cross-process lock; every step is idempotent so concurrent first-access
// converges.
type Manager struct {
	cfg      config.Config
	master   *gorm.DB
	log      *zap.Logger
	registry sharddomain.Registry
	clk      clock.Clock
	metrics  *metrics.Metrics

	mu    sync.Mutex
	pools map[string]*gorm.DB
	locks map[string]*sync.Mutex
}

func NewManager(p ManagerParam) sharddomain.Manager {
	return &Manager{
		cfg:      p.Cfg,
		master:   p.Master,
		log:      p.Log.Named("shard.manager"),
		registry: p.Registry,
		clk:      p.Clock,
		metrics:  p.Metrics,
		pools:    make(map[string]*gorm.DB),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *Manager) Ensure(ctx context.Context, id tenant.Identity) (*sharddomain.Handle, error) {
	shardID := id.ShardID()

	if pool, ok := m.pool(shardID); ok {
		m.touchRegistry(ctx, id, shardID)
		m.metrics.IncProvision(metrics.ProvisionResultReady)
		return &sharddomain.Handle{ShardID: shardID, DB: pool}, nil
	}

	// Serialize first-access per shard within this process; cross-process
	// races are handled by idempotent DDL and the registry upsert.
	lock := m.shardLock(shardID)
	lock.Lock()
	defer lock.Unlock()

	if pool, ok := m.pool(shardID); ok {
		m.touchRegistry(ctx, id, shardID)
		m.metrics.IncProvision(metrics.ProvisionResultReady)
		return &sharddomain.Handle{ShardID: shardID, DB: pool}, nil
	}

	name := id.ShardDBName(m.cfg.ShardDBPrefix)
	created := false

	pool, err := m.openShard(ctx, name)
	if err != nil {
		if err := m.createShardDatabase(ctx, name); err != nil {
			m.metrics.IncProvision(metrics.ProvisionResultFailed)
			return nil, fmt.Errorf("%w: create database %s: %v", sharddomain.ErrProvisioning, name, err)
		}
		created = true
		pool, err = m.openShard(ctx, name)
		if err != nil {
			m.metrics.IncProvision(metrics.ProvisionResultFailed)
			return nil, fmt.Errorf("%w: open %s: %v", sharddomain.ErrProvisioning, name, err)
		}
	}

	// Schema init is create-if-not-exists; run it on every first open so a
	// database that exists without tables still becomes usable.
	if err := pool.WithContext(ctx).AutoMigrate(&quotadomain.QuotaProfile{}, &quotadomain.SignatureLog{}); err != nil {
		m.closePool(pool)
		m.metrics.IncProvision(metrics.ProvisionResultFailed)
		return nil, fmt.Errorf("%w: migrate %s: %v", sharddomain.ErrProvisioning, name, err)
	}

	m.storePool(shardID, pool)
	m.touchRegistry(ctx, id, shardID)

	if created {
		m.log.Info("provisioned shard", zap.String("shard_id", shardID))
		m.metrics.IncProvision(metrics.ProvisionResultCreated)
	} else {
		m.metrics.IncProvision(metrics.ProvisionResultReady)
	}

	return &sharddomain.Handle{ShardID: shardID, DB: pool}, nil
}

func (m *Manager) WithSession(ctx context.Context, id tenant.Identity, fn func(tx *gorm.DB) error) error {
	handle, err := m.Ensure(ctx, id)
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok && m.cfg.ShardAcquireTimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.ShardAcquireTimeoutMS)*time.Millisecond)
		defer cancel()
	}
	ctx = tenantctx.WithIdentity(ctx, id)

	return handle.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	})
}

func (m *Manager) pool(shardID string) (*gorm.DB, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.pools[shardID]
	return pool, ok
}

func (m *Manager) storePool(shardID string, pool *gorm.DB) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[shardID] = pool
}

func (m *Manager) closePool(pool *gorm.DB) {
	sqlDB, err := pool.DB()
	if err != nil {
		m.log.Warn("close shard pool", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		m.log.Warn("close shard pool", zap.Error(err))
	}
}

func (m *Manager) shardLock(shardID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[shardID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[shardID] = lock
	}
	return lock
}

func (m *Manager) openShard(ctx context.Context, name string) (*gorm.DB, error) {
	dialector, err := dbpkg.NamedDialect(m.cfg, name)
	if err != nil {
		return nil, err
	}

	pool, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := pool.DB()
	if err != nil {
		return nil, err
	}

	maxOpen := m.cfg.ShardMaxOpenConn
	maxIdle := m.cfg.ShardMaxIdleConn
	if m.cfg.DBType == "sqlite" {
		// Shared in-memory sqlite misbehaves with concurrent writers.
		maxOpen, maxIdle = 1, 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Duration(m.cfg.ShardConnMaxLifetime) * time.Second)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if m.cfg.DBType == "sqlite" {
		_ = pool.Exec("PRAGMA busy_timeout = 5000").Error
	}

	return pool, nil
}

func (m *Manager) createShardDatabase(ctx context.Context, name string) error {
	switch m.cfg.DBType {
	case "sqlite":
		// Opening the DSN creates the database implicitly.
		return nil
	case "mysql":
		return m.execOnServer(ctx, fmt.Sprintf(
			"CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", name))
	case "postgres":
		err := m.execOnServer(ctx, fmt.Sprintf("CREATE DATABASE %q", name))
		if err != nil && dbpkg.IsDatabaseExistsErr(err) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("unsupported %s type", m.cfg.DBType)
	}
}

func (m *Manager) execOnServer(ctx context.Context, stmt string) error {
	dialector, err := dbpkg.ServerDialect(m.cfg)
	if err != nil {
		return err
	}
	server, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return err
	}
	sqlDB, err := server.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return server.WithContext(ctx).Exec(stmt).Error
}

// touchRegistry records the shard in the master inventory. Best effort:
// the shard stays usable when the registry write fails.
func (m *Manager) touchRegistry(ctx context.Context, id tenant.Identity, shardID string) {
	now := m.clk.Now().UTC()
	record := &sharddomain.ShardRecord{
		TenantKey:      id.Key(),
		ShardID:        shardID,
		ExternalUserID: id.ExternalUserID,
		TenantID:       id.TenantID,
		Provisioned:    true,
		CreatedAt:      now,
		LastActiveAt:   now,
	}
	if err := m.registry.Upsert(ctx, m.master, record); err != nil {
		m.log.Warn("shard registry upsert failed",
			zap.String("shard_id", shardID),
			zap.Error(err))
	}
}
