package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/internal/telemetry/logger"
	"github.com/yndnr/sessionguard/internal/telemetry/metric"
	"github.com/yndnr/sessionguard/pkg/crypto/seal"
)

// Default Badger settings.
const (
	DefaultGCInterval  = 10 * time.Minute
	DefaultGCThreshold = 0.5

	keyPrefix = "profile/"

	// sealInfo binds the derived record key to this store.
	sealInfo = "sessionguard/profiles/v1"
)

// BadgerConfig configures BadgerProfileStore.
type BadgerConfig struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool

	// EncryptionKey is the master key for record sealing. Nil stores
	// plaintext CBOR.
	EncryptionKey []byte

	// GCInterval is how often the value log is collected. Zero disables it.
	GCInterval  time.Duration
	GCThreshold float64

	SyncWrites bool
}

// DefaultBadgerConfig returns the default configuration for dir.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{
		Dir:         dir,
		GCInterval:  DefaultGCInterval,
		GCThreshold: DefaultGCThreshold,
		SyncWrites:  true,
	}
}

// BadgerProfileStore implements service.ProfileDocumentStore on Badger.
type BadgerProfileStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	sealer *seal.Sealer
	log    logger.Logger

	lastGC    atomic.Int64 // unix milliseconds
	gcRuns    atomic.Uint64
	conflicts atomic.Uint64

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// BadgerOption configures a BadgerProfileStore.
type BadgerOption func(*BadgerProfileStore)

// WithBadgerLogger sets the logger. Badger's own log lines go through it too.
func WithBadgerLogger(l logger.Logger) BadgerOption {
	return func(s *BadgerProfileStore) { s.log = l }
}

// OpenBadger opens or creates the store described by cfg.
func OpenBadger(cfg BadgerConfig, opts ...BadgerOption) (*BadgerProfileStore, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, domain.ErrMissingArgument.WithDetails("badger: dir is required")
	}
	if cfg.GCThreshold <= 0 || cfg.GCThreshold >= 1 {
		cfg.GCThreshold = DefaultGCThreshold
	}

	s := &BadgerProfileStore{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrDefault(s.log).With("component", "storage.badger")

	if cfg.EncryptionKey != nil {
		key, err := seal.DeriveKey(cfg.EncryptionKey, sealInfo)
		if err != nil {
			return nil, err
		}
		if s.sealer, err = seal.New(key); err != nil {
			return nil, err
		}
	}

	bopts := badger.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(&badgerLogger{log: s.log})
	if cfg.InMemory {
		bopts = bopts.WithDir("").WithValueDir("")
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, domain.ErrStorage.WithCause(fmt.Errorf("badger: open: %w", err))
	}
	s.db = db

	if cfg.GCInterval > 0 && !cfg.InMemory {
		go s.gcLoop(cfg.GCInterval)
	} else {
		close(s.doneCh)
	}

	s.log.Info("profile store opened",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"sealed", s.sealer != nil)
	return s, nil
}

// Read implements service.ProfileDocumentStore.
func (s *BadgerProfileStore) Read(ctx context.Context, subjectID string) (*domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := profileKey(subjectID)

	var p *domain.UserProfile
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = s.get(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create implements service.ProfileDocumentStore.
func (s *BadgerProfileStore) Create(ctx context.Context, profile *domain.UserProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := profile.Validate(); err != nil {
		return err
	}
	key := profileKey(profile.SubjectID)

	err := s.update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		switch {
		case err == nil:
			return domain.ErrProfileExists
		case !errors.Is(err, badger.ErrKeyNotFound):
			return domain.ErrStorage.WithCause(err)
		}
		return s.put(txn, key, profile)
	})
	if errors.Is(err, domain.ErrVersionConflict) {
		// A concurrent Create committed first.
		return domain.ErrProfileExists.WithCause(err)
	}
	return err
}

// WriteIfVersion implements service.ProfileDocumentStore.
func (s *BadgerProfileStore) WriteIfVersion(ctx context.Context, profile *domain.UserProfile, expectedVersion uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := profile.Validate(); err != nil {
		return err
	}
	key := profileKey(profile.SubjectID)

	return s.update(func(txn *badger.Txn) error {
		cur, err := s.get(txn, key)
		if err != nil {
			return err
		}
		if cur.Version != expectedVersion {
			return domain.ErrVersionConflict.WithDetails(
				fmt.Sprintf("stored version %d, expected %d", cur.Version, expectedVersion))
		}
		return s.put(txn, key, profile)
	})
}

// update runs fn in a read-write transaction. A Badger commit conflict means
// another writer committed the same key first; it is reported as a version
// conflict so the caller re-reads.
func (s *BadgerProfileStore) update(fn func(txn *badger.Txn) error) error {
	err := s.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		s.conflicts.Add(1)
		return domain.ErrVersionConflict.WithCause(err)
	}
	if err != nil && !domain.IsDomainError(err, "") {
		return domain.ErrStorage.WithCause(err)
	}
	return err
}

func (s *BadgerProfileStore) get(txn *badger.Txn, key []byte) (*domain.UserProfile, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, domain.ErrStorage.WithCause(err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, domain.ErrStorage.WithCause(err)
	}
	if s.sealer != nil {
		if raw, err = s.sealer.Open(raw, key); err != nil {
			return nil, domain.ErrStorage.WithDetails("open sealed record").WithCause(err)
		}
	}
	p, err := decodeProfile(raw)
	if err != nil {
		return nil, domain.ErrStorage.WithDetails("decode record").WithCause(err)
	}
	return p, nil
}

func (s *BadgerProfileStore) put(txn *badger.Txn, key []byte, p *domain.UserProfile) error {
	raw, err := encodeProfile(p)
	if err != nil {
		return domain.ErrStorage.WithDetails("encode record").WithCause(err)
	}
	if s.sealer != nil {
		if raw, err = s.sealer.Seal(raw, key); err != nil {
			return domain.ErrStorage.WithCause(err)
		}
	}
	return txn.Set(key, raw)
}

// Count returns the number of stored profiles.
func (s *BadgerProfileStore) Count() (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// BadgerStats reports storage statistics.
type BadgerStats struct {
	LSMSize      int64
	ValueLogSize int64
	LastGC       time.Time
	GCRuns       uint64
	Conflicts    uint64
}

// Stats returns storage statistics.
func (s *BadgerProfileStore) Stats() BadgerStats {
	lsm, vlog := s.db.Size()
	st := BadgerStats{
		LSMSize:      lsm,
		ValueLogSize: vlog,
		GCRuns:       s.gcRuns.Load(),
		Conflicts:    s.conflicts.Load(),
	}
	if ms := s.lastGC.Load(); ms > 0 {
		st.LastGC = time.UnixMilli(ms)
	}
	return st
}

// RegisterMetrics exposes storage gauges on reg. A nil registry is ignored.
func (s *BadgerProfileStore) RegisterMetrics(reg *metric.Registry) error {
	if reg == nil {
		return nil
	}
	c := metric.NewCollector().
		Add("badger_lsm_size_bytes", "Badger LSM tree size in bytes.", func() float64 {
			lsm, _ := s.db.Size()
			return float64(lsm)
		}).
		Add("badger_value_log_size_bytes", "Badger value log size in bytes.", func() float64 {
			_, vlog := s.db.Size()
			return float64(vlog)
		}).
		Add("badger_gc_runs", "Value log GC passes that rewrote a file.", func() float64 {
			return float64(s.gcRuns.Load())
		}).
		Add("badger_write_conflicts", "Profile writes rejected by transaction conflict.", func() float64 {
			return float64(s.conflicts.Load())
		})
	return reg.Prometheus().Register(c)
}

// GC runs value log garbage collection until nothing is left to rewrite.
func (s *BadgerProfileStore) GC() (int, error) {
	var runs int
	for {
		err := s.db.RunValueLogGC(s.cfg.GCThreshold)
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		if err != nil {
			return runs, fmt.Errorf("badger: gc: %w", err)
		}
		runs++
	}
	s.lastGC.Store(time.Now().UnixMilli())
	s.gcRuns.Add(uint64(runs))
	return runs, nil
}

func (s *BadgerProfileStore) gcLoop(interval time.Duration) {
	defer close(s.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			runs, err := s.GC()
			if err != nil {
				s.log.Error("value log gc failed", "error", err)
				continue
			}
			s.log.Debug("value log gc done", "rewrites", runs, "elapsed", time.Since(start))
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the GC loop and closes the database.
func (s *BadgerProfileStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		if err := s.db.Close(); err != nil {
			s.closeErr = fmt.Errorf("badger: close: %w", err)
		}
		s.log.Info("profile store closed")
	})
	return s.closeErr
}

func profileKey(subjectID string) []byte {
	return []byte(keyPrefix + subjectID)
}

// badgerLogger adapts logger.Logger to badger.Logger.
type badgerLogger struct {
	log logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
