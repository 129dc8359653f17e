package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fluxlabs/flux/infrastructure/logging"
	"github.com/fluxlabs/flux/infrastructure/metrics"
	"github.com/fluxlabs/flux/internal/stateengine"
)

// ManagerConfig configures the snapshot background task.
type ManagerConfig struct {
	Dir       string
	Interval  time.Duration
	KeepCount int
	Enabled   bool
}

// DefaultManagerConfig matches the documented defaults: a 5-minute
// interval and 10 retained snapshots.
func DefaultManagerConfig(dir string) ManagerConfig {
	return ManagerConfig{
		Dir:       dir,
		Interval:  5 * time.Minute,
		KeepCount: 10,
		Enabled:   true,
	}
}

// Manager periodically captures and rotates snapshots of an engine.
type Manager struct {
	cfg     ManagerConfig
	engine  *stateengine.Engine
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewManager builds a Manager for engine.
func NewManager(cfg ManagerConfig, engine *stateengine.Engine, logger *logging.Logger, m *metrics.Metrics) *Manager {
	return &Manager{cfg: cfg, engine: engine, logger: logger, metrics: m}
}

// Run blocks, capturing a snapshot on every tick until ctx is canceled.
// When disabled, it returns immediately.
func (m *Manager) Run(ctx context.Context) {
	if !m.cfg.Enabled {
		return
	}
	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		m.logger.WithContext(ctx).WithError(err).Error("cannot create snapshot directory")
		return
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.captureOnce(ctx)
		}
	}
}

func (m *Manager) captureOnce(ctx context.Context) {
	start := time.Now()
	seq := m.engine.LastProcessedSequence()
	s := FromEngine(m.engine, seq)
	path := filepath.Join(m.cfg.Dir, FileName(s.CreatedAt, seq))

	outcome := "ok"
	if err := SaveTo(s, path); err != nil {
		outcome = "error"
		m.logger.WithContext(ctx).WithError(err).Error("snapshot save failed")
	} else {
		m.logger.LogSnapshotOperation(ctx, "capture", seq, nil)
		m.pruneOldest(ctx)
	}

	if m.metrics != nil {
		m.metrics.RecordSnapshot(outcome, time.Since(start))
	}
}

func (m *Manager) pruneOldest(ctx context.Context) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("cannot list snapshot directory for pruning")
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && IsSnapshotFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	excess := len(names) - m.cfg.KeepCount
	for i := 0; i < excess; i++ {
		path := filepath.Join(m.cfg.Dir, names[i])
		if err := os.Remove(path); err != nil {
			m.logger.WithContext(ctx).WithError(err).Warn("failed to prune old snapshot")
		}
	}
}
