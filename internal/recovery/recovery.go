// Package recovery finds the newest usable snapshot on disk at boot and
// loads it into the state engine before the replay subscriber attaches.
package recovery

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/fluxlabs/flux/infrastructure/logging"
	"github.com/fluxlabs/flux/internal/snapshot"
	"github.com/fluxlabs/flux/internal/stateengine"
)

// Recover scans dir for snapshot files, newest first, and loads the first
// one that decodes successfully into engine. It returns the sequence that
// recovery resumed at, or nil on a cold start (no usable snapshot found).
func Recover(ctx context.Context, dir string, engine *stateengine.Engine, logger *logging.Logger) *uint64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Info("no snapshot directory found, cold start")
		return nil
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && snapshot.IsSnapshotFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		path := filepath.Join(dir, name)
		s, err := snapshot.LoadFrom(path)
		if err != nil {
			logger.WithContext(ctx).WithError(err).Warn("corrupt snapshot, trying next older candidate")
			continue
		}
		engine.LoadFromSnapshot(s.Entities, s.SequenceNumber)
		logger.LogSnapshotOperation(ctx, "restore", s.SequenceNumber, nil)
		seq := s.SequenceNumber
		return &seq
	}

	logger.WithContext(ctx).Info("no usable snapshot found, cold start")
	return nil
}
