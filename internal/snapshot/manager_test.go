package snapshot

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxlabs/flux/infrastructure/logging"
	"github.com/fluxlabs/flux/internal/stateengine"
)

func TestManager_PrunesOldestBeyondKeepCount(t *testing.T) {
	dir := t.TempDir()
	engine := stateengine.New(logging.New("test", "error", "text"), nil)
	engine.SetLive(context.Background())
	engine.UpdateProperty("alice/thing1", "temp", []byte(`1`))

	m := NewManager(ManagerConfig{Dir: dir, KeepCount: 2, Enabled: true}, engine, logging.New("test", "error", "text"), nil)

	for i := 0; i < 4; i++ {
		m.captureOnce(context.Background())
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestManager_DisabledRunExitsImmediately(t *testing.T) {
	engine := stateengine.New(logging.New("test", "error", "text"), nil)
	m := NewManager(ManagerConfig{Enabled: false}, engine, logging.New("test", "error", "text"), nil)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() should return immediately when disabled")
	}
}
