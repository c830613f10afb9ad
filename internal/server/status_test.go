package server

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D4ffi/allay-app/internal/model"
)

// fakeBackend is a func-field test double for the Backend interface.
type fakeBackend struct {
	loaderKind  func(serverName string) (string, error)
	startServer func(serverName, loader string) error
	stopServer  func(serverName string) error
}

func (b *fakeBackend) LoaderKind(serverName string) (string, error) {
	if b.loaderKind != nil {
		return b.loaderKind(serverName)
	}
	return model.LoaderVanilla, nil
}

func (b *fakeBackend) StartServer(serverName, loader string) error {
	if b.startServer != nil {
		return b.startServer(serverName, loader)
	}
	return nil
}

func (b *fakeBackend) StopServer(serverName string) error {
	if b.stopServer != nil {
		return b.stopServer(serverName)
	}
	return nil
}

// TestStatusRegistryDefaultsOffline verifies that unknown servers read as
// offline without being tracked.
func TestStatusRegistryDefaultsOffline(t *testing.T) {
	r := NewStatusRegistry(&fakeBackend{})

	assert.Equal(t, StatusOffline, r.Get("Survival"))
	assert.Empty(t, r.All())
	assert.Empty(t, r.Names())
}

// TestStatusRegistryStartHappyPath verifies the optimistic flip to online
// when the backend launch succeeds.
func TestStatusRegistryStartHappyPath(t *testing.T) {
	var startedLoader string
	backend := &fakeBackend{
		loaderKind: func(serverName string) (string, error) { return model.LoaderFabric, nil },
		startServer: func(serverName, loader string) error {
			startedLoader = loader
			return nil
		},
	}
	r := NewStatusRegistry(backend)

	require.NoError(t, r.Start("Survival"))
	assert.Equal(t, StatusOnline, r.Get("Survival"))
	assert.Equal(t, model.LoaderFabric, startedLoader)
}

// TestStatusRegistryStartRevertsOnLaunchFailure verifies that a failed
// launch rolls the status back to what it was before the attempt.
func TestStatusRegistryStartRevertsOnLaunchFailure(t *testing.T) {
	backend := &fakeBackend{
		startServer: func(serverName, loader string) error {
			return errors.New("no server jar found")
		},
	}
	r := NewStatusRegistry(backend)

	err := r.Start("Survival")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start server Survival")
	assert.Equal(t, StatusOffline, r.Get("Survival"))
}

// TestStatusRegistryStartRevertsOnUnknownInstance verifies the same revert
// when the instance lookup itself fails.
func TestStatusRegistryStartRevertsOnUnknownInstance(t *testing.T) {
	backend := &fakeBackend{
		loaderKind: func(serverName string) (string, error) {
			return "", errors.New("not found")
		},
	}
	r := NewStatusRegistry(backend)

	require.Error(t, r.Start("Ghost"))
	assert.Equal(t, StatusOffline, r.Get("Ghost"))
}

// TestStatusRegistryStopDoesNotRevert verifies the stop asymmetry: even if
// the backend stop fails, the status stays offline because the process is
// on its way down and the monitor reconciles the remainder.
func TestStatusRegistryStopDoesNotRevert(t *testing.T) {
	backend := &fakeBackend{
		stopServer: func(serverName string) error {
			return errors.New("process already gone")
		},
	}
	r := NewStatusRegistry(backend)
	r.Set("Survival", StatusOnline)

	err := r.Stop("Survival")
	require.Error(t, err)
	assert.Equal(t, StatusOffline, r.Get("Survival"), "failed stop must not flip the status back")
}

// TestStatusRegistryOnChange verifies transition events carry old and new
// status and only fire on real changes.
func TestStatusRegistryOnChange(t *testing.T) {
	r := NewStatusRegistry(&fakeBackend{})

	var mu sync.Mutex
	var events []model.StatusEvent
	r.SetOnChange(func(ev model.StatusEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	r.Set("Survival", StatusOnline)
	r.Set("Survival", StatusOnline) // no-op, same status
	r.Set("Survival", StatusOffline)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, "offline", events[0].OldStatus)
	assert.Equal(t, "online", events[0].NewStatus)
	assert.Equal(t, "online", events[1].OldStatus)
	assert.Equal(t, "offline", events[1].NewStatus)
	assert.NotZero(t, events[0].Timestamp)
}

// TestStatusRegistryNamesSorted verifies Names returns tracked servers in
// sorted order.
func TestStatusRegistryNamesSorted(t *testing.T) {
	r := NewStatusRegistry(&fakeBackend{})
	r.Set("zeta", StatusOnline)
	r.Set("alpha", StatusOffline)

	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())
}
