package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D4ffi/allay-app/internal/model"
)

func testInstance(name string) model.ServerInstance {
	return model.ServerInstance{
		Name:     name,
		Version:  "1.21.1",
		Loader:   model.LoaderVanilla,
		MemoryMB: 4096,
	}
}

// TestStoreAddAndGet verifies persistence of a new instance including its
// working directory and a stamped creation time.
func TestStoreAddAndGet(t *testing.T) {
	s := NewStore(t.TempDir())

	require.NoError(t, s.Add(testInstance("Survival")))

	inst, err := s.Get("Survival")
	require.NoError(t, err)
	assert.Equal(t, "1.21.1", inst.Version)
	assert.False(t, inst.CreatedAt.IsZero())

	info, err := os.Stat(s.InstanceDir("Survival"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

// TestStoreAddValidation verifies empty names, bad loaders, and duplicates
// are rejected.
func TestStoreAddValidation(t *testing.T) {
	s := NewStore(t.TempDir())

	assert.Error(t, s.Add(model.ServerInstance{Loader: model.LoaderVanilla}))

	bad := testInstance("Modded")
	bad.Loader = "spigot"
	assert.Error(t, s.Add(bad))

	require.NoError(t, s.Add(testInstance("Survival")))
	err := s.Add(testInstance("Survival"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

// TestStoreGetMissing verifies the not-found error.
func TestStoreGetMissing(t *testing.T) {
	s := NewStore(t.TempDir())

	_, err := s.Get("Ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

// TestStoreListOrder verifies List honors the saved display order, with
// unordered instances appended sorted by name.
func TestStoreListOrder(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Add(testInstance("alpha")))
	require.NoError(t, s.Add(testInstance("beta")))
	require.NoError(t, s.Add(testInstance("gamma")))

	// No saved order: sorted by name.
	list, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, instanceNames(list))

	// Partial order: listed names first, the rest sorted after.
	require.NoError(t, s.SetOrder([]string{"gamma", "alpha"}))
	list, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, instanceNames(list))

	// Stale names in the order are ignored.
	require.NoError(t, s.SetOrder([]string{"deleted", "beta"}))
	list, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"beta", "alpha", "gamma"}, instanceNames(list))
}

func instanceNames(instances []model.ServerInstance) []string {
	names := make([]string, 0, len(instances))
	for _, inst := range instances {
		names = append(names, inst.Name)
	}
	return names
}

// TestStoreRemove verifies removal from both the instance list and the
// saved order, while the working directory stays on disk.
func TestStoreRemove(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Add(testInstance("alpha")))
	require.NoError(t, s.Add(testInstance("beta")))
	require.NoError(t, s.SetOrder([]string{"beta", "alpha"}))

	require.NoError(t, s.Remove("beta"))

	_, err := s.Get("beta")
	assert.Error(t, err)

	list, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, instanceNames(list))

	// Directory is preserved for the user.
	_, err = os.Stat(s.InstanceDir("beta"))
	assert.NoError(t, err)

	assert.Error(t, s.Remove("beta"), "second remove must fail")
}

// TestStoreOrderFileFormat verifies the versioned order file on disk.
func TestStoreOrderFileFormat(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.SetOrder([]string{"beta", "alpha"}))

	data, err := os.ReadFile(filepath.Join(dir, "server_order.json"))
	require.NoError(t, err)

	var order struct {
		Order       []string `json:"order"`
		LastUpdated string   `json:"lastUpdated"`
		Version     int      `json:"version"`
	}
	require.NoError(t, json.Unmarshal(data, &order))
	assert.Equal(t, []string{"beta", "alpha"}, order.Order)
	assert.NotEmpty(t, order.LastUpdated)
	assert.Equal(t, 1, order.Version)
}
