package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/D4ffi/allay-app/internal/model"
)

const (
	instancesFile = "server_config.json"
	orderFile     = "server_order.json"
	orderVersion  = 1
)

// serverOrder persists user-chosen display order separately from the
// instance list so reordering never rewrites instance data.
type serverOrder struct {
	Order       []string `json:"order"`
	LastUpdated string   `json:"lastUpdated"`
	Version     int      `json:"version"`
}

// Store persists server instances as JSON under the storage directory.
// Each instance also owns a working directory at storageDir/<name>.
type Store struct {
	mu         sync.RWMutex
	storageDir string
}

// NewStore creates a store rooted at storageDir.
func NewStore(storageDir string) *Store {
	return &Store{storageDir: storageDir}
}

// InstanceDir returns the working directory for a server instance.
func (s *Store) InstanceDir(name string) string {
	return filepath.Join(s.storageDir, name)
}

// List returns all instances, saved display order first, then any
// instances missing from the order sorted by name.
func (s *Store) List() ([]model.ServerInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instances, err := s.readInstances()
	if err != nil {
		return nil, err
	}

	order := s.readOrder()
	if len(order.Order) == 0 {
		sort.Slice(instances, func(i, j int) bool { return instances[i].Name < instances[j].Name })
		return instances, nil
	}

	byName := make(map[string]model.ServerInstance, len(instances))
	for _, inst := range instances {
		byName[inst.Name] = inst
	}

	out := make([]model.ServerInstance, 0, len(instances))
	for _, name := range order.Order {
		if inst, ok := byName[name]; ok {
			out = append(out, inst)
			delete(byName, name)
		}
	}

	rest := make([]string, 0, len(byName))
	for name := range byName {
		rest = append(rest, name)
	}
	sort.Strings(rest)
	for _, name := range rest {
		out = append(out, byName[name])
	}

	return out, nil
}

// Get returns a single instance by name.
func (s *Store) Get(name string) (model.ServerInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instances, err := s.readInstances()
	if err != nil {
		return model.ServerInstance{}, err
	}
	for _, inst := range instances {
		if inst.Name == name {
			return inst, nil
		}
	}
	return model.ServerInstance{}, fmt.Errorf("server instance %q not found", name)
}

// Add persists a new instance and creates its working directory.
func (s *Store) Add(inst model.ServerInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inst.Name == "" {
		return fmt.Errorf("server name cannot be empty")
	}
	if !model.ValidLoader(inst.Loader) {
		return fmt.Errorf("unknown loader %q", inst.Loader)
	}

	instances, err := s.readInstances()
	if err != nil {
		return err
	}
	for _, existing := range instances {
		if existing.Name == inst.Name {
			return fmt.Errorf("server instance %q already exists", inst.Name)
		}
	}

	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}

	if err := os.MkdirAll(s.InstanceDir(inst.Name), 0o755); err != nil {
		return fmt.Errorf("failed to create server directory: %w", err)
	}

	instances = append(instances, inst)
	return s.writeInstances(instances)
}

// Remove deletes an instance from the list and drops it from the saved
// order. The working directory is left on disk for the user to reclaim.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instances, err := s.readInstances()
	if err != nil {
		return err
	}

	idx := -1
	for i, inst := range instances {
		if inst.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("server instance %q not found", name)
	}

	instances = append(instances[:idx], instances[idx+1:]...)
	if err := s.writeInstances(instances); err != nil {
		return err
	}

	order := s.readOrder()
	filtered := order.Order[:0]
	for _, n := range order.Order {
		if n != name {
			filtered = append(filtered, n)
		}
	}
	if len(filtered) != len(order.Order) {
		order.Order = filtered
		return s.writeOrder(order)
	}
	return nil
}

// SetOrder saves the user's display order.
func (s *Store) SetOrder(names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeOrder(serverOrder{Order: names})
}

func (s *Store) readInstances() ([]model.ServerInstance, error) {
	path := filepath.Join(s.storageDir, instancesFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var instances []model.ServerInstance
	if err := json.Unmarshal(data, &instances); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return instances, nil
}

func (s *Store) writeInstances(instances []model.ServerInstance) error {
	path := filepath.Join(s.storageDir, instancesFile)
	data, err := json.MarshalIndent(instances, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode instances: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *Store) readOrder() serverOrder {
	path := filepath.Join(s.storageDir, orderFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return serverOrder{}
	}
	var order serverOrder
	if err := json.Unmarshal(data, &order); err != nil {
		return serverOrder{}
	}
	return order
}

func (s *Store) writeOrder(order serverOrder) error {
	order.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	order.Version = orderVersion

	path := filepath.Join(s.storageDir, orderFile)
	data, err := json.MarshalIndent(order, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode server order: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
