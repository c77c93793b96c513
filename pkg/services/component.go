package services

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/golem-executor/pkg/apierr"
	"github.com/cuemby/golem-executor/pkg/storage"
	"github.com/cuemby/golem-executor/pkg/types"
)

// ComponentService resolves immutable, versioned component definitions.
type ComponentService interface {
	Get(id types.ComponentID, version types.ComponentVersion) (*types.Component, error)
	ResolveByName(name string, env map[string]string) (types.ComponentID, error)
	LatestVersion(id types.ComponentID) (types.ComponentVersion, error)
	// Put registers a new component version, used by the operator-facing
	// create_worker/update paths; Get/ResolveByName/LatestVersion are the
	// read surface, but something has to populate it.
	Put(component *types.Component) error
}

const componentsNamespace = "components"

func componentKey(id types.ComponentID, version types.ComponentVersion) string {
	return fmt.Sprintf("%s/%d", id, version)
}

// BlobComponentService implements ComponentService over a BlobStorage,
// following the same ns/path-keyed pattern pkg/storage's BoltBlobStorage
// already provides for externalized oplog payloads — reused here rather
// than duplicated, since "put/get an opaque blob by key" is exactly what
// storing a serialized Component needs.
type BlobComponentService struct {
	blob storage.BlobStorage

	mu      sync.RWMutex
	byName  map[string]types.ComponentID
	latest  map[types.ComponentID]types.ComponentVersion
}

// NewBlobComponentService constructs a ComponentService over blob,
// rebuilding its name and latest-version indexes from whatever is
// already stored.
func NewBlobComponentService(blob storage.BlobStorage) (*BlobComponentService, error) {
	s := &BlobComponentService{
		blob:   blob,
		byName: make(map[string]types.ComponentID),
		latest: make(map[types.ComponentID]types.ComponentVersion),
	}
	if err := s.rebuildIndexes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BlobComponentService) rebuildIndexes() error {
	keys, err := s.blob.List(componentsNamespace, "")
	if err != nil {
		return fmt.Errorf("services: list components: %w", err)
	}
	for _, key := range keys {
		data, found, err := s.blob.GetRaw(componentsNamespace, key)
		if err != nil || !found {
			continue
		}
		var c types.Component
		if err := json.Unmarshal(data, &c); err != nil {
			continue
		}
		s.indexLocked(&c)
	}
	return nil
}

func (s *BlobComponentService) indexLocked(c *types.Component) {
	if v, ok := s.latest[c.ID]; !ok || c.Version > v {
		s.latest[c.ID] = c.Version
	}
}

// Put stores component and updates the latest-version index. Name
// resolution (ResolveByName) is registered separately via RegisterName,
// since spec.md's component identity is name-agnostic; name -> id mapping
// is an environment-level concern layered on top.
func (s *BlobComponentService) Put(component *types.Component) error {
	data, err := json.Marshal(component)
	if err != nil {
		return fmt.Errorf("services: marshal component: %w", err)
	}
	if err := s.blob.PutRaw(componentsNamespace, componentKey(component.ID, component.Version), data); err != nil {
		return fmt.Errorf("services: store component: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexLocked(component)
	return nil
}

// RegisterName associates name (scoped by the caller to whatever env key
// it likes, e.g. "prod:my-worker") with a component id, for
// ResolveByName.
func (s *BlobComponentService) RegisterName(name string, id types.ComponentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[name] = id
}

func (s *BlobComponentService) Get(id types.ComponentID, version types.ComponentVersion) (*types.Component, error) {
	data, found, err := s.blob.GetRaw(componentsNamespace, componentKey(id, version))
	if err != nil {
		return nil, fmt.Errorf("services: get component: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("services: component %s version %d: %w", id, version, apierr.ErrNotFound)
	}
	var c types.Component
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("services: decode component: %w", err)
	}
	return &c, nil
}

func (s *BlobComponentService) ResolveByName(name string, env map[string]string) (types.ComponentID, error) {
	key := name
	if ns, ok := env["namespace"]; ok && ns != "" {
		key = ns + ":" + name
	}
	s.mu.RLock()
	id, ok := s.byName[key]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("services: no component registered for name %q: %w", name, apierr.ErrNotFound)
	}
	return id, nil
}

func (s *BlobComponentService) LatestVersion(id types.ComponentID) (types.ComponentVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.latest[id]
	if !ok {
		return 0, fmt.Errorf("services: no versions known for component %s: %w", id, apierr.ErrNotFound)
	}
	return v, nil
}
