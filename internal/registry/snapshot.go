package registry

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/WillB97/kit-web-ui/internal/data"
)

// Loader supplies tenant configs from the persistent registry store.
type Loader interface {
	ListAll(ctx context.Context) ([]*data.TenantConfig, error)
}

type resolution struct {
	tenant   *data.TenantConfig
	subtopic string
}

// Snapshot is an immutable view of the tenant registry plus the topic
// router over it. Build a new one to pick up registry changes; the
// route cache lives inside the snapshot so a swap discards it wholesale.
type Snapshot struct {
	// sorted by topic-root length descending, so a linear scan yields
	// longest-match first; root order within equal lengths is by name
	// for determinism (roots are unique, so equal-length roots can
	// never both match one topic).
	configs     []*data.TenantConfig
	byPrincipal map[string]*data.TenantConfig
	cache       *lru.Cache[string, resolution]
	loadedAt    time.Time
}

// Build loads every tenant config and produces a snapshot.
func Build(ctx context.Context, loader Loader, cacheSize int) (*Snapshot, error) {
	configs, err := loader.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return newSnapshot(configs, cacheSize), nil
}

func newSnapshot(configs []*data.TenantConfig, cacheSize int) *Snapshot {
	sorted := make([]*data.TenantConfig, len(configs))
	copy(sorted, configs)
	sort.Slice(sorted, func(i, j int) bool {
		if len(sorted[i].TopicRoot) != len(sorted[j].TopicRoot) {
			return len(sorted[i].TopicRoot) > len(sorted[j].TopicRoot)
		}
		return sorted[i].TopicRoot < sorted[j].TopicRoot
	})

	byPrincipal := make(map[string]*data.TenantConfig, len(sorted))
	for _, c := range sorted {
		byPrincipal[c.Principal] = c
	}

	if cacheSize <= 0 {
		cacheSize = 512
	}
	cache, _ := lru.New[string, resolution](cacheSize)

	return &Snapshot{
		configs:     sorted,
		byPrincipal: byPrincipal,
		cache:       cache,
		loadedAt:    time.Now().UTC(),
	}
}

// Resolve maps an inbound topic to its owning tenant and the remainder
// after the matched root. A root R matches topic T iff T == R or T
// begins with R+"/", so "robot10" never routes under root "robot1".
// The longest matching root wins. Unmatched topics return (nil, topic).
func (s *Snapshot) Resolve(topic string) (*data.TenantConfig, string) {
	if r, ok := s.cache.Get(topic); ok {
		return r.tenant, r.subtopic
	}

	var res resolution
	res.subtopic = topic
	for _, c := range s.configs {
		root := c.TopicRoot
		if topic == root {
			res = resolution{tenant: c, subtopic: ""}
			break
		}
		if strings.HasPrefix(topic, root) && len(topic) > len(root) && topic[len(root)] == '/' {
			res = resolution{tenant: c, subtopic: topic[len(root)+1:]}
			break
		}
	}

	s.cache.Add(topic, res)
	return res.tenant, res.subtopic
}

// ByPrincipal returns the config owned by a web-layer user, if any.
func (s *Snapshot) ByPrincipal(principal string) (*data.TenantConfig, bool) {
	c, ok := s.byPrincipal[principal]
	return c, ok
}

// Tenants returns all configs, sorted as the snapshot holds them.
func (s *Snapshot) Tenants() []*data.TenantConfig {
	return s.configs
}

func (s *Snapshot) Len() int { return len(s.configs) }

func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Holder hands the current snapshot to the ingest session and router
// callers; Swap publishes a freshly built one atomically.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

func NewHolder(s *Snapshot) *Holder {
	h := &Holder{}
	h.current.Store(s)
	return h
}

func (h *Holder) Current() *Snapshot { return h.current.Load() }

func (h *Holder) Swap(s *Snapshot) { h.current.Store(s) }
