// Package agents provides the read-only agent profile store the gateway
// consumes. Profiles are owned by the external configuration service; this
// file-backed store is its in-process stand-in, loading a YAML document at
// startup and serving lookups by agent id.
package agents

import (
	"fmt"
	"net/url"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wilson323/llmchat-sub012/chat"
)

// Store serves immutable AgentProfile records by id. Safe for concurrent
// use; Reload swaps the whole map atomically.
type Store struct {
	logger *zap.Logger

	mu       sync.RWMutex
	path     string
	profiles map[string]*chat.AgentProfile
}

type fileDoc struct {
	Agents []chat.AgentProfile `yaml:"agents"`
}

// Load reads the agents file and builds a Store.
func Load(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		logger:   logger.With(zap.String("component", "agent_store")),
		path:     path,
		profiles: make(map[string]*chat.AgentProfile),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the agents file, replacing all profiles on success and
// keeping the previous set on failure.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading agents file: %w", err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing agents file: %w", err)
	}

	profiles := make(map[string]*chat.AgentProfile, len(doc.Agents))
	for i := range doc.Agents {
		p := doc.Agents[i]
		if err := validateProfile(&p); err != nil {
			return fmt.Errorf("agent %q: %w", p.ID, err)
		}
		if _, dup := profiles[p.ID]; dup {
			return fmt.Errorf("duplicate agent id %q", p.ID)
		}
		profiles[p.ID] = &p
	}

	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()
	s.logger.Info("agent profiles loaded", zap.Int("count", len(profiles)))
	return nil
}

// Get returns the profile for an agent id.
func (s *Store) Get(id string) (*chat.AgentProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	return p, ok
}

// List returns all profiles with credentials blanked, for listing surfaces.
func (s *Store) List() []chat.AgentProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.AgentProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		redacted := *p
		redacted.APIKey = ""
		out = append(out, redacted)
	}
	return out
}

func validateProfile(p *chat.AgentProfile) error {
	if p.ID == "" {
		return fmt.Errorf("missing id")
	}
	if _, err := chat.ParseVendorKind(string(p.Vendor)); err != nil {
		return err
	}
	u, err := url.Parse(p.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid endpoint %q", p.Endpoint)
	}
	return nil
}
