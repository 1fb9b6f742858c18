// Package skillset is the capability registry: a cache of explored website
// capability maps keyed by URL, reusable across workflow sessions.
package skillset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Skillset is a cached capability map for one website. Never silently
// deleted; re-exploration refreshes capabilities and preserves stored
// credentials.
type Skillset struct {
	ID                   string    `yaml:"id"`
	URL                  string    `yaml:"url"`
	SiteName             string    `yaml:"site_name,omitempty"`
	Capabilities         []string  `yaml:"capabilities"`
	Confidence           string    `yaml:"confidence,omitempty"`
	LastUsedAt           time.Time `yaml:"last_used_at"`
	HasStoredCredentials bool      `yaml:"has_stored_credentials"`
}

// CredentialStatus reports whether a skillset has usable stored credentials.
type CredentialStatus struct {
	HasCredentials bool `yaml:"has_credentials"`
	IsValid        bool `yaml:"is_valid"`
}

// Store persists skillsets as one YAML document per site. Concurrent writes
// to distinct URLs do not contend beyond the index map lock.
type Store struct {
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	byURL map[string]*Skillset
}

// NewStore opens (and loads) a skillset library rooted at dir.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating skillset library: %w", err)
	}
	s := &Store{dir: dir, logger: logger, byURL: make(map[string]*Skillset)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads every YAML entry in the library directory. Unreadable entries
// are skipped, not fatal.
func (s *Store) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var sk Skillset
		if err := yaml.Unmarshal(data, &sk); err != nil || sk.URL == "" {
			s.logger.Warn("skipping unreadable skillset entry", zap.String("file", entry.Name()))
			continue
		}
		s.byURL[sk.URL] = &sk
	}
	return nil
}

// Upsert records a successful exploration finding. An existing entry for the
// URL keeps its ID and HasStoredCredentials flag; only the capability data is
// refreshed.
func (s *Store) Upsert(url, siteName string, capabilities []string, confidence string) (*Skillset, error) {
	s.mu.Lock()
	existing, ok := s.byURL[url]
	if !ok {
		existing = &Skillset{ID: uuid.NewString(), URL: url}
		s.byURL[url] = existing
	}
	existing.SiteName = siteName
	existing.Capabilities = append([]string(nil), capabilities...)
	existing.Confidence = confidence
	existing.LastUsedAt = time.Now()
	cp := *existing
	s.mu.Unlock()

	if err := s.flush(&cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// MarkCredentialsStored flags a skillset as having stored credentials.
func (s *Store) MarkCredentialsStored(url string) error {
	s.mu.Lock()
	sk, ok := s.byURL[url]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no skillset for %q", url)
	}
	sk.HasStoredCredentials = true
	cp := *sk
	s.mu.Unlock()

	return s.flush(&cp)
}

// Touch updates LastUsedAt for a skillset selected into a session.
func (s *Store) Touch(id string) error {
	s.mu.Lock()
	var found *Skillset
	for _, sk := range s.byURL {
		if sk.ID == id {
			sk.LastUsedAt = time.Now()
			cp := *sk
			found = &cp
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return fmt.Errorf("no skillset with id %q", id)
	}
	return s.flush(found)
}

// Get returns a copy of the skillset for a URL.
func (s *Store) Get(url string) (Skillset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sk, ok := s.byURL[url]
	if !ok {
		return Skillset{}, false
	}
	return *sk, true
}

// GetByID returns a copy of the skillset with the given ID.
func (s *Store) GetByID(id string) (Skillset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sk := range s.byURL {
		if sk.ID == id {
			return *sk, true
		}
	}
	return Skillset{}, false
}

// List returns all skillsets sorted by URL.
func (s *Store) List() []Skillset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Skillset, 0, len(s.byURL))
	for _, sk := range s.byURL {
		out = append(out, *sk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Status reports the credential status for a skillset ID. Validity is what
// the last exploration observed; an entry without credentials is invalid by
// definition.
func (s *Store) Status(id string) (CredentialStatus, error) {
	sk, ok := s.GetByID(id)
	if !ok {
		return CredentialStatus{}, fmt.Errorf("no skillset with id %q", id)
	}
	return CredentialStatus{
		HasCredentials: sk.HasStoredCredentials,
		IsValid:        sk.HasStoredCredentials,
	}, nil
}

// flush writes one skillset to its YAML file.
func (s *Store) flush(sk *Skillset) error {
	data, err := yaml.Marshal(sk)
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, fileName(sk.URL))
	return os.WriteFile(path, data, 0644)
}

// fileName derives a filesystem-safe name from a URL.
func fileName(url string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-':
			return r
		default:
			return '_'
		}
	}, url)
	return safe + ".yaml"
}
