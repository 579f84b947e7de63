// Package manifest persists the immutable settings of a workspace.
//
// A workspace directory holds versioned MANIFEST-NNNNNN.json files and a
// CURRENT file naming the live one. Saving writes the new manifest first and
// then swaps CURRENT, so a crash leaves either the old or the new manifest
// in effect.
package manifest

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/vecgraph/codec"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/persistence"
)

const (
	ManifestFileName = "MANIFEST"
	CurrentFileName  = "CURRENT"
	CurrentVersion   = 1

	// keep is the number of manifest generations retained on disk.
	keep = 2
)

// Manifest describes a workspace.
type Manifest struct {
	Version        int       `json:"version"`
	ID             uint64    `json:"id"`
	Workspace      string    `json:"workspace"`
	Dimension      int       `json:"dimension"`
	Metric         string    `json:"metric"`
	Codec          string    `json:"codec"`
	EmbeddingMerge string    `json:"embedding_merge"`
	WeightMerge    string    `json:"weight_merge"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Compatible checks that the workspace was created with dimension and metric.
func (m *Manifest) Compatible(dimension int, metric string) error {
	if m.Dimension != dimension {
		return errs.Invalid("dimension", "workspace %q has dimension %d, got %d", m.Workspace, m.Dimension, dimension)
	}
	if m.Metric != metric {
		return errs.Invalid("metric", "workspace %q uses %s, got %s", m.Workspace, m.Metric, metric)
	}
	return nil
}

// Store manages the manifest files of one directory.
type Store struct {
	dir   string
	codec codec.Codec
	mu    sync.Mutex
}

// NewStore creates a manifest store for dir. A nil codec selects codec.Default.
func NewStore(dir string, c codec.Codec) *Store {
	if c == nil {
		c = codec.Default
	}
	return &Store{dir: dir, codec: c}
}

// Load loads the current manifest. It returns errs.ErrNotFound when the
// directory has none yet.
func (s *Store) Load() (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(filepath.Join(s.dir, CurrentFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("manifest %w", errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.dir, strings.TrimSpace(string(content))))
	if err != nil {
		return nil, err
	}
	return Decode(s.codec, data)
}

// Decode parses and version-checks a manifest.
func Decode(c codec.Codec, data []byte) (*Manifest, error) {
	var m Manifest
	if err := c.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: manifest version %d (expected %d)", errs.ErrIncompatibleFormat, m.Version, CurrentVersion)
	}
	return &m, nil
}

// Save atomically saves a new manifest generation.
func (s *Store) Save(m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Version = CurrentVersion
	m.ID++
	m.UpdatedAt = time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = m.UpdatedAt
	}

	data, err := s.codec.Marshal(m)
	if err != nil {
		return err
	}

	filename := fmt.Sprintf("%s-%06d.json", ManifestFileName, m.ID)
	write := func(name string, b []byte) error {
		return persistence.SaveToFile(filepath.Join(s.dir, name), func(w io.Writer) error {
			_, err := w.Write(b)
			return err
		})
	}
	if err := write(filename, data); err != nil {
		return err
	}
	if err := write(CurrentFileName, []byte(filename)); err != nil {
		return err
	}
	return s.prune(m.ID)
}

// prune removes manifest generations older than the retained ones.
func (s *Store) prune(current uint64) error {
	matches, err := filepath.Glob(filepath.Join(s.dir, ManifestFileName+"-*.json"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		var id uint64
		if _, err := fmt.Sscanf(filepath.Base(path), ManifestFileName+"-%06d.json", &id); err != nil {
			continue
		}
		if id+keep <= current {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
	}
	return nil
}
