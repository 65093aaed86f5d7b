package memory

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// FormatVersion is the storage layout version this package reads and writes.
const FormatVersion = 1

// ManifestFile is the name of the manifest inside a storage directory.
const ManifestFile = "meta.yaml"

// Manifest describes a storage directory. It is read before anything else
// so incompatible layouts are refused up front.
type Manifest struct {
	Version        int       `yaml:"version"`
	EmbeddingModel string    `yaml:"embedding_model,omitempty"`
	EmbeddingRef   string    `yaml:"embedding_ref,omitempty"`
	EmbeddingDim   int       `yaml:"embedding_dim"`
	Normalized     bool      `yaml:"normalized"`
	CreatedAt      time.Time `yaml:"created_at"`
	UpdatedAt      time.Time `yaml:"updated_at"`

	// Logs maps each append-only log file to its committed size in bytes.
	Logs map[string]int64 `yaml:"logs,omitempty"`
}

// Check validates the version field.
func (m *Manifest) Check() error {
	switch {
	case m.Version > FormatVersion:
		return goerr.Wrap(ErrUnsupportedVersion, "manifest written by a newer version",
			goerr.V("version", m.Version), goerr.V("supported", FormatVersion))
	case m.Version < 1:
		return goerr.Wrap(ErrStorageCorruption, "manifest version missing or invalid", goerr.V("version", m.Version))
	}
	switch m.EmbeddingRef {
	case "", RefNamed, RefInline:
	default:
		return goerr.Wrap(ErrStorageCorruption, "unknown embedding reference kind", goerr.V("kind", m.EmbeddingRef))
	}
	for name, size := range m.Logs {
		if size < 0 {
			return goerr.Wrap(ErrStorageCorruption, "negative log size", goerr.V("log", name), goerr.V("size", size))
		}
	}
	if m.EmbeddingDim < 0 {
		return goerr.Wrap(ErrStorageCorruption, "negative embedding dimension", goerr.V("dim", m.EmbeddingDim))
	}
	return nil
}

// ReadManifest loads and checks dir/meta.yaml.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Mark(ErrStorageCorruption, err, "manifest not found", goerr.V("path", path))
		}
		return nil, Mark(ErrStorageCorruption, err, "failed to read manifest", goerr.V("path", path))
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, Mark(ErrStorageCorruption, err, "failed to parse manifest", goerr.V("path", path))
	}
	if err := m.Check(); err != nil {
		return nil, goerr.Wrap(err, "incompatible manifest", goerr.V("path", path))
	}
	return &m, nil
}

// WriteManifest writes m to dir/meta.yaml atomically.
func WriteManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return goerr.Wrap(err, "failed to encode manifest")
	}
	return WriteFileAtomic(filepath.Join(dir, ManifestFile), data)
}
