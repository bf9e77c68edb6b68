// Package storage implements the Storage collaborator (spec §6): an
// external artifact store the ingestion core treats as opaque
// upload/download of byte blobs, plus the canonical JSON encoding and
// manifest versioning its persisted-state layout requires.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/knoguchi/ingestcore/internal/ingesterr"
)

// Storage is the minimal external-artifact contract the ingestion core
// depends on. Any backend (filesystem, object store, ...) may implement
// it; the core never reaches past this interface.
type Storage interface {
	Upload(ctx context.Context, path string, data []byte) error
	Download(ctx context.Context, path string) ([]byte, error)
}

// FileStorage is a Storage backed by a local directory tree, rooted at
// Root. Paths passed to Upload/Download are relative and joined under
// Root; spec.md's per-document layout (`<owner>/<document_id>/...`) maps
// directly onto nested directories.
type FileStorage struct {
	Root string
}

// NewFileStorage constructs a FileStorage rooted at root. root is
// created on first Upload if it does not yet exist.
func NewFileStorage(root string) *FileStorage {
	return &FileStorage{Root: root}
}

var _ Storage = (*FileStorage)(nil)

// Upload writes data to Root/path, creating parent directories as
// needed. Every call writes to a ".tmp" sibling and renames it into
// place, so readers never see a partially written file.
func (s *FileStorage) Upload(_ context.Context, path string, data []byte) error {
	full := filepath.Join(s.Root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for %s: %w", path, err)
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return fmt.Errorf("storage: rename into place %s: %w", path, err)
	}
	return nil
}

// Download reads Root/path.
func (s *FileStorage) Download(_ context.Context, path string) ([]byte, error) {
	full := filepath.Join(s.Root, filepath.FromSlash(path))
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: %s: %w", path, os.ErrNotExist)
		}
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// DocumentPaths names the fixed artifact set spec.md §6 requires per
// document, rooted at <owner>/<document_id>/.
type DocumentPaths struct {
	Owner      string
	DocumentID string
}

func (p DocumentPaths) base() string { return filepath.ToSlash(filepath.Join(p.Owner, p.DocumentID)) }

func (p DocumentPaths) Source(ext string) string { return p.base() + "/source." + ext }
func (p DocumentPaths) ContentMD() string        { return p.base() + "/content.md" }
func (p DocumentPaths) ChunksJSON() string       { return p.base() + "/chunks.json" }
func (p DocumentPaths) CachedChunksJSON() string { return p.base() + "/cached_chunks.json" }
func (p DocumentPaths) MetadataJSON() string     { return p.base() + "/metadata.json" }
func (p DocumentPaths) ManifestJSON() string     { return p.base() + "/manifest.json" }

// ManifestMajorVersion is the only major version this build knows how to
// import. Bumping it is a breaking persisted-layout change.
const ManifestMajorVersion = 1

// Manifest is the file inventory and processing summary written
// alongside a document's artifacts.
type Manifest struct {
	Version         string         `json:"version"`
	DocumentID      string         `json:"document_id"`
	Files           []string       `json:"files"`
	ProcessingTimes map[string]int `json:"processing_times_ms"`
	Costs           map[string]int `json:"costs_micros,omitempty"`
}

// CheckManifestVersion parses the manifest's version string ("major.minor")
// and refuses anything whose major component doesn't match
// ManifestMajorVersion, per spec.md's "importers MUST refuse unknown majors".
func CheckManifestVersion(m *Manifest) error {
	major, _, err := parseVersion(m.Version)
	if err != nil {
		return fmt.Errorf("storage: manifest version %q: %w", m.Version, err)
	}
	if major != ManifestMajorVersion {
		return fmt.Errorf("%w: got major %d, support %d", ingesterr.ErrUnsupportedManifestVersion, major, ManifestMajorVersion)
	}
	return nil
}

func parseVersion(v string) (major, minor int, err error) {
	_, err = fmt.Sscanf(v, "%d.%d", &major, &minor)
	if err != nil {
		return 0, 0, fmt.Errorf("expected \"major.minor\": %w", err)
	}
	return major, minor, nil
}
