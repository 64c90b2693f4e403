// Package workspace implements the file-addressed, append-only persistence
// layer that is the sole source of truth for session state. Every artifact
// is written exactly once; new content becomes a new version.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/QuantForge/internal/domain"
)

// Meta describes one artifact without embedding its content. The metadata
// list is the only workspace representation fed to the orchestrator's
// decision function; content is loaded on demand.
type Meta struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages per-session workspace directories under a single root.
type Store struct {
	root  string
	cache *ristretto.Cache[string, []byte]
	now   func() time.Time // for testing
}

// cacheTTL bounds how long read artifacts stay in the in-process cache.
// Artifacts are immutable, so a hit can never be stale.
const cacheTTL = 10 * time.Minute

// New creates a Store rooted at dir, creating it if needed.
// maxCacheBytes sizes the in-process read cache.
func New(dir string, maxCacheBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCacheBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCacheBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("workspace cache: %w", err)
	}
	return &Store{root: dir, cache: cache, now: time.Now}, nil
}

// Root returns the workspace root directory.
func (s *Store) Root() string { return s.root }

// Close releases the read cache.
func (s *Store) Close() {
	s.cache.Close()
}

// Create makes the directory for a new session workspace and returns its
// name. Fails if the directory already exists: no two sessions may share a
// workspace.
func (s *Store) Create(goal string, createdAt time.Time) (string, error) {
	name := DirName(goal, createdAt)
	if err := os.Mkdir(filepath.Join(s.root, name), 0o750); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("workspace %s: %w", name, domain.ErrConflict)
		}
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return name, nil
}

// WriteArtifact persists content as version `version` of the stage and
// returns the artifact file name, failing with ErrConflict if that version
// already exists. The file is synced before returning so a later step
// never observes a partial write.
func (s *Store) WriteArtifact(workspace, stage string, version int, content []byte) (string, error) {
	if !KnownStage(stage) {
		return "", fmt.Errorf("%w: unknown stage %q", domain.ErrValidation, stage)
	}
	if version < 1 {
		return "", fmt.Errorf("%w: version must be >= 1", domain.ErrValidation)
	}
	name := ArtifactName(stage, version)
	path := filepath.Join(s.root, workspace, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640) //nolint:gosec // G304: path built from validated parts
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("artifact %s v%d: %w", stage, version, domain.ErrConflict)
		}
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("sync artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	return name, nil
}

// NextVersion returns the next free version for a stage: highest existing
// version plus one, starting at 1. Versions stay contiguous because writes
// are serialized per session.
func (s *Store) NextVersion(workspace, stage string) (int, error) {
	metas, err := s.List(workspace)
	if err != nil {
		return 0, err
	}
	return LatestVersion(metas, stage) + 1, nil
}

// List returns the metadata of every artifact in the workspace, ordered by
// name. Content is never included.
func (s *Store) List(workspace string) ([]Meta, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, workspace))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("workspace %s: %w", workspace, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("list workspace: %w", err)
	}
	metas := make([]Meta, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		metas = append(metas, Meta{
			Name:      e.Name(),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	return metas, nil
}

// ReadArtifact loads artifact content by workspace-relative name, serving
// repeat reads from the in-process cache.
func (s *Store) ReadArtifact(workspace, name string) ([]byte, error) {
	if _, _, ok := ParseArtifactName(name); !ok {
		return nil, fmt.Errorf("%w: malformed artifact name %q", domain.ErrValidation, name)
	}
	key := workspace + "/" + name
	if data, ok := s.cache.Get(key); ok {
		return data, nil
	}
	data, err := os.ReadFile(filepath.Join(s.root, workspace, name)) //nolint:gosec // G304: name validated above
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("artifact %s: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	s.cache.SetWithTTL(key, data, int64(len(data)), cacheTTL)
	return data, nil
}

// ReadLatest loads the highest version of a stage, returning its version.
func (s *Store) ReadLatest(workspace, stage string) ([]byte, int, error) {
	metas, err := s.List(workspace)
	if err != nil {
		return nil, 0, err
	}
	v := LatestVersion(metas, stage)
	if v == 0 {
		return nil, 0, fmt.Errorf("stage %s: %w", stage, domain.ErrNotFound)
	}
	data, err := s.ReadArtifact(workspace, ArtifactName(stage, v))
	return data, v, err
}

// Workspaces lists all session workspace directories under the root.
func (s *Store) Workspaces() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// LatestVersion returns the highest version of a stage present in the
// metadata list, or 0 when the stage has no artifacts.
func LatestVersion(metas []Meta, stage string) int {
	max := 0
	for _, m := range metas {
		st, v, ok := ParseArtifactName(m.Name)
		if ok && st == stage && v > max {
			max = v
		}
	}
	return max
}

// HasStage reports whether at least one version of a stage exists.
func HasStage(metas []Meta, stage string) bool {
	return LatestVersion(metas, stage) > 0
}
