package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	gerrors "github.com/gobby-stack/gobby/internal/errors"
	"github.com/gobby-stack/gobby/internal/types"
)

// Store persists per-session workflow state.
type Store interface {
	// Load returns nil, nil when the session has no state.
	Load(ctx context.Context, sessionID string) (*types.SessionWorkflowState, error)
	Save(ctx context.Context, st *types.SessionWorkflowState) error
	Delete(ctx context.Context, sessionID string) error
	Archive(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]string, error)
	// Lock serializes read-modify-write cycles on one session across processes.
	Lock(ctx context.Context, sessionID string) (Unlock, error)
}

// YAMLStore keeps one <session>.yaml per session. Archived sessions move to
// archive/<session>-<unix>.yaml.
type YAMLStore struct {
	dir string
}

// NewYAMLStore creates the directory and recovers interrupted writes.
func NewYAMLStore(dir string) (*YAMLStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	if err := recoverInterruptedWrites(dir); err != nil {
		return nil, fmt.Errorf("recovering interrupted writes: %w", err)
	}
	return &YAMLStore{dir: dir}, nil
}

func (s *YAMLStore) path(sessionID string) string {
	return filepath.Join(s.dir, fileName(sessionID)+".yaml")
}

// Load implements Store.
func (s *YAMLStore) Load(ctx context.Context, sessionID string) (*types.SessionWorkflowState, error) {
	path := s.path(sessionID)
	var st types.SessionWorkflowState
	found, err := readYAML(path, &st)
	if err != nil {
		return nil, gerrors.StateRead(path, err)
	}
	if !found {
		return nil, nil
	}
	if st.Variables == nil {
		st.Variables = make(map[string]any)
	}
	if st.Artifacts == nil {
		st.Artifacts = make(map[string]string)
	}
	return &st, nil
}

// Save implements Store. UpdatedAt is set to now.
func (s *YAMLStore) Save(ctx context.Context, st *types.SessionWorkflowState) error {
	if st == nil || st.SessionID == "" {
		return fmt.Errorf("state has no session id")
	}
	st.UpdatedAt = time.Now()
	path := s.path(st.SessionID)
	if err := writeYAML(path, st); err != nil {
		return gerrors.StateWrite(path, err)
	}
	return nil
}

// Delete implements Store. Deleting a missing session is not an error.
func (s *YAMLStore) Delete(ctx context.Context, sessionID string) error {
	path := s.path(sessionID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return gerrors.StateWrite(path, err)
	}
	return nil
}

// Archive implements Store. Archiving a missing session is not an error.
func (s *YAMLStore) Archive(ctx context.Context, sessionID string) error {
	path := s.path(sessionID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	archiveDir := filepath.Join(s.dir, "archive")
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return gerrors.StateWrite(archiveDir, err)
	}
	dest := filepath.Join(archiveDir, fmt.Sprintf("%s-%d.yaml", fileName(sessionID), time.Now().UnixNano()))
	if err := os.Rename(path, dest); err != nil {
		return gerrors.StateWrite(dest, err)
	}
	return nil
}

// List implements Store. Returns session file IDs sorted.
func (s *YAMLStore) List(ctx context.Context) ([]string, error) {
	ids, err := listIDs(s.dir)
	if err != nil {
		return nil, gerrors.StateRead(s.dir, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Lock implements Store.
func (s *YAMLStore) Lock(ctx context.Context, sessionID string) (Unlock, error) {
	return lockFile(ctx, filepath.Join(s.dir, ".locks", fileName(sessionID)+".lock"), sessionID)
}

var _ Store = (*YAMLStore)(nil)
