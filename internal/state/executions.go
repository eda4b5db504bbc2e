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

// ExecutionStore persists pipeline executions.
type ExecutionStore interface {
	Save(ctx context.Context, e *types.Execution) error
	// Get returns a PIPE_001 error when the execution does not exist.
	Get(ctx context.Context, id string) (*types.Execution, error)
	List(ctx context.Context, f types.ExecutionFilter) ([]*types.Execution, error)
	// FindByToken returns the execution waiting on token, or nil.
	FindByToken(ctx context.Context, token string) (*types.Execution, error)
	Lock(ctx context.Context, id string) (Unlock, error)
}

// YAMLExecutionStore keeps one <execution_id>.yaml per execution.
type YAMLExecutionStore struct {
	dir string
}

// NewYAMLExecutionStore creates the directory and recovers interrupted writes.
func NewYAMLExecutionStore(dir string) (*YAMLExecutionStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating executions dir: %w", err)
	}
	if err := recoverInterruptedWrites(dir); err != nil {
		return nil, fmt.Errorf("recovering interrupted writes: %w", err)
	}
	return &YAMLExecutionStore{dir: dir}, nil
}

func (s *YAMLExecutionStore) path(id string) string {
	return filepath.Join(s.dir, fileName(id)+".yaml")
}

// Save implements ExecutionStore.
func (s *YAMLExecutionStore) Save(ctx context.Context, e *types.Execution) error {
	if e.ID == "" {
		return fmt.Errorf("execution has no id")
	}
	e.UpdatedAt = time.Now()
	path := s.path(e.ID)
	if err := writeYAML(path, e); err != nil {
		return gerrors.StateWrite(path, err)
	}
	return nil
}

// Get implements ExecutionStore.
func (s *YAMLExecutionStore) Get(ctx context.Context, id string) (*types.Execution, error) {
	path := s.path(id)
	var e types.Execution
	found, err := readYAML(path, &e)
	if err != nil {
		return nil, gerrors.StateRead(path, err)
	}
	if !found {
		return nil, gerrors.PipelineNotFound(id)
	}
	return &e, nil
}

// List implements ExecutionStore. Results are newest first; unreadable files
// are skipped.
func (s *YAMLExecutionStore) List(ctx context.Context, f types.ExecutionFilter) ([]*types.Execution, error) {
	ids, err := listIDs(s.dir)
	if err != nil {
		return nil, gerrors.StateRead(s.dir, err)
	}
	var out []*types.Execution
	for _, id := range ids {
		e, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// FindByToken implements ExecutionStore.
func (s *YAMLExecutionStore) FindByToken(ctx context.Context, token string) (*types.Execution, error) {
	if token == "" {
		return nil, nil
	}
	waiting, err := s.List(ctx, types.ExecutionFilter{Status: types.ExecutionWaitingApproval})
	if err != nil {
		return nil, err
	}
	for _, e := range waiting {
		if e.ResumeToken() == token {
			return e, nil
		}
	}
	return nil, nil
}

// Lock implements ExecutionStore.
func (s *YAMLExecutionStore) Lock(ctx context.Context, id string) (Unlock, error) {
	return lockFile(ctx, filepath.Join(s.dir, ".locks", fileName(id)+".lock"), id)
}

var _ ExecutionStore = (*YAMLExecutionStore)(nil)
