// Package tasks is the task store bridge used by persist_tasks, write_todos
// and mark_todo_complete, and by inject_context's active_task source.
package tasks

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a task status.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
)

// Kind distinguishes durable tasks from per-session todo items.
type Kind string

const (
	KindTask Kind = "task"
	KindTodo Kind = "todo"
)

// Task is one unit of tracked work.
type Task struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority,omitempty"` // Lower runs first
	Needs       []string   `json:"needs,omitempty"`    // IDs that must be closed first
	SessionID   string     `json:"session_id,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// Filter selects tasks. Zero fields match everything.
type Filter struct {
	Status    Status
	Kind      Kind
	SessionID string
}

// Store is the task capability consumed by actions.
type Store interface {
	CreateTask(ctx context.Context, t *Task) (*Task, error)
	ListReady(ctx context.Context, sessionID string) ([]*Task, error)
	CloseTask(ctx context.Context, id, reason string) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, f Filter) ([]*Task, error)
	Update(ctx context.Context, t *Task) error
}

// FileStore keeps tasks in a JSONL file, rewritten atomically on change.
type FileStore struct {
	path string

	mu     sync.RWMutex
	tasks  map[string]*Task
	loaded bool
}

// NewFileStore creates a store backed by dir/tasks.jsonl.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		path:  filepath.Join(dir, "tasks.jsonl"),
		tasks: make(map[string]*Task),
	}
}

// Load reads all tasks from disk. A missing file is an empty store.
func (s *FileStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FileStore) loadLocked() error {
	s.tasks = make(map[string]*Task)
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("opening tasks file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var t Task
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			// Skip malformed lines
			continue
		}
		s.tasks[t.ID] = &t
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading tasks file: %w", err)
	}
	s.loaded = true
	return nil
}

func (s *FileStore) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	return s.loadLocked()
}

// CreateTask assigns an ID and timestamps when missing and stores the task.
func (s *FileStore) CreateTask(ctx context.Context, t *Task) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(t.Title) == "" {
		return nil, fmt.Errorf("task title is required")
	}
	c := *t
	if c.ID == "" {
		c.ID = NewID()
	}
	if _, exists := s.tasks[c.ID]; exists {
		return nil, fmt.Errorf("task %s already exists", c.ID)
	}
	if c.Kind == "" {
		c.Kind = KindTask
	}
	if c.Status == "" {
		c.Status = StatusOpen
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	s.tasks[c.ID] = &c
	if err := s.writeLocked(); err != nil {
		delete(s.tasks, c.ID)
		return nil, err
	}
	out := c
	return &out, nil
}

// ListReady returns open tasks whose needs are all closed, highest priority
// first. A non-empty sessionID limits the result to tasks of that session or
// tasks not bound to any session.
func (s *FileStore) ListReady(ctx context.Context, sessionID string) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	var ready []*Task
	for _, t := range s.tasks {
		if sessionID != "" && t.SessionID != "" && t.SessionID != sessionID {
			continue
		}
		if s.isReadyLocked(t) {
			c := *t
			ready = append(ready, &c)
		}
	}
	sortTasks(ready)
	return ready, nil
}

func (s *FileStore) isReadyLocked(t *Task) bool {
	if t.Status != StatusOpen {
		return false
	}
	for _, id := range t.Needs {
		dep, ok := s.tasks[id]
		if !ok || dep.Status != StatusClosed {
			return false
		}
	}
	return true
}

// CloseTask marks a task closed.
func (s *FileStore) CloseTask(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	prev := *t
	now := time.Now()
	t.Status = StatusClosed
	t.CloseReason = reason
	t.ClosedAt = &now
	if err := s.writeLocked(); err != nil {
		*t = prev
		return err
	}
	return nil
}

// Get returns a task by ID, or nil when absent.
func (s *FileStore) Get(ctx context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

// List returns tasks matching f.
func (s *FileStore) List(ctx context.Context, f Filter) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	var out []*Task
	for _, t := range s.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Kind != "" && t.Kind != f.Kind {
			continue
		}
		if f.SessionID != "" && t.SessionID != f.SessionID {
			continue
		}
		c := *t
		out = append(out, &c)
	}
	sortTasks(out)
	return out, nil
}

// Update replaces an existing task.
func (s *FileStore) Update(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}

	prev, ok := s.tasks[t.ID]
	if !ok {
		return fmt.Errorf("task %s not found", t.ID)
	}
	c := *t
	s.tasks[t.ID] = &c
	if err := s.writeLocked(); err != nil {
		s.tasks[t.ID] = prev
		return err
	}
	return nil
}

// writeLocked rewrites the tasks file (caller must hold lock).
func (s *FileStore) writeLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating tasks directory: %w", err)
	}

	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tmpPath := s.path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	w := bufio.NewWriter(file)
	for _, id := range ids {
		data, err := json.Marshal(s.tasks[id])
		if err != nil {
			file.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("marshaling task %s: %w", id, err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing tasks: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// NewID returns a short task identifier.
func NewID() string {
	return "gt-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func sortTasks(ts []*Task) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Priority != ts[j].Priority {
			return ts[i].Priority < ts[j].Priority
		}
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}

// ActiveTask returns the task a session is working on: its in-progress task
// if any, else the first ready one. Returns nil when there is none.
func ActiveTask(ctx context.Context, s Store, sessionID string) (*Task, error) {
	inProgress, err := s.List(ctx, Filter{Status: StatusInProgress, Kind: KindTask, SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	if len(inProgress) > 0 {
		return inProgress[0], nil
	}
	ready, err := s.ListReady(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, t := range ready {
		if t.Kind == KindTask {
			return t, nil
		}
	}
	return nil, nil
}
