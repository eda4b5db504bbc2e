// Package contextsrc reads the file-backed context sources inject_context
// composes: previous session summaries, memories and the skills catalog.
package contextsrc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobby-stack/gobby/internal/skill"
)

// FileProvider lays its sources out under one directory:
//
//	<dir>/summaries/<session_id>.md
//	<dir>/memories/*.md
//	<dir>/skills/<name>/skill.toml
type FileProvider struct {
	Dir       string
	SkillDirs []string // Extra skill directories searched after <dir>/skills
	Logger    *slog.Logger
}

// NewFileProvider creates a provider rooted at dir.
func NewFileProvider(dir string, logger *slog.Logger) *FileProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileProvider{Dir: dir, Logger: logger}
}

type fileEntry struct {
	path    string
	modTime time.Time
}

// listMarkdown returns *.md files in dir, newest first.
func listMarkdown(dir string) ([]fileEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []fileEntry
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, fileEntry{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].modTime.Equal(out[j].modTime) {
			return out[i].modTime.After(out[j].modTime)
		}
		return out[i].path > out[j].path
	})
	return out, nil
}

// PreviousSessionSummary returns the newest summary written by a session
// other than sessionID, or "" when there is none.
func (p *FileProvider) PreviousSessionSummary(ctx context.Context, sessionID string) (string, error) {
	files, err := listMarkdown(filepath.Join(p.Dir, "summaries"))
	if err != nil {
		return "", fmt.Errorf("listing summaries: %w", err)
	}
	for _, f := range files {
		if strings.TrimSuffix(filepath.Base(f.path), ".md") == sessionID {
			continue
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			return "", fmt.Errorf("reading summary: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", nil
}

// Memories returns up to limit memories, newest first. A non-empty query
// keeps only memories containing it, case-insensitively.
func (p *FileProvider) Memories(ctx context.Context, query string, limit int) ([]string, error) {
	files, err := listMarkdown(filepath.Join(p.Dir, "memories"))
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var out []string
	for _, f := range files {
		if limit > 0 && len(out) >= limit {
			break
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			p.Logger.Warn("skipping unreadable memory", "path", f.path, "error", err)
			continue
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(text), q) {
			continue
		}
		out = append(out, text)
	}
	return out, nil
}

// Skills renders the skills catalog, optionally filtered by tag.
func (p *FileProvider) Skills(ctx context.Context, tag string) (string, error) {
	dirs := append([]string{filepath.Join(p.Dir, "skills")}, p.SkillDirs...)
	catalog := skill.LoadCatalog(dirs, p.Logger)
	return skill.Summary(catalog.List(tag)), nil
}
