package contextsrc

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gobby-stack/gobby/internal/logging"
)

func writeFile(t *testing.T, path, content string, mod time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if !mod.IsZero() {
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPreviousSessionSummary(t *testing.T) {
	dir := t.TempDir()
	p := NewFileProvider(dir, logging.NewForTest())
	ctx := context.Background()

	if got, err := p.PreviousSessionSummary(ctx, "s3"); err != nil || got != "" {
		t.Errorf("empty dir: %q %v", got, err)
	}

	base := time.Now().Add(-time.Hour)
	writeFile(t, filepath.Join(dir, "summaries", "s1.md"), "old work\n", base)
	writeFile(t, filepath.Join(dir, "summaries", "s2.md"), "recent work\n", base.Add(10*time.Minute))
	writeFile(t, filepath.Join(dir, "summaries", "s3.md"), "current session", base.Add(20*time.Minute))

	got, err := p.PreviousSessionSummary(ctx, "s3")
	if err != nil {
		t.Fatal(err)
	}
	if got != "recent work" {
		t.Errorf("summary = %q, want recent work", got)
	}
}

func TestMemories(t *testing.T) {
	dir := t.TempDir()
	p := NewFileProvider(dir, logging.NewForTest())
	base := time.Now().Add(-time.Hour)
	writeFile(t, filepath.Join(dir, "memories", "a.md"), "Prefers table-driven tests", base)
	writeFile(t, filepath.Join(dir, "memories", "b.md"), "Deploys via make release", base.Add(time.Minute))
	writeFile(t, filepath.Join(dir, "memories", "c.md"), "  ", base.Add(2*time.Minute))
	writeFile(t, filepath.Join(dir, "memories", "notes.txt"), "ignored", base)

	all, err := p.Memories(context.Background(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0] != "Deploys via make release" {
		t.Errorf("Memories = %v", all)
	}

	filtered, _ := p.Memories(context.Background(), "TESTS", 0)
	if len(filtered) != 1 || !strings.Contains(filtered[0], "table-driven") {
		t.Errorf("filtered = %v", filtered)
	}

	limited, _ := p.Memories(context.Background(), "", 1)
	if len(limited) != 1 {
		t.Errorf("limited = %v", limited)
	}
}

func TestSkills(t *testing.T) {
	dir := t.TempDir()
	extra := t.TempDir()
	p := NewFileProvider(dir, logging.NewForTest())
	p.SkillDirs = []string{extra}

	if got, _ := p.Skills(context.Background(), ""); got != "" {
		t.Errorf("expected no skills, got %q", got)
	}

	writeFile(t, filepath.Join(dir, "skills", "tdd", "skill.toml"), "[skill]\nname = \"tdd\"\ndescription = \"Test first\"\ntags = [\"testing\"]\n", time.Time{})
	writeFile(t, filepath.Join(extra, "deploy", "skill.toml"), "[skill]\nname = \"deploy\"\ndescription = \"Ship it\"\n", time.Time{})

	got, _ := p.Skills(context.Background(), "")
	if !strings.Contains(got, "**tdd**") || !strings.Contains(got, "**deploy**") {
		t.Errorf("Skills = %q", got)
	}
	tagged, _ := p.Skills(context.Background(), "testing")
	if strings.Contains(tagged, "deploy") {
		t.Errorf("tag filter ignored: %q", tagged)
	}
}
