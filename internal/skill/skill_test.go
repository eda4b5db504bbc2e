package skill

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gobby-stack/gobby/internal/logging"
)

const validSkillTOML = `
[skill]
name = "sprint-planner"
description = "Plan and execute sprints"
version = "1.0.0"
tags = ["planning"]
`

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	t.Run("valid manifest", func(t *testing.T) {
		dir := t.TempDir()
		writeTestFile(t, filepath.Join(dir, ManifestName), validSkillTOML)

		s, err := Load(dir)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if s.Name != "sprint-planner" || s.Version != "1.0.0" {
			t.Errorf("skill = %+v", s)
		}
		if !s.HasTag("planning") || s.HasTag("review") {
			t.Errorf("tags = %v", s.Tags)
		}
		if s.Dir != dir {
			t.Errorf("Dir = %q, want %q", s.Dir, dir)
		}
	})

	t.Run("missing manifest", func(t *testing.T) {
		if _, err := Load(t.TempDir()); err == nil {
			t.Fatal("expected error for missing manifest")
		}
	})

	t.Run("invalid toml", func(t *testing.T) {
		if _, err := Decode("[skill\nname="); err == nil {
			t.Fatal("expected decode error")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		skill   Skill
		wantErr string
	}{
		{"valid", Skill{Name: "a-b", Description: "d", Version: "1.2.3"}, ""},
		{"missing name", Skill{Description: "d"}, "skill.name is required"},
		{"bad name", Skill{Name: "Bad_Name", Description: "d"}, "lowercase"},
		{"missing description", Skill{Name: "a"}, "skill.description is required"},
		{"bad version", Skill{Name: "a", Description: "d", Version: "v1"}, "semver"},
		{"absolute file", Skill{Name: "a", Description: "d", Files: []string{"/etc/passwd"}}, "must be relative"},
		{"escaping file", Skill{Name: "a", Description: "d", Files: []string{"../x"}}, "must be relative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.skill.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %v does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	err := (&Skill{Name: "BAD", Version: "x"}).Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"skill.name", "skill.description", "skill.version"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %s", err, want)
		}
	}
}

func TestValidate_MissingListedFile(t *testing.T) {
	dir := t.TempDir()
	s := &Skill{Name: "a", Description: "d", Files: []string{"SKILL.md"}, Dir: dir}
	if s.Validate() == nil {
		t.Fatal("expected missing file error")
	}
	writeTestFile(t, filepath.Join(dir, "SKILL.md"), "# a")
	if err := s.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadCatalog(t *testing.T) {
	project := t.TempDir()
	user := t.TempDir()
	writeTestFile(t, filepath.Join(project, "planner", ManifestName), validSkillTOML)
	writeTestFile(t, filepath.Join(project, "broken", ManifestName), "[skill]\nname = \"BAD\"\n")
	writeTestFile(t, filepath.Join(project, "no-manifest", "README.md"), "x")
	writeTestFile(t, filepath.Join(user, "planner-copy", ManifestName), `
[skill]
name = "sprint-planner"
description = "shadowed"
`)
	writeTestFile(t, filepath.Join(user, "reviewer", ManifestName), `
[skill]
name = "code-reviewer"
description = "Review diffs"
`)

	c := LoadCatalog([]string{project, user, filepath.Join(project, "missing")}, logging.NewForTest())
	all := c.List("")
	if len(all) != 2 {
		t.Fatalf("expected 2 skills, got %d", len(all))
	}
	if all[0].Name != "code-reviewer" || all[1].Description != "Plan and execute sprints" {
		t.Errorf("unexpected catalog order or shadowing: %+v", all)
	}
	if got := c.List("planning"); len(got) != 1 || got[0].Name != "sprint-planner" {
		t.Errorf("List(planning) = %+v", got)
	}

	summary := Summary(all)
	if !strings.HasPrefix(summary, "## Available Skills\n") || !strings.Contains(summary, "- **code-reviewer**: Review diffs") {
		t.Errorf("Summary = %q", summary)
	}
	if Summary(nil) != "" {
		t.Error("empty summary should be empty")
	}
}
