package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	gerrors "github.com/gobby-stack/gobby/internal/errors"
)

func writeDocFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
}

func TestLoader_ProjectOverridesUser(t *testing.T) {
	projectDir := t.TempDir()
	userDir := t.TempDir()
	writeDocFile(t, filepath.Join(projectDir, "shared.yaml"), "name: shared\ndescription: project\n")
	writeDocFile(t, filepath.Join(userDir, "shared.yaml"), "name: shared\ndescription: user\n")
	writeDocFile(t, filepath.Join(userDir, "global.yml"), "description: only in user\n")

	l := &Loader{Dirs: []Dir{
		{Path: projectDir, Source: SourceProject},
		{Path: userDir, Source: SourceUser},
	}}
	docs, errs := l.LoadDocuments()
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	shared := docs["shared"]
	if shared == nil {
		t.Fatal("shared not loaded")
	}
	if shared.Source != SourceProject || shared.Raw["description"] != "project" {
		t.Errorf("shared = %+v, want project version", shared)
	}

	global := docs["global"]
	if global == nil {
		t.Fatal("global not loaded")
	}
	if global.Source != SourceUser {
		t.Errorf("global source = %q, want %q", global.Source, SourceUser)
	}
	if global.Raw["name"] != "global" {
		t.Errorf("name defaulted to %v, want file base name", global.Raw["name"])
	}
}

func TestLoader_SkipsHiddenAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	writeDocFile(t, filepath.Join(dir, "a.yaml"), "name: a\n")
	writeDocFile(t, filepath.Join(dir, ".hidden.yaml"), "name: hidden\n")
	writeDocFile(t, filepath.Join(dir, "notes.txt"), "not a definition")
	writeDocFile(t, filepath.Join(dir, "sub", "nested.yaml"), "name: nested\n")

	l := &Loader{Dirs: []Dir{{Path: dir, Source: SourceProject}}}
	docs, errs := l.LoadDocuments()
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(docs) != 1 || docs["a"] == nil {
		t.Errorf("docs = %v, want only a", docs)
	}
}

func TestLoader_MissingDirIsNotAnError(t *testing.T) {
	l := &Loader{Dirs: []Dir{{Path: filepath.Join(t.TempDir(), "absent"), Source: SourceProject}}}
	docs, errs := l.LoadDocuments()
	if len(docs) != 0 || len(errs) != 0 {
		t.Errorf("docs = %v, errs = %v, want both empty", docs, errs)
	}
}

func TestLoader_ParseErrorsAreCollected(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	empty := filepath.Join(dir, "empty.yaml")
	writeDocFile(t, good, "name: good\n")
	writeDocFile(t, bad, "name: bad\nsteps: [\n")
	writeDocFile(t, empty, "")

	l := &Loader{Dirs: []Dir{{Path: dir, Source: SourceProject}}}
	docs, errs := l.LoadDocuments()
	if docs["good"] == nil {
		t.Error("good document was not loaded")
	}
	for _, file := range []string{bad, empty} {
		err, ok := errs[file]
		if !ok {
			t.Errorf("no error recorded for %s", file)
			continue
		}
		if !gerrors.HasCode(err, gerrors.CodeDefinitionParse) {
			t.Errorf("%s: error = %v, want %s", file, err, gerrors.CodeDefinitionParse)
		}
	}
}

func TestLoader_ShadowedParseErrorIgnored(t *testing.T) {
	projectDir := t.TempDir()
	userDir := t.TempDir()
	writeDocFile(t, filepath.Join(projectDir, "x.yaml"), "name: x\n")
	writeDocFile(t, filepath.Join(userDir, "x.yaml"), "steps: [\n")

	l := &Loader{Dirs: []Dir{
		{Path: projectDir, Source: SourceProject},
		{Path: userDir, Source: SourceUser},
	}}
	_, errs := l.LoadDocuments()
	if len(errs) != 0 {
		t.Errorf("errors = %v, want shadowed file ignored", errs)
	}
}

func TestLoader_BuiltinsSearchedLast(t *testing.T) {
	dir := t.TempDir()
	writeDocFile(t, filepath.Join(dir, "plan.yaml"), "name: plan\ndescription: mine\n")

	l := &Loader{
		Dirs: []Dir{{Path: dir, Source: SourceProject}},
		Builtin: fstest.MapFS{
			"builtin/plan.yaml":  {Data: []byte("name: plan\ndescription: stock\n")},
			"builtin/extra.yaml": {Data: []byte("name: extra\n")},
		},
	}
	docs, errs := l.LoadDocuments()
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if docs["plan"].Raw["description"] != "mine" {
		t.Errorf("plan = %v, want project override", docs["plan"].Raw)
	}
	extra := docs["extra"]
	if extra == nil {
		t.Fatal("builtin extra not loaded")
	}
	if extra.Source != SourceBuiltin || extra.Path != "builtin:extra.yaml" {
		t.Errorf("extra = %+v", extra)
	}
}

func TestNewLoader(t *testing.T) {
	tests := []struct {
		name       string
		project    string
		user       string
		wantLabels []string
	}{
		{"both", "/p", "/u", []string{SourceProject, SourceUser}},
		{"project only", "/p", "", []string{SourceProject}},
		{"none", "", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader(tt.project, tt.user)
			if l.Builtin == nil {
				t.Error("builtins not attached")
			}
			if len(l.Dirs) != len(tt.wantLabels) {
				t.Fatalf("dirs = %+v, want %v", l.Dirs, tt.wantLabels)
			}
			for i, d := range l.Dirs {
				if d.Source != tt.wantLabels[i] {
					t.Errorf("dir %d source = %q, want %q", i, d.Source, tt.wantLabels[i])
				}
			}
		})
	}
}

func TestEmbeddedBuiltinsParse(t *testing.T) {
	l := &Loader{Builtin: builtinFS}
	docs, errs := l.LoadDocuments()
	if len(errs) != 0 {
		t.Fatalf("builtin parse errors: %v", errs)
	}
	for _, name := range []string{"plan-execute", "session-lifecycle"} {
		if docs[name] == nil {
			t.Errorf("builtin %s missing", name)
		}
	}
}

func TestResolve_ExtendsChain(t *testing.T) {
	docs := map[string]*Document{
		"base":  {Name: "base", Raw: map[string]any{"name": "base", "description": "base", "variables": map[string]any{"a": 1}}},
		"mid":   {Name: "mid", Raw: map[string]any{"name": "mid", "extends": "base", "variables": map[string]any{"b": 2}}},
		"child": {Name: "child", Raw: map[string]any{"name": "child", "extends": "mid"}},
		"loopA": {Name: "loopA", Raw: map[string]any{"name": "loopA", "extends": "loopB"}},
		"loopB": {Name: "loopB", Raw: map[string]any{"name": "loopB", "extends": "loopA"}},
		"orph":  {Name: "orph", Raw: map[string]any{"name": "orph", "extends": "ghost"}},
	}

	merged, err := resolve("child", docs)
	if err != nil {
		t.Fatalf("resolve(child) error = %v", err)
	}
	if merged["name"] != "child" || merged["description"] != "base" || merged["extends"] != "mid" {
		t.Errorf("merged = %v", merged)
	}
	vars, _ := merged["variables"].(map[string]any)
	if vars["a"] != 1 || vars["b"] != 2 {
		t.Errorf("variables = %v, want both ancestors merged", vars)
	}

	if _, err := resolve("loopA", docs); !gerrors.HasCode(err, gerrors.CodeDefinitionCycle) {
		t.Errorf("cycle: error = %v", err)
	}
	if _, err := resolve("orph", docs); !gerrors.HasCode(err, gerrors.CodeDefinitionUnknownRef) {
		t.Errorf("missing parent: error = %v", err)
	}
}
