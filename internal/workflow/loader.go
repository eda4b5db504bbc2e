// Package workflow loads, resolves and validates workflow definitions and
// keeps them in an atomically swapped registry.
package workflow

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	gerrors "github.com/gobby-stack/gobby/internal/errors"
	"github.com/gobby-stack/gobby/internal/types"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Definition sources, in precedence order.
const (
	SourceProject = "project"
	SourceUser    = "user"
	SourceBuiltin = "builtin"
)

// Loader reads definition documents from directories with precedence:
// a name found in an earlier directory shadows the same name later.
type Loader struct {
	// Dirs are searched in order (project first, then user).
	Dirs []Dir

	// Builtin holds the embedded definitions searched last. Nil disables them.
	Builtin fs.FS
}

// Dir is one definition directory and the source label it reports.
type Dir struct {
	Path   string
	Source string
}

// Document is one raw definition file, before inheritance is resolved.
type Document struct {
	Name   string
	Path   string
	Source string
	Raw    map[string]any
}

// NewLoader creates a loader over the project and user directories plus the
// embedded built-in definitions.
func NewLoader(projectDir, userDir string) *Loader {
	l := &Loader{Builtin: builtinFS}
	if projectDir != "" {
		l.Dirs = append(l.Dirs, Dir{Path: projectDir, Source: SourceProject})
	}
	if userDir != "" {
		l.Dirs = append(l.Dirs, Dir{Path: userDir, Source: SourceUser})
	}
	return l
}

// LoadDocuments reads every definition document. Parse failures are returned
// per file in errs and do not stop the scan.
func (l *Loader) LoadDocuments() (docs map[string]*Document, errs map[string]error) {
	docs = make(map[string]*Document)
	errs = make(map[string]error)

	add := func(doc *Document, err error, file string) {
		if err != nil {
			if _, taken := docs[nameFromFile(file)]; !taken {
				errs[file] = err
			}
			return
		}
		if _, taken := docs[doc.Name]; taken {
			return
		}
		docs[doc.Name] = doc
	}

	for _, d := range l.Dirs {
		files, err := listDefinitionFiles(os.DirFS(d.Path), ".")
		if err != nil {
			if !os.IsNotExist(err) {
				errs[d.Path] = fmt.Errorf("reading %s: %w", d.Path, err)
			}
			continue
		}
		for _, f := range files {
			full := filepath.Join(d.Path, filepath.FromSlash(f))
			data, err := os.ReadFile(full)
			if err != nil {
				add(nil, gerrors.DefinitionParse(full, err), full)
				continue
			}
			doc, err := ParseDocument(data, full, d.Source)
			add(doc, err, full)
		}
	}

	if l.Builtin != nil {
		files, err := listDefinitionFiles(l.Builtin, "builtin")
		if err == nil {
			for _, f := range files {
				data, err := fs.ReadFile(l.Builtin, f)
				if err != nil {
					continue
				}
				name := "builtin:" + path.Base(f)
				doc, err := ParseDocument(data, name, SourceBuiltin)
				add(doc, err, name)
			}
		}
	}

	return docs, errs
}

// ParseDocument parses one definition file. The name defaults to the file's
// base name.
func ParseDocument(data []byte, file, source string) (*Document, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, gerrors.DefinitionParse(file, err)
	}
	if raw == nil {
		return nil, gerrors.DefinitionParse(file, fmt.Errorf("empty document"))
	}
	name, _ := raw["name"].(string)
	if name == "" {
		name = nameFromFile(file)
		raw["name"] = name
	}
	return &Document{Name: name, Path: file, Source: source, Raw: raw}, nil
}

// resolve builds the merged document for name by walking extends.
func resolve(name string, docs map[string]*Document) (map[string]any, error) {
	var chain []string
	seen := make(map[string]bool)
	cur := name
	for {
		if seen[cur] {
			return nil, gerrors.DefinitionCycle(name, append(chain, cur))
		}
		seen[cur] = true
		chain = append(chain, cur)
		doc, ok := docs[cur]
		if !ok {
			return nil, gerrors.DefinitionUnknownRef(name, "extends", cur)
		}
		parent, _ := doc.Raw["extends"].(string)
		if parent == "" {
			break
		}
		cur = parent
	}

	// Merge from the root ancestor down to the definition itself.
	merged := map[string]any{}
	for i := len(chain) - 1; i >= 0; i-- {
		merged = deepMerge(merged, docs[chain[i]].Raw)
	}
	merged["name"] = name
	if ext, ok := docs[name].Raw["extends"]; ok {
		merged["extends"] = ext
	}
	return merged, nil
}

// decode converts a merged document into a typed definition.
func decode(raw map[string]any, source string) (*types.Definition, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, gerrors.DefinitionParse(source, err)
	}
	var def types.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, gerrors.DefinitionParse(source, err)
	}
	def.Source = source
	return &def, nil
}

func listDefinitionFiles(fsys fs.FS, root string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isDefinitionFile(e.Name()) {
			continue
		}
		files = append(files, path.Join(root, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func isDefinitionFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

func nameFromFile(file string) string {
	base := filepath.Base(file)
	base = strings.TrimPrefix(base, "builtin:")
	return strings.TrimSuffix(strings.TrimSuffix(base, ".yaml"), ".yml")
}
