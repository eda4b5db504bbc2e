// Package skill discovers skill manifests so lifecycle flows can advertise
// the instruction bundles available to an agent.
package skill

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// ManifestName is the file a skill directory must contain.
const ManifestName = "skill.toml"

var (
	namePattern   = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// Skill is the [skill] table of a manifest plus the directory it came from.
type Skill struct {
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	Version     string   `toml:"version,omitempty"`
	Tags        []string `toml:"tags,omitempty"`
	Files       []string `toml:"files,omitempty"`

	Dir string `toml:"-"`
}

type manifest struct {
	Skill Skill `toml:"skill"`
}

// Load reads <dir>/skill.toml.
func Load(dir string) (*Skill, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("read skill manifest: %w", err)
	}
	s, err := Decode(string(data))
	if err != nil {
		return nil, err
	}
	s.Dir = dir
	return s, nil
}

// Decode parses manifest text.
func Decode(content string) (*Skill, error) {
	var m manifest
	if _, err := toml.Decode(content, &m); err != nil {
		return nil, fmt.Errorf("decode skill manifest: %w", err)
	}
	return &m.Skill, nil
}

// HasTag reports whether the skill carries tag.
func (s *Skill) HasTag(tag string) bool {
	return slices.Contains(s.Tags, tag)
}

// Validate returns every problem with the manifest joined into one error, or
// nil. Listed files are checked on disk only when Dir is set.
func (s *Skill) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, fmt.Errorf("skill.%s %s", field, fmt.Sprintf(format, args...)))
	}

	switch {
	case s.Name == "":
		bad("name", "is required")
	case !namePattern.MatchString(s.Name):
		bad("name", "must be lowercase alphanumeric with hyphens")
	}
	if strings.TrimSpace(s.Description) == "" {
		bad("description", "is required")
	}
	if s.Version != "" && !semverPattern.MatchString(s.Version) {
		bad("version", "must be semver (X.Y.Z)")
	}
	for _, f := range s.Files {
		if filepath.IsAbs(f) || strings.HasPrefix(filepath.Clean(f), "..") {
			bad("files", "%q must be relative to the skill directory", f)
			continue
		}
		if s.Dir == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.Dir, f)); err != nil {
			bad("files", "%q not found", f)
		}
	}
	return errors.Join(errs...)
}
