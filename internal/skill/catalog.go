package skill

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Catalog is the set of valid skills found under a list of directories.
// Earlier directories shadow later ones by skill name.
type Catalog struct {
	skills []*Skill
}

// LoadCatalog scans each dir for <dir>/<skill>/skill.toml. Invalid manifests
// are logged and skipped. Missing directories are ignored.
func LoadCatalog(dirs []string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	seen := make(map[string]bool)
	c := &Catalog{}

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			skillDir := filepath.Join(dir, e.Name())
			if _, err := os.Stat(filepath.Join(skillDir, ManifestName)); err != nil {
				continue
			}
			s, err := Load(skillDir)
			if err != nil {
				logger.Warn("skipping skill", "dir", skillDir, "error", err)
				continue
			}
			if err := s.Validate(); err != nil {
				logger.Warn("skipping invalid skill", "dir", skillDir, "error", err)
				continue
			}
			if seen[s.Name] {
				continue
			}
			seen[s.Name] = true
			c.skills = append(c.skills, s)
		}
	}

	sort.Slice(c.skills, func(i, j int) bool { return c.skills[i].Name < c.skills[j].Name })
	return c
}

// List returns skills, optionally limited to those carrying tag.
func (c *Catalog) List(tag string) []*Skill {
	if c == nil {
		return nil
	}
	if tag == "" {
		return c.skills
	}
	var out []*Skill
	for _, s := range c.skills {
		if s.HasTag(tag) {
			out = append(out, s)
		}
	}
	return out
}

// Summary renders skills as a markdown bullet list, or "" when empty.
func Summary(skills []*Skill) string {
	if len(skills) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Available Skills\n")
	for _, s := range skills {
		fmt.Fprintf(&sb, "- **%s**: %s\n", s.Name, strings.TrimSpace(s.Description))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
