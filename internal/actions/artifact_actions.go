package actions

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const defaultArtifactReadLimit = 64 << 10

func registerArtifactActions(r *Registry) error {
	return registerAll(r, map[string]Func{
		"capture_artifact": captureArtifact,
		"read_artifact":    readArtifact,
	})
}

// captureArtifact records the most recently modified file matching a glob
// under the session's working directory.
func captureArtifact(ctx context.Context, actx *Context, args Args) (Result, error) {
	pattern, err := args.Require("capture_artifact", "pattern")
	if err != nil {
		return nil, err
	}
	name := args.String("as")
	if name == "" {
		name = args.String("name")
	}
	if name == "" {
		return nil, argError("capture_artifact", "as", "is required")
	}
	if actx.State == nil {
		return nil, fmt.Errorf("no session state")
	}

	matches, err := globFiles(ctx, actx.workdir(), pattern)
	if err != nil {
		return nil, err
	}
	path, ok := newest(matches)
	if !ok {
		return Result{"found": false}, nil
	}
	actx.State.SetArtifact(name, path)
	return Result{"value": path, "found": true}, nil
}

// readArtifact loads a captured artifact (or a path) into a variable.
func readArtifact(_ context.Context, actx *Context, args Args) (Result, error) {
	path := args.String("path")
	name := args.String("name")
	if path == "" {
		if name == "" {
			return nil, argError("read_artifact", "name", "or path is required")
		}
		if actx.State != nil {
			path = actx.State.Artifacts[name]
		}
	}
	if path == "" {
		return Result{"found": false}, nil
	}
	if !filepath.IsAbs(path) && actx.workdir() != "" {
		path = filepath.Join(actx.workdir(), path)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{"found": false}, nil
		}
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, int64(args.Int("max_bytes", defaultArtifactReadLimit))))
	if err != nil {
		return nil, err
	}

	content := string(data)
	variable := args.String("as")
	if variable == "" {
		variable = name
	}
	if variable != "" && actx.State != nil {
		actx.State.SetVariable(variable, content)
	}
	return Result{"value": content, "found": true, "path": path}, nil
}

// globFiles expands pattern relative to base. Besides filepath.Match syntax
// it understands ** as any number of directories.
func globFiles(ctx context.Context, base, pattern string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		if base == "" {
			return nil, argError("capture_artifact", "pattern", "is relative but no working directory is known")
		}
		pattern = filepath.Join(base, pattern)
	}
	pattern = filepath.ToSlash(pattern)

	if !strings.Contains(pattern, "**") {
		return filepath.Glob(filepath.FromSlash(pattern))
	}

	re, err := globRegexp(pattern)
	if err != nil {
		return nil, err
	}
	root := globRoot(pattern)
	var out []string
	err = filepath.WalkDir(filepath.FromSlash(root), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == filepath.FromSlash(root) {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.IsDir() && re.MatchString(filepath.ToSlash(p)) {
			out = append(out, p)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return out, err
}

// globRoot is the longest leading directory without glob metacharacters.
func globRoot(pattern string) string {
	parts := strings.Split(pattern, "/")
	var fixed []string
	for _, p := range parts {
		if strings.ContainsAny(p, "*?[") {
			break
		}
		fixed = append(fixed, p)
	}
	root := strings.Join(fixed, "/")
	if root == "" {
		return "/"
	}
	return root
}

func globRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case strings.HasPrefix(pattern[i:], "**/"):
			b.WriteString("(?:.*/)?")
			i += 2
		case strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(".*")
			i++
		case c == '*':
			b.WriteString("[^/]*")
		case c == '?':
			b.WriteString("[^/]")
		case c == '[':
			end := strings.IndexByte(pattern[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated [ in glob %q", pattern)
			}
			class := pattern[i+1 : i+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func newest(paths []string) (string, bool) {
	var best string
	var bestTime time.Time
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best, bestTime = p, info.ModTime()
		}
	}
	return best, best != ""
}
