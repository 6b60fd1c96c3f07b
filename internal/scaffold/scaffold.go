// Package scaffold materializes a template into a new project directory,
// substituting the project name for the template's placeholder in paths and
// text file contents.
//
// Scaffolding is all-or-nothing: files are written to a staging directory
// next to the target and moved into place with a single rename.
package scaffold

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/cxlinux/cx/internal/templates"
)

var (
	ErrUnknownTemplate = errors.New("unknown template")
	ErrTargetExists    = errors.New("target directory is not empty")
	ErrCopyFailed      = errors.New("copy failed")
	ErrInvalidName     = errors.New("invalid project name")
)

// Error carries the template and path involved in a failure.
type Error struct {
	Template string
	Path     string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Template != "":
		return fmt.Sprintf("scaffold %s into %s: %v", e.Template, e.Path, e.Err)
	case e.Template != "":
		return fmt.Sprintf("scaffold %s: %v", e.Template, e.Err)
	}
	return fmt.Sprintf("scaffold: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Resolver maps a template id to a descriptor.
type Resolver interface {
	Resolve(id string) (templates.Descriptor, error)
}

// Materializer produces a local directory for a descriptor's source.
type Materializer interface {
	Materialize(ctx context.Context, d templates.Descriptor) (string, func(), error)
}

// Options adjusts a scaffold run.
type Options struct {
	// Overwrite replaces a non-empty target.
	Overwrite bool
	// Progress is called after each file is staged.
	Progress func(done, total int)
}

// Result describes a completed scaffold.
type Result struct {
	Template templates.Descriptor
	Target   string
	Files    int
	Replaced bool
}

// Scaffolder creates projects from templates.
type Scaffolder struct {
	registry Resolver
	sources  Materializer
	logger   *zap.Logger
}

// New creates a Scaffolder.
func New(registry Resolver, sources Materializer, logger *zap.Logger) *Scaffolder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scaffolder{registry: registry, sources: sources, logger: logger}
}

// rename is swapped in tests to simulate a failed commit.
var rename = os.Rename

// ValidateProjectName reports whether name can be used as a single path segment.
func ValidateProjectName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Scaffold copies template templateID into targetDir as project projectName.
func (s *Scaffolder) Scaffold(ctx context.Context, templateID, projectName, targetDir string, opts Options) (*Result, error) {
	if templateID == "" {
		templateID = templates.DefaultID
	}
	if err := ValidateProjectName(projectName); err != nil {
		return nil, &Error{Template: templateID, Err: err}
	}

	desc, err := s.registry.Resolve(templateID)
	if err != nil {
		return nil, &Error{Template: templateID, Err: fmt.Errorf("%w: %v", ErrUnknownTemplate, err)}
	}
	if desc.Placeholder == "" {
		desc.Placeholder = templates.DefaultPlaceholder
	}

	target, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, &Error{Template: templateID, Path: targetDir, Err: fmt.Errorf("%w: %v", ErrCopyFailed, err)}
	}
	exists, empty, err := inspect(target)
	if err != nil {
		return nil, &Error{Template: templateID, Path: target, Err: fmt.Errorf("%w: %v", ErrCopyFailed, err)}
	}
	if exists && !empty && !opts.Overwrite {
		return nil, &Error{Template: templateID, Path: target, Err: ErrTargetExists}
	}

	root, cleanup, err := s.sources.Materialize(ctx, desc)
	defer cleanup()
	if err != nil {
		return nil, &Error{Template: templateID, Path: target, Err: fmt.Errorf("%w: %v", ErrCopyFailed, err)}
	}

	files, err := s.stage(ctx, desc, projectName, root, target, exists && !empty, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &Error{Template: templateID, Path: target, Err: fmt.Errorf("%w: %v", ErrCopyFailed, err)}
	}

	s.logger.Info("scaffolded project",
		zap.String("template", desc.Ref()),
		zap.String("project", projectName),
		zap.String("target", target),
		zap.Int("files", files))
	return &Result{Template: desc, Target: target, Files: files, Replaced: exists && !empty}, nil
}

// inspect reports whether path exists and, if so, whether it is an empty directory.
func inspect(path string) (exists, empty bool, err error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, true, nil
	}
	if err != nil {
		return false, false, err
	}
	if !info.IsDir() {
		return true, false, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return true, false, err
	}
	return true, len(entries) == 0, nil
}

// item is one template entry to copy, relative to the template root.
type item struct {
	rel  string
	mode fs.FileMode
}

func (s *Scaffolder) stage(ctx context.Context, desc templates.Descriptor, name, root, target string, replace bool, opts Options) (int, error) {
	items, err := collect(ctx, root, desc.Ignore)
	if err != nil {
		return 0, err
	}

	parent := filepath.Dir(target)
	created := missingAncestor(parent)
	committed := false
	defer func() {
		if !committed {
			removeEmptyChain(parent, created)
		}
	}()
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", parent, err)
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(target)+".cx-new-")
	if err != nil {
		return 0, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		if !committed {
			os.RemoveAll(staging)
		}
	}()

	total := 0
	for _, it := range items {
		if !it.mode.IsDir() {
			total++
		}
	}

	files := 0
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		dest := filepath.Join(staging, filepath.FromSlash(strings.ReplaceAll(it.rel, desc.Placeholder, name)))
		src := filepath.Join(root, filepath.FromSlash(it.rel))

		switch {
		case it.mode.IsDir():
			if err := os.MkdirAll(dest, it.mode.Perm()|0o700); err != nil {
				return 0, fmt.Errorf("failed to create %s: %w", it.rel, err)
			}
			continue
		case it.mode&fs.ModeSymlink != 0:
			link, err := os.Readlink(src)
			if err != nil {
				return 0, fmt.Errorf("failed to read link %s: %w", it.rel, err)
			}
			if err := os.Symlink(link, dest); err != nil {
				return 0, fmt.Errorf("failed to create link %s: %w", it.rel, err)
			}
		default:
			if err := copyFile(src, dest, it.mode.Perm(), desc.Placeholder, name); err != nil {
				return 0, fmt.Errorf("%s: %w", it.rel, err)
			}
		}
		files++
		if opts.Progress != nil {
			opts.Progress(files, total)
		}
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := commit(staging, target, replace, s.logger); err != nil {
		return 0, err
	}
	committed = true
	return files, nil
}

// missingAncestor returns the outermost directory on the way to dir that
// does not exist yet, or "" when dir exists.
func missingAncestor(dir string) string {
	missing := ""
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := os.Lstat(d); !errors.Is(err, os.ErrNotExist) {
			return missing
		}
		missing = d
		if filepath.Dir(d) == d {
			return missing
		}
	}
}

// removeEmptyChain removes dir and its parents up to and including top,
// stopping at the first one that is not empty.
func removeEmptyChain(dir, top string) {
	if top == "" {
		return
	}
	for d := dir; ; d = filepath.Dir(d) {
		if err := os.Remove(d); err != nil || d == top || filepath.Dir(d) == d {
			return
		}
	}
}

// collect walks the template tree, dropping ignored entries. The result is
// sorted so parents precede children.
func collect(ctx context.Context, root string, ignore []string) ([]item, error) {
	patterns := append([]string{".git/**"}, ignore...)
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
	}

	var mu sync.Mutex
	var items []item
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ignored(rel, patterns) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		mu.Lock()
		items = append(items, item{rel: rel, mode: info.Mode()})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk template: %w", err)
	}

	slices.SortFunc(items, func(a, b item) int { return strings.Compare(a.rel, b.rel) })
	return items, nil
}

// ignored matches rel against the patterns. "dir/**" also excludes dir itself.
func ignored(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if base, found := strings.CutSuffix(p, "/**"); found {
			if ok, _ := doublestar.Match(base, rel); ok {
				return true
			}
		}
	}
	return false
}

// copyFile copies src to a new file dest. Text content has the placeholder
// replaced; binary content is copied verbatim.
func copyFile(src, dest string, perm fs.FileMode, placeholder, name string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read: %w", err)
	}
	if isText(data) {
		data = []byte(strings.ReplaceAll(string(data), placeholder, name))
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	// O_EXCL: two template paths collapsing to one after substitution is an error.
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("failed to create: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chmod(dest, perm)
}

func isText(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// commit moves staging into place. A replaced target is moved aside first
// and put back if the final rename fails.
func commit(staging, target string, replace bool, logger *zap.Logger) error {
	if !replace {
		// Absent or empty: an empty directory is removed so the rename can land.
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to clear %s: %w", target, err)
		}
		if err := rename(staging, target); err != nil {
			return fmt.Errorf("failed to move project into place: %w", err)
		}
		return nil
	}

	aside, err := os.MkdirTemp(filepath.Dir(target), "."+filepath.Base(target)+".cx-old-")
	if err != nil {
		return fmt.Errorf("failed to reserve backup path: %w", err)
	}
	if err := os.Remove(aside); err != nil {
		return fmt.Errorf("failed to reserve backup path: %w", err)
	}
	if err := rename(target, aside); err != nil {
		return fmt.Errorf("failed to move existing %s aside: %w", target, err)
	}
	if err := rename(staging, target); err != nil {
		if rerr := rename(aside, target); rerr != nil {
			logger.Error("failed to restore original directory",
				zap.String("target", target), zap.String("backup", aside), zap.Error(rerr))
		}
		return fmt.Errorf("failed to move project into place: %w", err)
	}
	if err := os.RemoveAll(aside); err != nil {
		logger.Warn("failed to remove replaced directory", zap.String("path", aside), zap.Error(err))
	}
	return nil
}
