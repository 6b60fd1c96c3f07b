// Package templates resolves template ids to descriptors and materializes
// template sources on disk.
package templates

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.yaml.in/yaml/v3"
)

// DefaultID is used when no template is requested.
const DefaultID = "default"

// DefaultPlaceholder is substituted with the project name when a
// descriptor does not name its own token.
const DefaultPlaceholder = "__NAME__"

// ErrUnknown is returned by Resolve when no template matches.
var ErrUnknown = errors.New("unknown template")

// Descriptor describes one template version.
type Descriptor struct {
	ID          string
	Version     *semver.Version
	Description string
	// Source is a directory, .tar.gz/.tgz/.tar.zst archive, http(s) URL
	// or "builtin:<name>".
	Source      string
	Placeholder string
	Ignore      []string
}

// Ref returns "id@version".
func (d Descriptor) Ref() string {
	return d.ID + "@" + d.Version.String()
}

// fileEntry is one template in templates.yaml.
type fileEntry struct {
	ID          string   `yaml:"id"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Source      string   `yaml:"source"`
	Placeholder string   `yaml:"placeholder"`
	Ignore      []string `yaml:"ignore"`
}

type registryFile struct {
	Templates []fileEntry `yaml:"templates"`
}

// Registry holds every known template version.
type Registry struct {
	byID map[string][]Descriptor // sorted by version, newest first
}

// Builtins returns the templates compiled into the binary.
func Builtins() []Descriptor {
	return []Descriptor{{
		ID:          DefaultID,
		Version:     semver.MustParse("1.0.0"),
		Description: "Minimal empty project (README and .gitignore)",
		Source:      builtinScheme + DefaultID,
		Placeholder: DefaultPlaceholder,
	}}
}

// NewRegistry builds a registry from descriptors. Later descriptors with the
// same id and version replace earlier ones.
func NewRegistry(descs ...Descriptor) *Registry {
	r := &Registry{byID: make(map[string][]Descriptor)}
	for _, d := range descs {
		r.add(d)
	}
	return r
}

func (r *Registry) add(d Descriptor) {
	if d.Placeholder == "" {
		d.Placeholder = DefaultPlaceholder
	}
	if d.Version == nil {
		d.Version = semver.MustParse("0.0.0")
	}
	list := slices.DeleteFunc(r.byID[d.ID], func(e Descriptor) bool {
		return e.Version.Equal(d.Version)
	})
	list = append(list, d)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Version.GreaterThan(list[j].Version)
	})
	r.byID[d.ID] = list
}

// Load reads a registry file on top of the built-ins. A missing file yields
// just the built-ins. Relative sources resolve against the file's directory.
func Load(path string) (*Registry, error) {
	r := NewRegistry(Builtins()...)
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read template registry: %w", err)
	}

	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse template registry %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i, e := range f.Templates {
		d, err := e.descriptor(base)
		if err != nil {
			return nil, fmt.Errorf("template registry %s entry %d: %w", path, i+1, err)
		}
		r.add(d)
	}
	return r, nil
}

func (e fileEntry) descriptor(base string) (Descriptor, error) {
	if e.ID == "" {
		return Descriptor{}, errors.New("missing id")
	}
	if strings.ContainsAny(e.ID, "@/ ") {
		return Descriptor{}, fmt.Errorf("invalid id %q", e.ID)
	}
	if e.Source == "" {
		return Descriptor{}, fmt.Errorf("template %s: missing source", e.ID)
	}
	if strings.ContainsAny(e.Placeholder, `/\`) {
		return Descriptor{}, fmt.Errorf("template %s: placeholder %q contains a path separator", e.ID, e.Placeholder)
	}

	version := "0.0.0"
	if e.Version != "" {
		version = e.Version
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return Descriptor{}, fmt.Errorf("template %s: invalid version %q: %w", e.ID, e.Version, err)
	}

	src := e.Source
	if isLocal(src) && !filepath.IsAbs(src) {
		src = filepath.Join(base, src)
	}
	return Descriptor{
		ID:          e.ID,
		Version:     v,
		Description: e.Description,
		Source:      src,
		Placeholder: e.Placeholder,
		Ignore:      e.Ignore,
	}, nil
}

// Resolve returns the descriptor for ref, which is "id" (newest version) or
// "id@constraint" (newest version satisfying the semver constraint).
func (r *Registry) Resolve(ref string) (Descriptor, error) {
	id, constraint, hasConstraint := strings.Cut(ref, "@")
	if id == "" {
		id = DefaultID
	}
	list := r.byID[id]
	if len(list) == 0 {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	if !hasConstraint {
		return list[0], nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s: invalid version constraint %q: %v", ErrUnknown, id, constraint, err)
	}
	for _, d := range list {
		if c.Check(d.Version) {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: no version of %s satisfies %s", ErrUnknown, id, constraint)
}

// List returns the newest version of every template, ordered by id.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.byID))
	for _, list := range r.byID {
		out = append(out, list[0])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Versions returns every known version of id, newest first.
func (r *Registry) Versions(id string) []Descriptor {
	return slices.Clone(r.byID[id])
}
