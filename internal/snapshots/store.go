package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cxlinux/cx/internal/layout"
)

// Save validates and writes a snapshot under name, replacing any existing
// snapshot with that name. The write is atomic; ctx can cancel it up to the
// final rename.
func (s *Store) Save(ctx context.Context, name, description string, w layout.Workspace) (*Record, error) {
	if err := ValidateName(name); err != nil {
		return nil, s.fail("save", name, "", err)
	}
	if err := w.Validate(); err != nil {
		return nil, s.fail("save", name, "", fmt.Errorf("%w: %v", ErrInvalidLayout, err))
	}

	sum, err := checksum(w)
	if err != nil {
		return nil, s.fail("save", name, "", fmt.Errorf("failed to checksum layout: %w", err))
	}

	rec := &Record{
		SchemaVersion: CurrentSchemaVersion,
		Name:          name,
		Description:   description,
		CreatedAt:     s.now().UTC(),
		Checksum:      sum,
		Layout:        w,
	}

	path := s.path(name)
	if err := s.write(ctx, path, rec); err != nil {
		return nil, s.fail("save", name, path, err)
	}

	counts := w.Count()
	s.logger.Debug("saved snapshot",
		zap.String("snapshot", name),
		zap.String("path", path),
		zap.Int("windows", counts.Windows),
		zap.Int("panes", counts.Panes),
	)
	s.record(name, "save", fmt.Sprintf("%d windows, %d tabs, %d panes", counts.Windows, counts.Tabs, counts.Panes))

	return rec, nil
}

// Load reads the snapshot stored under name.
func (s *Store) Load(name string) (*Record, error) {
	if err := ValidateName(name); err != nil {
		return nil, s.fail("load", name, "", err)
	}

	path := s.path(name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, s.fail("load", name, path, ErrNotFound)
	}
	if err != nil {
		return nil, s.fail("load", name, path, fmt.Errorf("failed to read snapshot file: %w", err))
	}

	rec, _, err := s.decode(name, data)
	if err != nil {
		return nil, s.fail("load", name, path, err)
	}
	return rec, nil
}

// Exists reports whether a snapshot is stored under name.
func (s *Store) Exists(name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, s.fail("stat", name, "", err)
	}
	_, err := os.Stat(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, s.fail("stat", name, s.path(name), err)
	}
	return true, nil
}

// Delete removes the snapshot stored under name.
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return s.fail("delete", name, "", err)
	}

	path := s.path(name)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.fail("delete", name, path, ErrNotFound)
		}
		return s.fail("delete", name, path, fmt.Errorf("failed to remove snapshot file: %w", err))
	}
	syncDir(s.dir)

	s.logger.Debug("deleted snapshot", zap.String("snapshot", name), zap.String("path", path))
	s.record(name, "delete", "")
	return nil
}

// Migrate rewrites an older-version record at CurrentSchemaVersion.
// It returns the version found on disk and the version written; both are
// equal when the record was already current and nothing was written.
func (s *Store) Migrate(ctx context.Context, name string) (from, to int, err error) {
	if err := ValidateName(name); err != nil {
		return 0, 0, s.fail("migrate", name, "", err)
	}

	path := s.path(name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, s.fail("migrate", name, path, ErrNotFound)
	}
	if err != nil {
		return 0, 0, s.fail("migrate", name, path, fmt.Errorf("failed to read snapshot file: %w", err))
	}

	rec, from, err := s.decode(name, data)
	if err != nil {
		return 0, 0, s.fail("migrate", name, path, err)
	}
	if from == CurrentSchemaVersion {
		return from, from, nil
	}

	if err := s.write(ctx, path, rec); err != nil {
		return 0, 0, s.fail("migrate", name, path, err)
	}
	s.record(name, "migrate", fmt.Sprintf("schema %d -> %d", from, CurrentSchemaVersion))
	return from, CurrentSchemaVersion, nil
}

// List yields every snapshot newest first. Each call rescans the directory.
// Unreadable entries are yielded as errors after the valid summaries and do
// not stop the iteration.
func (s *Store) List() iter.Seq2[Summary, error] {
	return func(yield func(Summary, error) bool) {
		entries, err := os.ReadDir(s.dir)
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		if err != nil {
			yield(Summary{}, s.fail("list", "", s.dir, err))
			return
		}

		var (
			summaries []Summary
			failures  []error
		)
		for _, entry := range entries {
			fname := entry.Name()
			if !entry.IsDir() && strings.HasPrefix(fname, tempPrefix) {
				s.sweepTemp(entry)
				continue
			}
			if entry.IsDir() || strings.HasPrefix(fname, ".") || !strings.HasSuffix(fname, fileExt) {
				continue
			}
			name, err := DecodeName(strings.TrimSuffix(fname, fileExt))
			if err != nil || ValidateName(name) != nil {
				s.logger.Debug("skipping foreign file in snapshot dir", zap.String("file", fname))
				continue
			}

			rec, err := s.Load(name)
			if err != nil {
				failures = append(failures, err)
				continue
			}
			counts := rec.Layout.Count()
			summaries = append(summaries, Summary{
				Name:        rec.Name,
				Description: rec.Description,
				CreatedAt:   rec.CreatedAt,
				Windows:     counts.Windows,
				Tabs:        counts.Tabs,
				Panes:       counts.Panes,
			})
		}

		sort.SliceStable(summaries, func(i, j int) bool {
			if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
				return summaries[i].Name < summaries[j].Name
			}
			return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
		})

		for _, sum := range summaries {
			if !yield(sum, nil) {
				return
			}
		}
		for _, err := range failures {
			if !yield(Summary{}, err) {
				return
			}
		}
	}
}

// sweepTemp removes a temp file left behind by a save that never reached
// its rename. Files younger than staleTempAge may belong to a save still in
// flight and are kept.
func (s *Store) sweepTemp(entry os.DirEntry) {
	info, err := entry.Info()
	if err != nil || s.now().Sub(info.ModTime()) < staleTempAge {
		return
	}
	p := filepath.Join(s.dir, entry.Name())
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove stale temp file", zap.String("file", p), zap.Error(err))
		return
	}
	s.logger.Debug("removed stale temp file", zap.String("file", p))
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, fileName(name))
}

func (s *Store) write(ctx context.Context, path string, rec *Record) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot record: %w", err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(ctx, path, data); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	return nil
}

// decode parses, migrates and verifies a record document. It returns the
// schema version found in the document alongside the current-version record.
func (s *Store) decode(name string, data []byte) (*Record, int, error) {
	var header struct {
		SchemaVersion *int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if header.SchemaVersion == nil || *header.SchemaVersion < 1 {
		return nil, 0, fmt.Errorf("%w: missing schema_version", ErrCorrupt)
	}
	version := *header.SchemaVersion
	if version > CurrentSchemaVersion {
		return nil, version, fmt.Errorf("%w: record is version %d, this build reads up to %d",
			ErrUnsupportedVersion, version, CurrentSchemaVersion)
	}

	var rec Record
	if version < CurrentSchemaVersion {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, version, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if err := migrate(doc, version, name, s.logger); err != nil {
			return nil, version, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		migrated, err := json.Marshal(doc)
		if err != nil {
			return nil, version, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if err := json.Unmarshal(migrated, &rec); err != nil {
			return nil, version, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		// Records before version 2 carried no checksum; stamp one so the
		// migrated document satisfies the current schema.
		sum, err := checksum(rec.Layout)
		if err != nil {
			return nil, version, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		rec.Checksum = sum
		if data, err = json.Marshal(&rec); err != nil {
			return nil, version, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}

	if err := validateDocument(data); err != nil {
		return nil, version, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if version == CurrentSchemaVersion {
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, version, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		sum, err := checksum(rec.Layout)
		if err != nil {
			return nil, version, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if sum != rec.Checksum {
			return nil, version, fmt.Errorf("%w: checksum mismatch (stored %s, computed %s)", ErrCorrupt, rec.Checksum, sum)
		}
	}

	if rec.Name != name {
		return nil, version, fmt.Errorf("%w: file holds snapshot %q", ErrCorrupt, rec.Name)
	}
	if err := rec.Layout.Validate(); err != nil {
		return nil, version, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &rec, version, nil
}

// record forwards an audit entry to the recorder; failures are logged only.
func (s *Store) record(name, action, detail string) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordEvent(name, action, detail); err != nil {
		s.logger.Warn("failed to record snapshot history",
			zap.String("snapshot", name),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}
