package snapshots

import (
	"time"

	"go.uber.org/zap"

	"github.com/cxlinux/cx/internal/layout"
)

// Record is the on-disk representation of a named workspace snapshot.
// SchemaVersion is declared first so it is the first key in every file.
type Record struct {
	SchemaVersion int              `json:"schema_version"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	Checksum      string           `json:"checksum"`
	Layout        layout.Workspace `json:"layout"`
}

// Summary is the listing view of a record.
type Summary struct {
	Name        string
	Description string
	CreatedAt   time.Time
	Windows     int
	Tabs        int
	Panes       int
}

// Recorder receives an audit entry after each committed change.
// Implemented by the history store; a failing Recorder never fails the operation.
type Recorder interface {
	RecordEvent(name, action, detail string) error
}

// Store persists snapshot records, one file per name, in a single directory.
type Store struct {
	dir      string
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
}

// New creates a Store rooted at dir. The directory is created on first save.
func New(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}
}

// WithRecorder attaches an audit recorder and returns the store for chaining.
func (s *Store) WithRecorder(r Recorder) *Store {
	s.recorder = r
	return s
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}
