package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cxlinux/cx/internal/capture"
	"github.com/cxlinux/cx/internal/scaffold"
	"github.com/cxlinux/cx/internal/snapshots"
	"github.com/cxlinux/cx/internal/store"
)

func TestWithHint(t *testing.T) {
	tests := []struct {
		name string
		err  error
		hint string
	}{
		{"not found", &snapshots.StoreError{Op: "load", Name: "x", Err: snapshots.ErrNotFound}, "cx snapshots"},
		{"session", fmt.Errorf("%w: timed out", capture.ErrSessionUnavailable), "WezTerm"},
		{"target exists", &scaffold.Error{Template: "default", Path: "/x", Err: scaffold.ErrTargetExists}, "--force"},
		{"run not found", fmt.Errorf("get run: %w", store.ErrRunNotFound), "--history"},
		{"plain", errors.New("boom"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := withHint(tt.err)
			if !errors.Is(got, tt.err) {
				t.Errorf("withHint() lost the original error: %v", got)
			}
			if tt.hint == "" {
				if got.Error() != tt.err.Error() {
					t.Errorf("withHint() = %q, want unchanged", got)
				}
				return
			}
			if !strings.Contains(got.Error(), tt.hint) {
				t.Errorf("withHint() = %q, want hint containing %q", got, tt.hint)
			}
		})
	}
}

func TestWithHintNilAndCancel(t *testing.T) {
	if withHint(nil) != nil {
		t.Error("withHint(nil) should be nil")
	}
	if got := withHint(fmt.Errorf("capture: %w", context.Canceled)); got == nil || got.Error() != "interrupted" {
		t.Errorf("withHint(canceled) = %v, want interrupted", got)
	}
}
