package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCwdPath(t *testing.T) {
	tests := map[string]string{
		"/home/dev":                     "/home/dev",
		"file:///home/dev":              "/home/dev",
		"file://laptop/home/dev/my%20x": "/home/dev/my x",
		"":                              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, CwdPath(in), "CwdPath(%q)", in)
	}
}
