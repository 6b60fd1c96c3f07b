package snapshots

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	fileExt    = ".json"
	tempPrefix = ".tmp-"

	staleTempAge = time.Hour
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateName checks name against the portable snapshot name charset.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (use letters, digits, '.', '_' or '-', starting with a letter or digit)", ErrInvalidName, name)
	}
	return nil
}

// EncodeName maps a snapshot name to its file stem. Lowercase letters,
// digits, '.' and '-' are kept; every other byte becomes "_xx" (hex), so
// names differing only in case never collide on case-insensitive filesystems.
func EncodeName(name string) string {
	var sb strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '-':
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "_%02x", c)
		}
	}
	return sb.String()
}

// DecodeName inverts EncodeName.
func DecodeName(stem string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(stem); i++ {
		c := stem[i]
		if c != '_' {
			sb.WriteByte(c)
			continue
		}
		if i+2 >= len(stem) {
			return "", fmt.Errorf("truncated escape in %q", stem)
		}
		hex := stem[i+1 : i+3]
		v, err := strconv.ParseUint(hex, 16, 8)
		if err != nil {
			return "", fmt.Errorf("bad escape %q in %q", hex, stem)
		}
		sb.WriteByte(byte(v))
		i += 2
	}
	name := sb.String()
	if EncodeName(name) != stem {
		return "", fmt.Errorf("non-canonical file name %q", stem)
	}
	return name, nil
}

func fileName(name string) string {
	return EncodeName(name) + fileExt
}
