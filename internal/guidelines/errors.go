package guidelines

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNotLoaded = errors.New("guidelines not loaded")

type LoadErrorKind int

const (
	FileNotFound LoadErrorKind = iota + 1
	ParseFailed
	ValidationFailed
)

func (k LoadErrorKind) String() string {
	switch k {
	case FileNotFound:
		return "FileNotFound"
	case ParseFailed:
		return "ParseFailed"
	case ValidationFailed:
		return "ValidationFailed"
	default:
		return fmt.Sprintf("LoadErrorKind(%d)", int(k))
	}
}

// RuleLoadError reports why a rule document could not be promoted.
type RuleLoadError struct {
	Kind     LoadErrorKind
	Path     string
	Problems []string
	Err      error
}

func (e *RuleLoadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "load rules %s: %s", e.Path, e.Kind)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Problems) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Problems, "; "))
	}
	return b.String()
}

func (e *RuleLoadError) Unwrap() error { return e.Err }

// IsKind reports whether err is a RuleLoadError of the given kind.
func IsKind(err error, kind LoadErrorKind) bool {
	var le *RuleLoadError
	return errors.As(err, &le) && le.Kind == kind
}
