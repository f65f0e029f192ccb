package network

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCycleDetected     = errors.New("cycle detected")
	ErrDanglingReference = errors.New("dangling reference")
	ErrMalformedRecord   = errors.New("malformed reach record")
)

// GraphError wraps a topology failure with the reach it was detected at.
type GraphError struct {
	Kind  error
	Reach string
	Msg   string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Reach != "" {
		fmt.Fprintf(&b, " at reach %q", e.Reach)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

func (e *GraphError) Unwrap() error { return e.Kind }

func malformedf(reach, format string, args ...any) error {
	return &GraphError{Kind: ErrMalformedRecord, Reach: reach, Msg: fmt.Sprintf(format, args...)}
}

func danglingf(reach, format string, args ...any) error {
	return &GraphError{Kind: ErrDanglingReference, Reach: reach, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	reach := ""
	if len(path) > 0 {
		reach = path[0]
	}
	return &GraphError{Kind: ErrCycleDetected, Reach: reach, Msg: strings.Join(path, " -> ")}
}
