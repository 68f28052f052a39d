package manga

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind tags a JobError with the boundary it came from.
type ErrorKind string

// Error kinds.
const (
	KindConfig              ErrorKind = "config"
	KindBroker              ErrorKind = "broker"
	KindDecode              ErrorKind = "decode"
	KindUpstream            ErrorKind = "upstream"
	KindResumePointNotFound ErrorKind = "resume_point_not_found"
	KindInternal            ErrorKind = "internal"
)

// JobError carries structured context about a failed job or delivery.
type JobError struct {
	Kind     ErrorKind
	Slug     string
	Chapter  *Chapter
	Attempts int
	Err      error
}

func (e *JobError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Slug != "" {
		fmt.Fprintf(&b, " slug=%s", e.Slug)
	}
	if e.Chapter != nil {
		fmt.Fprintf(&b, " chapter=%s", e.Chapter)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " attempts=%d", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first JobError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Kind
	}
	return ""
}
