package supervisor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStartupTimeout reports that a spawned process never produced readable
// output inside the readiness window.
var ErrStartupTimeout = errors.New("startup timeout")

// StartupTimeoutError carries the diagnostic listing of what the probe did
// find in the output directory.
type StartupTimeoutError struct {
	Dir   string
	Found []string
}

func (e *StartupTimeoutError) Error() string {
	if len(e.Found) == 0 {
		return fmt.Sprintf("no playable output appeared in %s (directory empty)", e.Dir)
	}
	return fmt.Sprintf("no playable output appeared in %s (found: %s)", e.Dir, strings.Join(e.Found, ", "))
}

func (e *StartupTimeoutError) Unwrap() error { return ErrStartupTimeout }
