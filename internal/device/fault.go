package device

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Fault is a substrate-level failure captured while executing a task on a
// stream: a panic inside a launch, an out-of-range access, or a submission
// that the substrate rejected. Faults are never retried.
type Fault struct {
	Stream  uint64
	Op      string
	Message string
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("device fault on stream %d in %s: %s (caused by: %v)", f.Stream, f.Op, f.Message, f.Err)
	}
	return fmt.Sprintf("device fault on stream %d in %s: %s", f.Stream, f.Op, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// IsFault reports whether err carries a *Fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

// exit is replaced in tests.
var (
	osExit = os.Exit
	exit   = osExit
)

// Check is the substrate error-check hook. A nil err is a no-op; anything
// else is logged at fatal level and terminates the process.
func Check(err error) {
	if err == nil {
		return
	}

	ev := log.WithLevel(zerolog.FatalLevel).Err(err)
	var f *Fault
	if errors.As(err, &f) {
		ev = ev.Uint64("stream", f.Stream).Str("op", f.Op)
	}
	ev.Msg("Unrecoverable device fault")
	exit(1)
}
