package handoff

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// maxSignal covers the real-time range on Linux.
const maxSignal = 64

// RestartableSignals marks every trappable signal other than SIGINT and
// SIGTERM as non-interrupting: the runtime catches them with SA_RESTART, so
// a signal landing mid-accept or mid-read resumes the syscall instead of
// surfacing EINTR into the serve loop. SIGINT and SIGTERM keep their default
// terminating disposition. Signals the platform refuses to trap are skipped.
func RestartableSignals() {
	sink := make(chan os.Signal, 1)
	for n := 1; n <= maxSignal; n++ {
		sig := unix.Signal(n)
		switch sig {
		case unix.SIGINT, unix.SIGTERM:
			continue
		case unix.SIGKILL, unix.SIGSTOP:
			continue
		}
		signal.Notify(sink, sig)
	}
	go func() {
		for range sink {
		}
	}()
}
