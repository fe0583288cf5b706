package handoff

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRestartableSignalsSurvivesDelivery(t *testing.T) {
	RestartableSignals()

	// A signal that would normally terminate the process is absorbed.
	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGUSR1))
	time.Sleep(50 * time.Millisecond)
}
