package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	scgi "github.com/rakshasa/go-scgi-handoff"
	"github.com/rakshasa/go-scgi-handoff/handoff"
	"github.com/rakshasa/go-scgi-handoff/trace"
)

func main() {
	cmd := &cobra.Command{
		Use:           "scgi-receiver CONTROL_SOCKET",
		Short:         "Receive a listening socket from a broker and serve SCGI from it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			trace.UseLogger(logger)

			handoff.RestartableSignals()

			receiver, err := handoff.ReceiverFromPath(args[0])
			if err != nil {
				return err
			}
			defer receiver.Close()
			return receiver.Serve(demoApp)
		},
	}

	if err := cmd.Execute(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

// demoApp answers every request with an empty 200 so a fresh deployment can
// be probed end to end.
func demoApp(env scgi.Environment, start scgi.StartResponse) (scgi.Body, error) {
	if _, err := start("200 OK", []scgi.Header{{Name: "Content-Type", Value: "text/plain"}}, nil); err != nil {
		return nil, err
	}
	return scgi.Chunks(), nil
}
