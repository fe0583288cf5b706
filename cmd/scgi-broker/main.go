package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rakshasa/go-scgi-handoff/handoff"
	"github.com/rakshasa/go-scgi-handoff/trace"
)

func main() {
	cmd := &cobra.Command{
		Use:   "scgi-broker WORKLOAD_ENDPOINT CONTROL_ENDPOINT",
		Short: "Own an SCGI listening socket and hand it off to receivers",
		Long: `scgi-broker binds the workload endpoint the outer proxy talks to, then
serves its listen descriptor to receiver processes over the control
endpoint. Endpoints look like unix:/run/app/workload.sock or
tcp:127.0.0.1:4000.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			trace.UseLogger(logger)

			broker, err := handoff.NewBroker(args[0], args[1], logger)
			if err != nil {
				return err
			}
			defer broker.Close()
			return broker.Serve(cmd.Context())
		},
	}

	if err := cmd.Execute(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}
