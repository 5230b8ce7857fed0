package main

import (
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/spf13/cobra"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

type globalFlags struct {
	config       string
	pyroscope    string
	freezeFor    time.Duration
	freezeReason string
}

func rootCmd() *cobra.Command {
	var (
		flags    globalFlags
		profiler *pyroscope.Profiler
	)
	root := &cobra.Command{
		Use:           "spotledger",
		Short:         "Hourly spot trading decisions, paper execution, cash ledger and replay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if flags.pyroscope == "" {
				return nil
			}
			p, err := pyroscope.Start(pyroscope.Config{
				ApplicationName: "spotledger",
				ServerAddress:   flags.pyroscope,
				Tags:            map[string]string{"command": cmd.Name()},
				ProfileTypes: []pyroscope.ProfileType{
					pyroscope.ProfileCPU,
					pyroscope.ProfileAllocObjects,
					pyroscope.ProfileAllocSpace,
					pyroscope.ProfileInuseObjects,
					pyroscope.ProfileInuseSpace,
				},
			})
			if err != nil {
				return errors.Wrap(err, "start pyroscope").With("server", flags.pyroscope)
			}
			profiler = p
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if profiler == nil {
				return
			}
			if err := profiler.Stop(); err != nil {
				logs.Errorf("stop pyroscope, err: %+v", err)
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "config.yaml", "config file (yaml or json)")
	pf.StringVar(&flags.pyroscope, "pyroscope", "", "pyroscope server address, empty disables profiling")
	pf.DurationVar(&flags.freezeFor, "freeze", 0, "freeze store writes for this long after start")
	pf.StringVar(&flags.freezeReason, "freeze-reason", "operator freeze", "reason recorded with --freeze")

	root.AddCommand(
		executeHourCmd(&flags),
		runCmd(&flags),
		verifyLedgerCmd(&flags),
		replayHourCmd(&flags),
		replayWindowCmd(&flags),
		replayManifestCmd(&flags),
	)
	return root
}
