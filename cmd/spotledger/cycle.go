package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"spotledger/internal/core"
	"spotledger/internal/feed"
	"spotledger/internal/schema"

	"github.com/spf13/cobra"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

func executeHourCmd(flags *globalFlags) *cobra.Command {
	var (
		pf    partitionFlags
		hour  string
		input string
	)
	cmd := &cobra.Command{
		Use:   "execute-hour",
		Short: "Execute and commit one account-hour",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, err := pf.key()
			if err != nil {
				return err
			}
			h := schema.TruncateHour(time.Now()).UTC()
			if hour != "" {
				if h, err = parseHour(hour); err != nil {
					return err
				}
			}

			a, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			var rec *schema.CycleRecord
			if input != "" {
				in, err := feed.ReadInput(input, p, h)
				if err != nil {
					return err
				}
				rec, err = a.svc.Execute(ctx, in)
				if err != nil {
					return err
				}
			} else {
				rec, err = a.svc.ExecuteHour(ctx, p, h)
				if err != nil {
					return err
				}
			}

			fmt.Printf("committed %s\n", rec.Key())
			fmt.Printf("  signals=%d orders=%d fills=%d ledger=%d events=%d\n",
				len(rec.Signals), len(rec.Orders), len(rec.Fills), len(rec.Ledger), len(rec.Events))
			fmt.Printf("  cash=%s value=%s tier=%s\n", rec.Portfolio.Cash, rec.Portfolio.TotalValue, rec.RiskState.Tier)
			fmt.Printf("  root=%s\n", rec.Manifest.ReplayRootHash)
			return nil
		},
	}
	cmd.Flags().StringVar(&pf.account, "account", "", "account id")
	cmd.Flags().StringVar(&pf.mode, "mode", "paper", "run mode: backtest, paper or live")
	cmd.Flags().StringVar(&hour, "hour", "", "origin hour (RFC3339 or 2006-01-02T15), default current hour")
	cmd.Flags().StringVar(&input, "input", "", "cycle input file, default the account's feed source")
	return cmd
}

func verifyLedgerCmd(flags *globalFlags) *cobra.Command {
	var pf partitionFlags
	cmd := &cobra.Command{
		Use:   "verify-ledger",
		Short: "Re-fold a partition's committed cycles and check the cash chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			partitions, err := a.selectPartitions(ctx, pf)
			if err != nil {
				return err
			}
			for _, p := range partitions {
				report, err := a.svc.VerifyLedger(ctx, p)
				if err != nil {
					return errors.Wrap(err, "verify ledger").With("partition", p.String())
				}
				fmt.Printf("%s cycles=%d seq=%d balance=%s hash=%s\n",
					report.Partition, report.Cycles, report.Tip.Seq, report.Tip.Balance, report.Tip.Hash)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pf.account, "account", "", "account id, empty verifies every committed partition")
	cmd.Flags().StringVar(&pf.mode, "mode", "paper", "run mode: backtest, paper or live")
	return cmd
}

func runCmd(flags *globalFlags) *cobra.Command {
	var now bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute every configured partition on the hourly schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := core.NewScheduler(ctx, a.svc, a.cfg.Schedule)
			if err != nil {
				return err
			}

			var srv *http.Server
			if a.cfg.Metrics.Addr != "" {
				mux := http.NewServeMux()
				mux.Handle(a.cfg.Metrics.Path, a.metrics.Handler())
				srv = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					logs.Infof("metrics listening on %s%s", a.cfg.Metrics.Addr, a.cfg.Metrics.Path)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logs.Errorf("metrics server, err: %+v", err)
					}
				}()
			}

			sched.Start()
			if now {
				sched.Tick(time.Now())
			}
			<-ctx.Done()
			sched.Stop()

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logs.Errorf("shutdown metrics server, err: %+v", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "also execute the current hour at start")
	return cmd
}

// selectPartitions returns the flagged partition, or every committed partition when no
// account is given.
func (a *app) selectPartitions(ctx context.Context, pf partitionFlags) ([]schema.PartitionKey, error) {
	if pf.account != "" {
		p, err := pf.key()
		if err != nil {
			return nil, err
		}
		return []schema.PartitionKey{p}, nil
	}
	return a.store.Partitions(ctx)
}
