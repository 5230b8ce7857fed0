package main

import (
	"context"
	"fmt"
	"time"

	"spotledger/internal/ops"
	"spotledger/internal/replay"
	"spotledger/internal/schema"

	"github.com/spf13/cobra"
)

func replayHourCmd(flags *globalFlags) *cobra.Command {
	var (
		pf   partitionFlags
		hour string
	)
	cmd := &cobra.Command{
		Use:   "replay-hour",
		Short: "Recompute one committed hour and compare it row by row",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCommitted(cmd.Context(), flags, pf, hour, func(ctx context.Context, a *app, rec *schema.CycleRecord) (replay.Verdict, error) {
				return replay.New(a.store).ReplayHour(ctx, rec.Key())
			})
		},
	}
	bindPartition(cmd, &pf)
	cmd.Flags().StringVar(&hour, "hour", "", "origin hour (RFC3339 or 2006-01-02T15)")
	_ = cmd.MarkFlagRequired("hour")
	return cmd
}

func replayWindowCmd(flags *globalFlags) *cobra.Command {
	var (
		pf       partitionFlags
		from, to string
	)
	cmd := &cobra.Command{
		Use:   "replay-window",
		Short: "Recompute a window of committed hours in order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, err := pf.key()
			if err != nil {
				return err
			}
			var fromHour, toHour time.Time
			if fromHour, err = parseOptionalHour(from); err != nil {
				return err
			}
			if toHour, err = parseOptionalHour(to); err != nil {
				return err
			}

			a, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := replay.New(a.store).ReplayWindow(ctx, p, fromHour, toHour)
			if err != nil {
				return err
			}
			return a.report(v)
		},
	}
	bindPartition(cmd, &pf)
	cmd.Flags().StringVar(&from, "from", "", "first hour, inclusive, empty replays from the start")
	cmd.Flags().StringVar(&to, "to", "", "end hour, exclusive, empty replays to the head")
	return cmd
}

func replayManifestCmd(flags *globalFlags) *cobra.Command {
	var (
		pf      partitionFlags
		hour    string
		against string
	)
	cmd := &cobra.Command{
		Use:   "replay-manifest",
		Short: "Check a committed replay manifest, optionally against another store's run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCommitted(cmd.Context(), flags, pf, hour, func(ctx context.Context, a *app, rec *schema.CycleRecord) (replay.Verdict, error) {
				v, err := replay.New(a.store).ReplayManifest(ctx, rec.Key())
				if err != nil || against == "" {
					return v, err
				}
				other, err := loadOtherManifest(ctx, against, rec)
				if err != nil {
					return v, err
				}
				cmp, err := replay.CompareManifests(rec.Manifest, other)
				if err != nil {
					return v, err
				}
				if !cmp.Pass {
					return cmp, nil
				}
				return v, nil
			})
		},
	}
	bindPartition(cmd, &pf)
	cmd.Flags().StringVar(&hour, "hour", "", "origin hour (RFC3339 or 2006-01-02T15)")
	cmd.Flags().StringVar(&against, "against", "", "config file of a second store holding the same run")
	_ = cmd.MarkFlagRequired("hour")
	return cmd
}

func bindPartition(cmd *cobra.Command, pf *partitionFlags) {
	cmd.Flags().StringVar(&pf.account, "account", "", "account id")
	cmd.Flags().StringVar(&pf.mode, "mode", "paper", "run mode: backtest, paper or live")
	_ = cmd.MarkFlagRequired("account")
}

// withCommitted opens the app, finds the record committed for the flagged hour and
// reports the verdict fn returns.
func withCommitted(ctx context.Context, flags *globalFlags, pf partitionFlags, hour string,
	fn func(context.Context, *app, *schema.CycleRecord) (replay.Verdict, error)) error {
	p, err := pf.key()
	if err != nil {
		return err
	}
	h, err := parseHour(hour)
	if err != nil {
		return err
	}
	a, err := openApp(ctx, flags)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.store.FindCycle(ctx, p, h)
	if err != nil {
		return err
	}
	v, err := fn(ctx, a, rec)
	if err != nil {
		return err
	}
	return a.report(v)
}

func (a *app) report(v replay.Verdict) error {
	a.metrics.ObserveVerdict(v.Pass)
	fmt.Println(v.String())
	return v.Err()
}

func loadOtherManifest(ctx context.Context, path string, rec *schema.CycleRecord) (schema.ReplayManifest, error) {
	cfg, err := ops.Load(path)
	if err != nil {
		return schema.ReplayManifest{}, err
	}
	s, err := openStore(ctx, cfg)
	if err != nil {
		return schema.ReplayManifest{}, err
	}
	defer s.Close()

	other, err := s.FindCycle(ctx, rec.Partition(), rec.Run.OriginHour)
	if err != nil {
		return schema.ReplayManifest{}, err
	}
	return other.Manifest, nil
}
