package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/trio-odds/internal/bridge"
	"github.com/yourusername/trio-odds/internal/importer"
	"github.com/yourusername/trio-odds/internal/logger"
	"github.com/yourusername/trio-odds/internal/odds"
	"github.com/yourusername/trio-odds/internal/scheduler"
	"github.com/yourusername/trio-odds/internal/service"
)

var (
	calcMarket     string
	calcDetail     bool
	snapshotMarket string
)

var calcCmd = &cobra.Command{
	Use:   "calc [pool.json]",
	Short: "Compute synthetic odds from a JSON pool file or stdin",
	Long: `calc reads a JSON object mapping combination keys to odds, for example
{"010203": 10.5, "010204": 22}, and prints the synthetic win odds per horse.
It does not need configuration, storage or the odds bridge.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open pool file: %w", err)
			}
			defer f.Close()
			in = f
		}
		return runCalc(in, cmd.OutOrStdout(), calcMarket, calcDetail)
	},
}

func runCalc(in io.Reader, out io.Writer, marketName string, detail bool) error {
	market, err := odds.ParseMarket(marketName)
	if err != nil {
		return err
	}
	var pool odds.Pool
	if err := json.NewDecoder(in).Decode(&pool); err != nil {
		return fmt.Errorf("failed to decode pool: %w", err)
	}

	svc := service.NewSyntheticOddsService(nil, nil, nil, logger.Discard())
	b, err := svc.ComputePool(market, pool)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if detail {
		return enc.Encode(b)
	}
	return enc.Encode(b.Odds)
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [race-key...]",
	Short: "Fetch and store one synthetic odds snapshot per race",
	Long:  `snapshot stores one snapshot for each race key given, or for the configured watch list when none are given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		appLog := newLogger(cfg)

		_, repos, closeStorage, err := openStorage(ctx, cfg, appLog)
		if err != nil {
			return err
		}
		defer closeStorage()

		client, err := bridge.NewClientFromConfig(cfg.Bridge, appLog)
		if err != nil {
			return fmt.Errorf("failed to create bridge client: %w", err)
		}
		defer client.Close()

		keys := args
		if len(keys) == 0 {
			keys = cfg.Scheduler.Watch
		}
		if len(keys) == 0 {
			return fmt.Errorf("no race keys given and scheduler.watch is empty")
		}

		market, err := odds.ParseMarket(snapshotMarket)
		if err != nil {
			return err
		}

		svc := service.NewSyntheticOddsService(client, nil, repos.Odds, appLog)
		sched := scheduler.NewScheduler(svc, market, appLog)
		if err := sched.Watch(keys...); err != nil {
			return err
		}

		res := sched.RunOnce(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "stored %d snapshot(s), %d failed in %s\n",
			res.Stored, res.Failed, res.Duration.Round(time.Millisecond))
		if res.Failed > 0 {
			return fmt.Errorf("%d snapshot(s) failed", res.Failed)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <race-card.csv>",
	Short: "Import a race card CSV into storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		appLog := newLogger(cfg)

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open race card: %w", err)
		}
		defer f.Close()

		_, repos, closeStorage, err := openStorage(ctx, cfg, appLog)
		if err != nil {
			return err
		}
		defer closeStorage()

		res, err := importer.New(repos.Race, appLog).Import(ctx, f)
		if err != nil {
			return err
		}

		for _, rowErr := range res.Rejected {
			appLog.WithFields(logrus.Fields{"file": args[0], "line": rowErr.Line}).Warn(rowErr.Err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d race(s), %d runner(s), rejected %d row(s)\n",
			res.Races, res.Runners, len(res.Rejected))
		return nil
	},
}

func init() {
	calcCmd.Flags().StringVarP(&calcMarket, "market", "m", odds.Trio.String(), "Pool market: quinella, trio or trifecta")
	calcCmd.Flags().BoolVar(&calcDetail, "detail", false, "Print the full breakdown including skipped entries")
	snapshotCmd.Flags().StringVarP(&snapshotMarket, "market", "m", odds.Trio.String(), "Pool market: quinella, trio or trifecta")
}
