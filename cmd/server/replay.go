package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hperssn/focuswatch/internal/account"
	"github.com/hperssn/focuswatch/internal/config"
	"github.com/hperssn/focuswatch/internal/domain"
	"github.com/hperssn/focuswatch/internal/ledger"
	"github.com/hperssn/focuswatch/internal/runner"
	"github.com/hperssn/focuswatch/internal/signal"
	"github.com/hperssn/focuswatch/internal/stats"
	"github.com/hperssn/focuswatch/internal/storage"
)

type replayOptions struct {
	username string
	realtime bool
	useStore bool
}

func newReplayCmd() *cobra.Command {
	var opts replayOptions

	cmd := &cobra.Command{
		Use:   "replay <script.yaml>",
		Short: "Run a frame script through a monitoring session and print the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := signal.LoadScript(args[0])
			if err != nil {
				return err
			}

			repo := storage.Repository(storage.NewMemoryRepository())
			defaults := domain.DefaultSettings()
			if opts.useStore {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if repo, err = storage.Open(cfg.DBDriver, cfg.DSN()); err != nil {
					return err
				}
				defaults = cfg.DefaultSettings()
			}
			defer repo.Close()

			return replay(cmd.Context(), repo, defaults, script, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.username, "user", "replay", "user the session is recorded for")
	cmd.Flags().BoolVar(&opts.realtime, "realtime", false, "pace frames at the script interval")
	cmd.Flags().BoolVar(&opts.useStore, "store", false, "record into the configured store instead of memory")
	return cmd
}

func replay(ctx context.Context, repo storage.Repository, defaults domain.Settings, script *signal.Script, opts replayOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	l := ledger.New(repo, nil)
	accounts, err := account.NewService(repo, l, defaults)
	if err != nil {
		return err
	}
	user, err := accounts.Login(ctx, opts.username)
	if err != nil {
		return err
	}

	manager := runner.NewManager(l, signal.ScriptFactory(script, nil, opts.realtime), runner.Options{})
	subID, events := manager.Subscribe(user.ID)
	defer manager.Unsubscribe(subID)

	sess, err := manager.StartMonitoring(ctx, user.ID)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for done := false; !done; {
		select {
		case e := <-events:
			fmt.Fprintf(out, "%s  %-15s %s\n", e.Timestamp.Sub(sess.StartTime).Round(time.Millisecond), e.Type, e.Duration)
		case <-ticker.C:
			st := manager.Status(user.ID)
			done = !st.Monitoring && st.Session == nil
			if done && st.LastError != nil {
				fmt.Fprintf(out, "run ended early: %v\n", st.LastError)
			}
		case <-ctx.Done():
			_, err := manager.StopMonitoring(context.Background(), user.ID)
			if err != nil {
				return err
			}
			return ctx.Err()
		}
	}

	// events published just before the run ended
	for drained := false; !drained; {
		select {
		case e := <-events:
			fmt.Fprintf(out, "%s  %-15s %s\n", e.Timestamp.Sub(sess.StartTime).Round(time.Millisecond), e.Type, e.Duration)
		default:
			drained = true
		}
	}

	d, err := stats.NewEngine(repo, 0).Dashboard(ctx, user.ID, sess.StartTime)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "frames\t%d\n", script.Len())
	fmt.Fprintf(tw, "focus\t%s\n", d.TotalFocusTime)
	fmt.Fprintf(tw, "distraction\t%s\n", d.TotalDistractionTime)
	for _, t := range domain.EventTypes {
		fmt.Fprintf(tw, "%s\t%d\n", t, d.EventBreakdown[t])
	}
	fmt.Fprintf(tw, "goal progress\t%.1f%%\n", d.GoalProgress)
	return tw.Flush()
}

