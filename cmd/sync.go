package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dispatchd/dispatch/internal/catalog"
	"github.com/dispatchd/dispatch/internal/config"
)

var flagSyncWarm bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Bring the vector index in step with the action catalog",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&flagSyncWarm, "warm", false, "Also pre-embed the semantic intent phrases")
	rootCmd.AddCommand(syncCmd)
}

func runSync(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, idx, err := newSyncer(cfg)
	if err != nil {
		return err
	}
	defer idx.Close()

	printSection("Sync")
	ctx := context.Background()
	stats, err := s.Sync(ctx)

	var perr *catalog.PartialError
	if err != nil && !errors.As(err, &perr) {
		return err
	}

	printOK("", fmt.Sprintf("catalog: %d action(s), %d already indexed", stats.Total, stats.AlreadyLive))
	if stats.Indexed > 0 {
		printOK("", fmt.Sprintf("indexed %d new action(s) (%d embedded, %d from backup)",
			stats.Indexed, stats.NewEmbeddings, stats.ReusedBackup))
	}
	printInfo("", fmt.Sprintf("inferred template rules: %d", stats.AutoRules))
	if perr != nil {
		for name, ferr := range perr.Failures {
			printErr(name, ferr.Error())
		}
		return fmt.Errorf("sync finished with %d failure(s)", len(perr.Failures))
	}

	if flagSyncWarm {
		if err := warmIntents(ctx, cfg); err != nil {
			printWarn("", fmt.Sprintf("intent warm-up incomplete: %v", err))
		} else {
			printOK("", "semantic intent phrases warmed")
		}
	}
	return nil
}

// warmIntents pre-embeds the canonical intent phrases so the first routed
// query pays no extra latency for layer 3.
func warmIntents(ctx context.Context, cfg *config.Config) error {
	r, err := newRouter(cfg, false, false)
	if err != nil {
		return err
	}
	return r.WarmIntents(ctx)
}
