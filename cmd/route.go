package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dispatchd/dispatch/internal/router"
)

var (
	flagRouteK       int
	flagRouteDebug   bool
	flagRouteNoEmbed bool
)

var routeCmd = &cobra.Command{
	Use:   "route <query>",
	Short: "Route a free-text query through the intent cascade",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRoute,
}

func init() {
	routeCmd.Flags().IntVar(&flagRouteK, "k", 0, "Number of retrieval candidates (default from config)")
	routeCmd.Flags().BoolVar(&flagRouteDebug, "debug", false, "Print debug information")
	routeCmd.Flags().BoolVar(&flagRouteNoEmbed, "no-embed", false, "Use only the deterministic layers (no embedding calls)")
	rootCmd.AddCommand(routeCmd)
}

func runRoute(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("k") && flagRouteK > 0 {
		cfg.Router.TopK = flagRouteK
	}

	r, err := newRouter(cfg, flagRouteNoEmbed, flagRouteDebug)
	if err != nil {
		return err
	}

	query := strings.Join(args, " ")
	d, err := r.Route(context.Background(), query)
	if err != nil {
		return err
	}
	if d == nil {
		printInfo("", fmt.Sprintf("no route for %q; hand off to the downstream reasoner", query))
		return nil
	}
	printDecision(query, d)
	return nil
}

func printDecision(query string, d *router.Decision) {
	fmt.Printf("\ndispatch route %q\n\n", query)
	fmt.Printf("Layer:  %s\n", d.Source)

	if d.Source == router.SourceRetrieval {
		fmt.Printf("Candidates (%d):\n", len(d.Candidates))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for i, c := range d.Candidates {
			fmt.Fprintf(w, "  %d.\t[%.3f]\t%s\t%s\n", i+1, c.Score, c.Name, c.Description)
		}
		_ = w.Flush()
		return
	}

	fmt.Printf("Action: %s\n", d.Action)
	if d.Rule != "" {
		fmt.Printf("Rule:   %s\n", d.Rule)
	}
	if d.Source == router.SourceSemantic {
		fmt.Printf("Score:  %.3f\n", d.Score)
	}
	if len(d.Args) > 0 {
		keys := make([]string, 0, len(d.Args))
		for k := range d.Args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("Args:")
		for _, k := range keys {
			fmt.Printf("  %s: %s\n", k, d.Args[k])
		}
	}
}
