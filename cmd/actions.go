package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dispatchd/dispatch/internal/index"
	"github.com/dispatchd/dispatch/internal/registry"
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Inspect and manage the action catalog",
}

var actionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog actions and their index status",
	Args:  cobra.NoArgs,
	RunE:  runActionsList,
}

var actionsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one action's descriptor and index entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runActionsShow,
}

var actionsRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Tombstone an action in the index",
	Args:  cobra.ExactArgs(1),
	RunE:  runActionsRemove,
}

func init() {
	actionsCmd.AddCommand(actionsListCmd, actionsShowCmd, actionsRemoveCmd)
	rootCmd.AddCommand(actionsCmd)
}

func runActionsList(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	actions, err := registry.NewFileRegistry(cfg.RegistryPath).List(context.Background())
	if err != nil {
		return err
	}
	idx, err := openIndex(cfg, false)
	if err != nil {
		return err
	}
	defer idx.Close()
	live := idx.LiveNames()

	fmt.Printf("\nActions (%d):\n", len(actions))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, a := range actions {
		status := "not indexed"
		if _, ok := live[a.Name]; ok {
			status = "indexed"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", a.Name, status, a.Description)
	}
	return w.Flush()
}

func runActionsShow(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	name := args[0]

	actions, err := registry.NewFileRegistry(cfg.RegistryPath).List(context.Background())
	if err != nil {
		return err
	}
	var desc *registry.ActionDescriptor
	for i := range actions {
		if actions[i].Name == name {
			desc = &actions[i]
			break
		}
	}
	if desc == nil {
		return fmt.Errorf("action %q is not in the catalog %s", name, cfg.RegistryPath)
	}

	fmt.Printf("\nName:        %s\n", desc.Name)
	fmt.Printf("Description: %s\n", desc.Description)
	if len(desc.Parameters) > 0 {
		fmt.Println("Parameters:")
		for _, p := range desc.Parameters {
			req := ""
			if p.Required {
				req = " (required)"
			}
			fmt.Printf("  - %s %s%s\n", p.Name, p.Type, req)
		}
	}

	idx, err := openIndex(cfg, false)
	if err != nil {
		return err
	}
	defer idx.Close()
	e, err := idx.Get(name)
	switch {
	case errors.Is(err, index.ErrNotFound):
		fmt.Println("Index:       not indexed")
	case err != nil:
		return err
	default:
		state := "live"
		if !e.Live {
			state = "tombstoned"
		}
		fmt.Printf("Index:       %s (slot %d)\n", state, e.Slot)
	}
	return nil
}

func runActionsRemove(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	idx, err := openIndex(cfg, false)
	if err != nil {
		return err
	}
	defer idx.Close()

	removed, err := idx.Remove(context.Background(), args[0])
	if err != nil {
		return err
	}
	if !removed {
		printSkip(args[0], "not indexed or already tombstoned")
		return nil
	}
	printOK(args[0], "tombstoned; run 'dispatch index rebuild' to reclaim space")
	return nil
}
