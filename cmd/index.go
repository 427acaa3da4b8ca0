package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var flagIndexClearYes bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect and maintain the vector index",
}

var indexVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the index for structural inconsistencies",
	Args:  cobra.NoArgs,
	RunE:  runIndexVerify,
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the index from the action catalog",
	Args:  cobra.NoArgs,
	RunE:  runIndexRebuild,
}

var indexClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every index entry and vector",
	Args:  cobra.NoArgs,
	RunE:  runIndexClear,
}

func init() {
	indexClearCmd.Flags().BoolVar(&flagIndexClearYes, "yes", false, "Skip the confirmation prompt")
	indexCmd.AddCommand(indexVerifyCmd, indexRebuildCmd, indexClearCmd)
	rootCmd.AddCommand(indexCmd)
}

func runIndexVerify(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	idx, err := openIndex(cfg, false)
	if err != nil {
		return err
	}
	defer idx.Close()

	printSection("Index Verify")
	report := idx.Verify()
	printInfo("", fmt.Sprintf("live entries:     %d", report.LiveEntries))
	printInfo("", fmt.Sprintf("tombstoned:       %d", report.Tombstoned))
	printInfo("", fmt.Sprintf("physical vectors: %d (dim %d)", report.PhysicalVectors, report.Dim))

	if report.Healthy {
		printOK("", "index is healthy")
		return nil
	}
	for _, issue := range report.Issues {
		printErr("", issue)
	}
	return fmt.Errorf("index verification found %d issue(s); run 'dispatch index rebuild'", len(report.Issues))
}

func runIndexRebuild(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, idx, err := newSyncer(cfg)
	if err != nil {
		return err
	}
	defer idx.Close()

	printSection("Index Rebuild")
	n, err := s.Rebuild(context.Background())
	if err != nil {
		return err
	}
	printOK("", fmt.Sprintf("rebuilt with %d action(s)", n))
	return nil
}

func runIndexClear(_ *cobra.Command, _ []string) error {
	if !flagIndexClearYes {
		return fmt.Errorf("refusing to clear the index without --yes")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	idx, err := openIndex(cfg, true)
	if err != nil {
		return err
	}
	defer idx.Close()

	if err := idx.Clear(context.Background()); err != nil {
		return err
	}
	printOK("", "index cleared")
	return nil
}
