package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dispatchd/dispatch/internal/config"
)

// starterActions is written on first init so 'dispatch sync' has a catalog
// to work from out of the box.
const starterActions = `# Action catalog consumed by 'dispatch sync'.
# Each action is a named operation offered for routing; execution is wired
# elsewhere.
actions:
  - name: local_k8s_list_pods
    description: List pods in the local cluster
    parameters:
      - name: namespace
        type: string
  - name: local_k8s_describe_pod
    description: Describe a pod in the local cluster
    parameters:
      - name: pod_name
        type: string
        required: true
      - name: namespace
        type: string
`

// starterIntents seeds the manual layers of the cascade.
const starterIntents = `# Manual routing intents, checked before any embedding-based layer.
triggers:
  - query: list pods
    action: local_k8s_list_pods
    args:
      namespace: default
templates:
  - name: describe-pod
    pattern: 'describe (?:the )?pod (?P<pod>[\w-]+)'
    action: local_k8s_describe_pod
    args:
      pod_name: '{pod}'
      namespace: default
semantic:
  - text: show me everything running in the cluster
    action: local_k8s_list_pods
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap ~/.dispatch with config, catalog and intents files",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, _ []string) error {
	dir, err := config.DispatchDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	printOK("", fmt.Sprintf("dispatch directory ready: %s", dir))

	cfgPath, err := config.ConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg, err := config.DefaultConfig()
		if err != nil {
			return err
		}
		if err := config.Save(cfg); err != nil {
			return err
		}
		printOK("", fmt.Sprintf("config written: %s", cfgPath))
	} else {
		printSkip("", fmt.Sprintf("config exists: %s", cfgPath))
	}

	if err := config.EnsureDotEnvTemplate(); err != nil {
		return err
	}
	printOK("", "embeddings template ready: ~/.dispatch/.env")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("cannot create data dir %s: %w", cfg.DataDir, err)
	}

	if err := writeIfMissing(cfg.RegistryPath, starterActions); err != nil {
		return err
	}
	if err := writeIfMissing(cfg.IntentsPath, starterIntents); err != nil {
		return err
	}

	printInfo("", "next: fill in ~/.dispatch/.env and run 'dispatch sync'")
	return nil
}

func writeIfMissing(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		printSkip("", fmt.Sprintf("exists: %s", path))
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("cannot stat %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	printOK("", fmt.Sprintf("written: %s", path))
	return nil
}
