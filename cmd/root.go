package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dispatchd/dispatch/internal/catalog"
	"github.com/dispatchd/dispatch/internal/config"
	"github.com/dispatchd/dispatch/internal/embeddings"
	"github.com/dispatchd/dispatch/internal/index"
	"github.com/dispatchd/dispatch/internal/registry"
	"github.com/dispatchd/dispatch/internal/router"
)

var rootCmd = &cobra.Command{
	Use:          "dispatch",
	Short:        "dispatch — layered intent routing over an action catalog",
	SilenceUsage: true, // don't print usage on operational errors
	Long: `dispatch maps free-text queries to registered actions through a layered
cascade (keyword triggers, regex templates, semantic match, vector
retrieval), backed by a persistent vector index at ~/.dispatch/data/.`,
}

// Execute is called by main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads ~/.dispatch/dispatch.yaml with an init hint on failure.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w\nRun 'dispatch init' first.", err)
	}
	return cfg, nil
}

// openIndex opens the vector index configured in cfg.
func openIndex(cfg *config.Config, recoverEmpty bool) (*index.Index, error) {
	prov, _ := newProvider()
	modelID := ""
	if prov != nil {
		modelID = prov.ModelID()
	}
	return index.Open(cfg.DataDir, index.Options{
		ModelID:      modelID,
		LockTimeout:  cfg.Index.LockTimeout,
		RecoverEmpty: recoverEmpty,
	})
}

// newProvider builds the embeddings provider from env/.env. An unconfigured
// provider is an error here; callers decide whether that is fatal.
func newProvider() (embeddings.Provider, error) {
	embCfg, err := embeddings.LoadConfig()
	if err != nil {
		return nil, err
	}
	return embeddings.NewFromConfig(embCfg)
}

// newSyncer wires registry, provider and index for sync/rebuild commands.
func newSyncer(cfg *config.Config) (*catalog.Syncer, *index.Index, error) {
	prov, err := newProvider()
	if err != nil {
		return nil, nil, fmt.Errorf("embeddings are required for sync: %w", err)
	}
	idx, err := index.Open(cfg.DataDir, index.Options{
		ModelID:      prov.ModelID(),
		LockTimeout:  cfg.Index.LockTimeout,
		RecoverEmpty: true,
	})
	if err != nil {
		return nil, nil, err
	}
	return &catalog.Syncer{
		Registry:     registry.NewFileRegistry(cfg.RegistryPath),
		Provider:     prov,
		Index:        idx,
		DataDir:      cfg.DataDir,
		EmbedTimeout: cfg.Router.EmbedTimeout,
	}, idx, nil
}

// newRouter assembles the full cascade. When noEmbed is set, or no
// embeddings backend is configured, the router runs with layers 1-2 only.
func newRouter(cfg *config.Config, noEmbed bool, debug bool) (*router.Router, error) {
	intents, err := router.LoadIntents(cfg.IntentsPath)
	if err != nil {
		return nil, err
	}
	autoRules, err := catalog.LoadAutoRules(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	var cache *router.Cache
	var idx router.Searcher
	if !noEmbed {
		prov, err := newProvider()
		if err == nil {
			cache = router.NewCache(prov, cfg.Router.CacheSize)
			x, err := openIndex(cfg, false)
			if err != nil {
				return nil, err
			}
			idx = x
		} else if debug {
			printInfo("", fmt.Sprintf("embedding layers disabled: %v", err))
		}
	}

	return router.New(intents, autoRules, cache, idx, router.Options{
		SemanticThreshold: cfg.Router.SemanticThreshold,
		TopK:              cfg.Router.TopK,
	})
}
