// Package catalog keeps the vector index in step with the action registry:
// it diffs registry names against live index entries, embeds what is missing
// (reusing the durable embedding backup where possible), and maintains the
// auto-inferred template rules consumed by the router.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/dispatchd/dispatch/internal/embeddings"
	"github.com/dispatchd/dispatch/internal/index"
	"github.com/dispatchd/dispatch/internal/registry"
	"github.com/dispatchd/dispatch/internal/router"
)

const (
	autoRulesFile = "auto_rules.yaml"
	// embedConcurrency bounds parallel embedding calls during a sync.
	embedConcurrency = 4
)

// Stats summarizes one sync run.
type Stats struct {
	Total         int // actions in the registry
	AlreadyLive   int // present in the index before the run
	Indexed       int // newly inserted this run
	NewEmbeddings int // vectors fetched from the backend
	ReusedBackup  int // vectors restored from the backup store
	AutoRules     int // inferred template rules currently derivable
	Failed        int // actions that could not be indexed
}

// PartialError reports per-action failures from a sync that still made
// progress on the rest.
type PartialError struct {
	Failures map[string]error
}

func (e *PartialError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for n := range e.Failures {
		names = append(names, n)
	}
	sort.Strings(names)
	return fmt.Sprintf("%d action(s) failed to sync: %s", len(names), strings.Join(names, ", "))
}

// Syncer wires the registry, embedding provider, and index together.
type Syncer struct {
	Registry registry.Registry
	Provider embeddings.Provider
	Index    *index.Index
	// DataDir holds the embedding backup and auto-rules files. Usually the
	// same directory the index lives in.
	DataDir string
	// EmbedTimeout bounds each individual embedding call. Zero disables the
	// per-call bound.
	EmbedTimeout time.Duration
	Logger       *slog.Logger
}

func (s *Syncer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Syncer) embed(ctx context.Context, text string) ([]float32, error) {
	if s.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.EmbedTimeout)
		defer cancel()
	}
	return s.Provider.Embed(ctx, text)
}

// Sync brings the index up to date with the registry. Actions already live
// in the index are left alone; missing ones are embedded (backup store
// first, backend second) and inserted. A run over an unchanged registry
// performs no writes and no embedding calls.
//
// Individual action failures do not abort the run: the rest is synced and
// the failures come back wrapped in a *PartialError.
func (s *Syncer) Sync(ctx context.Context) (Stats, error) {
	actions, err := s.Registry.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("cannot list registry: %w", err)
	}

	stats := Stats{Total: len(actions)}
	live := s.Index.LiveNames()

	var missing []registry.ActionDescriptor
	for _, a := range actions {
		if _, ok := live[a.Name]; ok {
			stats.AlreadyLive++
			continue
		}
		missing = append(missing, a)
	}

	failures := map[string]error{}
	if len(missing) > 0 {
		backup, err := loadBackup(s.DataDir)
		if err != nil {
			return stats, err
		}
		backupDirty := false

		// Resolve backup hits before any goroutine starts; the map must not
		// be read while the fan-out below writes new records into it.
		vectors := make([][]float32, len(missing))
		var toEmbed []int
		for i, a := range missing {
			if rec, ok := backup[a.Name]; ok && len(rec.Vector) > 0 {
				vectors[i] = rec.Vector
				stats.ReusedBackup++
				continue
			}
			toEmbed = append(toEmbed, i)
		}

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(embedConcurrency)
		for _, i := range toEmbed {
			i := i
			a := missing[i]
			g.Go(func() error {
				vec, err := s.embed(gctx, a.EmbedText())
				if err != nil {
					mu.Lock()
					failures[a.Name] = err
					mu.Unlock()
					return nil
				}
				vec = index.NormalizeL2(vec)
				vectors[i] = vec
				mu.Lock()
				stats.NewEmbeddings++
				backup[a.Name] = BackupRecord{Vector: vec, Description: a.Description}
				backupDirty = true
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}

		// Inserts run sequentially so slot assignment follows the sorted
		// registry order.
		for i, a := range missing {
			if vectors[i] == nil {
				continue
			}
			if err := s.Index.Add(ctx, a.Name, vectors[i], a.Description); err != nil {
				failures[a.Name] = err
				continue
			}
			stats.Indexed++
		}

		if backupDirty {
			if err := saveBackup(s.DataDir, backup); err != nil {
				return stats, err
			}
		}
	}

	rules := InferRules(actions)
	stats.AutoRules = len(rules)
	if err := writeAutoRulesIfChanged(s.DataDir, rules); err != nil {
		return stats, err
	}

	if len(failures) > 0 {
		stats.Failed = len(failures)
		for name, ferr := range failures {
			s.logger().Warn("action not synced", "name", name, "error", ferr)
		}
		return stats, &PartialError{Failures: failures}
	}
	return stats, nil
}

// Rebuild discards the index and re-inserts every registry action from
// scratch. Vectors come from the backup store when present, so a rebuild of
// known actions needs no backend at all.
func (s *Syncer) Rebuild(ctx context.Context) (int, error) {
	actions, err := s.Registry.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("cannot list registry: %w", err)
	}
	backup, err := loadBackup(s.DataDir)
	if err != nil {
		return 0, err
	}
	backupDirty := false

	sources := make([]index.RebuildSource, len(actions))
	texts := make(map[string]string, len(actions))
	for i, a := range actions {
		sources[i] = index.RebuildSource{Name: a.Name, Description: a.Description}
		texts[a.Name] = a.EmbedText()
	}

	n, err := s.Index.Rebuild(ctx, sources, func(ctx context.Context, a index.RebuildSource) ([]float32, error) {
		if rec, ok := backup[a.Name]; ok && len(rec.Vector) > 0 {
			return rec.Vector, nil
		}
		vec, err := s.embed(ctx, texts[a.Name])
		if err != nil {
			return nil, err
		}
		vec = index.NormalizeL2(vec)
		backup[a.Name] = BackupRecord{Vector: vec, Description: a.Description}
		backupDirty = true
		return vec, nil
	})
	if err != nil {
		return 0, err
	}

	if backupDirty {
		if err := saveBackup(s.DataDir, backup); err != nil {
			return n, err
		}
	}
	return n, nil
}

// InferRules derives template rules for every action whose name follows a
// known convention, in registry order.
func InferRules(actions []registry.ActionDescriptor) []router.Rule {
	var out []router.Rule
	for _, a := range actions {
		if r := InferRule(a.Name); r != nil {
			out = append(out, *r)
		}
	}
	return out
}

type autoRulesDoc struct {
	Rules []router.Rule `yaml:"rules"`
}

// LoadAutoRules reads the persisted inferred rules. A missing file means no
// sync has run yet and is not an error.
func LoadAutoRules(dataDir string) ([]router.Rule, error) {
	path := filepath.Join(dataDir, autoRulesFile)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot read auto rules %s: %w", path, err)
	}
	var doc autoRulesDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML in auto rules %s: %w", path, err)
	}
	return doc.Rules, nil
}

// writeAutoRulesIfChanged persists the inferred rules, skipping the write
// when the serialized content matches what is already on disk.
func writeAutoRulesIfChanged(dataDir string, rules []router.Rule) error {
	b, err := yaml.Marshal(autoRulesDoc{Rules: rules})
	if err != nil {
		return fmt.Errorf("cannot marshal auto rules: %w", err)
	}
	path := filepath.Join(dataDir, autoRulesFile)
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, b) {
		return nil
	}
	return writeFileAtomic(path, b, 0o644)
}
