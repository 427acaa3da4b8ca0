package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dispatchd/dispatch/internal/embeddings"
	"github.com/dispatchd/dispatch/internal/embeddings/mock"
	"github.com/dispatchd/dispatch/internal/index"
	"github.com/dispatchd/dispatch/internal/registry"
)

func testActions() registry.Static {
	return registry.Static{
		{Name: "local_k8s_list_pods", Description: "list pods in the local cluster"},
		{Name: "remote_k8s_describe_pod", Description: "describe a pod in the remote cluster"},
	}
}

func openIndex(t *testing.T, dir string) *index.Index {
	t.Helper()
	idx, err := index.Open(dir, index.Options{ModelID: "mock"})
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestSync_IndexesMissingThenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	prov := mock.New(8)
	s := &Syncer{Registry: testActions(), Provider: prov, Index: openIndex(t, dir), DataDir: dir}
	ctx := context.Background()

	stats, err := s.Sync(ctx)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if stats.Total != 2 || stats.Indexed != 2 || stats.NewEmbeddings != 2 {
		t.Fatalf("unexpected first-run stats: %+v", stats)
	}
	if s.Index.Count() != 2 {
		t.Fatalf("index has %d live entries", s.Index.Count())
	}
	if _, err := os.Stat(filepath.Join(dir, backupFile)); err != nil {
		t.Fatalf("backup store not written: %v", err)
	}

	calls := prov.Calls()
	stats, err = s.Sync(ctx)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if stats.AlreadyLive != 2 || stats.Indexed != 0 || stats.NewEmbeddings != 0 {
		t.Fatalf("unexpected second-run stats: %+v", stats)
	}
	if prov.Calls() != calls {
		t.Fatal("idempotent sync contacted the embedding backend")
	}
}

func TestSync_ReusesBackupWithoutBackend(t *testing.T) {
	dir := t.TempDir()
	prov := mock.New(8)
	idx := openIndex(t, dir)
	s := &Syncer{Registry: testActions(), Provider: prov, Index: idx, DataDir: dir}
	ctx := context.Background()

	if _, err := s.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if err := idx.Clear(ctx); err != nil {
		t.Fatal(err)
	}

	// With the backend dead, the backup store must carry the re-sync alone.
	prov.Err = errors.New("backend down")
	stats, err := s.Sync(ctx)
	if err != nil {
		t.Fatalf("re-sync from backup: %v", err)
	}
	if stats.ReusedBackup != 2 || stats.NewEmbeddings != 0 || stats.Indexed != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

// failFor wraps a provider and fails embedding calls whose text contains a
// marker substring.
type failFor struct {
	embeddings.Provider
	marker string
}

func (f *failFor) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.marker != "" && strings.Contains(text, f.marker) {
		return nil, embeddings.ErrUnavailable
	}
	return f.Provider.Embed(ctx, text)
}

func TestSync_PartialFailureSyncsTheRest(t *testing.T) {
	dir := t.TempDir()
	prov := &failFor{Provider: mock.New(8), marker: "remote_k8s_describe_pod"}
	idx := openIndex(t, dir)
	s := &Syncer{Registry: testActions(), Provider: prov, Index: idx, DataDir: dir}
	ctx := context.Background()

	stats, err := s.Sync(ctx)
	var perr *PartialError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PartialError, got %v", err)
	}
	if _, ok := perr.Failures["remote_k8s_describe_pod"]; !ok {
		t.Fatalf("wrong failure set: %v", perr.Failures)
	}
	if stats.Indexed != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if idx.Count() != 1 {
		t.Fatalf("expected the healthy action indexed, count=%d", idx.Count())
	}

	// Backend recovers; the next sync picks up only what is missing.
	prov.marker = ""
	stats, err = s.Sync(ctx)
	if err != nil {
		t.Fatalf("recovery sync: %v", err)
	}
	if stats.Indexed != 1 || stats.AlreadyLive != 1 {
		t.Fatalf("unexpected recovery stats: %+v", stats)
	}
	if idx.Count() != 2 {
		t.Fatalf("count after recovery: %d", idx.Count())
	}
}

func TestSync_AutoRulesWrittenOnceWhileUnchanged(t *testing.T) {
	dir := t.TempDir()
	s := &Syncer{Registry: testActions(), Provider: mock.New(8), Index: openIndex(t, dir), DataDir: dir}
	ctx := context.Background()

	stats, err := s.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.AutoRules != 2 {
		t.Fatalf("expected 2 inferred rules, got %d", stats.AutoRules)
	}
	rules, err := LoadAutoRules(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 || rules[0].Name != "auto_local_k8s_list_pods" {
		t.Fatalf("unexpected rules: %+v", rules)
	}

	path := filepath.Join(dir, autoRulesFile)
	before, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := s.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	after, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Fatal("unchanged auto rules were rewritten")
	}
}

func TestRebuild_KnownActionsNeedNoBackend(t *testing.T) {
	dir := t.TempDir()
	prov := mock.New(8)
	idx := openIndex(t, dir)
	s := &Syncer{Registry: testActions(), Provider: prov, Index: idx, DataDir: dir}
	ctx := context.Background()

	if _, err := s.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	prov.Err = errors.New("backend down")
	n, err := s.Rebuild(ctx)
	if err != nil {
		t.Fatalf("rebuild from backup: %v", err)
	}
	if n != 2 || idx.Count() != 2 {
		t.Fatalf("rebuild result n=%d count=%d", n, idx.Count())
	}

	report := idx.Verify()
	if !report.Healthy || report.Tombstoned != 0 {
		t.Fatalf("unhealthy after rebuild: %+v", report)
	}
}

func TestSync_LargeBatchMixesBackupAndBackend(t *testing.T) {
	// Half the catalog resolves from the backup store and half goes through
	// the concurrent embedding fan-out; both halves must land in the index
	// with exact reuse accounting.
	dir := t.TempDir()
	prov := mock.New(8)

	var actions registry.Static
	seeded := map[string]BackupRecord{}
	for i := 0; i < 64; i++ {
		a := registry.ActionDescriptor{
			Name:        fmt.Sprintf("local_k8s_action_%02d", i),
			Description: "batch action",
		}
		actions = append(actions, a)
		if i < 32 {
			vec := make([]float32, 8)
			vec[i%8] = 1
			seeded[a.Name] = BackupRecord{Vector: vec, Description: a.Description}
		}
	}
	if err := saveBackup(dir, seeded); err != nil {
		t.Fatal(err)
	}

	idx := openIndex(t, dir)
	s := &Syncer{Registry: actions, Provider: prov, Index: idx, DataDir: dir}
	stats, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if stats.ReusedBackup != 32 || stats.NewEmbeddings != 32 || stats.Indexed != 64 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if prov.Calls() != 32 {
		t.Fatalf("expected 32 backend calls, got %d", prov.Calls())
	}
	if idx.Count() != 64 {
		t.Fatalf("index has %d live entries", idx.Count())
	}
}

func TestLoadAutoRules_MissingFileIsEmpty(t *testing.T) {
	rules, err := LoadAutoRules(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if rules != nil {
		t.Fatalf("expected nil rules, got %+v", rules)
	}
}
