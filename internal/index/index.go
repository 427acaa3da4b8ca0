// Package index implements the persistent vector index for action
// retrieval: a flat store of L2-normalized float32 vectors with
// bidirectional name/slot metadata.
//
// Mutations (Add, Remove, Rebuild, Clear) serialize on a process-external
// file lock with a bounded wait and commit through an atomic metadata
// replace, so a crash mid-write never leaves a readable-but-inconsistent
// store. Reads (Search, Verify, List) are served from the last published
// in-memory snapshot and take no lock; a query during a concurrent rebuild
// may observe the pre-rebuild state, which is accepted staleness.
//
// The flat store supports no in-place deletion: Remove only tombstones the
// metadata entry and the physical vector stays until a Rebuild renumbers
// slots from zero.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gofrs/flock"
)

const (
	defaultLockTimeout = 5 * time.Second
	lockRetryDelay     = 50 * time.Millisecond
	// maxDescription bounds the description stored per entry.
	maxDescription = 200
)

// Options configures Open.
type Options struct {
	// ModelID records which embedding model produced the stored vectors.
	ModelID string
	// LockTimeout bounds the wait for the exclusive mutation lock.
	// Zero means the 5s default.
	LockTimeout time.Duration
	// RecoverEmpty makes Open start from an empty store when the on-disk
	// state fails to load, instead of failing. Meant for callers that will
	// follow up with a registry-driven rebuild.
	RecoverEmpty bool
	// Logger receives structured diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Index is a handle on one index data directory.
type Index struct {
	dir         string
	modelID     string
	lockTimeout time.Duration
	logger      *slog.Logger

	flk *flock.Flock

	// mu serializes in-process mutators; the flock serializes across
	// processes. mu is always taken first: the flock handle is shared, and
	// a second in-process mutator reaching it while locked would see the
	// lock as its own and release it out from under the first.
	mu      sync.Mutex
	meta    Metadata
	vectors []float32
	// recovered is set when Open fell back to an empty store over a
	// corrupt one; reload then keeps serving the in-memory state until the
	// next successful commit replaces the bad files.
	recovered bool

	snap atomic.Pointer[snapshot]
}

// Open loads the index in dir, creating the directory and an empty store on
// first use. A load failure is fatal unless Options.RecoverEmpty is set.
func Open(dir string, opts Options) (*Index, error) {
	if dir == "" {
		return nil, fmt.Errorf("index dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create index dir %s: %w", dir, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lockTimeout := opts.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}

	x := &Index{
		dir:         dir,
		modelID:     opts.ModelID,
		lockTimeout: lockTimeout,
		logger:      logger,
		flk:         flock.New(flockPath(dir)),
	}

	meta, vectors, err := x.loadDisk()
	if err != nil {
		if !opts.RecoverEmpty {
			return nil, err
		}
		logger.Warn("index load failed, starting empty for rebuild", "dir", dir, "error", err)
		m := newMetadata()
		meta, vectors = &m, nil
		x.recovered = true
	}
	x.meta = *meta
	x.vectors = vectors
	x.publish()
	return x, nil
}

func flockPath(dir string) string {
	return filepath.Join(dir, lockFile)
}

// Close releases in-memory state. The lock is acquired per mutation, so
// there is nothing to unlock here; Close exists to make lifecycle explicit.
func (x *Index) Close() error {
	x.snap.Store(nil)
	return nil
}

// Dir returns the index data directory.
func (x *Index) Dir() string { return x.dir }

func (x *Index) loadDisk() (*Metadata, []float32, error) {
	meta, err := loadMetadata(x.dir)
	if err != nil {
		return nil, nil, err
	}
	if meta == nil {
		m := newMetadata()
		return &m, nil, nil
	}
	vectors, err := loadVectors(x.dir, meta)
	if err != nil {
		return nil, nil, err
	}
	if issues := consistency(meta, vectors); len(issues) > 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrCorrupt, issues[0])
	}
	return meta, vectors, nil
}

// acquireLock takes the process-external mutation lock with a bounded wait.
func (x *Index) acquireLock(ctx context.Context) (release func(), err error) {
	ctx, cancel := context.WithTimeout(ctx, x.lockTimeout)
	ok, err := x.flk.TryLockContext(ctx, lockRetryDelay)
	if ok {
		return func() {
			_ = x.flk.Unlock()
			cancel()
		}, nil
	}
	cancel()
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s (%s)", ErrLockTimeout, x.lockTimeout, flockPath(x.dir))
	}
	return nil, fmt.Errorf("cannot acquire index lock: %w", err)
}

// publish installs the current state as the snapshot served to readers.
// Callers must hold mu (or be in Open before the handle escapes).
func (x *Index) publish() {
	s := &snapshot{
		meta:    cloneMetadata(x.meta),
		vectors: append([]float32(nil), x.vectors...),
	}
	for name, e := range s.meta.Actions {
		if e.Live {
			s.live = append(s.live, liveEntry{name: name, slot: e.Slot, description: e.Description})
		}
	}
	sortLiveBySlot(s.live)
	x.snap.Store(s)
}

func cloneMetadata(m Metadata) Metadata {
	out := m
	out.Actions = make(map[string]Entry, len(m.Actions))
	for k, v := range m.Actions {
		out.Actions[k] = v
	}
	out.SlotToName = make(map[string]string, len(m.SlotToName))
	for k, v := range m.SlotToName {
		out.SlotToName[k] = v
	}
	return out
}

func sortLiveBySlot(entries []liveEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].slot < entries[j].slot })
}

// persist commits the current state: a fresh vector generation first when
// vectors changed, then the metadata replace as the commit point. Old
// vector generations are pruned only after the commit.
func (x *Index) persist(vectorsChanged bool) error {
	if vectorsChanged {
		name, err := writeVectors(x.dir, x.vectors)
		if err != nil {
			return err
		}
		x.meta.VectorFile = name
	}
	if x.modelID != "" {
		x.meta.ModelID = x.modelID
	}
	if err := writeMetadata(x.dir, &x.meta); err != nil {
		return err
	}
	x.recovered = false
	pruneStaleVectorFiles(x.dir, x.meta.VectorFile)
	return nil
}

// reload refreshes in-memory state from disk. Held under the flock so a
// mutation starts from whatever another process last committed.
func (x *Index) reload() error {
	meta, vectors, err := x.loadDisk()
	if err != nil {
		if x.recovered {
			return nil
		}
		return err
	}
	x.meta = *meta
	x.vectors = vectors
	return nil
}

// Add indexes a new action. The vector is L2-normalized before storage.
// Adding a name that is already live fails with ErrDuplicateEntry; adding a
// tombstoned name assigns a fresh slot.
func (x *Index) Add(ctx context.Context, name string, vector []float32, description string) error {
	if name == "" {
		return fmt.Errorf("action name is required")
	}
	if len(vector) == 0 {
		return fmt.Errorf("vector is required")
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	release, err := x.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := x.reload(); err != nil {
		return err
	}

	if e, ok := x.meta.Actions[name]; ok && e.Live {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}
	if x.meta.Dim == 0 {
		x.meta.Dim = len(vector)
	} else if len(vector) != x.meta.Dim {
		return fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(vector), x.meta.Dim)
	}

	slot := x.meta.slots()
	if old, ok := x.meta.Actions[name]; ok {
		// Re-adding a tombstoned name: retire its stale reverse mapping.
		if x.meta.SlotToName[strconv.Itoa(old.Slot)] == name {
			delete(x.meta.SlotToName, strconv.Itoa(old.Slot))
		}
	}

	x.vectors = append(x.vectors, NormalizeL2(vector)...)
	x.meta.Actions[name] = Entry{Slot: slot, Description: truncate(description, maxDescription), Live: true}
	x.meta.SlotToName[strconv.Itoa(slot)] = name

	if err := x.persist(true); err != nil {
		return err
	}
	x.publish()
	x.logger.Debug("indexed action", "name", name, "slot", slot)
	return nil
}

// Remove tombstones an entry. It returns false without touching the store
// when the name is unknown or already tombstoned, so repeated removes are
// harmless. The physical vector stays until the next rebuild.
func (x *Index) Remove(ctx context.Context, name string) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	release, err := x.acquireLock(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	if err := x.reload(); err != nil {
		return false, err
	}

	e, ok := x.meta.Actions[name]
	if !ok || !e.Live {
		return false, nil
	}
	e.Live = false
	x.meta.Actions[name] = e

	if err := x.persist(false); err != nil {
		return false, err
	}
	x.publish()
	x.logger.Debug("tombstoned action", "name", name, "slot", e.Slot)
	return true, nil
}

// Search returns up to k live candidates ordered by descending inner
// product (cosine similarity, as stored vectors are normalized). Ties break
// toward the earliest-inserted slot. It reads the last published snapshot
// and never blocks on mutations.
func (x *Index) Search(vector []float32, k int) ([]Candidate, error) {
	s := x.snap.Load()
	if s == nil || len(s.live) == 0 || k <= 0 {
		return nil, nil
	}
	if len(vector) != s.meta.Dim {
		return nil, fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(vector), s.meta.Dim)
	}
	q := NormalizeL2(vector)

	out := make([]Candidate, 0, len(s.live))
	for _, e := range s.live {
		start := e.slot * s.meta.Dim
		score, err := Dot(q, s.vectors[start:start+s.meta.Dim])
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{Name: e.name, Score: score, Slot: e.slot, Description: e.description})
	}

	// The live slice is slot-ordered, so a stable sort by descending score
	// keeps insertion order for equal scores.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Verify reports the health of the last published snapshot: live and
// tombstoned counts, the physical vector count, and any structural issues
// found in the bidirectional mapping.
func (x *Index) Verify() Report {
	s := x.snap.Load()
	if s == nil {
		return Report{Healthy: false, Issues: []string{"index is closed"}}
	}
	issues := consistency(&s.meta, s.vectors)
	phys := 0
	if s.meta.Dim > 0 {
		phys = len(s.vectors) / s.meta.Dim
	}
	live := s.meta.liveCount()
	return Report{
		Healthy:         len(issues) == 0,
		LiveEntries:     live,
		Tombstoned:      len(s.meta.Actions) - live,
		PhysicalVectors: phys,
		Dim:             s.meta.Dim,
		Issues:          issues,
	}
}

// RebuildSource is one action to re-insert during Rebuild.
type RebuildSource struct {
	Name        string
	Description string
}

// Rebuild re-embeds and re-inserts every given action from scratch,
// assigning slots 0..n-1 in input order. The new store is staged entirely
// in memory and committed atomically; any embed failure leaves the previous
// index untouched and still servable.
func (x *Index) Rebuild(ctx context.Context, actions []RebuildSource, embed func(ctx context.Context, a RebuildSource) ([]float32, error)) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	release, err := x.acquireLock(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	meta := newMetadata()
	var vectors []float32
	for i, a := range actions {
		if a.Name == "" {
			return 0, fmt.Errorf("rebuild action %d has no name", i)
		}
		if _, ok := meta.Actions[a.Name]; ok {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateEntry, a.Name)
		}
		vec, err := embed(ctx, a)
		if err != nil {
			return 0, fmt.Errorf("rebuild: embed %s: %w", a.Name, err)
		}
		if meta.Dim == 0 {
			meta.Dim = len(vec)
		} else if len(vec) != meta.Dim {
			return 0, fmt.Errorf("%w: %s: got %d want %d", ErrDimensionMismatch, a.Name, len(vec), meta.Dim)
		}
		vectors = append(vectors, NormalizeL2(vec)...)
		meta.Actions[a.Name] = Entry{Slot: i, Description: truncate(a.Description, maxDescription), Live: true}
		meta.SlotToName[strconv.Itoa(i)] = a.Name
	}

	x.meta = meta
	x.vectors = vectors
	if err := x.persist(true); err != nil {
		return 0, err
	}
	x.publish()
	x.logger.Info("index rebuilt", "actions", len(actions))
	return len(actions), nil
}

// Clear empties metadata and vector store. Confirmation is the caller's
// responsibility; Clear itself does not ask.
func (x *Index) Clear(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	release, err := x.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer release()

	x.meta = newMetadata()
	x.vectors = nil
	if err := x.persist(true); err != nil {
		return err
	}
	x.publish()
	x.logger.Info("index cleared")
	return nil
}

// ListedEntry is one row of List.
type ListedEntry struct {
	Name        string
	Slot        int
	Description string
	Live        bool
}

// List returns all entries, live and tombstoned, ordered by slot.
func (x *Index) List() []ListedEntry {
	s := x.snap.Load()
	if s == nil {
		return nil
	}
	out := make([]ListedEntry, 0, len(s.meta.Actions))
	for name, e := range s.meta.Actions {
		out = append(out, ListedEntry{Name: name, Slot: e.Slot, Description: e.Description, Live: e.Live})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Get returns the entry for name, tombstoned or not, or ErrNotFound when
// the index has never seen the name.
func (x *Index) Get(name string) (ListedEntry, error) {
	s := x.snap.Load()
	if s == nil {
		return ListedEntry{}, fmt.Errorf("%w: %s (index is closed)", ErrNotFound, name)
	}
	e, ok := s.meta.Actions[name]
	if !ok {
		return ListedEntry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return ListedEntry{Name: name, Slot: e.Slot, Description: e.Description, Live: e.Live}, nil
}

// LiveNames returns the set of live action names.
func (x *Index) LiveNames() map[string]struct{} {
	s := x.snap.Load()
	if s == nil {
		return nil
	}
	out := make(map[string]struct{}, len(s.live))
	for _, e := range s.live {
		out[e.name] = struct{}{}
	}
	return out
}

// Count returns the number of live entries.
func (x *Index) Count() int {
	s := x.snap.Load()
	if s == nil {
		return 0
	}
	return len(s.live)
}

// Dim returns the stored vector dimension, or 0 before the first add.
func (x *Index) Dim() int {
	s := x.snap.Load()
	if s == nil {
		return 0
	}
	return s.meta.Dim
}

// truncate bounds s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
