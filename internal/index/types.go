package index

// metadataVersion is bumped when the on-disk metadata layout changes.
const metadataVersion = 1

// Default file names inside the index data directory.
const (
	metadataFile = "metadata.json"
	lockFile     = "index.lock"
)

// Entry is one indexed action: the bidirectional slot mapping plus its
// description and live/tombstoned state. Tombstoned entries keep their
// physical vector; only a rebuild renumbers slots.
type Entry struct {
	Slot        int    `json:"slot"`
	Description string `json:"description"`
	Live        bool   `json:"live"`
}

// Metadata is the full set of index entries, persisted as one consistent
// unit. VectorFile names the generation of the flat vector store this
// metadata commits to; replacing the metadata file is the commit point for
// every mutation.
type Metadata struct {
	Version    int               `json:"metadata_version"`
	ModelID    string            `json:"model_id,omitempty"`
	Dim        int               `json:"dim"`
	UpdatedAt  string            `json:"updated_at"`
	VectorFile string            `json:"vector_file"`
	Actions    map[string]Entry  `json:"actions"`
	SlotToName map[string]string `json:"slot_to_name"`
}

func newMetadata() Metadata {
	return Metadata{
		Version:    metadataVersion,
		Actions:    map[string]Entry{},
		SlotToName: map[string]string{},
	}
}

// slots returns the physical vector count the metadata commits to:
// one vector per slot ever assigned, live or tombstoned.
func (m *Metadata) slots() int {
	max := -1
	for _, e := range m.Actions {
		if e.Slot > max {
			max = e.Slot
		}
	}
	return max + 1
}

func (m *Metadata) liveCount() int {
	n := 0
	for _, e := range m.Actions {
		if e.Live {
			n++
		}
	}
	return n
}

// Candidate is one ranked search result.
type Candidate struct {
	Name        string
	Score       float64
	Slot        int
	Description string
}

// Report is the structured result of Verify.
type Report struct {
	Healthy         bool
	LiveEntries     int
	Tombstoned      int
	PhysicalVectors int
	Dim             int
	Issues          []string
}

// snapshot is the immutable in-memory view served to lock-free readers.
type snapshot struct {
	meta    Metadata
	vectors []float32
	// live holds the live entries ordered by ascending slot, so equal-score
	// search ties resolve to the earliest-inserted action.
	live []liveEntry
}

type liveEntry struct {
	name        string
	slot        int
	description string
}
