package index

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// loadMetadata reads and validates the metadata file in dir. A missing file
// yields (nil, nil): the store has never been committed.
func loadMetadata(dir string) (*Metadata, error) {
	path := filepath.Join(dir, metadataFile)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot read metadata %s: %w", path, err)
	}
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: invalid metadata JSON %s: %v", ErrCorrupt, path, err)
	}
	if m.Actions == nil {
		m.Actions = map[string]Entry{}
	}
	if m.SlotToName == nil {
		m.SlotToName = map[string]string{}
	}
	if len(m.Actions) > 0 && m.Dim <= 0 {
		return nil, fmt.Errorf("%w: metadata %s has entries but dim %d", ErrCorrupt, path, m.Dim)
	}
	if m.VectorFile == "" && len(m.Actions) > 0 {
		return nil, fmt.Errorf("%w: metadata %s names no vector file", ErrCorrupt, path)
	}
	return &m, nil
}

// loadVectors reads the flat float32 vector file the metadata commits to and
// checks its size against the slot count the metadata requires.
func loadVectors(dir string, m *Metadata) ([]float32, error) {
	slots := m.slots()
	if slots == 0 {
		return nil, nil
	}
	path := filepath.Join(dir, m.VectorFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open vector file %s: %v", ErrCorrupt, path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot stat vector file %s: %w", path, err)
	}
	if st.Size()%4 != 0 {
		return nil, fmt.Errorf("%w: vector file size is not multiple of 4 bytes: %d", ErrCorrupt, st.Size())
	}
	expected := int64(slots * m.Dim * 4)
	if st.Size() != expected {
		return nil, fmt.Errorf("%w: vector file size mismatch: got %d want %d (slots=%d dim=%d)",
			ErrCorrupt, st.Size(), expected, slots, m.Dim)
	}

	out := make([]float32, slots*m.Dim)
	if err := binary.Read(io.LimitReader(f, expected), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("cannot read vectors from %s: %w", path, err)
	}
	return out, nil
}

// consistency validates the bidirectional slot mapping against the physical
// vector count. Returned issues are diagnostic strings; an empty slice
// means the store is healthy.
func consistency(m *Metadata, vectors []float32) []string {
	var issues []string

	phys := 0
	if m.Dim > 0 {
		phys = len(vectors) / m.Dim
	}
	if slots := m.slots(); phys != slots {
		issues = append(issues, fmt.Sprintf("physical vector count %d does not match %d committed slots", phys, slots))
	}

	slotOwner := make(map[int]string, len(m.Actions))
	for name, e := range m.Actions {
		if e.Slot < 0 || e.Slot >= phys {
			issues = append(issues, fmt.Sprintf("entry %q has slot %d outside physical range [0,%d)", name, e.Slot, phys))
			continue
		}
		if other, ok := slotOwner[e.Slot]; ok {
			issues = append(issues, fmt.Sprintf("entries %q and %q share slot %d", other, name, e.Slot))
		}
		slotOwner[e.Slot] = name
		if e.Live {
			if got := m.SlotToName[strconv.Itoa(e.Slot)]; got != name {
				issues = append(issues, fmt.Sprintf("reverse mapping for slot %d is %q, want %q", e.Slot, got, name))
			}
		}
	}

	for key, name := range m.SlotToName {
		slot, err := strconv.Atoi(key)
		if err != nil || slot < 0 || slot >= phys {
			issues = append(issues, fmt.Sprintf("reverse mapping has invalid slot key %q", key))
			continue
		}
		if _, ok := m.Actions[name]; !ok {
			issues = append(issues, fmt.Sprintf("reverse mapping slot %d names unknown entry %q", slot, name))
		}
	}

	return issues
}
