package index

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// atomicWriteFile writes data to a temp file in the same directory and
// renames it over path, so readers only ever observe the old or the new
// content in full.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("cannot create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		// Best-effort cleanup when the rename never happened.
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cannot write %s: %w", tmpPath, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cannot chmod %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cannot sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("cannot replace %s: %w", path, err)
	}
	return nil
}

// vectorGen disambiguates vector generations written within the same
// nanosecond tick.
var vectorGen atomic.Uint64

// writeVectors writes a fresh generation of the flat vector store and
// returns its file name. The previous generation stays untouched until the
// metadata commit stops referencing it.
func writeVectors(dir string, vectors []float32) (string, error) {
	name := fmt.Sprintf("vectors-%d-%d.f32", time.Now().UnixNano(), vectorGen.Add(1))
	buf := make([]byte, 0, len(vectors)*4)
	for _, v := range vectors {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	if err := atomicWriteFile(filepath.Join(dir, name), buf, 0o644); err != nil {
		return "", err
	}
	return name, nil
}

// writeMetadata atomically replaces the metadata file. This is the commit
// point of every mutation.
func writeMetadata(dir string, m *Metadata) error {
	m.Version = metadataVersion
	m.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal metadata: %w", err)
	}
	return atomicWriteFile(filepath.Join(dir, metadataFile), b, 0o644)
}

// pruneStaleVectorFiles removes vector generations no longer referenced by
// the committed metadata. Failures are ignored; stale generations are inert.
func pruneStaleVectorFiles(dir, keep string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if name == keep || e.IsDir() {
			continue
		}
		if strings.HasPrefix(name, "vectors-") && strings.HasSuffix(name, ".f32") {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
}
