package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// backupFile is the durable embedding backup inside the data directory,
// keyed by action name. It lets a rebuild re-insert known actions without
// re-contacting the embedding backend.
const backupFile = "embeddings.json"

// BackupRecord is one persisted embedding.
type BackupRecord struct {
	Vector      []float32 `json:"vector"`
	Description string    `json:"description"`
}

// loadBackup reads the embedding backup store. A missing file is an empty
// store, not an error.
func loadBackup(dataDir string) (map[string]BackupRecord, error) {
	path := filepath.Join(dataDir, backupFile)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]BackupRecord{}, nil
		}
		return nil, fmt.Errorf("cannot read embedding backup %s: %w", path, err)
	}
	var out map[string]BackupRecord
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("invalid JSON in embedding backup %s: %w", path, err)
	}
	if out == nil {
		out = map[string]BackupRecord{}
	}
	return out, nil
}

// saveBackup atomically replaces the embedding backup store.
func saveBackup(dataDir string, records map[string]BackupRecord) error {
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal embedding backup: %w", err)
	}
	return writeFileAtomic(filepath.Join(dataDir, backupFile), b, 0o644)
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place, so a crash mid-write never exposes a torn file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("cannot create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cannot write %s: %w", tmpPath, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cannot chmod %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("cannot replace %s: %w", path, err)
	}
	return nil
}
