package elevationlayer

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeRaw atomically installs data at path (temp file + rename), the same
// pattern internal/diskcache.Cache.WriteImage uses, kept local here since
// Terrarium-encoded elevation bytes bypass the image.Image codec path.
func writeRaw(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("elevationlayer: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("elevationlayer: create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("elevationlayer: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("elevationlayer: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("elevationlayer: rename: %w", err)
	}
	return nil
}

// readRaw reads path's bytes, reporting (nil, nil) if the file is simply
// absent so callers treat that as a cache miss rather than an error.
func readRaw(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}
