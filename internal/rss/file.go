package rss

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile validates doc and atomically replaces path with it.
func WriteFile(path string, doc []byte) error {
	if _, err := Validate(doc, -1); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".feed-*.xml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
