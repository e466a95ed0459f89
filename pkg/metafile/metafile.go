// Package metafile reads and writes the backup index stored at the root of a
// backup destination. The index records the run and one entry per stored
// file, and is consumed by the list and verify commands.
package metafile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/paulschiretz/pgl-filebackup/pkg/compression"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
	"github.com/paulschiretz/pgl-filebackup/pkg/stats"
	"github.com/paulschiretz/pgl-filebackup/pkg/util"
)

// IndexFileName is the name of the backup index file.
const IndexFileName = ".pgl-filebackup.index.json"

// ConfigFileName is the name of the configuration file kept beside the index.
const ConfigFileName = "pgl-filebackup.config.json"

// Entry describes one stored file.
type Entry struct {
	Path       string           `json:"path"`   // stored path, relative, forward slashes
	Source     string           `json:"source"` // source path relative to the backup root
	Size       int64            `json:"size"`   // uncompressed size
	StoredSize int64            `json:"storedSize"`
	ModTime    time.Time        `json:"modTime"`
	Kind       compression.Kind `json:"compression"`
	Checksum   string           `json:"blake3,omitempty"` // digest of the uncompressed content
}

// Content holds the contents of the index file.
type Content struct {
	Version      string           `json:"version"`
	UUID         string           `json:"uuid"`
	TimestampUTC time.Time        `json:"timestampUTC"`
	Mode         string           `json:"mode"`
	Source       string           `json:"source"`
	Compression  compression.Kind `json:"compression"`
	Result       resultcode.Code  `json:"result"`
	Stats        stats.Stats      `json:"stats"`
	Entries      []Entry          `json:"entries"`
}

// NewUUID returns a fresh run identifier.
func NewUUID() string {
	return uuid.NewString()
}

// SortEntries orders entries by stored path.
func (c *Content) SortEntries() {
	sort.Slice(c.Entries, func(i, j int) bool { return c.Entries[i].Path < c.Entries[j].Path })
}

// EntryMap returns the entries keyed by stored path. A source renamed on
// conflict has one entry per stored copy.
func (c *Content) EntryMap() map[string]Entry {
	m := make(map[string]Entry, len(c.Entries))
	for _, e := range c.Entries {
		m[e.Path] = e
	}
	return m
}

// Write atomically writes the index file into dirPath.
func Write(dirPath string, content *Content) (retErr error) {
	indexPath := filepath.Join(dirPath, IndexFileName)
	jsonData, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal index: %w", err)
	}

	tmp, err := os.CreateTemp(dirPath, compression.TempPattern)
	if err != nil {
		return fmt.Errorf("could not create temp index in %s: %w", dirPath, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(jsonData); err != nil {
		return fmt.Errorf("could not write index %s: %w", indexPath, err)
	}
	// Use group-writable permissions for the index. It is part of the backup
	// data itself, like the files it describes.
	if err := tmp.Chmod(util.UserGroupWritableFilePerms); err != nil {
		return fmt.Errorf("could not set permissions on index %s: %w", indexPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close index %s: %w", indexPath, err)
	}
	if err := os.Rename(tmpName, indexPath); err != nil {
		return fmt.Errorf("could not move index into place %s: %w", indexPath, err)
	}
	return nil
}

// Read opens and parses the index file in dirPath.
// A missing file is returned as-is so that os.IsNotExist works.
func Read(dirPath string) (Content, error) {
	indexPath := filepath.Join(dirPath, IndexFileName)
	f, err := os.Open(indexPath)
	if err != nil {
		return Content{}, err
	}
	defer f.Close()

	var content Content
	if err := json.NewDecoder(f).Decode(&content); err != nil {
		return Content{}, fmt.Errorf("could not parse index %s: %w. It may be corrupt", indexPath, err)
	}
	return content, nil
}
