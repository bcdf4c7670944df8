package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileHistory implements HistoryStore with one JSON file per game
type FileHistory struct {
	dir string
}

// NewFileHistory creates a file-based history store rooted at dir
func NewFileHistory(dir string) (*FileHistory, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	return &FileHistory{dir: dir}, nil
}

// Dir returns the directory records are stored in
func (fh *FileHistory) Dir() string { return fh.dir }

// Save writes a record to <dir>/<id>.json
func (fh *FileHistory) Save(record *GameRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if !validRecordID(record.ID) {
		return fmt.Errorf("invalid record id %q", record.ID)
	}

	jsonData, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal game record: %w", err)
	}

	// Write then rename so readers never see a partial file
	tmp := fh.getFilePath(record.ID) + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write game record: %w", err)
	}
	if err := os.Rename(tmp, fh.getFilePath(record.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to store game record: %w", err)
	}

	return nil
}

// Load reads a record by ID
func (fh *FileHistory) Load(id string) (*GameRecord, error) {
	if !validRecordID(id) {
		return nil, ErrRecordNotFound
	}

	jsonData, err := os.ReadFile(fh.getFilePath(id))
	if os.IsNotExist(err) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read game record: %w", err)
	}

	var record GameRecord
	if err := json.Unmarshal(jsonData, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game record: %w", err)
	}

	return &record, nil
}

// Delete removes a record file
func (fh *FileHistory) Delete(id string) error {
	if !fh.Exists(id) {
		return ErrRecordNotFound
	}

	if err := os.Remove(fh.getFilePath(id)); err != nil {
		return fmt.Errorf("failed to remove game record: %w", err)
	}

	return nil
}

// ListAll returns all stored record IDs in lexical order
func (fh *FileHistory) ListAll() ([]string, error) {
	entries, err := os.ReadDir(fh.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// Exists checks if a record file exists
func (fh *FileHistory) Exists(id string) bool {
	if !validRecordID(id) {
		return false
	}
	_, err := os.Stat(fh.getFilePath(id))
	return err == nil
}

func (fh *FileHistory) getFilePath(id string) string {
	return filepath.Join(fh.dir, fmt.Sprintf("%s.json", id))
}

func validRecordID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}
