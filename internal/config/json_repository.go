package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"camrelay/internal/models"
)

// Document is the on-disk layout of the file-backed repository.
type Document struct {
	Channels        []models.ChannelConfig `json:"channels"`
	PreloadSchedule []models.ScheduleEntry `json:"preloadSchedule"`
	RecordSchedule  []models.ScheduleEntry `json:"recordSchedule"`
}

// JSONRepository is the file-backed Repository implementation.
type JSONRepository struct {
	path string
	mu   sync.RWMutex
	doc  Document
}

// NewJSONRepository opens the file-backed configuration store. A missing file
// yields an empty repository; the file is re-read on Reload.
func NewJSONRepository(path string) (*JSONRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config file path is required")
	}
	repo := &JSONRepository{path: path}
	if err := repo.Reload(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Reload re-reads the backing file. Unparseable content is surfaced to the
// caller; the previously loaded document stays in effect.
func (r *JSONRepository) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode config file %s: %w", r.path, err)
	}
	r.mu.Lock()
	r.doc = doc
	r.mu.Unlock()
	return nil
}

func (r *JSONRepository) Channel(ctx context.Context, channelID string) (models.ChannelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.doc.Channels {
		if ch.ChannelID == channelID {
			return ch, nil
		}
	}
	return models.ChannelConfig{}, ErrNotFound
}

func (r *JSONRepository) ScheduleEntries(ctx context.Context, kind models.ScheduleKind) ([]models.ScheduleEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var src []models.ScheduleEntry
	switch kind {
	case models.SchedulePreload:
		src = r.doc.PreloadSchedule
	case models.ScheduleRecord:
		src = r.doc.RecordSchedule
	default:
		return nil, fmt.Errorf("unknown schedule kind %q", kind)
	}
	out := make([]models.ScheduleEntry, len(src))
	copy(out, src)
	return out, nil
}

func (r *JSONRepository) Close(ctx context.Context) error { return nil }

// WriteDocument persists a document atomically, temp-file then rename.
// Intended for bootstrap tooling and tests.
func WriteDocument(path string, doc Document) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "config-*.tmp")
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
