package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/config"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
)

// Names of the documents kept by a Backend.
const (
	CheckpointDoc = "checkpoint"
	ScheduleDoc   = "schedule"
	StatusDoc     = "ingestion_status"
)

// ErrNotFound is returned by a Backend when a document has never been written.
var ErrNotFound = errors.New("document not found")

// Backend persists whole documents by name. A Put replaces the previous
// document atomically: a reader sees either the old or the new bytes.
type Backend interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte) error
	Close() error
}

// Storage interface defines the contract for harvester state
type Storage interface {
	LoadCheckpoint(ctx context.Context) (models.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error
	LoadSchedule(ctx context.Context) (*models.Schedule, error)
	SaveSchedule(ctx context.Context, sch *models.Schedule) error
	UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error
	GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error)
	Close() error
}

// Store implements Storage as JSON documents on top of a Backend.
type Store struct {
	backend Backend
}

var _ Storage = (*Store)(nil)

// New wraps backend in a Store.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg config.StorageConfig) (*Store, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Type {
	case "file":
		backend, err = NewFileBackend(map[string]string{
			CheckpointDoc: cfg.CheckpointPath,
			ScheduleDoc:   cfg.SchedulePath,
			StatusDoc:     cfg.StatusPath,
		})
	case "bolt":
		backend, err = NewBoltBackend(cfg.BoltPath)
	case "badger":
		backend, err = OpenBadgerBackend(cfg.BadgerDir, false)
	case "dynamodb":
		backend, err = NewDynamoDBBackend(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return New(backend), nil
}

// load decodes the named document into v. It reports false when the document
// is absent or empty.
func (s *Store) load(ctx context.Context, name string, v any) (bool, error) {
	data, err := s.backend.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) save(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if err := s.backend.Put(ctx, name, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// LoadCheckpoint returns the stored checkpoint, or an empty one.
func (s *Store) LoadCheckpoint(ctx context.Context) (models.Checkpoint, error) {
	var cp models.Checkpoint
	found, err := s.load(ctx, CheckpointDoc, &cp)
	if err != nil {
		return nil, err
	}
	if !found || cp == nil {
		cp = models.Checkpoint{}
	}
	return cp, nil
}

// SaveCheckpoint replaces the stored checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	if cp == nil {
		cp = models.Checkpoint{}
	}
	return s.save(ctx, CheckpointDoc, cp)
}

// LoadSchedule returns the stored tag schedule, or an empty one.
func (s *Store) LoadSchedule(ctx context.Context) (*models.Schedule, error) {
	sch := &models.Schedule{}
	if _, err := s.load(ctx, ScheduleDoc, sch); err != nil {
		return nil, err
	}
	return sch, nil
}

// SaveSchedule replaces the stored tag schedule.
func (s *Store) SaveSchedule(ctx context.Context, sch *models.Schedule) error {
	if sch == nil {
		sch = &models.Schedule{}
	}
	return s.save(ctx, ScheduleDoc, sch)
}

// UpdateIngestionStatus updates the ingestion status
func (s *Store) UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error {
	return s.save(ctx, StatusDoc, status)
}

// GetIngestionStatus retrieves the current ingestion status
func (s *Store) GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error) {
	var status models.IngestionStatus
	found, err := s.load(ctx, StatusDoc, &status)
	if err != nil {
		return nil, err
	}
	if !found {
		return &models.IngestionStatus{Status: "never_run"}, nil
	}
	return &status, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
