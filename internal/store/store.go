// Package store persists reminders in a single named container. One Store is
// opened at startup, shared by every caller and closed on shutdown.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pathakanu/healthReminder/internal/database"
	"github.com/pathakanu/healthReminder/internal/model"
	"github.com/sirupsen/logrus"
)

// Supported backend drivers.
const (
	DriverSQL   = "sql"
	DriverBolt  = "bolt"
	DriverRedis = "redis"
)

var (
	// ErrMissingID is returned for a reminder without an id.
	ErrMissingID = errors.New("reminder id is required")
	// ErrNotFound is returned by Get when no reminder has the id.
	ErrNotFound = errors.New("reminder not found")
	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown store driver")
	// ErrVersionDowngrade is returned by Open when the container was written
	// by a newer schema version.
	ErrVersionDowngrade = database.ErrVersionDowngrade
)

// Backend is a key-value container of reminders keyed by ID.
type Backend interface {
	Put(ctx context.Context, reminder *model.Reminder) error
	Get(ctx context.Context, id int64) (*model.Reminder, error)
	GetAll(ctx context.Context) ([]model.Reminder, error)
	Delete(ctx context.Context, id int64) error
	Clear(ctx context.Context) error
	Version(ctx context.Context) (int, error)
	Close() error
}

// Options selects and configures the backend opened by Open.
type Options struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
	BoltPath    string
	RedisURL    string
	// Version defaults to model.SchemaVersion.
	Version int
}

// Store is safe for concurrent use; concurrent writes to one id are
// last-writer-wins.
type Store struct {
	backend Backend
	logger  logrus.FieldLogger
}

// Open opens the configured backend, creating the reminders container when
// absent. Errors surface here rather than on the first operation.
func Open(ctx context.Context, opts Options, logger logrus.FieldLogger) (*Store, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Version == 0 {
		opts.Version = model.SchemaVersion
	}

	var (
		backend Backend
		err     error
	)
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	switch driver {
	case "", DriverSQL:
		driver = DriverSQL
		backend, err = openSQL(ctx, opts, logger)
	case DriverBolt:
		backend, err = openBolt(ctx, opts)
	case DriverRedis:
		backend, err = openRedis(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	logger.WithFields(logrus.Fields{
		"driver":    driver,
		"database":  model.DatabaseName,
		"container": model.ContainerName,
		"version":   opts.Version,
	}).Info("store: opened")
	return New(backend, logger), nil
}

// New wraps an already opened backend.
func New(backend Backend, logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{backend: backend, logger: logger}
}

// Save upserts the reminder keyed by its ID.
func (s *Store) Save(ctx context.Context, reminder *model.Reminder) error {
	if reminder == nil || reminder.ID == 0 {
		return ErrMissingID
	}
	record := *reminder
	if err := s.backend.Put(ctx, &record); err != nil {
		return fmt.Errorf("save reminder %d: %w", reminder.ID, err)
	}
	s.logger.WithField("id", reminder.ID).Debug("store: reminder saved")
	return nil
}

// Update has the same upsert semantics as Save. A missing ID is inserted.
func (s *Store) Update(ctx context.Context, reminder *model.Reminder) error {
	return s.Save(ctx, reminder)
}

// Get returns the reminder with the id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*model.Reminder, error) {
	reminder, err := s.backend.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get reminder %d: %w", id, err)
	}
	return reminder, nil
}

// List returns every stored reminder in key order.
func (s *Store) List(ctx context.Context) ([]model.Reminder, error) {
	reminders, err := s.backend.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	if reminders == nil {
		reminders = []model.Reminder{}
	}
	return reminders, nil
}

// Delete removes the reminder with the id. Deleting an absent id is not an error.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := s.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete reminder %d: %w", id, err)
	}
	s.logger.WithField("id", id).Debug("store: reminder deleted")
	return nil
}

// Clear removes every reminder from the container.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Clear(ctx); err != nil {
		return fmt.Errorf("clear reminders: %w", err)
	}
	s.logger.Debug("store: container cleared")
	return nil
}

// Version reports the schema version recorded in the container.
func (s *Store) Version(ctx context.Context) (int, error) {
	version, err := s.backend.Version(ctx)
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return version, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
