package store

import (
	"context"
	"fmt"

	"github.com/pathakanu/healthReminder/internal/database"
	"github.com/pathakanu/healthReminder/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type sqlBackend struct {
	db *gorm.DB
}

func openSQL(ctx context.Context, opts Options, logger logrus.FieldLogger) (*sqlBackend, error) {
	path := opts.SQLitePath
	if path == "" {
		path = model.DatabaseName + ".db"
	}
	db, err := database.New(opts.DatabaseURL, path, logger)
	if err != nil {
		return nil, err
	}
	backend := &sqlBackend{db: db}
	if err := database.Upgrade(ctx, db, opts.Version); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return backend, nil
}

func (s *sqlBackend) Put(ctx context.Context, reminder *model.Reminder) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(reminder).Error
}

func (s *sqlBackend) Get(ctx context.Context, id int64) (*model.Reminder, error) {
	var reminder model.Reminder
	result := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&reminder)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &reminder, nil
}

func (s *sqlBackend) GetAll(ctx context.Context) ([]model.Reminder, error) {
	var reminders []model.Reminder
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&reminders).Error; err != nil {
		return nil, err
	}
	return reminders, nil
}

func (s *sqlBackend) Delete(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Delete(&model.Reminder{}, id).Error
}

func (s *sqlBackend) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&model.Reminder{}).Error
}

func (s *sqlBackend) Version(ctx context.Context) (int, error) {
	return database.CurrentVersion(ctx, s.db)
}

func (s *sqlBackend) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	return sqlDB.Close()
}
