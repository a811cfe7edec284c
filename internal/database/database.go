package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pathakanu/healthReminder/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrVersionDowngrade is returned when the stored schema version is newer
// than the one requested by the caller.
var ErrVersionDowngrade = errors.New("stored schema version is newer than requested")

type schemaVersion struct {
	Name      string `gorm:"primaryKey"`
	Version   int    `gorm:"not null"`
	UpdatedAt time.Time
}

func (schemaVersion) TableName() string {
	return "schema_versions"
}

// New creates a GORM database connection.
// When databaseURL is provided PostgreSQL is used, otherwise SQLite at sqlitePath.
func New(databaseURL, sqlitePath string, log logrus.FieldLogger) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	if databaseURL != "" {
		db, err = gorm.Open(postgres.Open(databaseURL), gormConfig)
	} else {
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	}
	if err != nil {
		return nil, err
	}

	logBackend(db, sqlitePath, log)
	return db, nil
}

// NeedsUpgrade compares the stored and requested schema versions. A stored
// version of zero means the database has never been initialised.
func NeedsUpgrade(stored, requested int) (bool, error) {
	switch {
	case stored > requested:
		return false, fmt.Errorf("%w: stored %d, requested %d", ErrVersionDowngrade, stored, requested)
	case stored < requested:
		return true, nil
	default:
		return false, nil
	}
}

// Upgrade creates the reminders table when absent and records version.
func Upgrade(ctx context.Context, db *gorm.DB, version int) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&schemaVersion{}); err != nil {
			return fmt.Errorf("migrate schema_versions: %w", err)
		}

		stored, err := currentVersion(tx)
		if err != nil {
			return err
		}
		upgrade, err := NeedsUpgrade(stored, version)
		if err != nil || !upgrade {
			return err
		}

		if !tx.Migrator().HasTable(&model.Reminder{}) {
			if err := tx.Migrator().CreateTable(&model.Reminder{}); err != nil {
				return fmt.Errorf("create %s table: %w", model.ContainerName, err)
			}
		}

		row := schemaVersion{Name: model.DatabaseName, Version: version}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	})
}

// CurrentVersion returns the recorded schema version, or zero when none is stored.
func CurrentVersion(ctx context.Context, db *gorm.DB) (int, error) {
	return currentVersion(db.WithContext(ctx))
}

func currentVersion(db *gorm.DB) (int, error) {
	if !db.Migrator().HasTable(&schemaVersion{}) {
		return 0, nil
	}
	var row schemaVersion
	result := db.Where("name = ?", model.DatabaseName).Limit(1).Find(&row)
	if result.Error != nil {
		return 0, fmt.Errorf("read schema version: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, nil
	}
	return row.Version, nil
}

func logBackend(db *gorm.DB, sqlitePath string, log logrus.FieldLogger) {
	dialector := db.Dialector.Name()
	switch strings.ToLower(dialector) {
	case "postgres":
		log.Info("database: connected to PostgreSQL")
	case "sqlite":
		log.Infof("database: using SQLite %s", sqlitePath)
	default:
		log.Infof("database: connected via %s", dialector)
	}
}
