package kv

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// entry is one row of the kv_entries table.
type entry struct {
	Key   string `gorm:"column:kv_key;primaryKey"`
	Value string `gorm:"column:kv_value;not null"`
}

func (entry) TableName() string {
	return "kv_entries"
}

// SQLite is a Store backed by a single sqlite table.
type SQLite struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the sqlite database at path and
// migrates the kv_entries table.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("migrate kv_entries: %w", err)
	}

	// WAL keeps readers from blocking the writer on flash storage.
	if err := db.Exec("PRAGMA journal_mode = WAL").Error; err != nil {
		return nil, fmt.Errorf("set sqlite journal mode: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Get returns the value for key.
func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	var e entry
	err := s.db.WithContext(ctx).First(&e, "kv_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %q: %w", key, err)
	}
	return e.Value, nil
}

// Set upserts value under key.
func (s *SQLite) Set(ctx context.Context, key string, value string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"kv_value"}),
	}).Create(&entry{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
