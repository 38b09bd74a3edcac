package storage

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Entry is one stored key-value pair
type Entry struct {
	Key       string `gorm:"primaryKey;size:200"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

// SQLStore implements Store on top of a SQLite database through GORM
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQLStore opens (and migrates) the SQLite database at path.
func OpenSQLStore(path string, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
	}

	logger.Debug("Opened SQLStore", zap.String("path", path))
	return &SQLStore{db: db, logger: logger}, nil
}

// Get retrieves the value stored under key
func (s *SQLStore) Get(key string) ([]byte, error) {
	var entry Entry
	err := s.db.First(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return []byte(entry.Value), nil
}

// Put upserts value under key
func (s *SQLStore) Put(key string, value []byte) error {
	entry := Entry{Key: key, Value: string(value), UpdatedAt: time.Now()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		s.logger.Error("Error writing key", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database handle
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.Close()
}
