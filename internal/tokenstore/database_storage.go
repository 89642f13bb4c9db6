package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	errEmptyDatabaseURL = errors.New("tokenstore.empty_database_url")
	errSQLiteEmptyPath  = errors.New("tokenstore.sqlite.empty_path")
	errSQLiteInvalidURL = errors.New("tokenstore.sqlite.invalid_url")
)

// DatabaseStorage persists credential entries using GORM.
type DatabaseStorage struct {
	db          *gorm.DB
	driverLabel string
}

type credentialRecord struct {
	StorageKey    string `gorm:"column:storage_key;primaryKey"`
	Value         string `gorm:"column:value;not null"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (credentialRecord) TableName() string {
	return "dashboard_credentials"
}

// NewDatabaseStorage opens the database named by databaseURL and migrates the schema.
func NewDatabaseStorage(ctx context.Context, databaseURL string) (*DatabaseStorage, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("tokenstore.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("tokenstore.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&credentialRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("tokenstore.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStorage{db: gormDB, driverLabel: driverLabel}, nil
}

// Driver exposes the selected database driver label.
func (storage *DatabaseStorage) Driver() string {
	return storage.driverLabel
}

// Close releases the underlying connection pool.
func (storage *DatabaseStorage) Close() error {
	sqlDB, err := storage.db.DB()
	if err != nil {
		return fmt.Errorf("tokenstore.close.%s: %w", storage.driverLabel, err)
	}
	return sqlDB.Close()
}

// Get loads the entry stored under key.
func (storage *DatabaseStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	var record credentialRecord
	err := storage.db.WithContext(ctx).Where("storage_key = ?", key).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("tokenstore.get.%s: %w", storage.driverLabel, err)
	}
	return record.Value, true, nil
}

// Set upserts the entry stored under key.
func (storage *DatabaseStorage) Set(ctx context.Context, key string, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	record := credentialRecord{
		StorageKey:    key,
		Value:         value,
		UpdatedAtUnix: time.Now().UTC().Unix(),
	}
	err := storage.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storage_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_unix"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("tokenstore.set.%s: %w", storage.driverLabel, err)
	}
	return nil
}

// Remove deletes the entry stored under key.
func (storage *DatabaseStorage) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	err := storage.db.WithContext(ctx).Where("storage_key = ?", key).Delete(&credentialRecord{}).Error
	if err != nil {
		return fmt.Errorf("tokenstore.remove.%s: %w", storage.driverLabel, err)
	}
	return nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("tokenstore.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("tokenstore.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("tokenstore.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("tokenstore.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedScheme)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
