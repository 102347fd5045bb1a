package storage

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	config "github.com/veriaddress/veriaddress-server/internal/config"
	verrors "github.com/veriaddress/veriaddress-server/internal/errors"
	"github.com/veriaddress/veriaddress-server/internal/model"
	storage_logger "github.com/veriaddress/veriaddress-server/internal/storage/storage_logger"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type Storage struct {
	db *gorm.DB
}

func New(config *config.Config, logger *slog.Logger) (*Storage, error) {
	dialector, err := createDialector(&config.Database)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(
		dialector,
		&gorm.Config{
			NamingStrategy: schema.NamingStrategy{},
			Logger:         storage_logger.NewGormSlogLogger(logger),
			NowFunc:        func() time.Time { return time.Now().UTC() },
		})
	if err != nil {
		return nil, err
	}

	// Migrations
	const timeoutSeconds = 15 * 60

	ctx, cancel := context.WithTimeout(context.Background(), timeoutSeconds*time.Second)
	defer cancel()

	if err := db.WithContext(ctx).AutoMigrate(
		&model.VerificationRecord{},
		&model.KeyValue{},
	); err != nil {
		return nil, err
	}

	return &Storage{db: db}, nil
}

// Close - close the database connection
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// Status reports store health for the health endpoint.
func (s *Storage) Status() (string, error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return "unavailable", err
	}

	if err := sqlDB.Ping(); err != nil {
		return "unavailable", err
	}

	return "ok", nil
}

// Put - upsert the record keyed by its id. The creation timestamp is assigned
// exactly once: a resubmission under the same id overwrites every field except
// created_at, which is preserved from the stored row.
func (s *Storage) Put(ctx context.Context, record *model.VerificationRecord) error {
	if record.ID == "" {
		return verrors.ErrMissingID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.VerificationRecord

		err := tx.First(&existing, "id = ?", record.ID).Error
		switch {
		case err == nil:
			record.CreatedAt = existing.CreatedAt

			return tx.Save(record).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			if record.CreatedAt == nil {
				now := time.Now().UTC()
				record.CreatedAt = &now
			}

			return tx.Create(record).Error
		default:
			return err
		}
	})
}

// ByID - get the record by id
func (s *Storage) ByID(ctx context.Context, id string) (*model.VerificationRecord, error) {
	var record model.VerificationRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, verrors.ErrNotFound
		}

		return nil, err
	}

	return &record, nil
}

// All - get all records ordered by creation time, newest first
func (s *Storage) All(ctx context.Context) ([]model.VerificationRecord, error) {
	var records []model.VerificationRecord
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

// Search - records whose name or id contain the query, case-insensitive,
// ordered like All. An empty query behaves as All.
func (s *Storage) Search(ctx context.Context, query string) ([]model.VerificationRecord, error) {
	if query == "" {
		return s.All(ctx)
	}

	pattern := "%" + strings.ToLower(query) + "%"

	var records []model.VerificationRecord
	if err := s.db.WithContext(ctx).
		Where("LOWER(name) LIKE ? OR LOWER(id) LIKE ?", pattern, pattern).
		Order("created_at DESC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

// Delete - delete one record by id
func (s *Storage) Delete(ctx context.Context, id string) error {
	if id == "" {
		return verrors.ErrMissingID
	}

	return s.db.WithContext(ctx).Delete(&model.VerificationRecord{}, "id = ?", id).Error
}

// DeleteAll - delete every record in one batch, returning the count deleted
func (s *Storage) DeleteAll(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("1 = 1").Delete(&model.VerificationRecord{})
	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}

// SetKeyValue - store a small gob-encoded value under a key
func (s *Storage) SetKeyValue(ctx context.Context, key string, value interface{}) error {
	if key == "" {
		return verrors.ErrMissingID
	}

	kv := model.KeyValue{Key: key}
	if err := kv.SetValue(value); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Save(&kv).Error
}

// GetKeyValue - decode the value stored under a key into out
func (s *Storage) GetKeyValue(ctx context.Context, key string, out interface{}) error {
	var kv model.KeyValue
	if err := s.db.WithContext(ctx).First(&kv, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return verrors.ErrNotFound
		}

		return err
	}

	return kv.GetValue(out)
}
