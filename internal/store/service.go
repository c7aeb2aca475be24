package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates that no record exists under the requested key.
	ErrNotFound = errors.New("store: record not found")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingEntityType = errors.New("entity type is required")
	errMissingEntityID   = errors.New("entity id is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "store.service.new"
	opNewID      = "store.new_id"
	opPut        = "store.put"
	opTake       = "store.take"
	opRemove     = "store.remove"
	opList       = "store.list"
	opQuery      = "store.query"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type IDProvider interface {
	NewID() (string, error)
}

// Service persists entity records. It knows nothing about entity shapes;
// Collection adds the typed layer.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Now returns the service clock in UTC.
func (s *Service) Now() time.Time {
	return s.clock().UTC()
}

// NewID issues a fresh entity id.
func (s *Service) NewID() (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opNewID, "id_generation_failed", err)
		return "", newServiceError(opNewID, "id_generation_failed", err)
	}
	return id, nil
}

// Put inserts or replaces a record. The creation time of an existing record
// is kept.
func (s *Service) Put(ctx context.Context, entityType, entityID string, keys Keys, payload []byte) error {
	if entityType == "" {
		return newServiceError(opPut, "missing_entity_type", errMissingEntityType)
	}
	if entityID == "" {
		return newServiceError(opPut, "missing_entity_id", errMissingEntityID)
	}

	now := s.Now().Unix()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Record
		createdAt := now
		err := tx.Where("entity_type = ? AND entity_id = ?", entityType, entityID).Take(&existing).Error
		switch {
		case err == nil:
			createdAt = existing.CreatedAtSeconds
		case !errors.Is(err, gorm.ErrRecordNotFound):
			s.logError(opPut, "record_select_failed", err,
				zap.String("entity_type", entityType),
				zap.String("entity_id", entityID))
			return newServiceError(opPut, "record_select_failed", err)
		}

		record := Record{
			EntityType:       entityType,
			EntityID:         entityID,
			ParentID:         keys.ParentID,
			ObjectID:         keys.ObjectID,
			FeedID:           keys.FeedID,
			UserID:           keys.UserID,
			PayloadJSON:      string(payload),
			CreatedAtSeconds: createdAt,
			UpdatedAtSeconds: now,
		}
		if err := tx.Save(&record).Error; err != nil {
			s.logError(opPut, "record_save_failed", err,
				zap.String("entity_type", entityType),
				zap.String("entity_id", entityID))
			return newServiceError(opPut, "record_save_failed", err)
		}
		return nil
	})
}

// Take loads one record. A missing record yields an error matching ErrNotFound.
func (s *Service) Take(ctx context.Context, entityType, entityID string) (Record, error) {
	var record Record
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, newServiceError(opTake, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opTake, "record_select_failed", err,
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID))
		return Record{}, newServiceError(opTake, "record_select_failed", err)
	}
	return record, nil
}

// Remove deletes one record and returns it.
func (s *Service) Remove(ctx context.Context, entityType, entityID string) (Record, error) {
	var removed Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("entity_type = ? AND entity_id = ?", entityType, entityID).Take(&removed).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opRemove, "not_found", ErrNotFound)
		}
		if err != nil {
			s.logError(opRemove, "record_select_failed", err,
				zap.String("entity_type", entityType),
				zap.String("entity_id", entityID))
			return newServiceError(opRemove, "record_select_failed", err)
		}
		if err := tx.Delete(&removed).Error; err != nil {
			s.logError(opRemove, "record_delete_failed", err,
				zap.String("entity_type", entityType),
				zap.String("entity_id", entityID))
			return newServiceError(opRemove, "record_delete_failed", err)
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return removed, nil
}

// List returns the records of one type narrowed by the non-empty keys, in
// creation order.
func (s *Service) List(ctx context.Context, entityType string, keys Keys) ([]Record, error) {
	statement := s.db.WithContext(ctx).Where("entity_type = ?", entityType)
	if keys.ParentID != "" {
		statement = statement.Where("parent_id = ?", keys.ParentID)
	}
	if keys.ObjectID != "" {
		statement = statement.Where("object_id = ?", keys.ObjectID)
	}
	if keys.FeedID != "" {
		statement = statement.Where("feed_id = ?", keys.FeedID)
	}
	if keys.UserID != "" {
		statement = statement.Where("user_id = ?", keys.UserID)
	}

	var records []Record
	if err := statement.Order("created_at_s ASC").Order("entity_id ASC").Find(&records).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("entity_type", entityType))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return records, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("store service error", attrs...)
}
