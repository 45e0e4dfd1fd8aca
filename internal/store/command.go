package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// CommandRecord is one downlink command and how the terminal answered it
type CommandRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CommandID string    `json:"command_id" gorm:"column:command_id;type:varchar(64);not null;index"`
	DeviceID  string    `json:"device_id" gorm:"column:device_id;type:varchar(20);not null;index"`
	Command   string    `json:"command" gorm:"type:varchar(50);not null"`
	Kind      int       `json:"kind" gorm:"not null"`   // wire message id
	Serial    int       `json:"serial" gorm:"not null"` // platform serial the reply refers to
	Params    string    `json:"params,omitempty" gorm:"type:jsonb"`
	Status    string    `json:"status" gorm:"type:varchar(20);not null;default:'pending'"` // pending, sent, success, failed, timeout
	Response  string    `json:"response,omitempty" gorm:"type:jsonb;default:null"`
	ErrorMsg  string    `json:"error_msg,omitempty" gorm:"column:error_msg;type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:now()"`
}

func (CommandRecord) TableName() string {
	return "device_commands"
}

// Store persists command history in postgres
type Store struct {
	db *gorm.DB
}

// Open connects to dsn. gorm's own logging is routed through log.
func Open(dsn string, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.New(gormWriter{log: log}, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return New(db), nil
}

// New wraps an existing handle
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the device_commands table
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&CommandRecord{})
}

// Close releases the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateCommand inserts rec and fills in its ID
func (s *Store) CreateCommand(ctx context.Context, rec *CommandRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

// UpdateCommand moves record id to status. Empty response or errMsg leave the
// column untouched.
func (s *Store) UpdateCommand(ctx context.Context, id uint, status, response, errMsg string) error {
	return updateQuery(s.db.WithContext(ctx), id, status, response, errMsg).Error
}

// CommandHistory lists the newest commands of a device first
func (s *Store) CommandHistory(ctx context.Context, deviceID string, limit int) ([]CommandRecord, error) {
	var commands []CommandRecord
	err := historyQuery(s.db.WithContext(ctx), deviceID, limit).Find(&commands).Error
	return commands, err
}

func updateQuery(tx *gorm.DB, id uint, status, response, errMsg string) *gorm.DB {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if response != "" {
		updates["response"] = response
	}
	if errMsg != "" {
		updates["error_msg"] = errMsg
	}
	return tx.Model(&CommandRecord{}).Where("id = ?", id).Updates(updates)
}

func historyQuery(tx *gorm.DB, deviceID string, limit int) *gorm.DB {
	query := tx.Where("device_id = ?", deviceID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return query
}

// gormWriter adapts zerolog to gorm's logger.Writer
type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warn().Str("component", "gorm").Msgf(format, args...)
}
