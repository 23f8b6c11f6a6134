// Package store is the data access layer for machines, images, particles and
// detection settings. Every read and write is scoped to the acting user.
package store

import (
	"errors"
	"fmt"

	"github.com/petermazzocco/particle-monitor/models"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a single-row read or a scoped write
	// matches no rows, including rows owned by another user.
	ErrNotFound = errors.New("record not found")
	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("invalid input")
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the tables for every model.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(models.All()...)
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// single maps gorm's not-found error onto ErrNotFound so callers can tell "no
// row" apart from real query failures.
func single(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

// ownedMachines restricts a query on machines to those owned by userID.
func ownedMachines(userID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("machines.user_id = ?", userID)
	}
}

// ownedImages restricts a query on images to those whose machine belongs to
// userID.
func ownedImages(userID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Joins("JOIN machines ON machines.id = images.machine_id").
			Where("machines.user_id = ?", userID)
	}
}
