package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/petermazzocco/particle-monitor/models"
	"gorm.io/gorm/clause"
)

// DetectionSettings returns the machine's detection settings, inserting the
// defaults the first time a machine is read. Concurrent first reads insert
// one row between them and all return it.
func (s *Store) DetectionSettings(ctx context.Context, userID, machineID string) (*models.DetectionSettings, error) {
	if _, err := s.GetMachine(ctx, userID, machineID); err != nil {
		return nil, err
	}

	settings, err := s.findSettings(ctx, machineID)
	if !errors.Is(err, ErrNotFound) {
		return settings, err
	}
	if err := s.insertDefaultSettings(ctx, machineID); err != nil {
		return nil, err
	}
	return s.findSettings(ctx, machineID)
}

func (s *Store) findSettings(ctx context.Context, machineID string) (*models.DetectionSettings, error) {
	var settings models.DetectionSettings
	err := s.db.WithContext(ctx).
		Where(models.DetectionSettings{MachineID: machineID}).
		First(&settings).Error
	if err := single(err, "detection settings"); err != nil {
		return nil, err
	}
	return &settings, nil
}

// insertDefaultSettings is a no-op when the machine already has settings.
func (s *Store) insertDefaultSettings(ctx context.Context, machineID string) error {
	defaults := models.DetectionSettings{
		MachineID:       machineID,
		Sensitivity:     models.DefaultSensitivity,
		MinParticleSize: models.DefaultMinParticleSize,
		MaxParticleSize: models.DefaultMaxParticleSize,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "machine_id"}},
			DoNothing: true,
		}).
		Create(&defaults).Error
	if err != nil {
		return fmt.Errorf("create detection settings: %w", err)
	}
	return nil
}

type SettingsInput struct {
	Sensitivity         float64         `json:"sensitivity"`
	MinParticleSize     int             `json:"min_particle_size"`
	MaxParticleSize     int             `json:"max_particle_size"`
	AlgorithmParameters json.RawMessage `json:"algorithm_parameters,omitempty"`
}

func (in SettingsInput) validate() error {
	if in.Sensitivity < 0 || in.Sensitivity > 1 {
		return invalid("sensitivity must be between 0 and 1, got %v", in.Sensitivity)
	}
	if in.MinParticleSize < 0 {
		return invalid("min particle size must not be negative")
	}
	if in.MaxParticleSize < in.MinParticleSize {
		return invalid("max particle size %d is below min particle size %d", in.MaxParticleSize, in.MinParticleSize)
	}
	return nil
}

func (s *Store) UpdateDetectionSettings(ctx context.Context, userID, machineID string, in SettingsInput) (*models.DetectionSettings, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	settings, err := s.DetectionSettings(ctx, userID, machineID)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).
		Model(settings).
		Select("Sensitivity", "MinParticleSize", "MaxParticleSize", "AlgorithmParameters").
		Updates(models.DetectionSettings{
			Sensitivity:         in.Sensitivity,
			MinParticleSize:     in.MinParticleSize,
			MaxParticleSize:     in.MaxParticleSize,
			AlgorithmParameters: in.AlgorithmParameters,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("update detection settings: %w", err)
	}
	settings.Sensitivity = in.Sensitivity
	settings.MinParticleSize = in.MinParticleSize
	settings.MaxParticleSize = in.MaxParticleSize
	settings.AlgorithmParameters = in.AlgorithmParameters
	return settings, nil
}
