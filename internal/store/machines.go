package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/petermazzocco/particle-monitor/models"
)

// MachineInput is the editable part of a machine.
type MachineInput struct {
	Name                  string               `json:"name"`
	Description           *string              `json:"description"`
	UploadIntervalSeconds int                  `json:"upload_interval_seconds"`
	Status                models.MachineStatus `json:"status"`
}

func (in *MachineInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return invalid("machine name is required")
	}
	if in.UploadIntervalSeconds == 0 {
		in.UploadIntervalSeconds = models.DefaultUploadIntervalSeconds
	}
	if in.UploadIntervalSeconds < 1 {
		return invalid("upload interval must be at least 1 second, got %d", in.UploadIntervalSeconds)
	}
	if in.Status == "" {
		in.Status = models.MachineActive
	}
	if !in.Status.Valid() {
		return invalid("unknown machine status %q", in.Status)
	}
	return nil
}

// ListMachines returns one page of the user's machines and the number of
// machines matching the query's filters.
func (s *Store) ListMachines(ctx context.Context, userID string, q MachineQuery) ([]models.Machine, int64, error) {
	built := BuildMachineQuery(q)
	base := s.db.WithContext(ctx).Model(&models.Machine{}).Scopes(ownedMachines(userID), built.Filter)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count machines: %w", err)
	}

	var machines []models.Machine
	err := s.db.WithContext(ctx).
		Scopes(ownedMachines(userID), built.Rows).
		Find(&machines).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list machines: %w", err)
	}
	return machines, total, nil
}

func (s *Store) GetMachine(ctx context.Context, userID, id string) (*models.Machine, error) {
	var machine models.Machine
	err := s.db.WithContext(ctx).
		Scopes(ownedMachines(userID)).
		Where("machines.id = ?", id).
		First(&machine).Error
	if err := single(err, "machine"); err != nil {
		return nil, err
	}
	return &machine, nil
}

func (s *Store) CreateMachine(ctx context.Context, userID string, in MachineInput) (*models.Machine, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	machine := &models.Machine{
		UserID:                userID,
		Name:                  in.Name,
		Description:           in.Description,
		UploadIntervalSeconds: in.UploadIntervalSeconds,
		Status:                in.Status,
	}
	if err := s.db.WithContext(ctx).Create(machine).Error; err != nil {
		return nil, fmt.Errorf("create machine: %w", err)
	}
	return machine, nil
}

// UpdateMachine rewrites the machine's editable fields. The update is
// constrained by both id and owner, so it affects nothing for other users.
func (s *Store) UpdateMachine(ctx context.Context, userID, id string, in MachineInput) (*models.Machine, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	result := s.db.WithContext(ctx).
		Model(&models.Machine{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{
			"name":                    in.Name,
			"description":             in.Description,
			"upload_interval_seconds": in.UploadIntervalSeconds,
			"status":                  in.Status,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("update machine: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("machine: %w", ErrNotFound)
	}
	return s.GetMachine(ctx, userID, id)
}

func (s *Store) DeleteMachine(ctx context.Context, userID, id string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.Machine{})
	if result.Error != nil {
		return fmt.Errorf("delete machine: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("machine: %w", ErrNotFound)
	}
	return nil
}
