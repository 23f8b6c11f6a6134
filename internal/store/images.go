package store

import (
	"context"
	"fmt"

	"github.com/petermazzocco/particle-monitor/models"
)

// ListImages returns one page of images visible to the user, each with its
// machine preloaded, and the number of images matching q's filters.
func (s *Store) ListImages(ctx context.Context, userID string, q ImageQuery) ([]models.Image, int64, error) {
	built := BuildImageQuery(q)

	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.Image{}).
		Scopes(ownedImages(userID), built.Filter).
		Count(&total).Error
	if err != nil {
		return nil, 0, fmt.Errorf("count images: %w", err)
	}

	var images []models.Image
	err = s.db.WithContext(ctx).
		Scopes(ownedImages(userID), built.Rows).
		Preload("Machine").
		Find(&images).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list images: %w", err)
	}
	return images, total, nil
}

func (s *Store) GetImage(ctx context.Context, userID, id string) (*models.Image, error) {
	var image models.Image
	err := s.db.WithContext(ctx).
		Scopes(ownedImages(userID)).
		Where("images.id = ?", id).
		First(&image).Error
	if err := single(err, "image"); err != nil {
		return nil, err
	}
	return &image, nil
}

// ImageDetail is an image with its machine and particles.
type ImageDetail struct {
	Image     *models.Image     `json:"image"`
	Machine   *models.Machine   `json:"machine"`
	Particles []models.Particle `json:"particles"`
}

func (s *Store) ImageDetail(ctx context.Context, userID, id string) (*ImageDetail, error) {
	image, err := s.GetImage(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	machine, err := s.GetMachine(ctx, userID, image.MachineID)
	if err != nil {
		return nil, err
	}
	particles, err := s.ListParticles(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return &ImageDetail{Image: image, Machine: machine, Particles: particles}, nil
}

// ListParticles returns an image's particles in detection order.
func (s *Store) ListParticles(ctx context.Context, userID, imageID string) ([]models.Particle, error) {
	var particles []models.Particle
	err := s.db.WithContext(ctx).
		Joins("JOIN images ON images.id = particles.image_id").
		Joins("JOIN machines ON machines.id = images.machine_id").
		Where("machines.user_id = ? AND particles.image_id = ?", userID, imageID).
		Order("particles.created_at ASC").
		Find(&particles).Error
	if err != nil {
		return nil, fmt.Errorf("list particles: %w", err)
	}
	return particles, nil
}

// RecentImages returns the newest limit images of one machine.
func (s *Store) RecentImages(ctx context.Context, userID, machineID string, limit int) ([]models.Image, error) {
	images, _, err := s.ListImages(ctx, userID, ImageQuery{
		MachineID: machineID,
		Page:      Page{Number: 1, Size: limit},
	})
	return images, err
}

// MachineSummary aggregates a machine's images by status and its particles by
// class. A machine without images yields a zero summary.
func (s *Store) MachineSummary(ctx context.Context, userID, machineID string) (*models.MachineSummary, error) {
	if _, err := s.GetMachine(ctx, userID, machineID); err != nil {
		return nil, err
	}

	summary := &models.MachineSummary{MachineID: machineID, ByClass: map[string]int{}}

	var byStatus []struct {
		Status models.ImageStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.Image{}).
		Select("status, COUNT(*) AS count").
		Where("machine_id = ?", machineID).
		Group("status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, fmt.Errorf("summarize images: %w", err)
	}
	for _, row := range byStatus {
		summary.TotalImages += row.Count
		switch row.Status {
		case models.ImagePending:
			summary.Pending = row.Count
		case models.ImageDetected:
			summary.Detected = row.Count
		case models.ImageFailed:
			summary.Failed = row.Count
		}
	}

	var byClass []struct {
		Class string
		Count int64
	}
	err = s.db.WithContext(ctx).
		Model(&models.Particle{}).
		Select("particles.class AS class, COUNT(*) AS count").
		Joins("JOIN images ON images.id = particles.image_id").
		Where("images.machine_id = ?", machineID).
		Group("particles.class").
		Scan(&byClass).Error
	if err != nil {
		return nil, fmt.Errorf("summarize particles: %w", err)
	}
	for _, row := range byClass {
		summary.ByClass[row.Class] = int(row.Count)
		summary.TotalParticles += row.Count
	}

	return summary, nil
}
