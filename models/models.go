package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MachineStatus string

const (
	MachineActive      MachineStatus = "active"
	MachineInactive    MachineStatus = "inactive"
	MachineMaintenance MachineStatus = "maintenance"
)

func (s MachineStatus) Valid() bool {
	switch s {
	case MachineActive, MachineInactive, MachineMaintenance:
		return true
	}
	return false
}

// ImageStatus only moves forward, pending -> detected | failed, and only the
// detection worker moves it.
type ImageStatus string

const (
	ImagePending  ImageStatus = "pending"
	ImageDetected ImageStatus = "detected"
	ImageFailed   ImageStatus = "failed"
)

func (s ImageStatus) Valid() bool {
	switch s {
	case ImagePending, ImageDetected, ImageFailed:
		return true
	}
	return false
}

const DefaultUploadIntervalSeconds = 5

// Detection settings defaults applied when a machine has no settings row yet.
const (
	DefaultSensitivity     = 0.5
	DefaultMinParticleSize = 10
	DefaultMaxParticleSize = 100
)

type User struct {
	ID           string    `json:"id" gorm:"primarykey;size:36"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Email        string    `json:"email" gorm:"size:255;not null;unique"`
	PasswordHash string    `json:"-" gorm:"size:255"`
	FullName     string    `json:"full_name" gorm:"size:255"`
	Machines     []Machine `json:"machines,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

type Machine struct {
	ID                    string        `json:"id" gorm:"primarykey;size:36"`
	UserID                string        `json:"user_id" gorm:"size:36;not null;index"`
	User                  *User         `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Name                  string        `json:"name" gorm:"size:255;not null"`
	Description           *string       `json:"description"`
	UploadIntervalSeconds int           `json:"upload_interval_seconds" gorm:"not null;default:5"`
	Status                MachineStatus `json:"status" gorm:"size:16;not null;default:active"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
	Images                []Image       `json:"images,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (m *Machine) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

type Image struct {
	ID                string          `json:"id" gorm:"primarykey;size:36"`
	MachineID         string          `json:"machine_id" gorm:"size:36;not null;index"`
	Machine           *Machine        `json:"machine,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	OriginalFilename  string          `json:"original_filename" gorm:"size:255;not null"`
	Filename          string          `json:"filename" gorm:"size:255"`
	ThumbnailFilename *string         `json:"thumbnail_filename"`
	Status            ImageStatus     `json:"status" gorm:"size:16;not null;default:pending;index"`
	UploadedAt        time.Time       `json:"uploaded_at" gorm:"index"`
	ProcessedAt       *time.Time      `json:"processed_at"`
	DetectionCount    int             `json:"detection_count"`
	DetectionData     json.RawMessage `json:"detection_data,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Particles         []Particle      `json:"particles,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (i *Image) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

type Particle struct {
	ID         string    `json:"id" gorm:"primarykey;size:36"`
	ImageID    string    `json:"image_id" gorm:"size:36;not null;index"`
	Class      string    `json:"class" gorm:"size:64;not null;index"`
	Confidence float64   `json:"confidence"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Width      float64   `json:"width"`
	Height     float64   `json:"height"`
	CreatedAt  time.Time `json:"created_at"`
}

func (p *Particle) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

type DetectionSettings struct {
	ID                  string          `json:"id" gorm:"primarykey;size:36"`
	MachineID           string          `json:"machine_id" gorm:"size:36;not null;uniqueIndex"`
	Machine             *Machine        `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Sensitivity         float64         `json:"sensitivity"`
	MinParticleSize     int             `json:"min_particle_size"`
	MaxParticleSize     int             `json:"max_particle_size"`
	AlgorithmParameters json.RawMessage `json:"algorithm_parameters,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func (d *DetectionSettings) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// MachineSummary aggregates a machine's images and particles. It is computed,
// never stored.
type MachineSummary struct {
	MachineID      string         `json:"machine_id"`
	TotalImages    int64          `json:"total_images"`
	Pending        int64          `json:"pending"`
	Detected       int64          `json:"detected"`
	Failed         int64          `json:"failed"`
	TotalParticles int64          `json:"total_particles"`
	ByClass        map[string]int `json:"by_class"`
}

// All lists every persisted model in migration order.
func All() []any {
	return []any{&User{}, &Machine{}, &Image{}, &Particle{}, &DetectionSettings{}}
}
