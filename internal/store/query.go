package store

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based pagination window.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"page_size"`
}

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset is the index of the first row on the page.
func (p Page) Offset() int {
	p = p.normalize()
	return (p.Number - 1) * p.Size
}

func (p Page) Limit() int {
	return p.normalize().Size
}

// TotalPages returns the number of pages needed for total rows.
func (p Page) TotalPages(total int64) int {
	size := int64(p.Limit())
	return int((total + size - 1) / size)
}

type Sort struct {
	Column string `json:"sort"`
	Desc   bool   `json:"desc"`
}

// ImageQuery holds every parameter of an image listing.
type ImageQuery struct {
	MachineID string
	Status    string
	Filename  string
	Sort      Sort
	Page      Page
}

// MachineQuery holds every parameter of a machine listing.
type MachineQuery struct {
	Name   string
	Status string
	Sort   Sort
	Page   Page
}

// Built is the output of a query builder: Filter applies only the
// predicates (used for counting) and Rows adds ordering and the page window.
type Built struct {
	Filter func(*gorm.DB) *gorm.DB
	Order  clause.OrderByColumn
	Page   Page
}

func (b Built) Rows(db *gorm.DB) *gorm.DB {
	return b.Filter(db).Order(b.Order).Offset(b.Page.Offset()).Limit(b.Page.Limit())
}

var imageSortColumns = map[string]string{
	"uploaded_at":       "images.uploaded_at",
	"created_at":        "images.created_at",
	"original_filename": "images.original_filename",
	"status":            "images.status",
	"detection_count":   "images.detection_count",
}

var machineSortColumns = map[string]string{
	"name":                    "machines.name",
	"created_at":              "machines.created_at",
	"status":                  "machines.status",
	"upload_interval_seconds": "machines.upload_interval_seconds",
}

// BuildImageQuery turns q into scopes. It touches no database. Unknown sort
// columns fall back to newest upload first.
func BuildImageQuery(q ImageQuery) Built {
	order := clause.OrderByColumn{Column: clause.Column{Name: "images.uploaded_at", Raw: true}, Desc: true}
	if col, ok := imageSortColumns[q.Sort.Column]; ok {
		order = clause.OrderByColumn{Column: clause.Column{Name: col, Raw: true}, Desc: q.Sort.Desc}
	}

	machineID := strings.TrimSpace(q.MachineID)
	status := strings.TrimSpace(q.Status)
	name := strings.TrimSpace(q.Filename)

	return Built{
		Filter: func(db *gorm.DB) *gorm.DB {
			if machineID != "" {
				db = db.Where("images.machine_id = ?", machineID)
			}
			if status != "" {
				db = db.Where("images.status = ?", status)
			}
			if name != "" {
				db = db.Where("LOWER(images.original_filename) LIKE ? ESCAPE '\\'", likePattern(name))
			}
			return db
		},
		Order: order,
		Page:  q.Page.normalize(),
	}
}

// BuildMachineQuery turns q into scopes. Machines sort by name by default.
func BuildMachineQuery(q MachineQuery) Built {
	order := clause.OrderByColumn{Column: clause.Column{Name: "machines.name", Raw: true}}
	if col, ok := machineSortColumns[q.Sort.Column]; ok {
		order = clause.OrderByColumn{Column: clause.Column{Name: col, Raw: true}, Desc: q.Sort.Desc}
	}

	status := strings.TrimSpace(q.Status)
	name := strings.TrimSpace(q.Name)

	return Built{
		Filter: func(db *gorm.DB) *gorm.DB {
			if status != "" {
				db = db.Where("machines.status = ?", status)
			}
			if name != "" {
				db = db.Where("LOWER(machines.name) LIKE ? ESCAPE '\\'", likePattern(name))
			}
			return db
		},
		Order: order,
		Page:  q.Page.normalize(),
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}
