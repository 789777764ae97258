// Package annotations stores timeline markers that admins pin to a site's
// traffic charts: deploys, campaigns, incidents.
package annotations

import (
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// AnnotationType categorizes a marker.
type AnnotationType string

const (
	AnnotationDeployment AnnotationType = "deployment"
	AnnotationCampaign   AnnotationType = "campaign"
	AnnotationIncident   AnnotationType = "incident"
	AnnotationGeneral    AnnotationType = "general"
)

// Annotation is one marker on a site's timeline.
type Annotation struct {
	ID             uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	SiteID         uint           `gorm:"not null;index:idx_annotations_site_date" json:"site_id"`
	Title          string         `gorm:"not null;size:255" json:"title"`
	Description    string         `gorm:"size:1000" json:"description"`
	AnnotationType AnnotationType `gorm:"size:50;default:'general'" json:"annotation_type"`
	AnnotationDate time.Time      `gorm:"not null;index:idx_annotations_site_date" json:"annotation_date"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (Annotation) TableName() string {
	return "annotations"
}

// ValidAnnotationTypes returns every valid annotation type.
func ValidAnnotationTypes() []AnnotationType {
	return []AnnotationType{
		AnnotationDeployment,
		AnnotationCampaign,
		AnnotationIncident,
		AnnotationGeneral,
	}
}

// IsValidAnnotationType checks the given type against the closed set.
func IsValidAnnotationType(t AnnotationType) bool {
	for _, valid := range ValidAnnotationTypes() {
		if t == valid {
			return true
		}
	}
	return false
}

// Create inserts a new annotation after validating required fields.
func Create(logger *slog.Logger, db *gorm.DB, annotation *Annotation) error {
	if annotation.Title == "" {
		return fmt.Errorf("annotation title is required")
	}
	if annotation.SiteID == 0 {
		return fmt.Errorf("site ID is required")
	}
	if annotation.AnnotationDate.IsZero() {
		return fmt.Errorf("annotation date is required")
	}
	if annotation.AnnotationType == "" {
		annotation.AnnotationType = AnnotationGeneral
	}
	if !IsValidAnnotationType(annotation.AnnotationType) {
		return fmt.Errorf("invalid annotation type: %s", annotation.AnnotationType)
	}

	now := time.Now().UTC()
	annotation.CreatedAt = now
	annotation.UpdatedAt = now

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(annotation).Error
	})
}

// FindByID retrieves one annotation scoped to a site.
func FindByID(db *gorm.DB, id, siteID uint) (*Annotation, error) {
	var annotation Annotation
	if err := db.Where("id = ? AND site_id = ?", id, siteID).First(&annotation).Error; err != nil {
		return nil, err
	}
	return &annotation, nil
}

// ListForSite retrieves all annotations for a site, newest first.
func ListForSite(db *gorm.DB, siteID uint) ([]Annotation, error) {
	var annotations []Annotation
	err := db.Where("site_id = ?", siteID).
		Order("annotation_date DESC").
		Find(&annotations).Error
	if err != nil {
		return nil, err
	}
	return annotations, nil
}

// ListForWindow retrieves annotations whose date falls inside the window,
// oldest first so they line up with chart buckets.
func ListForWindow(db *gorm.DB, siteID uint, from, to time.Time) ([]Annotation, error) {
	var annotations []Annotation
	err := db.Where("site_id = ? AND annotation_date >= ? AND annotation_date <= ?",
		siteID, from.UTC(), to.UTC()).
		Order("annotation_date ASC").
		Find(&annotations).Error
	if err != nil {
		return nil, err
	}
	return annotations, nil
}

// Update rewrites the mutable fields of an existing annotation. SiteID is
// never updated so a marker cannot move between sites.
func Update(logger *slog.Logger, db *gorm.DB, annotation *Annotation) error {
	if annotation.ID == 0 {
		return fmt.Errorf("annotation ID is required")
	}
	if annotation.Title == "" {
		return fmt.Errorf("annotation title is required")
	}
	if annotation.AnnotationType != "" && !IsValidAnnotationType(annotation.AnnotationType) {
		return fmt.Errorf("invalid annotation type: %s", annotation.AnnotationType)
	}

	annotation.UpdatedAt = time.Now().UTC()

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Model(annotation).
			Select("title", "description", "annotation_type", "annotation_date", "updated_at").
			Updates(annotation).Error
	})
}

// Delete removes one annotation scoped to a site. Returns
// gorm.ErrRecordNotFound when nothing matched.
func Delete(logger *slog.Logger, db *gorm.DB, id, siteID uint) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND site_id = ?", id, siteID).Delete(&Annotation{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
