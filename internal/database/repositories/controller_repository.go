package repositories

import (
	"context"
	"fmt"

	"github.com/bbernstein/lacylights-outputs/internal/database/models"
	"github.com/bbernstein/lacylights-outputs/internal/outputs"
	"github.com/lucsky/cuid"
	"gorm.io/gorm"
)

// ControllerRepository persists the controller list of a show.
type ControllerRepository struct {
	db *gorm.DB
}

// NewControllerRepository creates a new ControllerRepository.
func NewControllerRepository(db *gorm.DB) *ControllerRepository {
	return &ControllerRepository{db: db}
}

// ReplaceAll swaps the stored controller list for recs in one transaction.
// The slice order becomes the stored position.
func (r *ControllerRepository) ReplaceAll(ctx context.Context, recs []outputs.Record) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.ControllerOutput{}).Error; err != nil {
			return fmt.Errorf("clear outputs: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&models.Controller{}).Error; err != nil {
			return fmt.Errorf("clear controllers: %w", err)
		}

		for i := range recs {
			row := ToModel(&recs[i], i)
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("insert controller %q: %w", recs[i].Name, err)
			}
		}
		return nil
	})
}

// FindAll returns all controllers with their outputs, in stored order.
func (r *ControllerRepository) FindAll(ctx context.Context) ([]models.Controller, error) {
	var rows []models.Controller
	result := r.db.WithContext(ctx).
		Preload("Outputs", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Order("position ASC").
		Find(&rows)
	return rows, result.Error
}

// LoadRecords returns the stored controllers as records ready for
// outputs.Manager.Load.
func (r *ControllerRepository) LoadRecords(ctx context.Context) ([]outputs.Record, error) {
	rows, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	recs := make([]outputs.Record, 0, len(rows))
	for i := range rows {
		recs = append(recs, ToRecord(&rows[i]))
	}
	return recs, nil
}

// Count returns the number of stored controllers.
func (r *ControllerRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.Controller{}).Count(&count)
	return count, result.Error
}

// ToModel converts a record into a database row at the given position.
// Legacy records are stored in their upgraded form by callers; the legacy
// fields themselves are not persisted.
func ToModel(rec *outputs.Record, position int) *models.Controller {
	row := &models.Controller{
		ID:                      cuid.New(),
		ControllerID:            rec.ID,
		Position:                position,
		SchemaVersion:           rec.SchemaVersion,
		Kind:                    rec.Kind,
		Name:                    rec.Name,
		Description:             optional(rec.Description),
		Vendor:                  optional(rec.Vendor),
		Model:                   optional(rec.Model),
		FirmwareVersion:         optional(rec.FirmwareVersion),
		Active:                  rec.Active,
		AutoSize:                rec.AutoSize,
		AutoStartChannels:       rec.AutoStartChannels,
		SuppressDuplicateFrames: rec.SuppressDuplicateFrames,
		IP:                      optional(rec.IP),
		Protocol:                optional(rec.Protocol),
		Priority:                rec.Priority,
		Port:                    optional(rec.Port),
		Speed:                   rec.Speed,
	}
	for i, o := range rec.Outputs {
		row.Outputs = append(row.Outputs, models.ControllerOutput{
			ID:              cuid.New(),
			ControllerRowID: row.ID,
			Position:        i,
			Channels:        o.Channels,
			Enabled:         o.Enabled,
			Universe:        o.Universe,
		})
	}
	return row
}

// ToRecord converts a database row back into a record.
func ToRecord(row *models.Controller) outputs.Record {
	rec := outputs.Record{
		SchemaVersion:           row.SchemaVersion,
		Kind:                    row.Kind,
		ID:                      row.ControllerID,
		Name:                    row.Name,
		Description:             deref(row.Description),
		Vendor:                  deref(row.Vendor),
		Model:                   deref(row.Model),
		FirmwareVersion:         deref(row.FirmwareVersion),
		Active:                  row.Active,
		AutoSize:                row.AutoSize,
		AutoStartChannels:       row.AutoStartChannels,
		SuppressDuplicateFrames: row.SuppressDuplicateFrames,
		IP:                      deref(row.IP),
		Protocol:                deref(row.Protocol),
		Priority:                row.Priority,
		Port:                    deref(row.Port),
		Speed:                   row.Speed,
	}
	for _, o := range row.Outputs {
		rec.Outputs = append(rec.Outputs, outputs.OutputRecord{
			Channels: o.Channels,
			Enabled:  o.Enabled,
			Universe: o.Universe,
		})
	}
	return rec
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
