// Package models contains the database model definitions.
// These models map directly to the SQLite database tables holding a show's
// controllers, their outputs and server settings.
package models

import (
	"time"
)

// Controller represents one output controller of the show.
// Table: controllers
type Controller struct {
	ID                      string    `gorm:"column:id;primaryKey"`
	ControllerID            int       `gorm:"column:controller_id;index"`
	Position                int       `gorm:"column:position;index"`
	SchemaVersion           int       `gorm:"column:schema_version"`
	Kind                    string    `gorm:"column:kind"`
	Name                    string    `gorm:"column:name;uniqueIndex"`
	Description             *string   `gorm:"column:description"`
	Vendor                  *string   `gorm:"column:vendor"`
	Model                   *string   `gorm:"column:model"`
	FirmwareVersion         *string   `gorm:"column:firmware_version"`
	Active                  bool      `gorm:"column:active"`
	AutoSize                bool      `gorm:"column:auto_size;default:false"`
	AutoStartChannels       bool      `gorm:"column:auto_start_channels;default:false"`
	SuppressDuplicateFrames bool      `gorm:"column:suppress_duplicate_frames;default:false"`
	IP                      *string   `gorm:"column:ip"`
	Protocol                *string   `gorm:"column:protocol"`
	Priority                int       `gorm:"column:priority;default:0"`
	Port                    *string   `gorm:"column:port"`
	Speed                   int       `gorm:"column:speed;default:0"`
	CreatedAt               time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time `gorm:"column:updated_at;autoUpdateTime"`

	// Relations
	Outputs []ControllerOutput `gorm:"foreignKey:ControllerRowID;constraint:OnDelete:CASCADE"`
}

func (Controller) TableName() string { return "controllers" }

// ControllerOutput represents one output (universe or port) of a controller.
// Table: controller_outputs
type ControllerOutput struct {
	ID              string `gorm:"column:id;primaryKey"`
	ControllerRowID string `gorm:"column:controller_row_id;index"`
	Position        int    `gorm:"column:position"`
	Channels        int32  `gorm:"column:channels"`
	Enabled         bool   `gorm:"column:enabled"`
	Universe        int    `gorm:"column:universe;default:0"`
}

func (ControllerOutput) TableName() string { return "controller_outputs" }

// Setting represents a system setting.
// Table: settings
type Setting struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Key       string    `gorm:"column:key;uniqueIndex"`
	Value     string    `gorm:"column:value"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Setting) TableName() string { return "settings" }

// All lists every model, in migration order.
func All() []interface{} {
	return []interface{}{
		&Controller{},
		&ControllerOutput{},
		&Setting{},
	}
}
