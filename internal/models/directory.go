package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Region is static reference data
type Region struct {
	ID   uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	Name string    `json:"name" gorm:"type:varchar(100);not null;uniqueIndex"`
}

func (Region) TableName() string {
	return "regions"
}

func (r *Region) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// City belongs to exactly one region
type City struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	Name     string    `json:"name" gorm:"type:varchar(100);not null;uniqueIndex:idx_city_region_name,priority:2"`
	RegionID uuid.UUID `json:"region_id" gorm:"type:uuid;not null;uniqueIndex:idx_city_region_name,priority:1"`
}

func (City) TableName() string {
	return "cities"
}

func (c *City) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
