package model

import (
	"time"

	"github.com/google/uuid"

	"region-service/internal/geo"
)

type Region struct {
	ID        uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string      `gorm:"type:varchar(255);not null;uniqueIndex:idx_regions_name" json:"name"`
	Geometry  geo.Polygon `gorm:"type:text;not null" json:"geometry"`
	CreatedAt time.Time   `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time   `gorm:"autoUpdateTime:false" json:"updated_at"`
}

func (Region) TableName() string {
	return "regions"
}

// Clone returns a copy whose geometry does not share coordinates with r.
func (r Region) Clone() Region {
	r.Geometry = r.Geometry.Clone()
	return r
}
