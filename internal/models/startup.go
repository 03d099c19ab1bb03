// internal/models/startup.go
package models

import (
	"time"

	"readiness-workers/pkg/registry"
)

// Startup carries the attributes applicability conditions are evaluated against.
type Startup struct {
	ID            string         `json:"id" db:"id"`
	OwnerID       string         `json:"ownerId" db:"owner_id"`
	Name          string         `json:"name,omitempty" db:"name"`
	Stage         registry.Stage `json:"stage" db:"stage"`
	IsSoloFounder bool           `json:"isSoloFounder" db:"is_solo_founder"`
	HasRevenue    bool           `json:"hasRevenue" db:"has_revenue"`
	HasMVP        bool           `json:"hasMvp" db:"has_mvp"`
	BusinessModel string         `json:"businessModel,omitempty" db:"business_model"`
	CreatedAt     time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time      `json:"updatedAt" db:"updated_at"`
}

// Attribute returns the named derived attribute.
func (s *Startup) Attribute(name string) (interface{}, bool) {
	switch name {
	case registry.AttrIsSoloFounder:
		return s.IsSoloFounder, true
	case registry.AttrHasRevenue:
		return s.HasRevenue, true
	case registry.AttrHasMVP:
		return s.HasMVP, true
	case registry.AttrBusinessModel:
		return registry.NormalizeBusinessModel(s.BusinessModel), true
	}
	return nil, false
}
