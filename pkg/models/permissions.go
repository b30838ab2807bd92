package models

import (
	"slices"
	"strings"
	"time"
)

// Row-level restriction dimensions.
const (
	DimensionPlanningArea = "planning_area"
	DimensionScenario     = "scenario"
	DimensionPlant        = "plant"
)

// Dimensions lists the row-level restriction dimensions in the order they are applied.
var Dimensions = []string{DimensionPlanningArea, DimensionScenario, DimensionPlant}

// IsValidDimension checks if the given dimension name is known.
func IsValidDimension(dimension string) bool {
	return slices.Contains(Dimensions, dimension)
}

// UserPermissions is the per-user access record consulted on every query.
//
// Each allow-list has three states: nil means unrestricted, an empty slice means
// nothing is allowed, and a non-empty slice is an allowlist.
type UserPermissions struct {
	UserID               string    `json:"user_id"`
	Username             string    `json:"username"`
	IsAdmin              bool      `json:"is_admin"`
	AllowedPlanningAreas []string  `json:"allowed_planning_areas"`
	AllowedScenarios     []string  `json:"allowed_scenarios"`
	AllowedPlants        []string  `json:"allowed_plants"`
	AllowedTableAccess   []string  `json:"allowed_table_access"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// AllowedValues returns the allow-list for a row-level dimension.
func (p *UserPermissions) AllowedValues(dimension string) []string {
	switch dimension {
	case DimensionPlanningArea:
		return p.AllowedPlanningAreas
	case DimensionScenario:
		return p.AllowedScenarios
	case DimensionPlant:
		return p.AllowedPlants
	default:
		return nil
	}
}

// CanAccessCategory reports whether the user may read tables tagged with category.
func (p *UserPermissions) CanAccessCategory(category string) bool {
	if p.IsAdmin || p.AllowedTableAccess == nil {
		return true
	}
	for _, c := range p.AllowedTableAccess {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

// GlobalFilter is an ad-hoc, UI-selected row filter applied after permissions.
// It is never persisted.
type GlobalFilter struct {
	Dimension string   `json:"dimension"`
	Values    []string `json:"values"`
}
