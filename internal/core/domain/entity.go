package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityType tags a LocalRecord payload with its schema.
type EntityType string

const (
	EntityLand     EntityType = "land"
	EntityCrop     EntityType = "crop"
	EntitySchedule EntityType = "schedule"
	EntityPost     EntityType = "post"
	EntityListing  EntityType = "listing"
)

// Entity is a typed record payload.
type Entity interface {
	EntityType() EntityType
	Validate() error
}

// migration upgrades a decoded payload from version n to n+1.
type migration func(map[string]any) (map[string]any, error)

type schema struct {
	current    int
	newEntity  func() Entity
	migrations map[int]migration // keyed by source version
}

var schemas = map[EntityType]schema{
	EntityLand: {
		current:   2,
		newEntity: func() Entity { return &LandParcel{} },
		migrations: map[int]migration{
			1: migrateLandV1,
		},
	},
	EntityCrop: {
		current:   1,
		newEntity: func() Entity { return &CropPlan{} },
	},
	EntitySchedule: {
		current:   1,
		newEntity: func() Entity { return &ScheduledTask{} },
	},
	EntityPost: {
		current:   1,
		newEntity: func() Entity { return &SocialPost{} },
	},
	EntityListing: {
		current:   2,
		newEntity: func() Entity { return &MarketListing{} },
		migrations: map[int]migration{
			1: migrateListingV1,
		},
	},
}

// EntityTypes returns all known entity types in a stable order.
func EntityTypes() []EntityType {
	return []EntityType{EntityLand, EntityCrop, EntitySchedule, EntityPost, EntityListing}
}

// IsKnownEntityType reports whether a schema is registered for t.
func IsKnownEntityType(t EntityType) bool {
	_, ok := schemas[t]
	return ok
}

// CurrentSchemaVersion returns the current schema version of t, or 0.
func CurrentSchemaVersion(t EntityType) int {
	return schemas[t].current
}

// NormalizePayload migrates raw from version to the current schema version
// and validates it. Version 0 is treated as current.
func NormalizePayload(t EntityType, version int, raw json.RawMessage) (json.RawMessage, int, error) {
	entity, err := DecodeEntity(t, version, raw)
	if err != nil {
		return nil, 0, err
	}
	out, err := json.Marshal(entity)
	if err != nil {
		return nil, 0, ErrRecordValidation.WithCause(err)
	}
	return out, schemas[t].current, nil
}

// DecodeEntity decodes, migrates and validates a payload.
func DecodeEntity(t EntityType, version int, raw json.RawMessage) (Entity, error) {
	s, ok := schemas[t]
	if !ok {
		return nil, ErrUnknownEntityType.WithDetails(string(t))
	}
	if len(raw) == 0 {
		return nil, ErrRecordValidation.WithDetails("payload is empty")
	}
	if version == 0 {
		version = s.current
	}
	if version > s.current {
		return nil, ErrRecordValidation.WithDetails(
			fmt.Sprintf("%s schema v%d is newer than supported v%d", t, version, s.current))
	}

	if version < s.current {
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, ErrRecordValidation.WithCause(err)
		}
		for v := version; v < s.current; v++ {
			m, ok := s.migrations[v]
			if !ok {
				return nil, ErrRecordValidation.WithDetails(
					fmt.Sprintf("no migration for %s v%d", t, v))
			}
			var err error
			if doc, err = m(doc); err != nil {
				return nil, ErrRecordValidation.WithCause(err)
			}
		}
		migrated, err := json.Marshal(doc)
		if err != nil {
			return nil, ErrRecordValidation.WithCause(err)
		}
		raw = migrated
	}

	entity := s.newEntity()
	if err := json.Unmarshal(raw, entity); err != nil {
		return nil, ErrRecordValidation.WithCause(err)
	}
	if err := entity.Validate(); err != nil {
		return nil, err
	}
	return entity, nil
}

func invalid(t EntityType, violations []string) error {
	if len(violations) == 0 {
		return nil
	}
	return ErrRecordValidation.WithDetails(string(t) + ": " + strings.Join(violations, "; "))
}

// ============================================================================
// Entity schemas
// ============================================================================

// LandParcel is a piece of land farmed by the owner (schema v2).
type LandParcel struct {
	Name      string  `json:"name"`
	AreaAcres float64 `json:"area_acres"`
	SoilType  string  `json:"soil_type,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Irrigated bool    `json:"irrigated"`
}

func (*LandParcel) EntityType() EntityType { return EntityLand }

func (l *LandParcel) Validate() error {
	var v []string
	if strings.TrimSpace(l.Name) == "" {
		v = append(v, "name is required")
	}
	if l.AreaAcres <= 0 {
		v = append(v, "area_acres must be positive")
	}
	if l.Latitude < -90 || l.Latitude > 90 || l.Longitude < -180 || l.Longitude > 180 {
		v = append(v, "coordinates out of range")
	}
	return invalid(EntityLand, v)
}

const acresPerHectare = 2.47105

// v1 stored the area in hectares.
func migrateLandV1(doc map[string]any) (map[string]any, error) {
	if ha, ok := doc["area_hectares"].(float64); ok {
		doc["area_acres"] = ha * acresPerHectare
		delete(doc, "area_hectares")
	}
	return doc, nil
}

// CropPlan is a crop planned or growing on a land parcel.
type CropPlan struct {
	LandID          string    `json:"land_id"`
	Crop            string    `json:"crop"`
	SowingDate      time.Time `json:"sowing_date"`
	ExpectedHarvest time.Time `json:"expected_harvest,omitempty"`
	Stage           string    `json:"stage,omitempty"`
}

func (*CropPlan) EntityType() EntityType { return EntityCrop }

func (c *CropPlan) Validate() error {
	var v []string
	if c.LandID == "" {
		v = append(v, "land_id is required")
	}
	if strings.TrimSpace(c.Crop) == "" {
		v = append(v, "crop is required")
	}
	if !c.ExpectedHarvest.IsZero() && c.ExpectedHarvest.Before(c.SowingDate) {
		v = append(v, "expected_harvest before sowing_date")
	}
	return invalid(EntityCrop, v)
}

// ScheduledTask is a farm activity produced by the scheduler or the farmer.
type ScheduledTask struct {
	Title  string    `json:"title"`
	Kind   string    `json:"kind,omitempty"`
	LandID string    `json:"land_id,omitempty"`
	DueAt  time.Time `json:"due_at"`
	Done   bool      `json:"done"`
}

func (*ScheduledTask) EntityType() EntityType { return EntitySchedule }

func (s *ScheduledTask) Validate() error {
	var v []string
	if strings.TrimSpace(s.Title) == "" {
		v = append(v, "title is required")
	}
	if s.DueAt.IsZero() {
		v = append(v, "due_at is required")
	}
	return invalid(EntitySchedule, v)
}

// MaxPostLength bounds social post bodies.
const MaxPostLength = 2000

// SocialPost is a community post authored by the owner.
type SocialPost struct {
	Body     string   `json:"body"`
	Tags     []string `json:"tags,omitempty"`
	Language string   `json:"language,omitempty"`
}

func (*SocialPost) EntityType() EntityType { return EntityPost }

func (p *SocialPost) Validate() error {
	var v []string
	if strings.TrimSpace(p.Body) == "" {
		v = append(v, "body is required")
	}
	if len(p.Body) > MaxPostLength {
		v = append(v, "body exceeds 2000 characters")
	}
	return invalid(EntityPost, v)
}

// Listing statuses.
const (
	ListingOpen   = "open"
	ListingSold   = "sold"
	ListingClosed = "closed"
)

// MarketListing offers produce on the market (schema v2).
type MarketListing struct {
	Commodity  string  `json:"commodity"`
	QuantityKg float64 `json:"quantity_kg"`
	PricePerKg float64 `json:"price_per_kg"`
	Currency   string  `json:"currency"`
	Status     string  `json:"status"`
}

func (*MarketListing) EntityType() EntityType { return EntityListing }

func (m *MarketListing) Validate() error {
	var v []string
	if strings.TrimSpace(m.Commodity) == "" {
		v = append(v, "commodity is required")
	}
	if m.QuantityKg <= 0 {
		v = append(v, "quantity_kg must be positive")
	}
	if m.PricePerKg < 0 {
		v = append(v, "price_per_kg must not be negative")
	}
	if len(m.Currency) != 3 {
		v = append(v, "currency must be an ISO 4217 code")
	}
	switch m.Status {
	case ListingOpen, ListingSold, ListingClosed:
	default:
		v = append(v, "unknown status")
	}
	return invalid(EntityListing, v)
}

// v1 stored a total price and had no currency or status.
func migrateListingV1(doc map[string]any) (map[string]any, error) {
	qty, _ := doc["quantity_kg"].(float64)
	if total, ok := doc["price"].(float64); ok {
		if qty <= 0 {
			return nil, fmt.Errorf("listing v1: cannot derive price_per_kg without quantity")
		}
		doc["price_per_kg"] = total / qty
		delete(doc, "price")
	}
	if _, ok := doc["currency"]; !ok {
		doc["currency"] = "INR"
	}
	if _, ok := doc["status"]; !ok {
		doc["status"] = ListingOpen
	}
	return doc, nil
}
