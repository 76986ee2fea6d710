package types

import (
	"fmt"
	"strings"
	"time"
)

const (
	AssetBTC = "BTC"

	// Floors applied by the management surface only. The evaluator accepts any positive cooldown.
	MinCooldownMinutes     = 30
	DefaultCooldownMinutes = 60
	MinPriceThreshold      = 1.0
)

// Direction says which side of the threshold fires an alert
type Direction string

const (
	Above Direction = "above"
	Below Direction = "below"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Above:
		return Above, nil
	case Below:
		return Below, nil
	}
	return "", fmt.Errorf("invalid direction %q, expected above or below", s)
}

func (d Direction) Valid() bool {
	return d == Above || d == Below
}

type Alert struct {
	ID              string     `json:"id" db:"id"`
	Email           string     `json:"email" db:"email"`
	Asset           string     `json:"asset" db:"asset"`
	Direction       Direction  `json:"direction" db:"direction"`
	PriceThreshold  float64    `json:"price_threshold" db:"price_threshold"`
	CooldownMinutes int        `json:"cooldown_minutes" db:"cooldown_minutes"`
	CustomMessage   string     `json:"custom_message" db:"custom_message"`
	Enabled         bool       `json:"enabled" db:"enabled"`
	LastSentAt      *time.Time `json:"last_sent_at,omitempty" db:"last_sent_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// Cooldown returns the alert cooldown window as a duration
func (a Alert) Cooldown() time.Duration {
	return time.Duration(a.CooldownMinutes) * time.Minute
}

// Validate checks the record invariants required before an insert
func (a Alert) Validate() error {
	switch {
	case strings.TrimSpace(a.Email) == "":
		return fmt.Errorf("email is required")
	case !a.Direction.Valid():
		return fmt.Errorf("invalid direction %q", a.Direction)
	case a.PriceThreshold <= 0:
		return fmt.Errorf("price threshold must be positive, got %v", a.PriceThreshold)
	case a.CooldownMinutes <= 0:
		return fmt.Errorf("cooldown must be positive, got %d", a.CooldownMinutes)
	}
	return nil
}

// AlertPatch is a partial update, nil fields are left untouched
type AlertPatch struct {
	Email           *string    `json:"email,omitempty"`
	Direction       *Direction `json:"direction,omitempty"`
	PriceThreshold  *float64   `json:"price_threshold,omitempty"`
	CooldownMinutes *int       `json:"cooldown_minutes,omitempty"`
	CustomMessage   *string    `json:"custom_message,omitempty"`
	Enabled         *bool      `json:"enabled,omitempty"`
	LastSentAt      *time.Time `json:"last_sent_at,omitempty"`
}

func (p AlertPatch) Empty() bool {
	return p.Email == nil && p.Direction == nil && p.PriceThreshold == nil && p.CooldownMinutes == nil &&
		p.CustomMessage == nil && p.Enabled == nil && p.LastSentAt == nil
}

// Apply returns a copy of a with the patch fields set
func (p AlertPatch) Apply(a Alert) Alert {
	if p.Email != nil {
		a.Email = *p.Email
	}
	if p.Direction != nil {
		a.Direction = *p.Direction
	}
	if p.PriceThreshold != nil {
		a.PriceThreshold = *p.PriceThreshold
	}
	if p.CooldownMinutes != nil {
		a.CooldownMinutes = *p.CooldownMinutes
	}
	if p.CustomMessage != nil {
		a.CustomMessage = *p.CustomMessage
	}
	if p.Enabled != nil {
		a.Enabled = *p.Enabled
	}
	if p.LastSentAt != nil {
		t := p.LastSentAt.UTC()
		a.LastSentAt = &t
	}
	return a
}

// RunReport summarizes one pass of the alert runner
type RunReport struct {
	StartedAt        time.Time     `json:"started_at"`
	Asset            string        `json:"asset"`
	Price            float64       `json:"price"`
	Evaluated        int           `json:"evaluated"`
	Triggered        int           `json:"triggered"`
	Sent             int           `json:"sent"`
	DeliveryFailures []string      `json:"delivery_failures,omitempty"`
	PersistFailures  []string      `json:"persist_failures,omitempty"`
	Duration         time.Duration `json:"duration"`
}

func (r RunReport) Failed() int {
	return len(r.DeliveryFailures) + len(r.PersistFailures)
}

func (r RunReport) OK() bool {
	return r.Failed() == 0
}

func (r RunReport) String() string {
	return fmt.Sprintf("asset=%s price=%.2f evaluated=%d triggered=%d sent=%d delivery_failures=%v persist_failures=%v",
		r.Asset, r.Price, r.Evaluated, r.Triggered, r.Sent, r.DeliveryFailures, r.PersistFailures)
}
