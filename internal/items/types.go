// Package items defines lost/found item records as supplied by the storage
// collaborator, and the Kafka event payloads exchanged about them.
package items

import (
	"fmt"
	"strings"
	"time"
)

// Type is the kind of report an item was submitted as.
type Type string

const (
	TypeLost  Type = "lost"
	TypeFound Type = "found"
)

// ParseType accepts "lost" or "found" in any case.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeLost:
		return TypeLost, nil
	case TypeFound:
		return TypeFound, nil
	}
	return "", fmt.Errorf("unknown item type %q", s)
}

// Opposite returns the type an item of type t is matched against.
func (t Type) Opposite() Type {
	if t == TypeLost {
		return TypeFound
	}
	return TypeLost
}

func (t Type) Valid() bool {
	return t == TypeLost || t == TypeFound
}

// Item is a lost or found report.
type Item struct {
	ID          string    `json:"id" yaml:"id"`
	Type        Type      `json:"type" yaml:"type"`
	Name        string    `json:"name,omitempty" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	Place       string    `json:"place,omitempty" yaml:"place"`
	Contact     string    `json:"contact,omitempty" yaml:"contact"`
	ImagePath   string    `json:"image_path,omitempty" yaml:"imagePath"`
	Active      bool      `json:"active" yaml:"active"`
	CreatedAt   time.Time `json:"created_at" yaml:"createdAt"`
}

// TextFields selects which fields contribute to the text that is matched.
// Description always contributes.
type TextFields struct {
	Name  bool
	Place bool
}

// MatchText joins the selected non-empty fields with single spaces.
func (it Item) MatchText(fields TextFields) string {
	parts := make([]string, 0, 3)
	if fields.Name && it.Name != "" {
		parts = append(parts, it.Name)
	}
	if it.Description != "" {
		parts = append(parts, it.Description)
	}
	if fields.Place && it.Place != "" {
		parts = append(parts, it.Place)
	}
	return strings.Join(parts, " ")
}

// ChangeKind distinguishes the two corpus mutations the engine listens for.
type ChangeKind string

const (
	ChangeKindChanged ChangeKind = "changed"
	ChangeKindRemoved ChangeKind = "removed"
)

// ChangeEvent is the Kafka payload published by the storage side after an
// item was created, edited or deleted.
type ChangeEvent struct {
	ItemID     string     `json:"item_id"`
	Kind       ChangeKind `json:"kind"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Validate checks the event carries an id and a known kind.
func (e ChangeEvent) Validate() error {
	if strings.TrimSpace(e.ItemID) == "" {
		return fmt.Errorf("item_id is required")
	}
	switch e.Kind {
	case ChangeKindChanged, ChangeKindRemoved:
		return nil
	}
	return fmt.Errorf("unknown change kind %q", e.Kind)
}

// AlertMatch is one candidate in a MatchAlert.
type AlertMatch struct {
	ItemID string  `json:"item_id"`
	Score  float64 `json:"score"`
}

// MatchAlert is published for the email/SMS collaborator when an item has at
// least one match at or above the notification threshold.
type MatchAlert struct {
	ItemID    string       `json:"item_id"`
	ItemType  Type         `json:"item_type"`
	Matches   []AlertMatch `json:"matches"`
	TopScore  float64      `json:"top_score"`
	Threshold float64      `json:"threshold"`
	RaisedAt  time.Time    `json:"raised_at"`
}
