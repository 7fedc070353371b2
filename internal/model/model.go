// Package model defines shared data structures.
package model

// TimestampLayout is the fixed-width encoding used for document timestamps
// and the persisted refill time. Lexicographic order matches time order.
const TimestampLayout = "20060102150405"

// DisplayType selects how a list is rendered.
type DisplayType string

const (
	DisplayDefault DisplayType = "default"
	DisplayTiered  DisplayType = "tier"
)

// Visibility of a list.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// StatusActive is the only document status that may appear in the feed.
const StatusActive = "active"

// TierScale is the multiplier tiered documents fold into each rank:
// rank = tier*TierScale + position.
const TierScale = 1000

// Category is display metadata attached to a list.
type Category struct {
	Name  string `json:"name" bson:"name"`
	Icon  string `json:"icon" bson:"icon"`
	Color string `json:"color" bson:"color"`
}

// PreviewItem is one ranked entry shown on a feed card.
type PreviewItem struct {
	Rank  int      `json:"rank"`
	Tier  int      `json:"tier,omitempty"` // only set for DisplayTiered
	Name  string   `json:"name"`
	Image string   `json:"image"`
	Media []string `json:"media,omitempty"`
}

// ContentRecord is the display-ready representation of one feed entry.
type ContentRecord struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Type        DisplayType   `json:"type"`
	Visibility  Visibility    `json:"visibility"`
	Owner       string        `json:"owner"`
	Category    Category      `json:"category"`
	Items       []PreviewItem `json:"items"` // sorted by Rank ascending
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at"`
}

// RawItem is a ranked entry as stored in the document store.
type RawItem struct {
	Rank  int      `json:"rank" bson:"rank"`
	Name  string   `json:"name" bson:"name"`
	Image string   `json:"image" bson:"image"`
	Media []string `json:"media,omitempty" bson:"media,omitempty"`
}

// RawDocument is a list document as returned by a document store.
// Preview and Items are alternative shapes; a document carries one of them.
type RawDocument struct {
	Name        string    `json:"name" bson:"name"`
	Description string    `json:"description" bson:"description"`
	Type        string    `json:"type" bson:"type"`
	Owner       string    `json:"owner" bson:"owner"`
	Status      string    `json:"status" bson:"status"`
	Visibility  string    `json:"visibility" bson:"visibility"`
	Category    Category  `json:"category" bson:"category"`
	CreatedAt   string    `json:"created_at" bson:"created_at"`
	UpdatedAt   string    `json:"updated_at" bson:"updated_at"`
	Preview     []RawItem `json:"preview,omitempty" bson:"preview,omitempty"`
	Items       []RawItem `json:"items,omitempty" bson:"items,omitempty"`
}
