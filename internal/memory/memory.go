// Package memory defines the memory record, its retention tier and category,
// and the line-record format used by the durable sinks.
package memory

import (
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Type is the retention tier of a memory. It is chosen by the caller and
// never changes after creation.
type Type int

const (
	Short Type = iota
	Mid
	Long
)

// Types lists every retention tier in durable order.
var Types = []Type{Short, Mid, Long}

func (t Type) String() string {
	switch t {
	case Short:
		return "short"
	case Mid:
		return "mid"
	case Long:
		return "long"
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is one of the known tiers.
func (t Type) Valid() bool {
	return t >= Short && t <= Long
}

// ParseType resolves a tier name (case-insensitive).
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "short", "s":
		return Short, nil
	case "mid", "m", "medium":
		return Mid, nil
	case "long", "l":
		return Long, nil
	}
	return Short, goerr.Wrap(ErrInvalidInput, "unknown memory type", goerr.V("type", s))
}

// Category classifies what a memory is about. The numeric value is the
// ordinal written to the durable format and must stay stable.
type Category int

const (
	Work Category = iota
	Family
	Friendship
	Happiness
	Other
)

var categoryNames = [...]string{"work", "family", "friendship", "happiness", "other"}

func (c Category) String() string {
	if c.Valid() {
		return categoryNames[c]
	}
	return "category(" + strconv.Itoa(int(c)) + ")"
}

func (c Category) Valid() bool {
	return c >= Work && c <= Other
}

// ParseCategory resolves a category name (case-insensitive) or its ordinal.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range categoryNames {
		if s == name {
			return Category(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Category(n).Valid() {
		return Category(n), nil
	}
	return Other, goerr.Wrap(ErrInvalidInput, "unknown memory category", goerr.V("category", s))
}

// Item is a single stored fact. Content is its identity for deduplication,
// caching and weight tracking.
type Item struct {
	Content   string   `json:"content"`
	Type      Type     `json:"type"`
	Category  Category `json:"category"`
	Timestamp string   `json:"timestamp"` // epoch seconds
}

// NewItem builds an item stamped with now. Empty content is rejected.
func NewItem(content string, typ Type, category Category, now time.Time) (Item, error) {
	if strings.TrimSpace(content) == "" {
		return Item{}, goerr.Wrap(ErrInvalidInput, "content is empty")
	}
	if !typ.Valid() {
		return Item{}, goerr.Wrap(ErrInvalidInput, "invalid memory type", goerr.V("type", int(typ)))
	}
	if !category.Valid() {
		return Item{}, goerr.Wrap(ErrInvalidInput, "invalid memory category", goerr.V("category", int(category)))
	}
	return Item{
		Content:   content,
		Type:      typ,
		Category:  category,
		Timestamp: FormatTimestamp(now),
	}, nil
}

// Time returns the creation time. A malformed timestamp yields the zero time.
func (i Item) Time() time.Time {
	sec, err := strconv.ParseInt(i.Timestamp, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// FormatTimestamp encodes t as epoch seconds.
func FormatTimestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
