package models

import (
	"strings"
	"time"
)

// TopicStatus captures the lifecycle of a posted thesis topic.
type TopicStatus string

const (
	TopicStatusAvailable TopicStatus = "available"
	TopicStatusTaken     TopicStatus = "taken"
	TopicStatusCompleted TopicStatus = "completed"
)

// Topic is a supervisor-authored thesis proposal listed on the topic board.
type Topic struct {
	ID          string      `db:"id" json:"id"`
	OwnerID     string      `db:"owner_id" json:"owner_id"`
	Title       string      `db:"title" json:"title"`
	Description string      `db:"description" json:"description"`
	Area        string      `db:"area" json:"area"`
	Status      TopicStatus `db:"status" json:"status"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// TopicFilter constrains topic listing queries.
type TopicFilter struct {
	OwnerID string
	Area    string
	Status  []TopicStatus
	Search  string
	Limit   int
	Offset  int
}

// catch-all area labels are display values, never valid topic areas.
// The misspelled variant appears in legacy records.
var allAreaSentinels = map[string]struct{}{
	"all":            {},
	"alle bereiche":  {},
	"alle berreiche": {},
}

// IsAllAreasSentinel reports whether the given area is the catch-all
// placeholder rather than a concrete subject area.
func IsAllAreasSentinel(area string) bool {
	_, ok := allAreaSentinels[strings.ToLower(strings.TrimSpace(area))]
	return ok
}
