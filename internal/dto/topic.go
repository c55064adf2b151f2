package dto

import "github.com/noah-isme/thesis-desk-api/internal/models"

// CreateTopicRequest posts a new thesis topic on the board.
type CreateTopicRequest struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	Area        string `json:"area" validate:"required"`
}

// UpdateTopicRequest edits an available topic.
type UpdateTopicRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Area        *string `json:"area,omitempty"`
}

// TopicQuery narrows topic listings.
type TopicQuery struct {
	OwnerID string
	Area    string
	Status  []models.TopicStatus
	Search  string
	Limit   int
	Offset  int
}
