package dto

import "github.com/noah-isme/thesis-desk-api/internal/models"

// CreateRequestPayload is the student-facing payload opening a new
// supervision request. The supervisor may be addressed by id or email.
type CreateRequestPayload struct {
	SupervisorID    string `json:"supervisor_id,omitempty"`
	SupervisorEmail string `json:"supervisor_email,omitempty"`
	TopicID         string `json:"topic_id,omitempty"`
	Title           string `json:"title" validate:"required"`
	Description     string `json:"description" validate:"required"`
	Area            string `json:"area,omitempty"`
	ExposeURL       string `json:"expose_url" validate:"required,url"`
}

// TransitionPayload requests a primary status change.
type TransitionPayload struct {
	Target models.RequestStatus `json:"target" validate:"required"`
}

// AssignReviewerPayload nominates a second reviewer by id or email.
type AssignReviewerPayload struct {
	ReviewerID    string `json:"reviewer_id,omitempty"`
	ReviewerEmail string `json:"reviewer_email,omitempty"`
}

// ReviewerDecisionPayload records the assigned reviewer's answer.
type ReviewerDecisionPayload struct {
	Decision string `json:"decision" validate:"required,oneof=accept reject"`
}

// InvoicePayload addresses one of the two invoice ledgers on a request.
type InvoicePayload struct {
	Role models.InvoiceRole `json:"role" validate:"required,oneof=supervisor reviewer"`
}

// RequestQuery narrows supervision request listings.
type RequestQuery struct {
	Status        []models.RequestStatus
	ReviewerState []models.ReviewerStatus
	TopicID       string
	Limit         int
	Offset        int
}
