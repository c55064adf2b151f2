package models

import "time"

// RequestStatus is the primary workflow state of a supervision request.
type RequestStatus string

const (
	RequestStatusOpen           RequestStatus = "open"
	RequestStatusAccepted       RequestStatus = "accepted"
	RequestStatusRejected       RequestStatus = "rejected"
	RequestStatusInProgress     RequestStatus = "in_progress"
	RequestStatusSubmitted      RequestStatus = "submitted"
	RequestStatusColloquiumHeld RequestStatus = "colloquium_held"
	RequestStatusInvoiced       RequestStatus = "invoiced"
	RequestStatusFinished       RequestStatus = "finished"
)

// Valid reports whether the status is one of the enumerated workflow states.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusOpen, RequestStatusAccepted, RequestStatusRejected,
		RequestStatusInProgress, RequestStatusSubmitted, RequestStatusColloquiumHeld,
		RequestStatusInvoiced, RequestStatusFinished:
		return true
	}
	return false
}

// requestTransitions is the closed transition table of the lifecycle engine.
// Missing entries are invalid; guards on top of reachability live in the
// service layer.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusOpen:           {RequestStatusAccepted, RequestStatusRejected},
	RequestStatusAccepted:       {RequestStatusInProgress, RequestStatusRejected},
	RequestStatusInProgress:     {RequestStatusSubmitted},
	RequestStatusSubmitted:      {RequestStatusColloquiumHeld},
	RequestStatusColloquiumHeld: {RequestStatusInvoiced},
	RequestStatusInvoiced:       {RequestStatusFinished},
}

// CanTransition reports whether target is reachable from s in one step.
func (s RequestStatus) CanTransition(target RequestStatus) bool {
	for _, next := range requestTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// ReviewerStatus is the second-reviewer sub-workflow state. The zero value
// means no reviewer has been assigned yet.
type ReviewerStatus string

const (
	ReviewerStatusUnset    ReviewerStatus = ""
	ReviewerStatusPending  ReviewerStatus = "pending"
	ReviewerStatusAccepted ReviewerStatus = "accepted"
	ReviewerStatusRejected ReviewerStatus = "rejected"
)

// InvoiceRole distinguishes the two invoice/payment pairs on a request.
type InvoiceRole string

const (
	InvoiceRoleSupervisor InvoiceRole = "supervisor"
	InvoiceRoleReviewer   InvoiceRole = "reviewer"
)

// Valid reports whether the role is one of the two ledger roles.
func (r InvoiceRole) Valid() bool {
	return r == InvoiceRoleSupervisor || r == InvoiceRoleReviewer
}

// SupervisionRequest is the central workflow entity binding a student, a
// supervisor, an optional topic, a second reviewer and two invoice pairs.
type SupervisionRequest struct {
	ID string `db:"id" json:"id"`

	StudentID    string `db:"student_id" json:"student_id"`
	StudentName  string `db:"student_name" json:"student_name"`
	StudentEmail string `db:"student_email" json:"student_email"`

	SupervisorID    string  `db:"supervisor_id" json:"supervisor_id"`
	SupervisorName  *string `db:"supervisor_name" json:"supervisor_name,omitempty"`
	SupervisorEmail string  `db:"supervisor_email" json:"supervisor_email"`

	TopicID *string `db:"topic_id" json:"topic_id,omitempty"`

	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description"`
	Area        string `db:"area" json:"area"`
	ExposeURL   string `db:"expose_url" json:"expose_url"`

	Status RequestStatus `db:"status" json:"status"`

	SecondReviewerID     *string        `db:"second_reviewer_id" json:"second_reviewer_id,omitempty"`
	SecondReviewerName   *string        `db:"second_reviewer_name" json:"second_reviewer_name,omitempty"`
	SecondReviewerEmail  *string        `db:"second_reviewer_email" json:"second_reviewer_email,omitempty"`
	SecondReviewerStatus ReviewerStatus `db:"second_reviewer_status" json:"second_reviewer_status"`

	InvoiceSupervisorCreated bool `db:"invoice_supervisor_created" json:"invoice_supervisor_created"`
	InvoiceReviewerCreated   bool `db:"invoice_reviewer_created" json:"invoice_reviewer_created"`
	PaidSupervisor           bool `db:"paid_supervisor" json:"paid_supervisor"`
	PaidReviewer             bool `db:"paid_reviewer" json:"paid_reviewer"`

	Version   int       `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// InvoiceCreated returns the created flag for the given ledger role.
func (r *SupervisionRequest) InvoiceCreated(role InvoiceRole) bool {
	if role == InvoiceRoleReviewer {
		return r.InvoiceReviewerCreated
	}
	return r.InvoiceSupervisorCreated
}

// InvoicePaid returns the paid flag for the given ledger role.
func (r *SupervisionRequest) InvoicePaid(role InvoiceRole) bool {
	if role == InvoiceRoleReviewer {
		return r.PaidReviewer
	}
	return r.PaidSupervisor
}

// ReadyToFinish is the dual-invoice gate for the terminal transition: the
// supervisor pair must be settled, and the reviewer pair too whenever a
// second reviewer has accepted.
func (r *SupervisionRequest) ReadyToFinish() bool {
	if !r.InvoiceSupervisorCreated || !r.PaidSupervisor {
		return false
	}
	if r.SecondReviewerStatus == ReviewerStatusAccepted {
		return r.InvoiceReviewerCreated && r.PaidReviewer
	}
	return true
}

// RequestFilter constrains supervision request listing queries.
type RequestFilter struct {
	StudentID     string
	SupervisorID  string
	ReviewerID    string
	ReviewerEmail string
	TopicID       string
	Status        []RequestStatus
	ReviewerState []ReviewerStatus
	ExcludeID     string
	Limit         int
	Offset        int
}

// StatusCounts aggregates requests per primary status for dashboard views.
type StatusCounts struct {
	Total  int                   `json:"total"`
	Counts map[RequestStatus]int `json:"counts"`
}
