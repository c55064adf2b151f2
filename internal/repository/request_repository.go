package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/thesis-desk-api/internal/models"
)

const requestColumns = `id, student_id, student_name, student_email,
	supervisor_id, supervisor_name, supervisor_email, topic_id,
	title, description, area, expose_url, status,
	second_reviewer_id, second_reviewer_name, second_reviewer_email, second_reviewer_status,
	invoice_supervisor_created, invoice_reviewer_created, paid_supervisor, paid_reviewer,
	version, created_at, updated_at`

// RequestRepository persists supervision requests. All status-bearing writes
// are guarded by the stored version so concurrent writers surface as
// sql.ErrNoRows instead of overwriting each other.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new supervision request row.
func (r *RequestRepository) Create(ctx context.Context, request *models.SupervisionRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.RequestStatusOpen
	}
	if request.Version == 0 {
		request.Version = 1
	}
	now := time.Now().UTC()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now

	const query = `INSERT INTO supervision_requests
	(id, student_id, student_name, student_email,
	 supervisor_id, supervisor_name, supervisor_email, topic_id,
	 title, description, area, expose_url, status,
	 second_reviewer_id, second_reviewer_name, second_reviewer_email, second_reviewer_status,
	 invoice_supervisor_created, invoice_reviewer_created, paid_supervisor, paid_reviewer,
	 version, created_at, updated_at)
	VALUES (:id, :student_id, :student_name, :student_email,
	 :supervisor_id, :supervisor_name, :supervisor_email, :topic_id,
	 :title, :description, :area, :expose_url, :status,
	 :second_reviewer_id, :second_reviewer_name, :second_reviewer_email, :second_reviewer_status,
	 :invoice_supervisor_created, :invoice_reviewer_created, :paid_supervisor, :paid_reviewer,
	 :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create supervision request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.SupervisionRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM supervision_requests WHERE id = $1`
	var request models.SupervisionRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns requests matching the filter (newest first).
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.SupervisionRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 8)
	builder.WriteString(`SELECT ` + requestColumns + ` FROM supervision_requests`)

	conditions := make([]string, 0, 6)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.ReviewerState) > 0 {
		placeholders := make([]string, len(filter.ReviewerState))
		for i, state := range filter.ReviewerState {
			args = append(args, state)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("second_reviewer_status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.SupervisorID != "" {
		args = append(args, filter.SupervisorID)
		conditions = append(conditions, fmt.Sprintf("supervisor_id = $%d", len(args)))
	}
	if filter.ReviewerID != "" && filter.ReviewerEmail != "" {
		args = append(args, filter.ReviewerID)
		idPos := len(args)
		args = append(args, filter.ReviewerEmail)
		conditions = append(conditions, fmt.Sprintf("(second_reviewer_id = $%d OR LOWER(second_reviewer_email) = LOWER($%d))", idPos, len(args)))
	} else if filter.ReviewerID != "" {
		args = append(args, filter.ReviewerID)
		conditions = append(conditions, fmt.Sprintf("second_reviewer_id = $%d", len(args)))
	} else if filter.ReviewerEmail != "" {
		args = append(args, filter.ReviewerEmail)
		conditions = append(conditions, fmt.Sprintf("LOWER(second_reviewer_email) = LOWER($%d)", len(args)))
	}
	if filter.TopicID != "" {
		args = append(args, filter.TopicID)
		conditions = append(conditions, fmt.Sprintf("topic_id = $%d", len(args)))
	}
	if filter.ExcludeID != "" {
		args = append(args, filter.ExcludeID)
		conditions = append(conditions, fmt.Sprintf("id <> $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.SupervisionRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list supervision requests: %w", err)
	}
	return requests, nil
}

// CountByStatus aggregates request counts per primary status for one side of
// the workflow (student or supervisor scope).
func (r *RequestRepository) CountByStatus(ctx context.Context, filter models.RequestFilter) (map[models.RequestStatus]int, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 2)
	builder.WriteString(`SELECT status, COUNT(*) AS cnt FROM supervision_requests`)

	conditions := make([]string, 0, 2)
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.SupervisorID != "" {
		args = append(args, filter.SupervisorID)
		conditions = append(conditions, fmt.Sprintf("supervisor_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" GROUP BY status")

	rows := []struct {
		Status models.RequestStatus `db:"status"`
		Count  int                  `db:"cnt"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("count requests by status: %w", err)
	}
	counts := make(map[models.RequestStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// UpdateStatusParams groups a guarded primary status write.
type UpdateStatusParams struct {
	ID              string
	Status          models.RequestStatus
	ExpectedVersion int
	// AllowedFrom restricts the current status; empty means any.
	AllowedFrom []models.RequestStatus
}

// UpdateStatus writes the primary status under version and status guards.
// Returns sql.ErrNoRows when the guard fails (concurrent writer or a status
// drift since the caller last read the row).
func (r *RequestRepository) UpdateStatus(ctx context.Context, params UpdateStatusParams) error {
	builder := strings.Builder{}
	args := []interface{}{params.ID, params.Status, time.Now().UTC(), params.ExpectedVersion}
	builder.WriteString(`UPDATE supervision_requests SET status = $2, updated_at = $3, version = version + 1 WHERE id = $1 AND version = $4`)
	if len(params.AllowedFrom) > 0 {
		placeholders := make([]string, len(params.AllowedFrom))
		for i, status := range params.AllowedFrom {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		builder.WriteString(fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ",")))
	}
	result, err := r.db.ExecContext(ctx, builder.String(), args...)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	return requireRowsAffected(result, "update request status")
}

// UpdateReviewerParams groups a guarded second-reviewer write.
type UpdateReviewerParams struct {
	ID              string
	ReviewerID      *string
	ReviewerName    *string
	ReviewerEmail   *string
	ReviewerStatus  models.ReviewerStatus
	ExpectedVersion int
}

// UpdateReviewer writes the reviewer identity and sub-status under the
// version guard.
func (r *RequestRepository) UpdateReviewer(ctx context.Context, params UpdateReviewerParams) error {
	const query = `UPDATE supervision_requests
	SET second_reviewer_id = $2, second_reviewer_name = $3, second_reviewer_email = $4,
	    second_reviewer_status = $5, updated_at = $6, version = version + 1
	WHERE id = $1 AND version = $7`
	result, err := r.db.ExecContext(ctx, query,
		params.ID, params.ReviewerID, params.ReviewerName, params.ReviewerEmail,
		params.ReviewerStatus, time.Now().UTC(), params.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("update request reviewer: %w", err)
	}
	return requireRowsAffected(result, "update request reviewer")
}

// ReviewerDecisionParams groups a guarded reviewer decision write. The
// sub-status guard keeps racing decisions from double-applying.
type ReviewerDecisionParams struct {
	ID              string
	Decision        models.ReviewerStatus
	ExpectedVersion int
}

// UpdateReviewerDecision moves the sub-status from pending to the decision.
func (r *RequestRepository) UpdateReviewerDecision(ctx context.Context, params ReviewerDecisionParams) error {
	const query = `UPDATE supervision_requests
	SET second_reviewer_status = $2, updated_at = $3, version = version + 1
	WHERE id = $1 AND version = $4 AND second_reviewer_status = $5`
	result, err := r.db.ExecContext(ctx, query,
		params.ID, params.Decision, time.Now().UTC(), params.ExpectedVersion, models.ReviewerStatusPending)
	if err != nil {
		return fmt.Errorf("update reviewer decision: %w", err)
	}
	return requireRowsAffected(result, "update reviewer decision")
}

// UpdateInvoiceParams groups a guarded invoice flag write. Only flags set to
// non-nil are written; an optional status move rides along with the same
// version bump (supervisor invoice advancing colloquium_held to invoiced).
type UpdateInvoiceParams struct {
	ID              string
	ExpectedVersion int

	InvoiceSupervisorCreated *bool
	InvoiceReviewerCreated   *bool
	PaidSupervisor           *bool
	PaidReviewer             *bool
	Status                   *models.RequestStatus
}

// UpdateInvoice writes invoice/paid flags under the version guard.
func (r *RequestRepository) UpdateInvoice(ctx context.Context, params UpdateInvoiceParams) error {
	setParts := []string{"updated_at = $2", "version = version + 1"}
	args := []interface{}{params.ID, time.Now().UTC()}

	appendFlag := func(column string, value *bool) {
		if value == nil {
			return
		}
		args = append(args, *value)
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	appendFlag("invoice_supervisor_created", params.InvoiceSupervisorCreated)
	appendFlag("invoice_reviewer_created", params.InvoiceReviewerCreated)
	appendFlag("paid_supervisor", params.PaidSupervisor)
	appendFlag("paid_reviewer", params.PaidReviewer)
	if params.Status != nil {
		args = append(args, *params.Status)
		setParts = append(setParts, fmt.Sprintf("status = $%d", len(args)))
	}

	args = append(args, params.ExpectedVersion)
	query := fmt.Sprintf("UPDATE supervision_requests SET %s WHERE id = $1 AND version = $%d",
		strings.Join(setParts, ", "), len(args))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update request invoices: %w", err)
	}
	return requireRowsAffected(result, "update request invoices")
}

// Delete removes a request still owned by its creator. The status guard keeps
// accepted or running work from being deleted.
func (r *RequestRepository) Delete(ctx context.Context, id, studentID string) error {
	const query = `DELETE FROM supervision_requests WHERE id = $1 AND student_id = $2 AND status IN ($3, $4)`
	result, err := r.db.ExecContext(ctx, query, id, studentID, models.RequestStatusOpen, models.RequestStatusRejected)
	if err != nil {
		return fmt.Errorf("delete supervision request: %w", err)
	}
	return requireRowsAffected(result, "delete supervision request")
}
