package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/thesis-desk-api/internal/models"
)

const topicColumns = `id, owner_id, title, description, area, status, created_at, updated_at`

// TopicRepository persists thesis topics.
type TopicRepository struct {
	db *sqlx.DB
}

// NewTopicRepository constructs the repository.
func NewTopicRepository(db *sqlx.DB) *TopicRepository {
	return &TopicRepository{db: db}
}

// Create inserts a new topic row.
func (r *TopicRepository) Create(ctx context.Context, topic *models.Topic) error {
	if topic.ID == "" {
		topic.ID = uuid.NewString()
	}
	if topic.Status == "" {
		topic.Status = models.TopicStatusAvailable
	}
	now := time.Now().UTC()
	if topic.CreatedAt.IsZero() {
		topic.CreatedAt = now
	}
	topic.UpdatedAt = now

	const query = `INSERT INTO topics (id, owner_id, title, description, area, status, created_at, updated_at)
	VALUES (:id, :owner_id, :title, :description, :area, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, topic); err != nil {
		return fmt.Errorf("create topic: %w", err)
	}
	return nil
}

// GetByID fetches a topic by identifier.
func (r *TopicRepository) GetByID(ctx context.Context, id string) (*models.Topic, error) {
	query := `SELECT ` + topicColumns + ` FROM topics WHERE id = $1`
	var topic models.Topic
	if err := r.db.GetContext(ctx, &topic, query, id); err != nil {
		return nil, err
	}
	return &topic, nil
}

// List returns topics matching the filter (newest first).
func (r *TopicRepository) List(ctx context.Context, filter models.TopicFilter) ([]models.Topic, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 5)
	builder.WriteString(`SELECT ` + topicColumns + ` FROM topics`)

	conditions := make([]string, 0, 4)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.Area != "" {
		args = append(args, filter.Area)
		conditions = append(conditions, fmt.Sprintf("area = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(title) LIKE $%d OR LOWER(description) LIKE $%d)", len(args), len(args)))
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

	var topics []models.Topic
	if err := r.db.SelectContext(ctx, &topics, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return topics, nil
}

// Update edits the content of an available topic. Returns sql.ErrNoRows when
// the topic is missing or no longer available.
func (r *TopicRepository) Update(ctx context.Context, topic *models.Topic) error {
	topic.UpdatedAt = time.Now().UTC()
	query := fmt.Sprintf(`UPDATE topics SET title = :title, description = :description, area = :area, updated_at = :updated_at
	WHERE id = :id AND status = '%s'`, models.TopicStatusAvailable)
	result, err := r.db.NamedExecContext(ctx, query, topic)
	if err != nil {
		return fmt.Errorf("update topic: %w", err)
	}
	return requireRowsAffected(result, "update topic")
}

// MarkTaken flips an available topic to taken. Returns sql.ErrNoRows when the
// topic does not exist; a topic already taken or completed is a no-op.
func (r *TopicRepository) MarkTaken(ctx context.Context, id string) error {
	const query = `UPDATE topics SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, id, models.TopicStatusTaken, time.Now().UTC(), models.TopicStatusAvailable)
	if err != nil {
		return fmt.Errorf("mark topic taken: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check topic update rows: %w", err)
	}
	if rows == 0 {
		// no-op for taken/completed topics; missing id is reported.
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM topics WHERE id = $1)`, id); err != nil {
			return fmt.Errorf("check topic exists: %w", err)
		}
		if !exists {
			return sql.ErrNoRows
		}
	}
	return nil
}

// Delete removes an available topic. Returns sql.ErrNoRows when the topic is
// missing or not deletable.
func (r *TopicRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM topics WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, models.TopicStatusAvailable)
	if err != nil {
		return fmt.Errorf("delete topic: %w", err)
	}
	return requireRowsAffected(result, "delete topic")
}

func requireRowsAffected(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
