package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/thesis-desk-api/internal/dto"
	"github.com/noah-isme/thesis-desk-api/internal/models"
	"github.com/noah-isme/thesis-desk-api/internal/repository"
)

// requestRepoStub mimics the persistence guards: every status-bearing write
// checks the stored version the way the SQL layer does.
type requestRepoStub struct {
	mu       sync.Mutex
	requests map[string]*models.SupervisionRequest
}

func newRequestRepoStub() *requestRepoStub {
	return &requestRepoStub{requests: make(map[string]*models.SupervisionRequest)}
}

func (r *requestRepoStub) put(req *models.SupervisionRequest) {
	if req.Version == 0 {
		req.Version = 1
	}
	r.requests[req.ID] = req
}

func (r *requestRepoStub) Create(ctx context.Context, request *models.SupervisionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if request.ID == "" {
		request.ID = "req-" + strings.ToLower(request.Title)
	}
	if request.Version == 0 {
		request.Version = 1
	}
	clone := *request
	r.requests[request.ID] = &clone
	return nil
}

func (r *requestRepoStub) GetByID(ctx context.Context, id string) (*models.SupervisionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req, ok := r.requests[id]; ok {
		clone := *req
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

// List mimics the SQL layer's paging: deterministic order, the same default
// and maximum page size.
func (r *requestRepoStub) List(ctx context.Context, filter models.RequestFilter) ([]models.SupervisionRequest, error) {
	out := r.matching(filter)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *requestRepoStub) matching(filter models.RequestFilter) []models.SupervisionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SupervisionRequest
	for _, req := range r.requests {
		if filter.TopicID != "" && (req.TopicID == nil || *req.TopicID != filter.TopicID) {
			continue
		}
		if filter.ExcludeID != "" && req.ID == filter.ExcludeID {
			continue
		}
		if filter.StudentID != "" && req.StudentID != filter.StudentID {
			continue
		}
		if filter.SupervisorID != "" && req.SupervisorID != filter.SupervisorID {
			continue
		}
		if filter.ReviewerID != "" || filter.ReviewerEmail != "" {
			matched := false
			if filter.ReviewerID != "" && req.SecondReviewerID != nil && *req.SecondReviewerID == filter.ReviewerID {
				matched = true
			}
			if filter.ReviewerEmail != "" && req.SecondReviewerEmail != nil && strings.EqualFold(*req.SecondReviewerEmail, filter.ReviewerEmail) {
				matched = true
			}
			if !matched {
				continue
			}
		}
		if len(filter.Status) > 0 {
			matched := false
			for _, status := range filter.Status {
				if req.Status == status {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		out = append(out, *req)
	}
	return out
}

func (r *requestRepoStub) CountByStatus(ctx context.Context, filter models.RequestFilter) (map[models.RequestStatus]int, error) {
	counts := make(map[models.RequestStatus]int)
	for _, req := range r.matching(filter) {
		counts[req.Status]++
	}
	return counts, nil
}

func (r *requestRepoStub) UpdateStatus(ctx context.Context, params repository.UpdateStatusParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[params.ID]
	if !ok || req.Version != params.ExpectedVersion {
		return sql.ErrNoRows
	}
	if len(params.AllowedFrom) > 0 {
		allowed := false
		for _, status := range params.AllowedFrom {
			if req.Status == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return sql.ErrNoRows
		}
	}
	req.Status = params.Status
	req.Version++
	return nil
}

func (r *requestRepoStub) UpdateReviewer(ctx context.Context, params repository.UpdateReviewerParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[params.ID]
	if !ok || req.Version != params.ExpectedVersion {
		return sql.ErrNoRows
	}
	req.SecondReviewerID = params.ReviewerID
	req.SecondReviewerName = params.ReviewerName
	req.SecondReviewerEmail = params.ReviewerEmail
	req.SecondReviewerStatus = params.ReviewerStatus
	req.Version++
	return nil
}

func (r *requestRepoStub) UpdateReviewerDecision(ctx context.Context, params repository.ReviewerDecisionParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[params.ID]
	if !ok || req.Version != params.ExpectedVersion || req.SecondReviewerStatus != models.ReviewerStatusPending {
		return sql.ErrNoRows
	}
	req.SecondReviewerStatus = params.Decision
	req.Version++
	return nil
}

func (r *requestRepoStub) UpdateInvoice(ctx context.Context, params repository.UpdateInvoiceParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[params.ID]
	if !ok || req.Version != params.ExpectedVersion {
		return sql.ErrNoRows
	}
	if params.InvoiceSupervisorCreated != nil {
		req.InvoiceSupervisorCreated = *params.InvoiceSupervisorCreated
	}
	if params.InvoiceReviewerCreated != nil {
		req.InvoiceReviewerCreated = *params.InvoiceReviewerCreated
	}
	if params.PaidSupervisor != nil {
		req.PaidSupervisor = *params.PaidSupervisor
	}
	if params.PaidReviewer != nil {
		req.PaidReviewer = *params.PaidReviewer
	}
	if params.Status != nil {
		req.Status = *params.Status
	}
	req.Version++
	return nil
}

func (r *requestRepoStub) Delete(ctx context.Context, id, studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok || req.StudentID != studentID {
		return sql.ErrNoRows
	}
	if req.Status != models.RequestStatusOpen && req.Status != models.RequestStatusRejected {
		return sql.ErrNoRows
	}
	delete(r.requests, id)
	return nil
}

type topicRepoStub struct {
	mu     sync.Mutex
	topics map[string]*models.Topic
}

func newTopicRepoStub() *topicRepoStub {
	return &topicRepoStub{topics: make(map[string]*models.Topic)}
}

func (t *topicRepoStub) Create(ctx context.Context, topic *models.Topic) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if topic.ID == "" {
		topic.ID = "topic-" + strings.ToLower(topic.Title)
	}
	if topic.Status == "" {
		topic.Status = models.TopicStatusAvailable
	}
	clone := *topic
	t.topics[topic.ID] = &clone
	return nil
}

func (t *topicRepoStub) GetByID(ctx context.Context, id string) (*models.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if topic, ok := t.topics[id]; ok {
		clone := *topic
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (t *topicRepoStub) List(ctx context.Context, filter models.TopicFilter) ([]models.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.Topic
	for _, topic := range t.topics {
		if len(filter.Status) > 0 {
			matched := false
			for _, status := range filter.Status {
				if topic.Status == status {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		if filter.Area != "" && !strings.EqualFold(topic.Area, filter.Area) {
			continue
		}
		if filter.OwnerID != "" && topic.OwnerID != filter.OwnerID {
			continue
		}
		out = append(out, *topic)
	}
	return out, nil
}

func (t *topicRepoStub) Update(ctx context.Context, topic *models.Topic) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	stored, ok := t.topics[topic.ID]
	if !ok || stored.Status != models.TopicStatusAvailable {
		return sql.ErrNoRows
	}
	clone := *topic
	t.topics[topic.ID] = &clone
	return nil
}

func (t *topicRepoStub) MarkTaken(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	topic, ok := t.topics[id]
	if !ok {
		return sql.ErrNoRows
	}
	if topic.Status == models.TopicStatusAvailable {
		topic.Status = models.TopicStatusTaken
	}
	return nil
}

func (t *topicRepoStub) Delete(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	topic, ok := t.topics[id]
	if !ok || topic.Status != models.TopicStatusAvailable {
		return sql.ErrNoRows
	}
	delete(t.topics, id)
	return nil
}

type directoryStub struct {
	tutors map[string]models.DirectoryEntry
}

func (d *directoryStub) Resolve(ctx context.Context, id, email string) (*models.DirectoryEntry, error) {
	for _, entry := range d.tutors {
		if (id != "" && entry.ID == id) || (email != "" && strings.EqualFold(entry.Email, email)) {
			clone := entry
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

type auditStub struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent, Email: id + "@uni.example", FullName: "Student " + id}
}

func tutorClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTutor, Email: id + "@uni.example", FullName: "Tutor " + id}
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin, Email: "admin@uni.example"}
}

func newWorkflowFixture() (*RequestService, *requestRepoStub, *topicRepoStub) {
	repo := newRequestRepoStub()
	topics := newTopicRepoStub()
	directory := &directoryStub{tutors: map[string]models.DirectoryEntry{
		"tutor-1": {ID: "tutor-1", Name: "Dr. Lang", Email: "tutor-1@uni.example", Area: "Databases"},
		"tutor-2": {ID: "tutor-2", Name: "Dr. Brandt", Email: "tutor-2@uni.example", Area: "Distributed Systems"},
	}}
	svc := NewRequestService(repo, topics, directory, &auditStub{}, nil)
	return svc, repo, topics
}

func openRequest(id, topicID string) *models.SupervisionRequest {
	req := &models.SupervisionRequest{
		ID:              id,
		StudentID:       "student-" + id,
		StudentEmail:    "student-" + id + "@uni.example",
		SupervisorID:    "tutor-1",
		SupervisorEmail: "tutor-1@uni.example",
		Title:           id,
		Description:     "desc",
		ExposeURL:       "https://uni.example/" + id + ".pdf",
		Status:          models.RequestStatusOpen,
		Version:         1,
	}
	if topicID != "" {
		req.TopicID = &topicID
	}
	return req
}

func TestRequestServiceCreateBindsTopic(t *testing.T) {
	svc, repo, topics := newWorkflowFixture()
	require.NoError(t, topics.Create(context.Background(), &models.Topic{
		ID: "topic-1", OwnerID: "tutor-1", Title: "Graphs", Description: "d", Area: "Databases",
	}))

	request, err := svc.Create(context.Background(), dto.CreateRequestPayload{
		SupervisorEmail: "Tutor-1@uni.example",
		TopicID:         "topic-1",
		Title:           "Graph partitioning",
		Description:     "study",
		ExposeURL:       "https://uni.example/expose.pdf",
	}, studentClaims("student-1"))
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusOpen, request.Status)
	require.Equal(t, "tutor-1", request.SupervisorID)
	require.Equal(t, "Databases", request.Area)
	require.NotNil(t, request.TopicID)

	stored, err := repo.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	require.Equal(t, request.ID, stored.ID)
}

func TestRequestServiceCreateRejectsCatchAllArea(t *testing.T) {
	svc, _, _ := newWorkflowFixture()
	_, err := svc.Create(context.Background(), dto.CreateRequestPayload{
		SupervisorID: "tutor-1",
		Title:        "x", Description: "y", ExposeURL: "https://uni.example/e.pdf",
		Area: "Alle Bereiche",
	}, studentClaims("student-1"))
	require.Error(t, err)
}

func TestRequestServiceCreateRequiresStudent(t *testing.T) {
	svc, _, _ := newWorkflowFixture()
	_, err := svc.Create(context.Background(), dto.CreateRequestPayload{
		SupervisorID: "tutor-1",
		Title:        "x", Description: "y", ExposeURL: "https://uni.example/e.pdf",
	}, tutorClaims("tutor-1"))
	require.Error(t, err)
}

func TestRequestServiceTransitionTable(t *testing.T) {
	svc, repo, _ := newWorkflowFixture()
	repo.put(openRequest("alpha", ""))

	_, err := svc.Transition(context.Background(), "alpha", dto.TransitionPayload{Target: models.RequestStatusSubmitted}, tutorClaims("tutor-1"))
	require.Error(t, err)

	updated, err := svc.Transition(context.Background(), "alpha", dto.TransitionPayload{Target: models.RequestStatusAccepted}, tutorClaims("tutor-1"))
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusAccepted, updated.Status)
}

func TestRequestServiceTransitionSelfIsNoOp(t *testing.T) {
	svc, repo, _ := newWorkflowFixture()
	request := openRequest("alpha", "")
	request.Status = models.RequestStatusAccepted
	repo.put(request)

	updated, err := svc.Transition(context.Background(), "alpha", dto.TransitionPayload{Target: models.RequestStatusAccepted}, tutorClaims("tutor-1"))
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusAccepted, updated.Status)

	stored, err := repo.GetByID(context.Background(), "alpha")
	require.NoError(t, err)
	require.Equal(t, 1, stored.Version)
}

func TestRequestServiceAcceptCascade(t *testing.T) {
	svc, repo, topics := newWorkflowFixture()
	require.NoError(t, topics.Create(context.Background(), &models.Topic{
		ID: "topic-1", OwnerID: "tutor-1", Title: "t", Description: "d", Area: "Databases",
	}))
	repo.put(openRequest("alpha", "topic-1"))
	repo.put(openRequest("beta", "topic-1"))
	repo.put(openRequest("gamma", "topic-1"))

	_, err := svc.Transition(context.Background(), "alpha", dto.TransitionPayload{Target: models.RequestStatusAccepted}, tutorClaims("tutor-1"))
	require.NoError(t, err)

	accepted, rejected := 0, 0
	for _, id := range []string{"alpha", "beta", "gamma"} {
		stored, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		switch stored.Status {
		case models.RequestStatusAccepted:
			accepted++
		case models.RequestStatusRejected:
			rejected++
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, 2, rejected)

	topic, err := topics.GetByID(context.Background(), "topic-1")
	require.NoError(t, err)
	require.Equal(t, models.TopicStatusTaken, topic.Status)
}

func TestRequestServiceAcceptCascadeRejectsAcceptedSibling(t *testing.T) {
	svc, repo, topics := newWorkflowFixture()
	require.NoError(t, topics.Create(context.Background(), &models.Topic{
		ID: "topic-1", OwnerID: "tutor-1", Title: "t", Description: "d", Area: "Databases",
	}))
	sibling := openRequest("alpha", "topic-1")
	sibling.Status = models.RequestStatusAccepted
	repo.put(sibling)
	repo.put(openRequest("beta", "topic-1"))

	_, err := svc.Transition(context.Background(), "beta", dto.TransitionPayload{Target: models.RequestStatusAccepted}, tutorClaims("tutor-1"))
	require.NoError(t, err)

	nonRejected := 0
	for _, id := range []string{"alpha", "beta"} {
		stored, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		if stored.Status != models.RequestStatusRejected {
			nonRejected++
		}
	}
	require.Equal(t, 1, nonRejected)

	stored, err := repo.GetByID(context.Background(), "alpha")
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusRejected, stored.Status)
}

func TestRequestServiceAcceptCascadeSpansListingPages(t *testing.T) {
	svc, repo, topics := newWorkflowFixture()
	require.NoError(t, topics.Create(context.Background(), &models.Topic{
		ID: "topic-1", OwnerID: "tutor-1", Title: "t", Description: "d", Area: "Databases",
	}))
	repo.put(openRequest("winner", "topic-1"))
	for i := 0; i < 220; i++ {
		repo.put(openRequest(fmt.Sprintf("sib-%03d", i), "topic-1"))
	}

	_, err := svc.Transition(context.Background(), "winner", dto.TransitionPayload{Target: models.RequestStatusAccepted}, tutorClaims("tutor-1"))
	require.NoError(t, err)

	for i := 0; i < 220; i++ {
		stored, err := repo.GetByID(context.Background(), fmt.Sprintf("sib-%03d", i))
		require.NoError(t, err)
		require.Equal(t, models.RequestStatusRejected, stored.Status)
	}
}

func TestRequestServiceConcurrentAcceptsSettleToOne(t *testing.T) {
	svc, repo, topics := newWorkflowFixture()
	require.NoError(t, topics.Create(context.Background(), &models.Topic{
		ID: "topic-1", OwnerID: "tutor-1", Title: "t", Description: "d", Area: "Databases",
	}))
	repo.put(openRequest("alpha", "topic-1"))
	repo.put(openRequest("beta", "topic-1"))

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, id := range []string{"alpha", "beta"} {
		wg.Add(1)
		go func(requestID string) {
			defer wg.Done()
			_, err := svc.Transition(context.Background(), requestID, dto.TransitionPayload{Target: models.RequestStatusAccepted}, tutorClaims("tutor-1"))
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	var failures int
	for err := range results {
		if err != nil {
			failures++
		}
	}
	require.Equal(t, 1, failures)

	accepted := 0
	for _, id := range []string{"alpha", "beta"} {
		stored, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		if stored.Status == models.RequestStatusAccepted {
			accepted++
		}
	}
	require.Equal(t, 1, accepted)
}

func TestRequestServiceInProgressNeedsAcceptedReviewer(t *testing.T) {
	svc, repo, _ := newWorkflowFixture()
	req := openRequest("alpha", "")
	req.Status = models.RequestStatusAccepted
	repo.put(req)

	_, err := svc.Transition(context.Background(), "alpha", dto.TransitionPayload{Target: models.RequestStatusInProgress}, tutorClaims("tutor-1"))
	require.Error(t, err)

	stored := repo.requests["alpha"]
	stored.SecondReviewerStatus = models.ReviewerStatusAccepted

	updated, err := svc.Transition(context.Background(), "alpha", dto.TransitionPayload{Target: models.RequestStatusInProgress}, tutorClaims("tutor-1"))
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusInProgress, updated.Status)
}

func TestRequestServiceFinishNeedsSettledLedger(t *testing.T) {
	svc, repo, _ := newWorkflowFixture()
	req := openRequest("alpha", "")
	req.Status = models.RequestStatusInvoiced
	req.SecondReviewerStatus = models.ReviewerStatusAccepted
	req.InvoiceSupervisorCreated = true
	req.PaidSupervisor = true
	repo.put(req)

	// reviewer pair still open
	_, err := svc.Transition(context.Background(), "alpha", dto.TransitionPayload{Target: models.RequestStatusFinished}, tutorClaims("tutor-1"))
	require.Error(t, err)

	stored := repo.requests["alpha"]
	stored.InvoiceReviewerCreated = true
	stored.PaidReviewer = true

	updated, err := svc.Transition(context.Background(), "alpha", dto.TransitionPayload{Target: models.RequestStatusFinished}, tutorClaims("tutor-1"))
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusFinished, updated.Status)
}

func TestRequestServiceStudentSubmitsOwnWork(t *testing.T) {
	svc, repo, _ := newWorkflowFixture()
	req := openRequest("alpha", "")
	req.Status = models.RequestStatusInProgress
	req.StudentID = "student-9"
	repo.put(req)

	// students cannot run supervisor transitions
	_, err := svc.Transition(context.Background(), "alpha", dto.TransitionPayload{Target: models.RequestStatusColloquiumHeld}, studentClaims("student-9"))
	require.Error(t, err)

	updated, err := svc.Transition(context.Background(), "alpha", dto.TransitionPayload{Target: models.RequestStatusSubmitted}, studentClaims("student-9"))
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusSubmitted, updated.Status)
}

func TestRequestServiceDeleteScope(t *testing.T) {
	svc, repo, _ := newWorkflowFixture()
	req := openRequest("alpha", "")
	req.StudentID = "student-1"
	repo.put(req)

	require.Error(t, svc.Delete(context.Background(), "alpha", studentClaims("student-2")))
	require.NoError(t, svc.Delete(context.Background(), "alpha", studentClaims("student-1")))

	accepted := openRequest("beta", "")
	accepted.StudentID = "student-1"
	accepted.Status = models.RequestStatusAccepted
	repo.put(accepted)
	require.Error(t, svc.Delete(context.Background(), "beta", studentClaims("student-1")))
}

func TestRequestServiceListScopes(t *testing.T) {
	svc, repo, _ := newWorkflowFixture()
	mine := openRequest("alpha", "")
	mine.StudentID = "student-1"
	repo.put(mine)
	other := openRequest("beta", "")
	other.StudentID = "student-2"
	repo.put(other)

	list, err := svc.List(context.Background(), dto.RequestQuery{}, studentClaims("student-1"))
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "alpha", list[0].ID)

	list, err = svc.List(context.Background(), dto.RequestQuery{}, adminClaims())
	require.NoError(t, err)
	require.Len(t, list, 2)
}
