package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/thesis-desk-api/internal/dto"
	"github.com/noah-isme/thesis-desk-api/internal/models"
)

func newTopicFixture() (*TopicService, *topicRepoStub) {
	repo := newTopicRepoStub()
	return NewTopicService(repo, &auditStub{}, nil), repo
}

func TestTopicServiceCreate(t *testing.T) {
	svc, repo := newTopicFixture()

	topic, err := svc.Create(context.Background(), dto.CreateTopicRequest{
		Title:       "Stream joins",
		Description: "Windowed joins over Kafka",
		Area:        "Distributed Systems",
	}, tutorClaims("tutor-1"))
	require.NoError(t, err)
	require.Equal(t, models.TopicStatusAvailable, topic.Status)
	require.Equal(t, "tutor-1", topic.OwnerID)

	stored, err := repo.GetByID(context.Background(), topic.ID)
	require.NoError(t, err)
	require.Equal(t, topic.Title, stored.Title)
}

func TestTopicServiceCreateRejectsCatchAllArea(t *testing.T) {
	svc, _ := newTopicFixture()

	for _, area := range []string{"all", "Alle Bereiche", "ALLE BERREICHE", "", "   "} {
		_, err := svc.Create(context.Background(), dto.CreateTopicRequest{
			Title: "t", Description: "d", Area: area,
		}, tutorClaims("tutor-1"))
		require.Error(t, err, area)
	}
}

func TestTopicServiceCreateRequiresTutor(t *testing.T) {
	svc, _ := newTopicFixture()
	_, err := svc.Create(context.Background(), dto.CreateTopicRequest{
		Title: "t", Description: "d", Area: "Databases",
	}, studentClaims("student-1"))
	require.Error(t, err)
}

func TestTopicServiceStudentsOnlySeeAvailable(t *testing.T) {
	svc, repo := newTopicFixture()
	require.NoError(t, repo.Create(context.Background(), &models.Topic{ID: "a", OwnerID: "tutor-1", Title: "A", Description: "d", Area: "Databases", Status: models.TopicStatusAvailable}))
	require.NoError(t, repo.Create(context.Background(), &models.Topic{ID: "b", OwnerID: "tutor-1", Title: "B", Description: "d", Area: "Databases", Status: models.TopicStatusTaken}))

	topics, err := svc.List(context.Background(), dto.TopicQuery{}, studentClaims("student-1"))
	require.NoError(t, err)
	require.Len(t, topics, 1)
	require.Equal(t, "a", topics[0].ID)

	topics, err = svc.List(context.Background(), dto.TopicQuery{}, tutorClaims("tutor-1"))
	require.NoError(t, err)
	require.Len(t, topics, 2)
}

func TestTopicServiceListCatchAllAreaDisablesFilter(t *testing.T) {
	svc, repo := newTopicFixture()
	require.NoError(t, repo.Create(context.Background(), &models.Topic{ID: "a", OwnerID: "tutor-1", Title: "A", Description: "d", Area: "Databases"}))
	require.NoError(t, repo.Create(context.Background(), &models.Topic{ID: "b", OwnerID: "tutor-1", Title: "B", Description: "d", Area: "Security"}))

	topics, err := svc.List(context.Background(), dto.TopicQuery{Area: "Alle Bereiche"}, tutorClaims("tutor-1"))
	require.NoError(t, err)
	require.Len(t, topics, 2)

	topics, err = svc.List(context.Background(), dto.TopicQuery{Area: "Security"}, tutorClaims("tutor-1"))
	require.NoError(t, err)
	require.Len(t, topics, 1)
}

func TestTopicServiceUpdateOwnership(t *testing.T) {
	svc, repo := newTopicFixture()
	require.NoError(t, repo.Create(context.Background(), &models.Topic{ID: "a", OwnerID: "tutor-1", Title: "A", Description: "d", Area: "Databases"}))

	title := "A2"
	_, err := svc.Update(context.Background(), "a", dto.UpdateTopicRequest{Title: &title}, tutorClaims("tutor-2"))
	require.Error(t, err)

	updated, err := svc.Update(context.Background(), "a", dto.UpdateTopicRequest{Title: &title}, tutorClaims("tutor-1"))
	require.NoError(t, err)
	require.Equal(t, "A2", updated.Title)
}

func TestTopicServiceUpdateRejectsBlankArea(t *testing.T) {
	svc, repo := newTopicFixture()
	require.NoError(t, repo.Create(context.Background(), &models.Topic{ID: "a", OwnerID: "tutor-1", Title: "A", Description: "d", Area: "Databases"}))

	blank := "   "
	_, err := svc.Update(context.Background(), "a", dto.UpdateTopicRequest{Area: &blank}, tutorClaims("tutor-1"))
	require.Error(t, err)
}

func TestTopicServiceUpdateBlockedOnceTaken(t *testing.T) {
	svc, repo := newTopicFixture()
	require.NoError(t, repo.Create(context.Background(), &models.Topic{ID: "a", OwnerID: "tutor-1", Title: "A", Description: "d", Area: "Databases", Status: models.TopicStatusTaken}))

	title := "A2"
	_, err := svc.Update(context.Background(), "a", dto.UpdateTopicRequest{Title: &title}, tutorClaims("tutor-1"))
	require.Error(t, err)
}

func TestTopicServiceDelete(t *testing.T) {
	svc, repo := newTopicFixture()
	require.NoError(t, repo.Create(context.Background(), &models.Topic{ID: "a", OwnerID: "tutor-1", Title: "A", Description: "d", Area: "Databases"}))

	require.Error(t, svc.Delete(context.Background(), "a", tutorClaims("tutor-2")))
	require.NoError(t, svc.Delete(context.Background(), "a", tutorClaims("tutor-1")))
	require.Error(t, svc.Delete(context.Background(), "a", tutorClaims("tutor-1")))
}
