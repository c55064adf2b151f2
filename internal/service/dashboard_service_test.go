package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/thesis-desk-api/internal/models"
)

func TestDashboardServiceCountersScoped(t *testing.T) {
	repo := newRequestRepoStub()
	a := openRequest("alpha", "")
	a.StudentID = "student-1"
	repo.put(a)
	b := openRequest("beta", "")
	b.StudentID = "student-1"
	b.Status = models.RequestStatusAccepted
	repo.put(b)
	c := openRequest("gamma", "")
	c.StudentID = "student-2"
	repo.put(c)

	cache := NewCacheService(nil, nil, 0, nil, false)
	svc := NewDashboardService(repo, cache, nil, 0, nil)

	counts, err := svc.Counters(context.Background(), studentClaims("student-1"))
	require.NoError(t, err)
	require.Equal(t, 2, counts.Total)
	require.Equal(t, 1, counts.Counts[models.RequestStatusOpen])
	require.Equal(t, 1, counts.Counts[models.RequestStatusAccepted])

	counts, err = svc.Counters(context.Background(), adminClaims())
	require.NoError(t, err)
	require.Equal(t, 3, counts.Total)
}

func TestDashboardServiceSystemRequiresAdmin(t *testing.T) {
	cache := NewCacheService(nil, nil, 0, nil, false)
	svc := NewDashboardService(newRequestRepoStub(), cache, NewMetricsService(), 0, nil)

	_, err := svc.System(tutorClaims("tutor-1"))
	require.Error(t, err)

	snapshot, err := svc.System(adminClaims())
	require.NoError(t, err)
	require.NotNil(t, snapshot)
}
