package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
)

func TestMemoryQueryLogRepository_ListAndSummarize(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryQueryLogRepository(0).(*memoryQueryLogRepository)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return now }

	reqA, reqB := uuid.New(), uuid.New()
	require.NoError(t, repo.Create(ctx, &models.QueryLog{RequestID: reqA, Stage: models.StageShape, Outcome: models.OutcomeSuccess}))
	require.NoError(t, repo.Create(ctx, &models.QueryLog{RequestID: reqA, Stage: models.StageExecution, Outcome: models.OutcomeSuccess}))
	require.NoError(t, repo.Create(ctx, &models.QueryLog{RequestID: reqB, Stage: models.StageShape, Outcome: models.OutcomeSuccess}))
	now = now.Add(time.Hour)
	require.NoError(t, repo.Create(ctx, &models.QueryLog{
		RequestID: reqB, Stage: models.StageColumns, Outcome: models.OutcomeRejected, ErrorKind: "column_not_found",
	}))

	entries, err := repo.ListByRequest(ctx, reqA)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NotEqual(t, uuid.Nil, entries[0].ID)
	assert.Equal(t, models.StageShape, entries[0].Stage)

	all, err := repo.SummarizeSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []StageOutcomeCount{
		{Stage: models.StageShape, Outcome: models.OutcomeSuccess, Count: 2},
		{Stage: models.StageColumns, Outcome: models.OutcomeRejected, ErrorKind: "column_not_found", Count: 1},
		{Stage: models.StageExecution, Outcome: models.OutcomeSuccess, Count: 1},
	}, all)

	recent, err := repo.SummarizeSince(ctx, now)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, models.StageColumns, recent[0].Stage)
}

func TestMemoryQueryLogRepository_DropsOldest(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryQueryLogRepository(2)

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, repo.Create(ctx, &models.QueryLog{RequestID: id, Stage: models.StageShape}))
	}

	first, err := repo.ListByRequest(ctx, ids[0])
	require.NoError(t, err)
	assert.Empty(t, first)

	last, err := repo.ListByRequest(ctx, ids[2])
	require.NoError(t, err)
	assert.Len(t, last, 1)
}
