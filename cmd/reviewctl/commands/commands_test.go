package commands

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reco-agent/backend/internal/storage/models"
)

func TestDecodeReviews(t *testing.T) {
	bare, err := decodeReviews([]byte(`[{"author_name":"A","rating":5,"review_body":"Soft"}]`))
	require.NoError(t, err)
	require.Len(t, bare, 1)
	assert.Equal(t, "Soft", bare[0].Body)

	wrapped, err := decodeReviews([]byte(`{"reviews":[{"author_name":"B","review_body":"Snug","product":"X"}]}`))
	require.NoError(t, err)
	require.Len(t, wrapped, 1)
	assert.Equal(t, "X", wrapped[0].ProductID)

	_, err = decodeReviews([]byte(`{"items":[]}`))
	assert.Error(t, err)

	_, err = decodeReviews([]byte(`nope`))
	assert.Error(t, err)
}

type sequenceGetter struct {
	statuses []string
	calls    int
}

func (s *sequenceGetter) Get(ctx context.Context, id string) (*models.ResearchSession, error) {
	status := s.statuses[min(s.calls, len(s.statuses)-1)]
	s.calls++
	return &models.ResearchSession{ID: id, Status: status}, nil
}

func TestWaitForResearch(t *testing.T) {
	g := &sequenceGetter{statuses: []string{models.ResearchRunning, models.ResearchRunning, models.ResearchDone}}
	session, err := waitForResearch(context.Background(), g, "rs", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.ResearchDone, session.Status)
	assert.Equal(t, 3, g.calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = waitForResearch(ctx, &sequenceGetter{statuses: []string{models.ResearchRunning}}, "rs", time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
