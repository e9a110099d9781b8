package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtrade/engine/internal/auction"
)

func TestRun_DisabledWhenEveryIsZero(t *testing.T) {
	s := &Scheduler{Log: zerolog.Nop()}
	called := false
	err := s.Run(context.Background(), func(ctx context.Context, anchor auction.DateTime) (auction.BatchId, error) {
		called = true
		return auction.BatchId{}, nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestRun_AdvancesAnchorByExactlyEvery(t *testing.T) {
	s := &Scheduler{
		From:  auction.NewDateTime(time.Now().Add(-5 * time.Millisecond)),
		Every: 10 * time.Millisecond,
		Log:   zerolog.Nop(),
	}

	var anchors []auction.DateTime
	ctx, cancel := context.WithCancel(context.Background())

	err := s.Run(ctx, func(ctx context.Context, anchor auction.DateTime) (auction.BatchId, error) {
		anchors = append(anchors, anchor)
		if len(anchors) >= 3 {
			cancel()
		}
		return auction.NewBatchId(), nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, anchors, 3)

	for i := 1; i < len(anchors); i++ {
		delta := anchors[i].Time.Sub(anchors[i-1].Time)
		assert.Equal(t, s.Every, delta)
	}
}

func TestRun_PropagatesBatchError(t *testing.T) {
	s := &Scheduler{Every: time.Millisecond, Log: zerolog.Nop()}
	wantErr := assert.AnError
	err := s.Run(context.Background(), func(ctx context.Context, anchor auction.DateTime) (auction.BatchId, error) {
		return auction.BatchId{}, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}
