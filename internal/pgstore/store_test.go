package pgstore

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acedge123/edge-bot/internal/log"
	"github.com/acedge123/edge-bot/internal/queue"
	"github.com/acedge123/edge-bot/internal/writeback"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("EDGE_BOT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("EDGE_BOT_TEST_DATABASE_URL not set")
	}

	_, err := Migrate(dsn)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := OpenPool(ctx, dsn, PoolOptions{MaxConns: 4, ConnectAttempts: 1})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `TRUNCATE jobs, chat_writebacks`)
	require.NoError(t, err)
	return New(pool, "test-worker")
}

func TestMigrateIsIdempotent(t *testing.T) {
	dsn := os.Getenv("EDGE_BOT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("EDGE_BOT_TEST_DATABASE_URL not set")
	}
	first, err := Migrate(dsn)
	require.NoError(t, err)
	second, err := Migrate(dsn)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestClaimAcknowledgeLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	id, err := s.Enqueue(ctx, map[string]any{"text": "hello"})
	require.NoError(t, err)

	job, err = s.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, "hello", job.Payload["text"])

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRunning, rec.Status)
	assert.Equal(t, "test-worker", rec.WorkerID)
	require.NotNil(t, rec.ClaimedAt)

	require.NoError(t, s.Acknowledge(ctx, id, queue.OutcomeFailed, "boom"))
	require.NoError(t, s.Acknowledge(ctx, id, queue.OutcomeFailed, "boom"))
	require.Error(t, s.Acknowledge(ctx, id, queue.OutcomeDone, ""))

	rec, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, rec.Status)
	assert.Equal(t, "boom", rec.LastError)
}

func TestAcknowledgeUnknownJob(t *testing.T) {
	s := newTestStore(t)

	err := s.Acknowledge(context.Background(), "00000000-0000-0000-0000-000000000000", queue.OutcomeDone, "")
	var qe *queue.QueueError
	require.True(t, errors.As(err, &qe))
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestConcurrentClaimsAreExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const total = 20
	for i := 0; i < total; i++ {
		_, err := s.Enqueue(ctx, map[string]any{"n": i})
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := s.Claim(ctx)
				if err != nil || job == nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestRecordWriteback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, writeback.Entry{
		Kind: writeback.KindProgress, Text: "still working", JobID: "j", ConversationID: "c", UserID: "u",
	}))
	require.Error(t, s.Record(ctx, writeback.Entry{Kind: "other", Text: "x"}))

	var n int
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT count(*) FROM chat_writebacks WHERE job_id = 'j'`).Scan(&n))
	assert.Equal(t, 1, n)
}
