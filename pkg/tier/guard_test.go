package tier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/familyhub/contextd/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	delay   time.Duration
	err     error
	recent  []memory.Record
	results []memory.SearchResult
	panics  bool
}

func (s *stubAdapter) Tier() memory.Tier { return memory.TierWorkingMemory }

func (s *stubAdapter) wait(ctx context.Context) error {
	if s.panics {
		panic("boom")
	}
	if s.delay == 0 {
		return s.err
	}
	select {
	case <-time.After(s.delay):
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stubAdapter) Write(ctx context.Context, _ *memory.Record) error { return s.wait(ctx) }

func (s *stubAdapter) ReadRecent(ctx context.Context, _, _ string, _ int) ([]memory.Record, error) {
	return s.recent, s.wait(ctx)
}

func (s *stubAdapter) Search(ctx context.Context, _, _ string, _ int) ([]memory.SearchResult, error) {
	return s.results, s.wait(ctx)
}

func (s *stubAdapter) Health(ctx context.Context) bool { return s.wait(ctx) == nil }

func record(id, owner, conv string, at time.Time) memory.Record {
	return memory.Record{ID: id, OwnerID: owner, ConversationID: conv, Role: memory.TurnUser, Text: id, CreatedAt: at}
}

func TestGuard_TimeoutBecomesTierError(t *testing.T) {
	g := Guard(&stubAdapter{delay: 200 * time.Millisecond}, 20*time.Millisecond)

	start := time.Now()
	_, err := g.Search(context.Background(), "u1", "schedule", 5)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	var te *memory.TierError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, memory.TierWorkingMemory, te.Tier)
	assert.True(t, te.Timeout())
}

func TestGuard_FiltersOtherOwners(t *testing.T) {
	now := time.Now()
	stub := &stubAdapter{
		recent: []memory.Record{
			record("a", "u1", "c1", now.Add(-2*time.Second)),
			record("b", "u2", "c1", now),
			record("c", "u1", "c1", now.Add(-time.Second)),
			record("d", "u1", "c2", now),
		},
		results: []memory.SearchResult{
			memory.NewSearchResult(record("x", "u2", "c1", now), memory.TierVector, 0.9),
			memory.NewSearchResult(record("y", "u1", "c1", now), memory.TierVector, 0.4),
		},
	}
	g := Guard(stub, time.Second)

	recs, err := g.ReadRecent(context.Background(), "u1", "c1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].ID)
	assert.Equal(t, "a", recs[1].ID)

	res, err := g.Search(context.Background(), "u1", "q", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "y", res[0].Record.ID)
	assert.Equal(t, memory.TierWorkingMemory, res[0].SourceTier)
}

func TestGuard_RejectsMissingOwnerAndInvalidRecords(t *testing.T) {
	g := Guard(&stubAdapter{}, time.Second)

	_, err := g.ReadRecent(context.Background(), "", "c1", 5)
	assert.Error(t, err)

	err = g.Write(context.Background(), &memory.Record{OwnerID: "u1"})
	assert.ErrorIs(t, err, memory.ErrInvalidRecord)
}

func TestGuard_RecoversPanics(t *testing.T) {
	g := Guard(&stubAdapter{panics: true}, time.Second)
	rec := record("r1", "u1", "c1", time.Now())
	err := g.Write(context.Background(), &rec)
	require.Error(t, err)
	_, ok := memory.TierOf(err)
	assert.True(t, ok)
	assert.False(t, g.Health(context.Background()))
}

func TestGuard_EmptyQueryIsNoop(t *testing.T) {
	g := Guard(&stubAdapter{err: errors.New("should not be called")}, time.Second)
	res, err := g.Search(context.Background(), "u1", "", 5)
	require.NoError(t, err)
	assert.Empty(t, res)
}
