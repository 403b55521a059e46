package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product_inventory/internal/model"
)

// fakeExistence answers lookups from a fixed set of taken ids.
type fakeExistence struct {
	mu     sync.Mutex
	taken  map[int]bool
	attempts int
	err    error
}

func (f *fakeExistence) ExistsByID(_ context.Context, id int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.err != nil {
		return false, f.err
	}
	return f.taken[id], nil
}

// sequence returns the given candidates in order, repeating the last one.
func sequence(ids ...int) CandidateSource {
	var mu sync.Mutex
	i := 0
	return func() int {
		mu.Lock()
		defer mu.Unlock()
		id := ids[i]
		if i < len(ids)-1 {
			i++
		}
		return id
	}
}

func TestAllocateSkipsTakenIDs(t *testing.T) {
	checker := &fakeExistence{taken: map[int]bool{111111: true, 222222: true}}
	a := NewIDAllocator(checker, zerolog.Nop(), WithCandidateSource(sequence(111111, 222222, 333333)))

	id, err := a.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 333333, id)
	assert.Equal(t, 3, checker.attempts)
}

func TestAllocateExhaustsAfterMaxAttempts(t *testing.T) {
	checker := &fakeExistence{taken: map[int]bool{424242: true}}
	a := NewIDAllocator(checker, zerolog.Nop(), WithCandidateSource(sequence(424242)))

	_, err := a.Allocate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrIDSpaceExhausted)

	var ex *model.ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, DefaultMaxAttempts, ex.Attempts)
	assert.Equal(t, DefaultMaxAttempts, checker.attempts)
}

func TestAllocateLookupErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	a := NewIDAllocator(&fakeExistence{err: boom}, zerolog.Nop())

	_, err := a.Allocate(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestAllocateRejectsOutOfRangeCandidate(t *testing.T) {
	a := NewIDAllocator(&fakeExistence{}, zerolog.Nop(), WithCandidateSource(sequence(42)))

	_, err := a.Allocate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out-of-range")
}

func TestAllocateHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker := &fakeExistence{}
	a := NewIDAllocator(checker, zerolog.Nop())

	_, err := a.Allocate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, checker.attempts)
}

func TestReserveRetriesOnDuplicateInsert(t *testing.T) {
	checker := &fakeExistence{taken: map[int]bool{}}
	a := NewIDAllocator(checker, zerolog.Nop(), WithCandidateSource(sequence(500001, 500002)))

	var tried []int
	id, err := a.Reserve(context.Background(), func(id int) error {
		tried = append(tried, id)
		if id == 500001 {
			// Lost the race: another writer inserted it after our lookup.
			return fmt.Errorf("insert product %d: %w", id, model.ErrDuplicateID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 500002, id)
	assert.Equal(t, []int{500001, 500002}, tried)
}

func TestReserveSharesAttemptBudgetWithDuplicates(t *testing.T) {
	a := NewIDAllocator(&fakeExistence{}, zerolog.Nop(),
		WithCandidateSource(sequence(600000)),
		WithMaxAttempts(5),
	)

	calls := 0
	_, err := a.Reserve(context.Background(), func(int) error {
		calls++
		return model.ErrDuplicateID
	})
	assert.ErrorIs(t, err, model.ErrIDSpaceExhausted)
	assert.Equal(t, 5, calls)
}

func TestReserveReturnsOtherInsertErrors(t *testing.T) {
	boom := errors.New("disk full")
	a := NewIDAllocator(&fakeExistence{}, zerolog.Nop())

	calls := 0
	_, err := a.Reserve(context.Background(), func(int) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRandomCandidateInRange(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 10000; i++ {
		id := RandomCandidate()
		require.True(t, model.ValidProductID(id), "id %d out of range", id)
		seen[id] = true
	}
	// 10k draws from 900k values: a handful of repeats at most.
	assert.Greater(t, len(seen), 9900)
}
