package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"product_inventory/internal/metrics"
	"product_inventory/internal/model"
)

// DefaultMaxAttempts bounds the attempts of one allocation.
const DefaultMaxAttempts = 100

// ExistenceChecker is the slice of the product store the allocator queries.
type ExistenceChecker interface {
	ExistsByID(ctx context.Context, id int) (bool, error)
}

// CandidateSource draws candidate ids in [model.MinProductID, model.MaxProductID].
type CandidateSource func() int

// RandomCandidate uses the runtime's ChaCha8 generator, seeded from OS entropy
// and safe for concurrent use, so simultaneous calls never share a sequence.
func RandomCandidate() int {
	return model.MinProductID + rand.IntN(model.MaxProductID-model.MinProductID+1)
}

// IDAllocator hands out six digit product ids that no live product holds.
//
// Uniqueness is finally enforced by the store's primary key: Reserve treats
// a duplicate key on insert as one more failed attempt, so two allocators in
// different processes can never commit the same id.
type IDAllocator struct {
	products    ExistenceChecker
	next        CandidateSource
	maxAttempts int
	log         zerolog.Logger
	metrics     *metrics.Metrics
}

type AllocatorOption func(*IDAllocator)

func WithCandidateSource(src CandidateSource) AllocatorOption {
	return func(a *IDAllocator) { a.next = src }
}

func WithMaxAttempts(n int) AllocatorOption {
	return func(a *IDAllocator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

func WithAllocatorMetrics(m *metrics.Metrics) AllocatorOption {
	return func(a *IDAllocator) { a.metrics = m }
}

func NewIDAllocator(products ExistenceChecker, log zerolog.Logger, opts ...AllocatorOption) *IDAllocator {
	a := &IDAllocator{
		products:    products,
		next:        RandomCandidate,
		maxAttempts: DefaultMaxAttempts,
		log:         log.With().Str("component", "id_allocator").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate searches for an id that is free right now. The answer is only a
// hint: use Reserve to make the reservation and the insert one step.
func (a *IDAllocator) Allocate(ctx context.Context) (int, error) {
	return a.Reserve(ctx, nil)
}

// Reserve searches for a free id and hands it to insert. A model.ErrDuplicateID
// from insert means another writer took the id between lookup and insert; it
// consumes an attempt and the loop draws again. Any other insert error is
// returned as is.
func (a *IDAllocator) Reserve(ctx context.Context, insert func(id int) error) (int, error) {
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		id := a.next()
		if !model.ValidProductID(id) {
			return 0, fmt.Errorf("candidate source produced out-of-range id %d", id)
		}

		exists, err := a.products.ExistsByID(ctx, id)
		if err != nil {
			a.log.Error().Err(err).Int("candidate", id).Msg("id lookup failed")
			return 0, fmt.Errorf("look up id %d: %w", id, err)
		}
		if exists {
			a.log.Warn().Int("candidate", id).Int("attempt", attempt).Msg("ID collision detected, attempting again")
			continue
		}

		if insert != nil {
			if err := insert(id); err != nil {
				if errors.Is(err, model.ErrDuplicateID) {
					a.log.Warn().Int("candidate", id).Int("attempt", attempt).Msg("id taken concurrently, attempting again")
					continue
				}
				return 0, err
			}
		}

		a.metrics.ObserveAllocation(attempt, true)
		a.log.Info().Int("product_id", id).Int("attempts", attempt).Msg("Generated unique product ID")
		return id, nil
	}

	a.metrics.ObserveAllocation(a.maxAttempts, false)
	err := &model.ExhaustedError{Attempts: a.maxAttempts}
	a.log.Error().Err(err).Msg("Error generating unique product ID")
	return 0, err
}
