package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"product_inventory/internal/logging"
	"product_inventory/internal/model"
)

// ProductStore is the persistence contract of the product service.
type ProductStore interface {
	ExistenceChecker
	StockStore
	List(ctx context.Context) ([]model.Product, error)
	Insert(ctx context.Context, p *model.Product) error
	FindByID(ctx context.Context, id int) (*model.Product, error)
	ReplaceFields(ctx context.Context, id int, fields model.ProductFields) (*model.Product, error)
	Delete(ctx context.Context, id int) (bool, error)
	Movements(ctx context.Context, id int) ([]model.StockMovement, error)
	Now() time.Time
}

// ProductService is the one-call-per-operation surface used by the HTTP layer.
type ProductService struct {
	store     ProductStore
	allocator *IDAllocator
	ledger    *StockLedger
	log       zerolog.Logger
}

func NewProductService(store ProductStore, allocator *IDAllocator, ledger *StockLedger, log zerolog.Logger) *ProductService {
	return &ProductService{
		store:     store,
		allocator: allocator,
		ledger:    ledger,
		log:       log.With().Str("component", "product_service").Logger(),
	}
}

func (s *ProductService) List(ctx context.Context) ([]model.Product, error) {
	return s.store.List(ctx)
}

func (s *ProductService) Get(ctx context.Context, id int) (*model.Product, error) {
	return s.store.FindByID(ctx, id)
}

// Create allocates an id and inserts the product in one reservation loop.
func (s *ProductService) Create(ctx context.Context, fields model.ProductFields) (*model.Product, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}

	var created *model.Product
	_, err := s.allocator.Reserve(ctx, func(id int) error {
		now := s.store.Now()
		p := &model.Product{ID: id, CreatedAt: now, UpdatedAt: now}
		fields.Apply(p)
		if err := s.store.Insert(ctx, p); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	logging.FromContext(ctx, s.log).Info().Int("product_id", created.ID).Msg("Created product")
	return created, nil
}

// Replace overwrites all editable fields, stock included.
func (s *ProductService) Replace(ctx context.Context, id int, fields model.ProductFields) (*model.Product, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	p, err := s.store.ReplaceFields(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx, s.log).Info().Int("product_id", id).Msg("Updated product")
	return p, nil
}

// Delete reports whether a product was removed.
func (s *ProductService) Delete(ctx context.Context, id int) (bool, error) {
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		logging.FromContext(ctx, s.log).Info().Int("product_id", id).Msg("Deleted product")
	}
	return ok, nil
}

func (s *ProductService) IncrementStock(ctx context.Context, id, quantity int) (*model.Product, error) {
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}
	return s.ledger.AdjustStock(ctx, id, quantity, model.ReasonIncrement)
}

func (s *ProductService) DecrementStock(ctx context.Context, id, quantity int) (*model.Product, error) {
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}
	return s.ledger.AdjustStock(ctx, id, -quantity, model.ReasonDecrement)
}

// Movements returns the stock history of an existing product.
func (s *ProductService) Movements(ctx context.Context, id int) ([]model.StockMovement, error) {
	if _, err := s.store.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Movements(ctx, id)
}

func validateQuantity(quantity int) error {
	if quantity <= 0 {
		return model.NewValidationError("Quantity must be greater than 0")
	}
	if quantity > model.MaxStock {
		return model.NewValidationError(fmt.Sprintf("Quantity must be at most %d", model.MaxStock))
	}
	return nil
}
