package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"product_inventory/internal/model"
	"product_inventory/internal/reqid"
)

// ProductRepository is the gorm-backed product store. Every cross-request
// coordination happens through the database's transactions; the repository
// holds no in-process locks.
type ProductRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// pgUniqueViolation is the SQLSTATE postgres reports for a duplicate key.
const pgUniqueViolation = "23505"

type Option func(*ProductRepository)

// WithClock overrides the timestamp source used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(r *ProductRepository) { r.now = now }
}

func NewProductRepository(db *gorm.DB, opts ...Option) *ProductRepository {
	r := &ProductRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the repository clock reading.
func (r *ProductRepository) Now() time.Time { return r.now() }

// List returns every product ordered by name.
func (r *ProductRepository) List(ctx context.Context) ([]model.Product, error) {
	var list []model.Product
	if err := r.db.WithContext(ctx).Order("name ASC").Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return list, nil
}

func (r *ProductRepository) ExistsByID(ctx context.Context, id int) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Product{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("exists product %d: %w", id, err)
	}
	return count > 0, nil
}

// Insert persists p. A primary key conflict is reported as model.ErrDuplicateID
// so the allocator can retry with a fresh id.
func (r *ProductRepository) Insert(ctx context.Context, p *model.Product) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert product %d: %w", p.ID, model.ErrDuplicateID)
		}
		return fmt.Errorf("insert product %d: %w", p.ID, err)
	}
	return nil
}

func (r *ProductRepository) FindByID(ctx context.Context, id int) (*model.Product, error) {
	return findByID(r.db.WithContext(ctx), id)
}

// UpdateStock applies delta to the product's stock in one transaction.
//
// The conditional UPDATE is the read-modify-write: it takes the row's write
// lock and only matches when the result stays within [0, model.MaxStock], so
// two concurrent calls for one product serialize and neither loses the
// other's delta. When nothing matched, the row is read inside the same
// transaction to tell a missing product from a shortfall or an overflow. Any
// error rolls everything back.
func (r *ProductRepository) UpdateStock(ctx context.Context, id, delta int, reason string) (*model.Product, error) {
	var out *model.Product
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// |delta| <= MaxStock keeps MaxStock-delta inside int64 and the SQL sum inside bigint.
		if delta > model.MaxStock || delta < -model.MaxStock {
			current, err := findByID(tx, id)
			if err != nil {
				return err
			}
			return stockBoundError(current, delta)
		}

		now := r.now()
		res := tx.Model(&model.Product{}).
			Where("id = ? AND stock_available + ? >= 0 AND stock_available <= ?", id, delta, model.MaxStock-delta).
			Updates(map[string]any{
				"stock_available": gorm.Expr("stock_available + ?", delta),
				"updated_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			current, err := findByID(tx, id)
			if err != nil {
				return err
			}
			return stockBoundError(current, delta)
		}

		p, err := findByID(tx, id)
		if err != nil {
			return err
		}
		mv := &model.StockMovement{
			ProductID:  id,
			Delta:      delta,
			StockAfter: p.StockAvailable,
			Reason:     reason,
			RequestID:  reqid.FromCtx(ctx),
			CreatedAt:  now,
		}
		if err := tx.Create(mv).Error; err != nil {
			return fmt.Errorf("record stock movement: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReplaceFields overwrites every editable field of the product. ID and
// created_at are never touched.
func (r *ProductRepository) ReplaceFields(ctx context.Context, id int, fields model.ProductFields) (*model.Product, error) {
	var out *model.Product
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Product{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"name":            fields.Name,
				"description":     fields.Description,
				"price":           fields.Price,
				"category":        fields.Category,
				"brand":           fields.Brand,
				"stock_available": fields.StockAvailable,
				"sku":             fields.SKU,
				"updated_at":      r.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &model.NotFoundError{ID: id}
		}
		p, err := findByID(tx, id)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the row together with its stock movements, in one
// transaction. The id becomes reusable immediately and a new product that
// gets it starts with an empty history.
func (r *ProductRepository) Delete(ctx context.Context, id int) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&model.Product{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Where("product_id = ?", id).Delete(&model.StockMovement{}).Error; err != nil {
			return fmt.Errorf("delete stock movements: %w", err)
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete product %d: %w", id, err)
	}
	return deleted, nil
}

// Movements returns the stock ledger of a product, newest first.
func (r *ProductRepository) Movements(ctx context.Context, id int) ([]model.StockMovement, error) {
	var list []model.StockMovement
	err := r.db.WithContext(ctx).
		Where("product_id = ?", id).
		Order("id DESC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list stock movements %d: %w", id, err)
	}
	return list, nil
}

func stockBoundError(p *model.Product, delta int) error {
	if delta < 0 {
		return &model.InsufficientStockError{ID: p.ID, Available: p.StockAvailable, Delta: delta}
	}
	return &model.StockOverflowError{ID: p.ID, Available: p.StockAvailable, Delta: delta}
}

func findByID(db *gorm.DB, id int) (*model.Product, error) {
	var p model.Product
	if err := db.Where("id = ?", id).Take(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &model.NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("find product %d: %w", id, err)
	}
	return &p, nil
}

// isUniqueViolation 优先使用 gorm 的错误翻译，驱动未翻译时按驱动错误码判断。
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
