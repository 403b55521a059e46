// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"product_inventory/internal/database"
	"product_inventory/internal/model"
)

// NewDB opens a migrated sqlite database in a per-test temp directory.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "inventory_test.db")
	db, err := database.Open(database.Config{Driver: "sqlite", DSN: dsn}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Clock hands out strictly increasing timestamps, one step per call.
type Clock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func NewClock() *Clock {
	return &Clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Second}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

// Fields returns a valid editable field set with the given stock.
func Fields(name string, stock int) model.ProductFields {
	return model.ProductFields{
		Name:           name,
		Description:    name + " description",
		Price:          decimal.RequireFromString("19.99"),
		Category:       "Hardware",
		Brand:          "Acme",
		StockAvailable: stock,
		SKU:            "SKU-" + name,
	}
}
