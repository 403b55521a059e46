package model

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Product id range: exactly six digits.
const (
	MinProductID = 100000
	MaxProductID = 999999
)

// MaxStock caps stock and single adjustments at the 32-bit range clients bind.
const MaxStock = math.MaxInt32

// Product is an inventory record. ID is assigned by the allocator, never by the store.
type Product struct {
	ID          int             `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name        string          `gorm:"size:200;not null;index" json:"name"`
	Description string          `gorm:"size:1000" json:"description"`
	Price       decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"price"`
	Category    string          `gorm:"size:100;not null" json:"category"`
	Brand       string          `gorm:"size:50;not null" json:"brand"`
	// StockAvailable 只能通过整单替换或库存台账修改，永不为负。
	StockAvailable int       `gorm:"not null;default:0;check:stock_available >= 0" json:"stock_available"`
	SKU            string    `gorm:"size:50" json:"sku"`
	CreatedAt      time.Time `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
}

func (Product) TableName() string { return "products" }

// ValidProductID reports whether id is a six digit product id.
func ValidProductID(id int) bool {
	return id >= MinProductID && id <= MaxProductID
}

// ProductFields is the editable field set shared by create and full replace.
type ProductFields struct {
	Name           string          `json:"name" binding:"required,min=1,max=200"`
	Description    string          `json:"description" binding:"max=1000"`
	Price          decimal.Decimal `json:"price" binding:"required"`
	Category       string          `json:"category" binding:"required,min=1,max=100"`
	Brand          string          `json:"brand" binding:"required,min=1,max=50"`
	StockAvailable int             `json:"stock_available" binding:"min=0,max=2147483647"`
	SKU            string          `json:"sku" binding:"max=50"`
}

// Validate checks the rules binding tags cannot express and re-checks the rest,
// so callers outside the HTTP layer get the same guarantees.
func (f ProductFields) Validate() error {
	var errs []string
	if strings.TrimSpace(f.Name) == "" {
		errs = append(errs, "name is required")
	} else if utf8.RuneCountInString(f.Name) > 200 {
		errs = append(errs, "name must be at most 200 characters")
	}
	if utf8.RuneCountInString(f.Description) > 1000 {
		errs = append(errs, "description must be at most 1000 characters")
	}
	if !f.Price.IsPositive() {
		errs = append(errs, "Price must be greater than 0")
	} else if !f.Price.Equal(f.Price.Round(2)) {
		errs = append(errs, "price must have at most 2 decimal places")
	}
	if strings.TrimSpace(f.Category) == "" {
		errs = append(errs, "category is required")
	} else if utf8.RuneCountInString(f.Category) > 100 {
		errs = append(errs, "category must be at most 100 characters")
	}
	if strings.TrimSpace(f.Brand) == "" {
		errs = append(errs, "brand is required")
	} else if utf8.RuneCountInString(f.Brand) > 50 {
		errs = append(errs, "brand must be at most 50 characters")
	}
	if f.StockAvailable < 0 {
		errs = append(errs, "Stock must be non-negative")
	} else if f.StockAvailable > MaxStock {
		errs = append(errs, fmt.Sprintf("Stock must be at most %d", MaxStock))
	}
	if utf8.RuneCountInString(f.SKU) > 50 {
		errs = append(errs, "sku must be at most 50 characters")
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// Apply copies the editable fields onto p. ID and CreatedAt are left alone.
func (f ProductFields) Apply(p *Product) {
	p.Name = f.Name
	p.Description = f.Description
	p.Price = f.Price
	p.Category = f.Category
	p.Brand = f.Brand
	p.StockAvailable = f.StockAvailable
	p.SKU = f.SKU
}

func (p Product) String() string {
	return fmt.Sprintf("product %d (%s)", p.ID, p.Name)
}
