package model

import "time"

// Stock movement reasons.
const (
	ReasonIncrement = "increment"
	ReasonDecrement = "decrement"
)

// StockMovement 库存台账：每次提交的库存调整一行，与库存变更同一事务写入。
type StockMovement struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	ProductID  int       `gorm:"not null;index" json:"product_id"`
	Delta      int       `gorm:"not null" json:"delta"`
	StockAfter int       `gorm:"not null" json:"stock_after"`
	Reason     string    `gorm:"size:32;not null" json:"reason"`
	RequestID  string    `gorm:"size:64;index" json:"request_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime:false" json:"created_at"`
}

func (StockMovement) TableName() string { return "stock_movements" }
