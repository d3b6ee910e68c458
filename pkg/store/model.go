// 文件: pkg/store/model.go
// 核心实体: 用户 / 资产 / 订单 / 成交 / 审计日志
//
// 所有金额列统一 DECIMAL(40,8), 通过 fixed.Decimal 读写,
// 时间戳统一毫秒 int64

package store

import (
	"time"

	"spotex.com/pkg/fixed"
)

// =============================================================================
// 交易对与种子资金
// =============================================================================

const (
	SymbolBTC = "BTC"
	SymbolETH = "ETH"
)

// Symbols 支持的币种, 编译期固定
var Symbols = []string{SymbolBTC, SymbolETH}

// ValidSymbol 校验币种
func ValidSymbol(s string) bool {
	for _, sym := range Symbols {
		if s == sym {
			return true
		}
	}
	return false
}

// 新用户种子资金: 注册即发 10000 USD + 1 BTC + 10 ETH
var (
	SeedBalance = fixed.MustParse("10000")
	SeedAmounts = map[string]fixed.Decimal{
		SymbolBTC: fixed.MustParse("1"),
		SymbolETH: fixed.MustParse("10"),
	}
)

// =============================================================================
// 订单方向
// =============================================================================

type Side int8

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	}
	return "unknown"
}

// Opposite 对手方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide 解析 "buy"/"sell"
func ParseSide(s string) (Side, bool) {
	switch s {
	case "buy":
		return SideBuy, true
	case "sell":
		return SideSell, true
	}
	return 0, false
}

// =============================================================================
// 订单状态
// =============================================================================

type OrderStatus int8

const (
	StatusOpen OrderStatus = iota + 1 // 挂单中
	StatusFilled
	StatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// ParseOrderStatus 解析 "open"/"filled"/"cancelled"
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch s {
	case "open":
		return StatusOpen, true
	case "filled":
		return StatusFilled, true
	case "cancelled":
		return StatusCancelled, true
	}
	return 0, false
}

// =============================================================================
// User - 用户与可用 USD 余额
// =============================================================================

// User balance 为可用余额, 挂买单锁定的部分已经从 balance 扣走,
// 锁定量由该用户未成交买单的 price*amount 之和隐式给出
type User struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	Name     string `gorm:"column:name;type:varchar(64)"`
	Email    string `gorm:"column:email;type:varchar(128);uniqueIndex"`
	Password string `gorm:"column:password;type:varchar(128)"` // bcrypt 哈希

	Balance fixed.Decimal `gorm:"column:balance;type:decimal(40,8);not null"`

	CreatedAt int64 `gorm:"column:created_at"`
	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (User) TableName() string {
	return "users"
}

// =============================================================================
// Asset - 每用户每币种一行
// =============================================================================

// Asset 不变式: 0 <= locked_amount <= amount
type Asset struct {
	ID     int64  `gorm:"primaryKey;autoIncrement"`
	UserID int64  `gorm:"column:user_id;uniqueIndex:uk_user_symbol"`
	Symbol string `gorm:"column:symbol;type:varchar(16);uniqueIndex:uk_user_symbol"`

	Amount       fixed.Decimal `gorm:"column:amount;type:decimal(40,8);not null"`
	LockedAmount fixed.Decimal `gorm:"column:locked_amount;type:decimal(40,8);not null"`

	CreatedAt int64 `gorm:"column:created_at"`
	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (Asset) TableName() string {
	return "assets"
}

// Available 可用量 = 总量 - 锁定量
func (a *Asset) Available() fixed.Decimal {
	return a.Amount.Sub(a.LockedAmount)
}

// =============================================================================
// Order - 限价订单
// =============================================================================

// Order 状态机: Open -> Filled / Open -> Cancelled, 终态不再变更
type Order struct {
	ID      int64 `gorm:"primaryKey;autoIncrement"`
	OrderID int64 `gorm:"column:order_id;uniqueIndex"` // 雪花ID, 对外暴露

	UserID int64  `gorm:"column:user_id;index"`
	Symbol string `gorm:"column:symbol;type:varchar(16);index:idx_book,priority:1"`
	Side   Side   `gorm:"column:side;index:idx_book,priority:2"`

	Price  fixed.Decimal `gorm:"column:price;type:decimal(40,8);not null;index:idx_book,priority:4"`
	Amount fixed.Decimal `gorm:"column:amount;type:decimal(40,8);not null"`

	Status OrderStatus `gorm:"column:status;index:idx_book,priority:3"`

	CreatedAt int64 `gorm:"column:created_at;index"`
	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// Volume 名义价值 = price * amount (8 位截断)
func (o *Order) Volume() fixed.Decimal {
	return o.Price.Mul(o.Amount)
}

func (o *Order) IsOpen() bool {
	return o.Status == StatusOpen
}

// NewOrder 创建 Open 状态的新订单
func NewOrder(orderID, userID int64, symbol string, side Side, price, amount fixed.Decimal) *Order {
	now := time.Now().UnixMilli()
	return &Order{
		OrderID:   orderID,
		UserID:    userID,
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Amount:    amount,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// =============================================================================
// Trade - 成交记录, 创建后不可变
// =============================================================================

type Trade struct {
	ID      int64 `gorm:"primaryKey;autoIncrement"`
	TradeID int64 `gorm:"column:trade_id;uniqueIndex"` // 雪花ID

	Symbol      string `gorm:"column:symbol;type:varchar(16);index"`
	BuyOrderID  int64  `gorm:"column:buy_order_id;index"`
	SellOrderID int64  `gorm:"column:sell_order_id;index"`
	BuyerID     int64  `gorm:"column:buyer_id;index"`
	SellerID    int64  `gorm:"column:seller_id;index"`

	// 成交价为卖单价, volume = price*amount, commission = volume*0.015
	Price      fixed.Decimal `gorm:"column:price;type:decimal(40,8);not null"`
	Amount     fixed.Decimal `gorm:"column:amount;type:decimal(40,8);not null"`
	Volume     fixed.Decimal `gorm:"column:volume;type:decimal(40,8);not null"`
	Commission fixed.Decimal `gorm:"column:commission;type:decimal(40,8);not null"`

	CreatedAt int64 `gorm:"column:created_at;index"`
}

func (Trade) TableName() string {
	return "trades"
}

// =============================================================================
// AuditLog - 追加写审计日志
// =============================================================================

type AuditLog struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	UserID     int64  `gorm:"column:user_id;index"` // 0 表示无关联用户
	Action     string `gorm:"column:action;type:varchar(32);index"`
	EntityKind string `gorm:"column:entity_kind;type:varchar(16)"`
	EntityID   int64  `gorm:"column:entity_id"`
	Detail     string `gorm:"column:detail;type:json"`
	IP         string `gorm:"column:ip;type:varchar(45)"`
	CreatedAt  int64  `gorm:"column:created_at;index"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
