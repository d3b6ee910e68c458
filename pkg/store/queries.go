// 文件: pkg/store/queries.go
// 无锁查询原语, 可跑在根连接或事务句柄上

package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// GetUser 按 id 查询用户
func GetUser(ctx context.Context, tx *gorm.DB, userID int64) (*User, error) {
	var u User
	err := tx.WithContext(ctx).Where("id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id=%d", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail 按邮箱查询, 不存在返回 (nil, nil)
func GetUserByEmail(ctx context.Context, tx *gorm.DB, email string) (*User, error) {
	var u User
	err := tx.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetAsset 查询单个资产行, 不存在返回 (nil, nil)
func GetAsset(ctx context.Context, tx *gorm.DB, userID int64, symbol string) (*Asset, error) {
	var a Asset
	err := tx.WithContext(ctx).
		Where("user_id = ? AND symbol = ?", userID, symbol).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAssets 查询用户全部资产行, 按币种排序
func GetAssets(ctx context.Context, tx *gorm.DB, userID int64) ([]*Asset, error) {
	var assets []*Asset
	err := tx.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("symbol ASC").
		Find(&assets).Error
	return assets, err
}

// GetOrder 按对外订单号查询
func GetOrder(ctx context.Context, tx *gorm.DB, orderID int64) (*Order, error) {
	var o Order
	err := tx.WithContext(ctx).Where("order_id = ?", orderID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: order_id=%d", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrdersByUser 查询用户订单, status 传 0 表示不过滤, 最新在前
func ListOrdersByUser(ctx context.Context, tx *gorm.DB, userID int64, status OrderStatus) ([]*Order, error) {
	q := tx.WithContext(ctx).Where("user_id = ?", userID)
	if status != 0 {
		q = q.Where("status = ?", status)
	}

	var orders []*Order
	err := q.Order("created_at DESC, id DESC").Find(&orders).Error
	return orders, err
}

// OpenOrdersBySymbolSide 盘口查询: 某方向全部未成交订单
// priceAsc 控制价格排序方向, 同价按创建时间先后
func OpenOrdersBySymbolSide(ctx context.Context, tx *gorm.DB, symbol string, side Side, priceAsc bool) ([]*Order, error) {
	order := "price DESC, created_at ASC, order_id ASC"
	if priceAsc {
		order = "price ASC, created_at ASC, order_id ASC"
	}

	var orders []*Order
	err := tx.WithContext(ctx).
		Where("symbol = ? AND side = ? AND status = ?", symbol, side, StatusOpen).
		Order(order).
		Find(&orders).Error
	return orders, err
}

// ListTradesBySymbol 最近成交, 新的在前
func ListTradesBySymbol(ctx context.Context, tx *gorm.DB, symbol string, limit int) ([]*Trade, error) {
	var trades []*Trade
	err := tx.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}
