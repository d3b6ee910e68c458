// 文件: pkg/store/locks.go
// 行锁原语 (SELECT ... FOR UPDATE)
//
// 全局锁序约定: 同一事务锁多行时按 (实体类型, id) 升序获取,
// 违反锁序属编程错误, 不做运行时检测

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"spotex.com/pkg/fixed"
)

var forUpdate = clause.Locking{Strength: "UPDATE"}

// LockUser 锁定并读取用户行
func LockUser(ctx context.Context, tx *gorm.DB, userID int64) (*User, error) {
	var u User
	err := tx.WithContext(ctx).
		Clauses(forUpdate).
		Where("id = ?", userID).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id=%d", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// LockUsers 按 id 升序锁定多个用户, 重复 id 去重 (自成交时两方为同一行)
func LockUsers(ctx context.Context, tx *gorm.DB, ids ...int64) (map[int64]*User, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := make(map[int64]*User, len(sorted))
	for _, id := range sorted {
		if _, ok := out[id]; ok {
			continue
		}
		u, err := LockUser(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out[id] = u
	}
	return out, nil
}

// LockAsset 锁定并读取资产行
func LockAsset(ctx context.Context, tx *gorm.DB, userID int64, symbol string) (*Asset, error) {
	var a Asset
	err := tx.WithContext(ctx).
		Clauses(forUpdate).
		Where("user_id = ? AND symbol = ?", userID, symbol).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user=%d symbol=%s", ErrAssetNotFound, userID, symbol)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// LockOrder 按对外订单号锁定订单行
func LockOrder(ctx context.Context, tx *gorm.DB, orderID int64) (*Order, error) {
	var o Order
	err := tx.WithContext(ctx).
		Clauses(forUpdate).
		Where("order_id = ?", orderID).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: order_id=%d", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// LockBestCounterOrder 锁定最优价对手单, 无候选返回 (nil, nil)
//
// side 为候选方向:
// - 候选是卖单: price <= limit, 价格升序取最低
// - 候选是买单: price >= limit, 价格降序取最高
// 同价按 created_at, order_id 升序 (先到先得)
// FOR UPDATE 是当前读, 返回行的 status 即加锁时刻的最新已提交状态
func LockBestCounterOrder(ctx context.Context, tx *gorm.DB, symbol string, side Side, limit fixed.Decimal) (*Order, error) {
	q := tx.WithContext(ctx).
		Clauses(forUpdate).
		Where("symbol = ? AND side = ? AND status = ?", symbol, side, StatusOpen)

	// CAST 保证按 DECIMAL 精确比较, 而不是退化为 double
	if side == SideSell {
		q = q.Where("price <= CAST(? AS DECIMAL(40,8))", limit).
			Order("price ASC, created_at ASC, order_id ASC")
	} else {
		q = q.Where("price >= CAST(? AS DECIMAL(40,8))", limit).
			Order("price DESC, created_at ASC, order_id ASC")
	}

	var o Order
	err := q.First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
