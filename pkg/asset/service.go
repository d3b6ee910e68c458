// 文件: pkg/asset/service.go
// 资产服务: 币种持仓的锁定 / 释放 / 划转 / 入账
//
// 每 (用户, 币种) 一行: amount 总量, locked_amount 锁定量,
// 可用量 = amount - locked_amount。
// 挂卖单锁定持仓, 撤单释放; 成交划转从卖方锁定池直接出账,
// 即同时扣减 amount 与 locked_amount, 不经过可用池。
// 修改类方法要求事务内调用, 双行加锁按用户 id 升序。

package asset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"spotex.com/pkg/fixed"
	"spotex.com/pkg/store"
)

var (
	ErrInvalidSymbol      = errors.New("unsupported symbol")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientAssets = errors.New("insufficient assets")
	ErrInsufficientLocked = errors.New("insufficient locked assets")
)

// Service 绑定在根连接或事务句柄上
type Service struct {
	db *gorm.DB
}

// New 创建资产服务
func New(db *gorm.DB) *Service {
	return &Service{db: db}
}

// WithTx 绑定到事务句柄
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{db: tx}
}

// GetAssets 查询用户全部持仓, 按币种索引
func (s *Service) GetAssets(ctx context.Context, userID int64) (map[string]*store.Asset, error) {
	rows, err := store.GetAssets(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*store.Asset, len(rows))
	for _, a := range rows {
		out[a.Symbol] = a
	}
	return out, nil
}

// GetOrCreateAsset 查询资产行, 不存在则建 (0, 0) 行
func (s *Service) GetOrCreateAsset(ctx context.Context, userID int64, symbol string) (*store.Asset, error) {
	if !store.ValidSymbol(symbol) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	}

	a, err := store.GetAsset(ctx, s.db, userID, symbol)
	if err != nil {
		return nil, err
	}
	if a != nil {
		return a, nil
	}
	if err := s.createBlank(ctx, userID, symbol); err != nil {
		return nil, err
	}
	return store.GetAsset(ctx, s.db, userID, symbol)
}

// LockAssets 锁定持仓: 可用量充足时 locked_amount += amount (事务内调用)
func (s *Service) LockAssets(ctx context.Context, userID int64, symbol string, amount fixed.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	a, err := store.LockAsset(ctx, s.db, userID, symbol)
	if err != nil {
		return err
	}
	if a.Available().LessThan(amount) {
		return fmt.Errorf("%w: available=%s, need=%s", ErrInsufficientAssets, a.Available(), amount)
	}
	return s.writeAsset(ctx, a.ID, a.Amount, a.LockedAmount.Add(amount))
}

// ReleaseAssets 释放锁定: locked_amount -= amount (事务内调用)
func (s *Service) ReleaseAssets(ctx context.Context, userID int64, symbol string, amount fixed.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	a, err := store.LockAsset(ctx, s.db, userID, symbol)
	if err != nil {
		return err
	}
	if a.LockedAmount.LessThan(amount) {
		return fmt.Errorf("%w: locked=%s, release=%s", ErrInsufficientLocked, a.LockedAmount, amount)
	}
	return s.writeAsset(ctx, a.ID, a.Amount, a.LockedAmount.Sub(amount))
}

// TransferAssets 成交划转: 从卖方锁定池出账, 入买方总量
// 双方资产行按用户 id 升序加锁, 买方行不存在时补建
func (s *Service) TransferAssets(ctx context.Context, fromID, toID int64, symbol string, amount fixed.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	// 自成交: 同一行, 总量不变, 锁定量扣减
	if fromID == toID {
		a, err := store.LockAsset(ctx, s.db, fromID, symbol)
		if err != nil {
			return err
		}
		if a.LockedAmount.LessThan(amount) {
			return fmt.Errorf("%w: locked=%s, need=%s", ErrInsufficientLocked, a.LockedAmount, amount)
		}
		return s.writeAsset(ctx, a.ID, a.Amount, a.LockedAmount.Sub(amount))
	}

	var from, to *store.Asset
	var err error
	if fromID < toID {
		if from, err = store.LockAsset(ctx, s.db, fromID, symbol); err != nil {
			return err
		}
		if to, err = s.lockOrCreate(ctx, toID, symbol); err != nil {
			return err
		}
	} else {
		if to, err = s.lockOrCreate(ctx, toID, symbol); err != nil {
			return err
		}
		if from, err = store.LockAsset(ctx, s.db, fromID, symbol); err != nil {
			return err
		}
	}

	if from.LockedAmount.LessThan(amount) {
		return fmt.Errorf("%w: locked=%s, need=%s", ErrInsufficientLocked, from.LockedAmount, amount)
	}

	if err := s.writeAsset(ctx, from.ID, from.Amount.Sub(amount), from.LockedAmount.Sub(amount)); err != nil {
		return err
	}
	return s.writeAsset(ctx, to.ID, to.Amount.Add(amount), to.LockedAmount)
}

// Credit 入账: amount += amount, 仅用于初始注资
func (s *Service) Credit(ctx context.Context, userID int64, symbol string, amount fixed.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if !store.ValidSymbol(symbol) {
		return fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	}

	a, err := s.lockOrCreate(ctx, userID, symbol)
	if err != nil {
		return err
	}
	return s.writeAsset(ctx, a.ID, a.Amount.Add(amount), a.LockedAmount)
}

// lockOrCreate 行不存在先补建空行再加锁
func (s *Service) lockOrCreate(ctx context.Context, userID int64, symbol string) (*store.Asset, error) {
	a, err := store.LockAsset(ctx, s.db, userID, symbol)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, store.ErrAssetNotFound) {
		return nil, err
	}
	if err := s.createBlank(ctx, userID, symbol); err != nil {
		return nil, err
	}
	return store.LockAsset(ctx, s.db, userID, symbol)
}

func (s *Service) createBlank(ctx context.Context, userID int64, symbol string) error {
	now := time.Now().UnixMilli()
	blank := &store.Asset{
		UserID:       userID,
		Symbol:       symbol,
		Amount:       fixed.Zero(),
		LockedAmount: fixed.Zero(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// 并发补建依赖 (user_id, symbol) 唯一键, 冲突视为已存在
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(blank).Error
}

// writeAsset 持锁后整值写回
func (s *Service) writeAsset(ctx context.Context, id int64, amount, locked fixed.Decimal) error {
	return s.db.WithContext(ctx).Model(&store.Asset{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"amount":        amount,
			"locked_amount": locked,
			"updated_at":    time.Now().UnixMilli(),
		}).Error
}
