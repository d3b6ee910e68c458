// 文件: pkg/balance/service.go
// 资金服务: 可用 USD 余额的锁定 / 释放 / 划转 / 手续费扣除
//
// balance 列只存可用余额, 挂买单锁定即从 balance 扣减,
// 撤单释放或成交清算时再按规则归还/划转。
// 所有修改类方法要求调用方已开启事务并传入句柄 (WithTx),
// 多用户加锁统一走 store.LockUsers 保证升序锁序。

package balance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"spotex.com/pkg/fixed"
	"spotex.com/pkg/store"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Service 绑定在根连接或事务句柄上, 绑定事务后所有操作在该事务内生效
type Service struct {
	db *gorm.DB
}

// New 创建资金服务
func New(db *gorm.DB) *Service {
	return &Service{db: db}
}

// WithTx 绑定到事务句柄
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{db: tx}
}

// GetBalance 查询可用余额
func (s *Service) GetBalance(ctx context.Context, userID int64) (fixed.Decimal, error) {
	u, err := store.GetUser(ctx, s.db, userID)
	if err != nil {
		return fixed.Zero(), err
	}
	return u.Balance, nil
}

// LockFunds 锁定资金: 校验可用余额充足后扣减 (事务内调用)
func (s *Service) LockFunds(ctx context.Context, userID int64, amount fixed.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	u, err := store.LockUser(ctx, s.db, userID)
	if err != nil {
		return err
	}
	if u.Balance.LessThan(amount) {
		return fmt.Errorf("%w: balance=%s, need=%s", ErrInsufficientBalance, u.Balance, amount)
	}
	return s.writeBalance(ctx, userID, u.Balance.Sub(amount))
}

// ReleaseFunds 释放资金: 归还到可用余额 (事务内调用, 不会不足)
func (s *Service) ReleaseFunds(ctx context.Context, userID int64, amount fixed.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	u, err := store.LockUser(ctx, s.db, userID)
	if err != nil {
		return err
	}
	return s.writeBalance(ctx, userID, u.Balance.Add(amount))
}

// TransferUSD 用户间划转: 双方按 id 升序加锁 (事务内调用)
func (s *Service) TransferUSD(ctx context.Context, fromID, toID int64, amount fixed.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	users, err := store.LockUsers(ctx, s.db, fromID, toID)
	if err != nil {
		return err
	}

	from := users[fromID]
	if from.Balance.LessThan(amount) {
		return fmt.Errorf("%w: balance=%s, need=%s", ErrInsufficientBalance, from.Balance, amount)
	}

	// 自转账净额为零, 校验后直接返回
	if fromID == toID {
		return nil
	}

	if err := s.writeBalance(ctx, fromID, from.Balance.Sub(amount)); err != nil {
		return err
	}
	return s.writeBalance(ctx, toID, users[toID].Balance.Add(amount))
}

// DeductCommission 扣除手续费: 与 LockFunds 相同, 但语义上是只出不进的沉没
func (s *Service) DeductCommission(ctx context.Context, userID int64, amount fixed.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	u, err := store.LockUser(ctx, s.db, userID)
	if err != nil {
		return err
	}
	if u.Balance.LessThan(amount) {
		return fmt.Errorf("%w: balance=%s, need=%s", ErrInsufficientBalance, u.Balance, amount)
	}
	return s.writeBalance(ctx, userID, u.Balance.Sub(amount))
}

// writeBalance 持锁后整值写回
func (s *Service) writeBalance(ctx context.Context, userID int64, newBalance fixed.Decimal) error {
	return s.db.WithContext(ctx).Model(&store.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"updated_at": time.Now().UnixMilli(),
		}).Error
}
