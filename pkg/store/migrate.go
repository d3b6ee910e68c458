// 文件: pkg/store/migrate.go
// 建表与开户种子数据

package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"spotex.com/pkg/fixed"
)

// AutoMigrate 建立全部五张表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Asset{},
		&Order{},
		&Trade{},
		&AuditLog{},
	)
}

// AutoMigrate 建表
func (s *Store) AutoMigrate() error {
	return AutoMigrate(s.db)
}

// CreateUserWithSeed 开户: 写入用户行 + 每个币种一行种子资产
// balance 固定 10000, BTC 1, ETH 10; 必须在事务内调用
// 邮箱唯一键冲突由调用方用 IsDuplicateKey 识别
func CreateUserWithSeed(ctx context.Context, tx *gorm.DB, u *User) error {
	now := time.Now().UnixMilli()
	u.Balance = SeedBalance
	u.CreatedAt = now
	u.UpdatedAt = now

	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		return err
	}

	for _, symbol := range Symbols {
		asset := &Asset{
			UserID:       u.ID,
			Symbol:       symbol,
			Amount:       SeedAmounts[symbol],
			LockedAmount: fixed.Zero(),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.WithContext(ctx).Create(asset).Error; err != nil {
			return err
		}
	}
	return nil
}
