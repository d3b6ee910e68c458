// 文件: pkg/asset/service_test.go
// 资产服务集成测试 (需要本地 MySQL, 不可用时跳过)

package asset

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"spotex.com/pkg/fixed"
	"spotex.com/pkg/store"
)

const testDSN = "root:123456@tcp(127.0.0.1:3307)/spotex?charset=utf8mb4&parseTime=True&loc=Local"

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.Open(testDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("skipping test; mysql not available: %v", err)
	}
	require.NoError(t, store.AutoMigrate(db))
	return db
}

func newTestUser(t *testing.T, db *gorm.DB, name string) *store.User {
	t.Helper()
	u := &store.User{
		Name:     name,
		Email:    fmt.Sprintf("%s.%d@test.local", name, time.Now().UnixNano()),
		Password: "x",
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		return store.CreateUserWithSeed(context.Background(), tx, u)
	})
	require.NoError(t, err)
	return u
}

func cleanupUsers(db *gorm.DB, userIDs ...int64) {
	db.Exec("DELETE FROM assets WHERE user_id IN ?", userIDs)
	db.Exec("DELETE FROM users WHERE id IN ?", userIDs)
}

func assetOf(t *testing.T, db *gorm.DB, userID int64, symbol string) (amount, locked string) {
	t.Helper()
	a, err := store.GetAsset(context.Background(), db, userID, symbol)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a.Amount.String(), a.LockedAmount.String()
}

// =============================================================================
// 锁定 / 释放
// =============================================================================

func TestLockAndReleaseAssets(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	svc := New(db)

	u := newTestUser(t, db, "hold")
	defer cleanupUsers(db, u.ID)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.WithTx(tx).LockAssets(ctx, u.ID, store.SymbolETH, fixed.MustParse("2.5"))
	})
	require.NoError(t, err)

	amount, locked := assetOf(t, db, u.ID, store.SymbolETH)
	assert.Equal(t, "10.00000000", amount) // 总量不动
	assert.Equal(t, "2.50000000", locked)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.WithTx(tx).ReleaseAssets(ctx, u.ID, store.SymbolETH, fixed.MustParse("2.5"))
	})
	require.NoError(t, err)

	amount, locked = assetOf(t, db, u.ID, store.SymbolETH)
	assert.Equal(t, "10.00000000", amount)
	assert.Equal(t, "0.00000000", locked)
}

func TestLockAssets_InsufficientAvailable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	svc := New(db)

	u := newTestUser(t, db, "thin")
	defer cleanupUsers(db, u.ID)

	// 锁 0.8 后可用只剩 0.2, 再锁 0.3 必须失败
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.WithTx(tx).LockAssets(ctx, u.ID, store.SymbolBTC, fixed.MustParse("0.8"))
	})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.WithTx(tx).LockAssets(ctx, u.ID, store.SymbolBTC, fixed.MustParse("0.3"))
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientAssets))

	amount, locked := assetOf(t, db, u.ID, store.SymbolBTC)
	assert.Equal(t, "1.00000000", amount)
	assert.Equal(t, "0.80000000", locked)
}

func TestReleaseAssets_ExceedsLocked(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	svc := New(db)

	u := newTestUser(t, db, "over")
	defer cleanupUsers(db, u.ID)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.WithTx(tx).ReleaseAssets(ctx, u.ID, store.SymbolBTC, fixed.MustParse("0.5"))
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientLocked))
}

// =============================================================================
// 划转
// =============================================================================

func TestTransferAssets(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	svc := New(db)

	seller := newTestUser(t, db, "seller")
	buyer := newTestUser(t, db, "buyer")
	defer cleanupUsers(db, seller.ID, buyer.ID)

	// 成交划转前置: 卖方已锁定
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.WithTx(tx).LockAssets(ctx, seller.ID, store.SymbolBTC, fixed.MustParse("1"))
	})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.WithTx(tx).TransferAssets(ctx, seller.ID, buyer.ID, store.SymbolBTC, fixed.MustParse("1"))
	})
	require.NoError(t, err)

	// 卖方: 总量与锁定同时扣减; 买方: 总量增加
	amount, locked := assetOf(t, db, seller.ID, store.SymbolBTC)
	assert.Equal(t, "0.00000000", amount)
	assert.Equal(t, "0.00000000", locked)

	amount, locked = assetOf(t, db, buyer.ID, store.SymbolBTC)
	assert.Equal(t, "2.00000000", amount)
	assert.Equal(t, "0.00000000", locked)
}

func TestTransferAssets_RequiresLocked(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	svc := New(db)

	seller := newTestUser(t, db, "naked")
	buyer := newTestUser(t, db, "counter")
	defer cleanupUsers(db, seller.ID, buyer.ID)

	// 未锁定直接划转必须失败
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.WithTx(tx).TransferAssets(ctx, seller.ID, buyer.ID, store.SymbolBTC, fixed.MustParse("1"))
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientLocked))
}

func TestTransferAssets_Self(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	svc := New(db)

	u := newTestUser(t, db, "selftrade")
	defer cleanupUsers(db, u.ID)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.WithTx(tx).LockAssets(ctx, u.ID, store.SymbolBTC, fixed.MustParse("1"))
	})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.WithTx(tx).TransferAssets(ctx, u.ID, u.ID, store.SymbolBTC, fixed.MustParse("1"))
	})
	require.NoError(t, err)

	// 总量不变, 锁定清零
	amount, locked := assetOf(t, db, u.ID, store.SymbolBTC)
	assert.Equal(t, "1.00000000", amount)
	assert.Equal(t, "0.00000000", locked)
}

// =============================================================================
// 建行 / 入账
// =============================================================================

func TestGetOrCreateAndCredit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	svc := New(db)

	u := newTestUser(t, db, "credit")
	defer cleanupUsers(db, u.ID)

	if _, err := svc.GetOrCreateAsset(ctx, u.ID, "DOGE"); !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("expected ErrInvalidSymbol, got %v", err)
	}

	a, err := svc.GetOrCreateAsset(ctx, u.ID, store.SymbolBTC)
	require.NoError(t, err)
	assert.Equal(t, "1.00000000", a.Amount.String())

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.WithTx(tx).Credit(ctx, u.ID, store.SymbolBTC, fixed.MustParse("0.00000001"))
	})
	require.NoError(t, err)

	amount, _ := assetOf(t, db, u.ID, store.SymbolBTC)
	assert.Equal(t, "1.00000001", amount)

	assets, err := svc.GetAssets(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "1.00000001", assets[store.SymbolBTC].Amount.String())
	assert.Equal(t, "1.00000001", assets[store.SymbolBTC].Available().String())
}
