// 文件: pkg/match/engine_test.go
// 撮合引擎集成测试 (需要本地 MySQL, 不可用时跳过)

package match

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"spotex.com/pkg/asset"
	"spotex.com/pkg/audit"
	"spotex.com/pkg/balance"
	"spotex.com/pkg/event"
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

func newEngine(db *gorm.DB) *Engine {
	return New(audit.New(db, zap.NewNop()))
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
	db.Exec("DELETE FROM trades WHERE buyer_id IN ? OR seller_id IN ?", userIDs, userIDs)
	db.Exec("DELETE FROM orders WHERE user_id IN ?", userIDs)
	db.Exec("DELETE FROM audit_logs WHERE user_id IN ?", userIDs)
	db.Exec("DELETE FROM assets WHERE user_id IN ?", userIDs)
	db.Exec("DELETE FROM users WHERE id IN ?", userIDs)
}

// placeOrder 按下单流程锁定资金/资产并插入订单, 不触发撮合 (用于预挂对手单)
func placeOrder(t *testing.T, db *gorm.DB, userID int64, side store.Side, price, amount string) *store.Order {
	t.Helper()
	ctx := context.Background()
	o := store.NewOrder(store.GenerateOrderID(), userID, store.SymbolBTC, side,
		fixed.MustParse(price), fixed.MustParse(amount))
	err := db.Transaction(func(tx *gorm.DB) error {
		if side == store.SideBuy {
			if err := balance.New(tx).LockFunds(ctx, userID, o.Volume()); err != nil {
				return err
			}
		} else {
			if err := asset.New(tx).LockAssets(ctx, userID, o.Symbol, o.Amount); err != nil {
				return err
			}
		}
		return tx.Create(o).Error
	})
	require.NoError(t, err)
	return o
}

// placeAndMatch 完整下单事务: 锁定 + 插入 + 撮合
func placeAndMatch(t *testing.T, db *gorm.DB, eng *Engine, userID int64, side store.Side, price, amount string) (*store.Order, *store.Trade, []event.OrderMatched, error) {
	t.Helper()
	ctx := context.Background()
	o := store.NewOrder(store.GenerateOrderID(), userID, store.SymbolBTC, side,
		fixed.MustParse(price), fixed.MustParse(amount))
	var trade *store.Trade
	var events []event.OrderMatched
	err := db.Transaction(func(tx *gorm.DB) error {
		if side == store.SideBuy {
			if err := balance.New(tx).LockFunds(ctx, userID, o.Volume()); err != nil {
				return err
			}
		} else {
			if err := asset.New(tx).LockAssets(ctx, userID, o.Symbol, o.Amount); err != nil {
				return err
			}
		}
		if err := tx.Create(o).Error; err != nil {
			return err
		}
		var err error
		trade, events, err = eng.Match(ctx, tx, o)
		return err
	})
	return o, trade, events, err
}

func balanceOf(t *testing.T, db *gorm.DB, userID int64) string {
	t.Helper()
	u, err := store.GetUser(context.Background(), db, userID)
	require.NoError(t, err)
	return u.Balance.String()
}

func assetOf(t *testing.T, db *gorm.DB, userID int64, symbol string) *store.Asset {
	t.Helper()
	a, err := store.GetAsset(context.Background(), db, userID, symbol)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func orderStatus(t *testing.T, db *gorm.DB, orderID int64) store.OrderStatus {
	t.Helper()
	o, err := store.GetOrder(context.Background(), db, orderID)
	require.NoError(t, err)
	return o.Status
}

// =============================================================================
// 全额成交
// =============================================================================

func TestMatch_FullFill(t *testing.T) {
	db := openTestDB(t)
	eng := newEngine(db)

	buyer := newTestUser(t, db, "buyer")
	seller := newTestUser(t, db, "seller")
	defer cleanupUsers(db, buyer.ID, seller.ID)

	sellOrder := placeOrder(t, db, seller.ID, store.SideSell, "9000", "1")
	buyOrder, trade, events, err := placeAndMatch(t, db, eng, buyer.ID, store.SideBuy, "9000", "1")
	require.NoError(t, err)
	require.NotNil(t, trade)

	// 成交记录
	assert.Equal(t, buyOrder.OrderID, trade.BuyOrderID)
	assert.Equal(t, sellOrder.OrderID, trade.SellOrderID)
	assert.Equal(t, "9000.00000000", trade.Price.String())
	assert.Equal(t, "9000.00000000", trade.Volume.String())
	assert.Equal(t, "135.00000000", trade.Commission.String())

	// 买方净支出 volume, 卖方净收入 volume - commission
	assert.Equal(t, "1000.00000000", balanceOf(t, db, buyer.ID))
	assert.Equal(t, "18865.00000000", balanceOf(t, db, seller.ID))

	// 资产划转: 买方 +1 BTC, 卖方清零, 双方无锁定残留
	ba := assetOf(t, db, buyer.ID, store.SymbolBTC)
	sa := assetOf(t, db, seller.ID, store.SymbolBTC)
	assert.Equal(t, "2.00000000", ba.Amount.String())
	assert.Equal(t, "0.00000000", ba.LockedAmount.String())
	assert.Equal(t, "0.00000000", sa.Amount.String())
	assert.Equal(t, "0.00000000", sa.LockedAmount.String())

	// 双方订单置为 Filled
	assert.Equal(t, store.StatusFilled, orderStatus(t, db, buyOrder.OrderID))
	assert.Equal(t, store.StatusFilled, orderStatus(t, db, sellOrder.OrderID))

	// 推送事件: 买卖双方各一条, 携带清算后的余额与持仓
	require.Len(t, events, 2)
	assert.Equal(t, buyer.ID, events[0].UserID)
	assert.Equal(t, seller.ID, events[1].UserID)
	assert.Equal(t, "1000.00000000", events[0].UserBalance.USDBalance.String())
	assert.Equal(t, "2.00000000", events[0].UserAssets[store.SymbolBTC].Total.String())
	assert.Equal(t, "18865.00000000", events[1].UserBalance.USDBalance.String())

	// 审计: 双方各一条
	var n int64
	db.Model(&store.AuditLog{}).Where("entity_id = ? AND action = ?", trade.TradeID, audit.ActionTradeExecutedBuy).Count(&n)
	assert.EqualValues(t, 1, n)
	db.Model(&store.AuditLog{}).Where("entity_id = ? AND action = ?", trade.TradeID, audit.ActionTradeExecutedSell).Count(&n)
	assert.EqualValues(t, 1, n)
}

// 成交价恒为卖单价: 买单出更高价时差额退回买方
func TestMatch_RestingSellSetsPrice(t *testing.T) {
	db := openTestDB(t)
	eng := newEngine(db)

	buyer := newTestUser(t, db, "bidhigh")
	seller := newTestUser(t, db, "asklow")
	defer cleanupUsers(db, buyer.ID, seller.ID)

	placeOrder(t, db, seller.ID, store.SideSell, "9000", "1")
	_, trade, _, err := placeAndMatch(t, db, eng, buyer.ID, store.SideBuy, "9500", "1")
	require.NoError(t, err)
	require.NotNil(t, trade)

	assert.Equal(t, "9000.00000000", trade.Price.String())
	// 锁定 9500 全额释放后按 9000 清算
	assert.Equal(t, "1000.00000000", balanceOf(t, db, buyer.ID))
	assert.Equal(t, "18865.00000000", balanceOf(t, db, seller.ID))
}

// 卖单后到时同样以卖单价清算, 挂着的买单价不生效
func TestMatch_SellTakerClearsAtOwnPrice(t *testing.T) {
	db := openTestDB(t)
	eng := newEngine(db)

	buyer := newTestUser(t, db, "restbid")
	seller := newTestUser(t, db, "hitter")
	defer cleanupUsers(db, buyer.ID, seller.ID)

	placeOrder(t, db, buyer.ID, store.SideBuy, "9500", "1")
	_, trade, _, err := placeAndMatch(t, db, eng, seller.ID, store.SideSell, "9000", "1")
	require.NoError(t, err)
	require.NotNil(t, trade)

	assert.Equal(t, "9000.00000000", trade.Price.String())
	assert.Equal(t, "1000.00000000", balanceOf(t, db, buyer.ID))
	assert.Equal(t, "18865.00000000", balanceOf(t, db, seller.ID))
}

func TestMatch_PicksBestPrice(t *testing.T) {
	db := openTestDB(t)
	eng := newEngine(db)

	buyer := newTestUser(t, db, "shopper")
	seller := newTestUser(t, db, "maker")
	defer cleanupUsers(db, buyer.ID, seller.ID)

	placeOrder(t, db, seller.ID, store.SideSell, "9100", "0.3")
	cheap := placeOrder(t, db, seller.ID, store.SideSell, "9000", "0.3")

	_, trade, _, err := placeAndMatch(t, db, eng, buyer.ID, store.SideBuy, "9200", "0.3")
	require.NoError(t, err)
	require.NotNil(t, trade)

	assert.Equal(t, cheap.OrderID, trade.SellOrderID)
	assert.Equal(t, "9000.00000000", trade.Price.String())
	// 锁定 0.3*9200=2760, 清算 2700
	assert.Equal(t, "7300.00000000", balanceOf(t, db, buyer.ID))
}

// =============================================================================
// 不成交路径
// =============================================================================

func TestMatch_NoCrossRestsOpen(t *testing.T) {
	db := openTestDB(t)
	eng := newEngine(db)

	buyer := newTestUser(t, db, "lowball")
	seller := newTestUser(t, db, "patient")
	defer cleanupUsers(db, buyer.ID, seller.ID)

	placeOrder(t, db, seller.ID, store.SideSell, "9000", "1")
	buyOrder, trade, events, err := placeAndMatch(t, db, eng, buyer.ID, store.SideBuy, "8999.99999999", "1")
	require.NoError(t, err)
	assert.Nil(t, trade)
	assert.Nil(t, events)

	// 订单留在簿上, 资金保持锁定
	assert.Equal(t, store.StatusOpen, orderStatus(t, db, buyOrder.OrderID))
	assert.Equal(t, "1000.00000001", balanceOf(t, db, buyer.ID))
}

func TestMatch_PartialUnsupported(t *testing.T) {
	db := openTestDB(t)
	eng := newEngine(db)

	buyer := newTestUser(t, db, "whole")
	seller := newTestUser(t, db, "half")
	defer cleanupUsers(db, buyer.ID, seller.ID)

	sellOrder := placeOrder(t, db, seller.ID, store.SideSell, "9000", "0.5")
	buyOrder, _, _, err := placeAndMatch(t, db, eng, buyer.ID, store.SideBuy, "9000", "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPartialMatch))

	// 整个下单事务回滚: 订单未落库, 资金未锁定
	_, err = store.GetOrder(context.Background(), db, buyOrder.OrderID)
	assert.True(t, errors.Is(err, store.ErrOrderNotFound))
	assert.Equal(t, "10000.00000000", balanceOf(t, db, buyer.ID))

	// 对手单不受影响
	assert.Equal(t, store.StatusOpen, orderStatus(t, db, sellOrder.OrderID))
	sa := assetOf(t, db, seller.ID, store.SymbolBTC)
	assert.Equal(t, "0.50000000", sa.LockedAmount.String())
}

// =============================================================================
// 边界
// =============================================================================

// 自成交: 同一用户的买卖单可以互相成交, 净效果只亏手续费
func TestMatch_SelfTrade(t *testing.T) {
	db := openTestDB(t)
	eng := newEngine(db)

	u := newTestUser(t, db, "selfie")
	defer cleanupUsers(db, u.ID)

	placeOrder(t, db, u.ID, store.SideSell, "9000", "1")
	_, trade, events, err := placeAndMatch(t, db, eng, u.ID, store.SideBuy, "9000", "1")
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, u.ID, trade.BuyerID)
	assert.Equal(t, u.ID, trade.SellerID)

	assert.Equal(t, "9865.00000000", balanceOf(t, db, u.ID))
	a := assetOf(t, db, u.ID, store.SymbolBTC)
	assert.Equal(t, "1.00000000", a.Amount.String())
	assert.Equal(t, "0.00000000", a.LockedAmount.String())

	require.Len(t, events, 2)
	assert.Equal(t, u.ID, events[0].UserID)
	assert.Equal(t, u.ID, events[1].UserID)
}

// 尘埃单: 手续费截断为零时跳过扣费, 清算仍然成立
func TestMatch_DustCommission(t *testing.T) {
	db := openTestDB(t)
	eng := newEngine(db)

	buyer := newTestUser(t, db, "dustb")
	seller := newTestUser(t, db, "dusts")
	defer cleanupUsers(db, buyer.ID, seller.ID)

	placeOrder(t, db, seller.ID, store.SideSell, "0.00001", "0.01")
	_, trade, _, err := placeAndMatch(t, db, eng, buyer.ID, store.SideBuy, "0.00001", "0.01")
	require.NoError(t, err)
	require.NotNil(t, trade)

	assert.Equal(t, "0.00000010", trade.Volume.String())
	assert.Equal(t, "0.00000000", trade.Commission.String())
	assert.Equal(t, "9999.99999990", balanceOf(t, db, buyer.ID))
	assert.Equal(t, "10000.00000010", balanceOf(t, db, seller.ID))
}

// 系统总 USD 守恒: 成交后买卖双方合计减少恰好等于手续费
func TestMatch_Conservation(t *testing.T) {
	db := openTestDB(t)
	eng := newEngine(db)

	buyer := newTestUser(t, db, "consa")
	seller := newTestUser(t, db, "consb")
	defer cleanupUsers(db, buyer.ID, seller.ID)

	placeOrder(t, db, seller.ID, store.SideSell, "7777.77777777", "0.33333333")
	_, trade, _, err := placeAndMatch(t, db, eng, buyer.ID, store.SideBuy, "8000", "0.33333333")
	require.NoError(t, err)
	require.NotNil(t, trade)

	ctx := context.Background()
	bu, err := store.GetUser(ctx, db, buyer.ID)
	require.NoError(t, err)
	su, err := store.GetUser(ctx, db, seller.ID)
	require.NoError(t, err)

	total := bu.Balance.Add(su.Balance)
	want := fixed.MustParse("20000").Sub(trade.Commission)
	assert.True(t, total.Equal(want), "total=%s want=%s", total, want)
}
