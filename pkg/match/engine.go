// 文件: pkg/match/engine.go
// 撮合引擎: 全量成交限价撮合 + 原子清算
//
// 在下单事务内被调用, 与订单插入和资金/资产锁定共用同一事务,
// 任何一步失败整体回滚, 不会留下半截清算。
//
// 撮合规则:
// - 买单选 sell.price <= buy.price 中价格最低的卖单, 卖单对称
// - 同价按 created_at 先到先撮合
// - 仅支持等量全额成交, 数量不等直接报错回滚
// - 成交价恒为卖单价, 与哪方先到无关
//
// 清算顺序:
// 1. 卖方锁定资产划转给买方
// 2. 买方下单时锁定的资金全额释放 (按买单价, 非成交价)
// 3. 买方向卖方支付 volume - commission
// 4. 买方承担 commission

package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"spotex.com/pkg/asset"
	"spotex.com/pkg/audit"
	"spotex.com/pkg/balance"
	"spotex.com/pkg/event"
	"spotex.com/pkg/fixed"
	"spotex.com/pkg/store"
)

// CommissionRate 手续费率 1.5%, 由买方承担
var CommissionRate = fixed.MustParse("0.015")

// ErrPartialMatch 对手单数量不等, 当前只支持全额成交
var ErrPartialMatch = errors.New("partial match unsupported: order amounts must be equal")

// Engine 撮合引擎, 无内部状态, 所有读写走调用方传入的事务句柄
type Engine struct {
	sink *audit.Sink
}

// New 创建撮合引擎
func New(sink *audit.Sink) *Engine {
	return &Engine{sink: sink}
}

// Match 对刚插入的订单执行一次撮合尝试 (下单事务内调用)
//
// 无对手单时订单保持 Open, 返回 nil 成交;
// 成交时返回成交记录与双方的推送事件, 事件由调用方在提交后发送。
func (e *Engine) Match(ctx context.Context, tx *gorm.DB, taker *store.Order) (*store.Trade, []event.OrderMatched, error) {
	// 持锁重读, 非 Open 幂等返回
	o, err := store.LockOrder(ctx, tx, taker.OrderID)
	if err != nil {
		return nil, nil, err
	}
	if !o.IsOpen() {
		return nil, nil, nil
	}

	counter, err := store.LockBestCounterOrder(ctx, tx, o.Symbol, o.Side.Opposite(), o.Price)
	if err != nil {
		return nil, nil, err
	}
	if counter == nil {
		// 无可成交对手单, 订单留在簿上
		return nil, nil, nil
	}

	if !o.Amount.Equal(counter.Amount) {
		return nil, nil, fmt.Errorf("%w: taker=%s counter=%s", ErrPartialMatch, o.Amount, counter.Amount)
	}

	buy, sell := o, counter
	if o.Side == store.SideSell {
		buy, sell = counter, o
	}

	trade, err := e.settle(ctx, tx, buy, sell)
	if err != nil {
		return nil, nil, err
	}

	events, err := e.matchedEvents(ctx, tx, trade)
	if err != nil {
		return nil, nil, err
	}
	return trade, events, nil
}

// settle 原子清算并落成交记录, 双方订单置为 Filled
func (e *Engine) settle(ctx context.Context, tx *gorm.DB, buy, sell *store.Order) (*store.Trade, error) {
	amount := buy.Amount
	volume := sell.Price.Mul(amount)
	commission := volume.Mul(CommissionRate)

	funds := balance.New(tx)
	assets := asset.New(tx)

	if err := assets.TransferAssets(ctx, sell.UserID, buy.UserID, buy.Symbol, amount); err != nil {
		return nil, err
	}
	// 买方下单时锁定的是 buy.price*amount, 成交价更低时差额一并归还
	if err := funds.ReleaseFunds(ctx, buy.UserID, buy.Volume()); err != nil {
		return nil, err
	}
	// 尘埃单的 volume/commission 截断后可能为零, 零额步骤跳过
	if pay := volume.Sub(commission); pay.IsPositive() {
		if err := funds.TransferUSD(ctx, buy.UserID, sell.UserID, pay); err != nil {
			return nil, err
		}
	}
	if commission.IsPositive() {
		if err := funds.DeductCommission(ctx, buy.UserID, commission); err != nil {
			return nil, err
		}
	}

	if err := markFilled(ctx, tx, buy.OrderID); err != nil {
		return nil, err
	}
	if err := markFilled(ctx, tx, sell.OrderID); err != nil {
		return nil, err
	}

	trade := &store.Trade{
		TradeID:     store.GenerateTradeID(),
		Symbol:      buy.Symbol,
		BuyOrderID:  buy.OrderID,
		SellOrderID: sell.OrderID,
		BuyerID:     buy.UserID,
		SellerID:    sell.UserID,
		Price:       sell.Price,
		Amount:      amount,
		Volume:      volume,
		Commission:  commission,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := tx.WithContext(ctx).Create(trade).Error; err != nil {
		return nil, err
	}

	e.auditTrade(ctx, tx, trade)
	return trade, nil
}

// markFilled 终态写回
func markFilled(ctx context.Context, tx *gorm.DB, orderID int64) error {
	return tx.WithContext(ctx).Model(&store.Order{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"status":     store.StatusFilled,
			"updated_at": time.Now().UnixMilli(),
		}).Error
}

// matchedEvents 清算后在事务内读取双方余额与全部持仓, 构造推送载荷
// 自成交双方为同一用户, 仍按买卖双方各出一条
func (e *Engine) matchedEvents(ctx context.Context, tx *gorm.DB, trade *store.Trade) ([]event.OrderMatched, error) {
	funds := balance.New(tx)
	assets := asset.New(tx)

	out := make([]event.OrderMatched, 0, 2)
	for _, uid := range []int64{trade.BuyerID, trade.SellerID} {
		bal, err := funds.GetBalance(ctx, uid)
		if err != nil {
			return nil, err
		}
		holdings, err := assets.GetAssets(ctx, uid)
		if err != nil {
			return nil, err
		}
		out = append(out, event.NewOrderMatched(uid, trade, bal, holdings))
	}
	return out, nil
}

// auditTrade 买卖双方各记一条成交审计
func (e *Engine) auditTrade(ctx context.Context, tx *gorm.DB, t *store.Trade) {
	sink := e.sink.WithTx(tx)
	detail := map[string]any{
		"trade_id":   t.TradeID,
		"symbol":     t.Symbol,
		"price":      t.Price,
		"amount":     t.Amount,
		"volume":     t.Volume,
		"commission": t.Commission,
	}
	sink.Log(ctx, audit.Entry{
		UserID:     t.BuyerID,
		Action:     audit.ActionTradeExecutedBuy,
		EntityKind: audit.EntityTrade,
		EntityID:   t.TradeID,
		Detail:     detail,
	})
	sink.Log(ctx, audit.Entry{
		UserID:     t.SellerID,
		Action:     audit.ActionTradeExecutedSell,
		EntityKind: audit.EntityTrade,
		EntityID:   t.TradeID,
		Detail:     detail,
	})
}
