// 文件: pkg/event/publisher.go
// 撮合事件定义与发布抽象
//
// 成交后每方各收一条 order.matched, 负载带成交明细 +
// 该方的结算后余额快照与完整持仓。
// 投递是尽力而为的 at-most-once: 发布失败只告警, 不重试,
// 成交本身已随事务落库。

package event

import (
	"context"
	"fmt"

	"spotex.com/pkg/fixed"
	"spotex.com/pkg/store"
)

// EventOrderMatched 订单成交事件名
const EventOrderMatched = "order.matched"

// UserChannelWildcard 匹配全部用户频道的订阅主题
const UserChannelWildcard = "user.*"

// UserChannel 用户私有频道名
func UserChannel(userID int64) string {
	return fmt.Sprintf("user.%d", userID)
}

// Publisher 用户频道事件发布
type Publisher interface {
	Publish(ctx context.Context, userID int64, event string, data any) error
}

// Nop 空发布者, 本地模拟或关闭推送时使用
type Nop struct{}

func (Nop) Publish(ctx context.Context, userID int64, event string, data any) error {
	return nil
}

// =============================================================================
// 负载结构
// =============================================================================

// Frame 推送帧, 网关原样转发给 WebSocket 客户端
type Frame struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Data    any    `json:"data"`
}

// TradePayload 成交明细
type TradePayload struct {
	ID          int64         `json:"id"`
	BuyOrderID  int64         `json:"buy_order_id"`
	SellOrderID int64         `json:"sell_order_id"`
	BuyerID     int64         `json:"buyer_id"`
	SellerID    int64         `json:"seller_id"`
	Symbol      string        `json:"symbol"`
	Price       fixed.Decimal `json:"price"`
	Amount      fixed.Decimal `json:"amount"`
	Volume      fixed.Decimal `json:"volume"`
	Commission  fixed.Decimal `json:"commission"`
	CreatedAt   int64         `json:"created_at"`
}

// NewTradePayload 从成交记录构造负载
func NewTradePayload(t *store.Trade) TradePayload {
	return TradePayload{
		ID:          t.TradeID,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		BuyerID:     t.BuyerID,
		SellerID:    t.SellerID,
		Symbol:      t.Symbol,
		Price:       t.Price,
		Amount:      t.Amount,
		Volume:      t.Volume,
		Commission:  t.Commission,
		CreatedAt:   t.CreatedAt,
	}
}

// BalancePayload 结算后可用余额快照
type BalancePayload struct {
	USDBalance fixed.Decimal `json:"usd_balance"`
}

// AssetHolding 单币种持仓快照
type AssetHolding struct {
	Total     fixed.Decimal `json:"total"`
	Locked    fixed.Decimal `json:"locked"`
	Available fixed.Decimal `json:"available"`
}

// OrderMatched order.matched 事件负载, UserID 仅用于路由不序列化
type OrderMatched struct {
	UserID int64 `json:"-"`

	Trade       TradePayload            `json:"trade"`
	UserBalance BalancePayload          `json:"user_balance"`
	UserAssets  map[string]AssetHolding `json:"user_assets"`
}

// NewOrderMatched 组装某一方的成交事件
func NewOrderMatched(userID int64, trade *store.Trade, balance fixed.Decimal, assets map[string]*store.Asset) OrderMatched {
	holdings := make(map[string]AssetHolding, len(assets))
	for symbol, a := range assets {
		holdings[symbol] = AssetHolding{
			Total:     a.Amount,
			Locked:    a.LockedAmount,
			Available: a.Available(),
		}
	}
	return OrderMatched{
		UserID:      userID,
		Trade:       NewTradePayload(trade),
		UserBalance: BalancePayload{USDBalance: balance},
		UserAssets:  holdings,
	}
}
