// 文件: pkg/order/service.go
// 订单服务: 下单 / 撤单 / 订单与成交查询 / 订单簿
//
// 下单与撮合在同一个数据库事务内完成, 事务提交后才推送事件:
//
//   CreateOrder
//       ↓
//   锁定资金(买)/资产(卖) → 插入订单 → 审计 → engine.Match
//       ↓ commit
//   NATS 用户推送 + Kafka 行情流 + 指标
//
// 推送失败只记日志, 成交结果以数据库为准。

package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"spotex.com/pkg/asset"
	"spotex.com/pkg/audit"
	"spotex.com/pkg/balance"
	"spotex.com/pkg/event"
	"spotex.com/pkg/fixed"
	"spotex.com/pkg/match"
	"spotex.com/pkg/metrics"
	"spotex.com/pkg/store"
)

var (
	ErrInvalidSymbol = errors.New("invalid symbol")
	ErrInvalidSide   = errors.New("invalid side")
	ErrInvalidPrice  = errors.New("invalid price")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrNotOwner      = errors.New("order belongs to another user")
	ErrNotOpen       = errors.New("order is not open")
)

// Service 订单服务
type Service struct {
	st     *store.Store
	engine *match.Engine
	sink   *audit.Sink
	pub    event.Publisher
	feed   *event.TradeFeed
	log    *zap.Logger
}

// Config 订单服务依赖
type Config struct {
	Store  *store.Store
	Engine *match.Engine
	Sink   *audit.Sink
	Events event.Publisher  // 可为 nil, 不推送
	Feed   *event.TradeFeed // 可为 nil, 不发行情流
	Log    *zap.Logger
}

// New 创建订单服务
func New(cfg Config) *Service {
	if cfg.Events == nil {
		cfg.Events = event.Nop{}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Service{
		st:     cfg.Store,
		engine: cfg.Engine,
		sink:   cfg.Sink,
		pub:    cfg.Events,
		feed:   cfg.Feed,
		log:    cfg.Log,
	}
}

// =============================================================================
// 下单
// =============================================================================

// CreateOrder 创建限价单并立即尝试撮合
//
// 买单锁定 price*amount 的 USD, 卖单锁定 amount 的币。
// 撮合成功时返回的订单已是 Filled 状态, trade 非 nil;
// 无对手单时订单保持 Open 挂簿, trade 为 nil。
// 任何失败 (余额不足 / 数量不等的对手单 / 锁超时) 整体回滚, 不留订单。
func (s *Service) CreateOrder(ctx context.Context, userID int64, symbol string, side store.Side, price, amount fixed.Decimal, ip string) (*store.Order, *store.Trade, error) {
	if !store.ValidSymbol(symbol) {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	}
	if side != store.SideBuy && side != store.SideSell {
		return nil, nil, ErrInvalidSide
	}
	if !price.IsPositive() {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	if !amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	o := store.NewOrder(store.GenerateOrderID(), userID, symbol, side, price, amount)

	var trade *store.Trade
	var events []event.OrderMatched
	err := s.st.Transaction(ctx, func(tx *gorm.DB) error {
		if side == store.SideBuy {
			if err := balance.New(tx).LockFunds(ctx, userID, o.Volume()); err != nil {
				return err
			}
		} else {
			if err := asset.New(tx).LockAssets(ctx, userID, symbol, amount); err != nil {
				return err
			}
		}

		if err := tx.WithContext(ctx).Create(o).Error; err != nil {
			return err
		}

		s.sink.WithTx(tx).Log(ctx, audit.Entry{
			UserID:     userID,
			Action:     audit.ActionOrderPlaced,
			EntityKind: audit.EntityOrder,
			EntityID:   o.OrderID,
			Detail: map[string]any{
				"symbol": symbol,
				"side":   side.String(),
				"price":  price,
				"amount": amount,
			},
			IP: ip,
		})

		var err error
		trade, events, err = s.engine.Match(ctx, tx, o)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.OrdersPlaced.WithLabelValues(symbol, side.String()).Inc()
	s.log.Info("order placed",
		zap.Int64("order_id", o.OrderID),
		zap.Int64("user_id", userID),
		zap.String("symbol", symbol),
		zap.String("side", side.String()),
		zap.String("price", price.String()),
		zap.String("amount", amount.String()),
		zap.Bool("matched", trade != nil))

	if trade != nil {
		o.Status = store.StatusFilled
		s.afterTrade(ctx, trade, events)
	}
	return o, trade, nil
}

// afterTrade 提交后的成交推送与指标, 失败不回滚成交
func (s *Service) afterTrade(ctx context.Context, trade *store.Trade, events []event.OrderMatched) {
	metrics.TradesExecuted.WithLabelValues(trade.Symbol).Inc()
	metrics.TradeVolume.WithLabelValues(trade.Symbol).Add(trade.Volume.Float64())
	metrics.CommissionRevenue.Add(trade.Commission.Float64())

	for _, ev := range events {
		if err := s.pub.Publish(ctx, ev.UserID, event.EventOrderMatched, ev); err != nil {
			s.log.Warn("publish order.matched failed",
				zap.Int64("trade_id", trade.TradeID),
				zap.Int64("user_id", ev.UserID),
				zap.Error(err))
		}
	}
	if s.feed != nil {
		if err := s.feed.PublishTrade(trade); err != nil {
			s.log.Warn("publish trade feed failed",
				zap.Int64("trade_id", trade.TradeID),
				zap.Error(err))
		}
	}
	s.log.Info("trade executed",
		zap.Int64("trade_id", trade.TradeID),
		zap.String("symbol", trade.Symbol),
		zap.String("price", trade.Price.String()),
		zap.String("amount", trade.Amount.String()),
		zap.String("volume", trade.Volume.String()),
		zap.Int64("buyer_id", trade.BuyerID),
		zap.Int64("seller_id", trade.SellerID))
}

// =============================================================================
// 撤单
// =============================================================================

// CancelOrder 撤销 Open 状态的自有订单并释放锁定
//
// 订单行加锁后校验归属与状态, 买单释放 price*amount 资金,
// 卖单释放 amount 锁定资产, 状态置为 Cancelled。
func (s *Service) CancelOrder(ctx context.Context, userID, orderID int64, ip string) (*store.Order, error) {
	var out *store.Order
	err := s.st.Transaction(ctx, func(tx *gorm.DB) error {
		o, err := store.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return ErrNotOwner
		}
		if !o.IsOpen() {
			return fmt.Errorf("%w: status=%s", ErrNotOpen, o.Status)
		}

		if o.Side == store.SideBuy {
			if err := balance.New(tx).ReleaseFunds(ctx, o.UserID, o.Volume()); err != nil {
				return err
			}
		} else {
			if err := asset.New(tx).ReleaseAssets(ctx, o.UserID, o.Symbol, o.Amount); err != nil {
				return err
			}
		}

		now := time.Now().UnixMilli()
		if err := tx.WithContext(ctx).Model(&store.Order{}).
			Where("order_id = ?", orderID).
			Updates(map[string]interface{}{
				"status":     store.StatusCancelled,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		s.sink.WithTx(tx).Log(ctx, audit.Entry{
			UserID:     userID,
			Action:     audit.ActionOrderCancelled,
			EntityKind: audit.EntityOrder,
			EntityID:   orderID,
			Detail: map[string]any{
				"symbol": o.Symbol,
				"side":   o.Side.String(),
				"price":  o.Price,
				"amount": o.Amount,
			},
			IP: ip,
		})

		o.Status = store.StatusCancelled
		o.UpdatedAt = now
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersCancelled.WithLabelValues(out.Symbol).Inc()
	s.log.Info("order cancelled",
		zap.Int64("order_id", orderID),
		zap.Int64("user_id", userID))
	return out, nil
}

// =============================================================================
// 查询
// =============================================================================

// GetOrder 按订单号查询
func (s *Service) GetOrder(ctx context.Context, orderID int64) (*store.Order, error) {
	return store.GetOrder(ctx, s.st.DB(), orderID)
}

// ListOrders 查询用户订单, status 传 0 表示全部状态
func (s *Service) ListOrders(ctx context.Context, userID int64, status store.OrderStatus) ([]*store.Order, error) {
	return store.ListOrdersByUser(ctx, s.st.DB(), userID, status)
}

// ListTrades 按币种查询最近成交, 时间倒序
func (s *Service) ListTrades(ctx context.Context, symbol string, limit int) ([]*store.Trade, error) {
	if !store.ValidSymbol(symbol) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	}
	return store.ListTradesBySymbol(ctx, s.st.DB(), symbol, limit)
}

// Orderbook 订单簿快照
type Orderbook struct {
	Symbol string
	Buys   []*store.Order // 价格降序
	Sells  []*store.Order // 价格升序
}

// GetOrderbook 当前 Open 订单簿, 买卖两侧各按优先级排序
func (s *Service) GetOrderbook(ctx context.Context, symbol string) (*Orderbook, error) {
	if !store.ValidSymbol(symbol) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	}
	buys, err := store.OpenOrdersBySymbolSide(ctx, s.st.DB(), symbol, store.SideBuy, false)
	if err != nil {
		return nil, err
	}
	sells, err := store.OpenOrdersBySymbolSide(ctx, s.st.DB(), symbol, store.SideSell, true)
	if err != nil {
		return nil, err
	}
	return &Orderbook{Symbol: symbol, Buys: buys, Sells: sells}, nil
}
