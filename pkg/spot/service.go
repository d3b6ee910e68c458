// 文件: pkg/spot/service.go
// 现货门面: HTTP 层之下的编排服务
//
// 职责:
// 1. 请求级校验: 金额字符串 → fixed.Decimal, side/status 解析
// 2. 委托订单服务执行下单/撤单/查询
// 3. 组装 profile 等聚合视图
//
// 业务规则 (锁定/撮合/清算) 全部在 order 与 match 层, 这里不碰事务。

package spot

import (
	"context"
	"errors"
	"fmt"

	"spotex.com/pkg/asset"
	"spotex.com/pkg/balance"
	"spotex.com/pkg/fixed"
	"spotex.com/pkg/order"
	"spotex.com/pkg/store"
)

// ErrValidation 请求载荷不合法 (格式/精度/取值范围)
var ErrValidation = errors.New("validation failed")

// Service 现货门面
type Service struct {
	st     *store.Store
	funds  *balance.Service
	assets *asset.Service
	orders *order.Service
}

// New 创建现货门面
func New(st *store.Store, orders *order.Service) *Service {
	db := st.DB()
	return &Service{
		st:     st,
		funds:  balance.New(db),
		assets: asset.New(db),
		orders: orders,
	}
}

// =============================================================================
// 下单 / 撤单
// =============================================================================

// PlaceOrderInput 下单请求, 金额字段为最多 8 位小数的字符串
type PlaceOrderInput struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

// PlaceOrder 解析请求并下单, 撮合成功时一并返回成交
func (s *Service) PlaceOrder(ctx context.Context, userID int64, in PlaceOrderInput, ip string) (*store.Order, *store.Trade, error) {
	side, ok := store.ParseSide(in.Side)
	if !ok {
		return nil, nil, fmt.Errorf("%w: side must be buy or sell, got %q", ErrValidation, in.Side)
	}
	price, err := fixed.Parse(in.Price)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: price: %v", ErrValidation, err)
	}
	amount, err := fixed.Parse(in.Amount)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: amount: %v", ErrValidation, err)
	}
	return s.orders.CreateOrder(ctx, userID, in.Symbol, side, price, amount, ip)
}

// CancelOrder 撤单
func (s *Service) CancelOrder(ctx context.Context, userID, orderID int64, ip string) (*store.Order, error) {
	return s.orders.CancelOrder(ctx, userID, orderID, ip)
}

// =============================================================================
// 查询
// =============================================================================

// Orders 查询用户订单, status 为空串表示全部
func (s *Service) Orders(ctx context.Context, userID int64, status string) ([]*store.Order, error) {
	var filter store.OrderStatus
	if status != "" {
		parsed, ok := store.ParseOrderStatus(status)
		if !ok {
			return nil, fmt.Errorf("%w: status %q", ErrValidation, status)
		}
		filter = parsed
	}
	return s.orders.ListOrders(ctx, userID, filter)
}

// Orderbook 订单簿快照
func (s *Service) Orderbook(ctx context.Context, symbol string) (*order.Orderbook, error) {
	return s.orders.GetOrderbook(ctx, symbol)
}

// Trades 最近成交
func (s *Service) Trades(ctx context.Context, symbol string, limit int) ([]*store.Trade, error) {
	return s.orders.ListTrades(ctx, symbol, limit)
}

// Me 当前用户
func (s *Service) Me(ctx context.Context, userID int64) (*store.User, error) {
	return store.GetUser(ctx, s.st.DB(), userID)
}

// =============================================================================
// 聚合视图
// =============================================================================

// Holding 持仓视图: amount 为可用量, total_amount 为总量
type Holding struct {
	Symbol       string        `json:"symbol"`
	Amount       fixed.Decimal `json:"amount"`
	LockedAmount fixed.Decimal `json:"locked_amount"`
	TotalAmount  fixed.Decimal `json:"total_amount"`
}

// Profile 用户聚合视图: 基本信息 + 可用余额 + 全部持仓
type Profile struct {
	User    *store.User
	Balance fixed.Decimal
	Assets  []Holding
}

// Profile 组装用户聚合视图, 持仓按币种字典序
func (s *Service) Profile(ctx context.Context, userID int64) (*Profile, error) {
	u, err := store.GetUser(ctx, s.st.DB(), userID)
	if err != nil {
		return nil, err
	}
	rows, err := store.GetAssets(ctx, s.st.DB(), userID)
	if err != nil {
		return nil, err
	}

	holdings := make([]Holding, 0, len(rows))
	for _, a := range rows {
		holdings = append(holdings, Holding{
			Symbol:       a.Symbol,
			Amount:       a.Available(),
			LockedAmount: a.LockedAmount,
			TotalAmount:  a.Amount,
		})
	}
	return &Profile{User: u, Balance: u.Balance, Assets: holdings}, nil
}
