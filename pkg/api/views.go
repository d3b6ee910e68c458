// 文件: pkg/api/views.go
// 对外 JSON 视图, 与存储模型解耦
//
// 金额字段序列化为 8 位小数字符串 (fixed.Decimal.MarshalJSON),
// 密码等敏感列不出现在视图中

package api

import (
	"spotex.com/pkg/event"
	"spotex.com/pkg/fixed"
	"spotex.com/pkg/spot"
	"spotex.com/pkg/store"
)

// UserView 用户公开信息
type UserView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt int64  `json:"created_at"`
}

func newUserView(u *store.User) UserView {
	return UserView{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

// OrderView 订单视图, side/status 用字符串表示
type OrderView struct {
	OrderID   int64         `json:"order_id"`
	Symbol    string        `json:"symbol"`
	Side      string        `json:"side"`
	Price     fixed.Decimal `json:"price"`
	Amount    fixed.Decimal `json:"amount"`
	Volume    fixed.Decimal `json:"volume"`
	Status    string        `json:"status"`
	CreatedAt int64         `json:"created_at"`
	UpdatedAt int64         `json:"updated_at"`
}

func newOrderView(o *store.Order) OrderView {
	return OrderView{
		OrderID:   o.OrderID,
		Symbol:    o.Symbol,
		Side:      o.Side.String(),
		Price:     o.Price,
		Amount:    o.Amount,
		Volume:    o.Volume(),
		Status:    o.Status.String(),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

// newOrderViews 空列表序列化为 [] 而非 null
func newOrderViews(orders []*store.Order) []OrderView {
	out := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderView(o))
	}
	return out
}

func newTradeViews(trades []*store.Trade) []event.TradePayload {
	out := make([]event.TradePayload, 0, len(trades))
	for _, t := range trades {
		out = append(out, event.NewTradePayload(t))
	}
	return out
}

// ProfileView /api/profile 响应体
type ProfileView struct {
	User    UserView       `json:"user"`
	Balance fixed.Decimal  `json:"balance"`
	Assets  []spot.Holding `json:"assets"`
}

func newProfileView(p *spot.Profile) ProfileView {
	assets := p.Assets
	if assets == nil {
		assets = []spot.Holding{}
	}
	return ProfileView{
		User:    newUserView(p.User),
		Balance: p.Balance,
		Assets:  assets,
	}
}

// OrderbookView /api/orderbook 响应体, 买单价格降序 / 卖单升序
type OrderbookView struct {
	Symbol     string      `json:"symbol"`
	BuyOrders  []OrderView `json:"buy_orders"`
	SellOrders []OrderView `json:"sell_orders"`
}
