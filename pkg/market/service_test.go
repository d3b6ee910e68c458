// 文件: pkg/market/service_test.go

package market_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotex.com/pkg/event"
	"spotex.com/pkg/fixed"
	"spotex.com/pkg/market"
	"spotex.com/pkg/store"
)

// newService 无 Kafka 纯内存模式
func newService(t *testing.T) *market.Service {
	t.Helper()
	svc, err := market.NewService(market.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Stop() })
	return svc
}

func tradeAt(symbol, price, amount string, ts int64) event.TradePayload {
	p := fixed.MustParse(price)
	a := fixed.MustParse(amount)
	return event.TradePayload{
		Symbol:    symbol,
		Price:     p,
		Amount:    a,
		Volume:    p.Mul(a),
		CreatedAt: ts,
	}
}

func TestTickerStats(t *testing.T) {
	svc := newService(t)
	now := time.Now().UnixMilli()

	svc.Record(tradeAt("BTC", "9000", "1", now-3000))
	svc.Record(tradeAt("BTC", "9300", "0.5", now-2000))
	svc.Record(tradeAt("BTC", "9100", "2", now-1000))

	tk, ok := svc.Ticker("BTC")
	require.True(t, ok)
	assert.Equal(t, "BTC", tk.Symbol)
	assert.Equal(t, "9100.00000000", tk.LastPrice.String())
	assert.Equal(t, "9300.00000000", tk.High24h.String())
	assert.Equal(t, "9000.00000000", tk.Low24h.String())
	// 9000*1 + 9300*0.5 + 9100*2 = 31850
	assert.Equal(t, "31850.00000000", tk.Volume24h.String())
	assert.Equal(t, int64(3), tk.Trades24h)
	assert.Greater(t, tk.UpdatedAt, int64(0))

	_, ok = svc.Ticker("ETH")
	assert.False(t, ok)
}

func TestTicker_WindowPruning(t *testing.T) {
	svc := newService(t)
	now := time.Now().UnixMilli()
	stale := now - int64(25*time.Hour/time.Millisecond)

	svc.Record(tradeAt("BTC", "8000", "1", stale))
	svc.Record(tradeAt("BTC", "9000", "1", now))

	tk, ok := svc.Ticker("BTC")
	require.True(t, ok)
	assert.Equal(t, int64(1), tk.Trades24h)
	assert.Equal(t, "9000.00000000", tk.Volume24h.String())
	assert.Equal(t, "9000.00000000", tk.High24h.String())
	assert.Equal(t, "9000.00000000", tk.Low24h.String())

	// 窗口外成交只保留最新价, 不计入 24h 窗口
	svc.Record(tradeAt("ETH", "300", "1", stale))
	tk, ok = svc.Ticker("ETH")
	require.True(t, ok)
	assert.Equal(t, "300.00000000", tk.LastPrice.String())
	assert.Equal(t, int64(0), tk.Trades24h)
	assert.True(t, tk.Volume24h.IsZero())
}

func TestTickers_SortedBySymbol(t *testing.T) {
	svc := newService(t)
	now := time.Now().UnixMilli()

	svc.Record(tradeAt("ETH", "310", "1", now))
	svc.Record(tradeAt("BTC", "9000", "1", now))

	all := svc.Tickers()
	require.Len(t, all, 2)
	assert.Equal(t, "BTC", all[0].Symbol)
	assert.Equal(t, "ETH", all[1].Symbol)
}

func TestPrime(t *testing.T) {
	svc := newService(t)
	now := time.Now().UnixMilli()

	// 与 ListTrades 返回一致: 时间倒序, 首条最新
	trades := []*store.Trade{
		{Symbol: "BTC", Price: fixed.MustParse("9200"), Amount: fixed.MustParse("1"), Volume: fixed.MustParse("9200"), CreatedAt: now},
		{Symbol: "BTC", Price: fixed.MustParse("9100"), Amount: fixed.MustParse("1"), Volume: fixed.MustParse("9100"), CreatedAt: now - 1000},
	}
	svc.Prime(trades)

	tk, ok := svc.Ticker("BTC")
	require.True(t, ok)
	assert.Equal(t, "9200.00000000", tk.LastPrice.String())
	assert.Equal(t, int64(2), tk.Trades24h)
	assert.Equal(t, "18300.00000000", tk.Volume24h.String())
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	svc := newService(t)
	id, ch := svc.Subscribe()

	svc.Record(tradeAt("BTC", "9000", "1", time.Now().UnixMilli()))

	select {
	case tk := <-ch:
		assert.Equal(t, "BTC", tk.Symbol)
		assert.Equal(t, "9000.00000000", tk.LastPrice.String())
	case <-time.After(time.Second):
		t.Fatal("no ticker received")
	}

	svc.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
}

func TestBroadcast_DropsWhenSubscriberSlow(t *testing.T) {
	svc := newService(t)
	_, ch := svc.Subscribe()
	now := time.Now().UnixMilli()

	// 不消费, 超出缓冲的行情应被丢弃而非阻塞
	for i := 0; i < 200; i++ {
		svc.Record(tradeAt("BTC", "9000", "1", now))
	}
	assert.LessOrEqual(t, len(ch), 64)

	tk := <-ch
	assert.Equal(t, int64(1), tk.Trades24h)
}

func TestStop_ClosesSubscribers(t *testing.T) {
	svc, err := market.NewService(market.Config{})
	require.NoError(t, err)
	_, ch := svc.Subscribe()

	require.NoError(t, svc.Stop())
	_, open := <-ch
	assert.False(t, open)
}
