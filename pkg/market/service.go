// 文件: pkg/market/service.go
// 行情服务: 消费 Kafka 成交流, 维护各币种 24 小时滚动统计
//
// 数据流:
//
//   order.Service ──Kafka spot_trades──▶ market.Service
//                                             │
//                                     统计 (last/high/low/volume)
//                                             │
//                                       Broadcaster ──▶ WebSocket
//
// 消费者组语义: 同组内一条成交只被消费一次, 水平扩容时自动分摊分区。
// 使用开源库: github.com/IBM/sarama

package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"spotex.com/pkg/event"
	"spotex.com/pkg/fixed"
	"spotex.com/pkg/store"
)

const dayMillis = int64(24 * time.Hour / time.Millisecond)

// Ticker 单币种行情快照
type Ticker struct {
	Symbol    string        `json:"symbol"`
	LastPrice fixed.Decimal `json:"last_price"`
	High24h   fixed.Decimal `json:"high_24h"`
	Low24h    fixed.Decimal `json:"low_24h"`
	Volume24h fixed.Decimal `json:"volume_24h"` // USD 成交额
	Trades24h int64         `json:"trades_24h"`
	UpdatedAt int64         `json:"updated_at"`
}

// point 窗口内的一笔成交
type point struct {
	ts     int64
	price  fixed.Decimal
	volume fixed.Decimal
}

// symbolStats 单币种统计, 由 Service.mu 保护
type symbolStats struct {
	last      fixed.Decimal
	updatedAt int64
	points    []point
}

// prune 丢弃窗口之外的成交
func (st *symbolStats) prune(cutoff int64) {
	i := 0
	for i < len(st.points) && st.points[i].ts < cutoff {
		i++
	}
	if i > 0 {
		st.points = append(st.points[:0], st.points[i:]...)
	}
}

// snapshot 汇总当前窗口
func (st *symbolStats) snapshot(symbol string) Ticker {
	t := Ticker{
		Symbol:    symbol,
		LastPrice: st.last,
		UpdatedAt: st.updatedAt,
	}
	for i, p := range st.points {
		if i == 0 {
			t.High24h, t.Low24h = p.price, p.price
		} else {
			if p.price.GreaterThan(t.High24h) {
				t.High24h = p.price
			}
			if p.price.LessThan(t.Low24h) {
				t.Low24h = p.price
			}
		}
		t.Volume24h = t.Volume24h.Add(p.volume)
		t.Trades24h++
	}
	return t
}

// Config 行情服务配置
type Config struct {
	Brokers []string // 为空则不启动消费, 只接受 Record 直灌
	GroupID string
	Log     *zap.Logger
}

// Service 行情服务
type Service struct {
	mu    sync.RWMutex
	stats map[string]*symbolStats

	fanout   *Broadcaster
	consumer sarama.ConsumerGroup
	group    string
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService 创建行情服务, Brokers 非空时建立 Kafka 消费者组
func NewService(cfg Config) (*Service, error) {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		stats:  make(map[string]*symbolStats),
		fanout: NewBroadcaster(),
		group:  cfg.GroupID,
		log:    cfg.Log,
		ctx:    ctx,
		cancel: cancel,
	}

	if len(cfg.Brokers) > 0 {
		sc := sarama.NewConfig()
		sc.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
		sc.Consumer.Offsets.AutoCommit.Enable = true

		group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("create consumer group: %w", err)
		}
		s.consumer = group
	}
	return s, nil
}

// Start 启动后台消费, 未配置 Kafka 时为空操作
func (s *Service) Start() {
	if s.consumer == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			err := s.consumer.Consume(s.ctx, []string{event.TradeTopic}, &claimHandler{svc: s})
			if err != nil {
				s.log.Warn("market consume error", zap.Error(err))
			}
			if s.ctx.Err() != nil {
				return
			}
		}
	}()
}

// Stop 停止消费并关闭扇出
func (s *Service) Stop() error {
	s.cancel()
	s.wg.Wait()
	s.fanout.Close()
	if s.consumer != nil {
		return s.consumer.Close()
	}
	return nil
}

// =============================================================================
// 统计
// =============================================================================

// Record 纳入一笔成交并广播最新行情
func (s *Service) Record(tp event.TradePayload) {
	now := time.Now().UnixMilli()

	s.mu.Lock()
	st := s.stats[tp.Symbol]
	if st == nil {
		st = &symbolStats{}
		s.stats[tp.Symbol] = st
	}
	st.last = tp.Price
	st.updatedAt = now
	st.points = append(st.points, point{ts: tp.CreatedAt, price: tp.Price, volume: tp.Volume})
	st.prune(now - dayMillis)
	tk := st.snapshot(tp.Symbol)
	s.mu.Unlock()

	s.fanout.Broadcast(tk)
}

// Prime 用历史成交预热统计 (启动时灌入最近成交)
func (s *Service) Prime(trades []*store.Trade) {
	// 传入为时间倒序, 逆向遍历保持时间正序
	for i := len(trades) - 1; i >= 0; i-- {
		s.Record(event.NewTradePayload(trades[i]))
	}
}

// Ticker 查询单币种行情, 无成交记录时 ok 为 false
func (s *Service) Ticker(symbol string) (Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stats[symbol]
	if !ok {
		return Ticker{Symbol: symbol}, false
	}
	return st.snapshot(symbol), true
}

// Tickers 全部币种行情, 按币种字典序
func (s *Service) Tickers() []Ticker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Ticker, 0, len(s.stats))
	for sym, st := range s.stats {
		out = append(out, st.snapshot(sym))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Subscribe 订阅行情推送
func (s *Service) Subscribe() (int64, <-chan Ticker) {
	return s.fanout.Subscribe()
}

// Unsubscribe 退订
func (s *Service) Unsubscribe(id int64) {
	s.fanout.Unsubscribe(id)
}

// =============================================================================
// Kafka 消费
// =============================================================================

// claimHandler 实现 sarama.ConsumerGroupHandler
type claimHandler struct {
	svc *Service
}

func (h *claimHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var tp event.TradePayload
		if err := json.Unmarshal(msg.Value, &tp); err != nil {
			// 脏消息跳过, 不中断消费
			h.svc.log.Warn("malformed trade message",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		} else {
			h.svc.Record(tp)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
