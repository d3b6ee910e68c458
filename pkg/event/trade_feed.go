// 文件: pkg/event/trade_feed.go
// 成交行情流: 每笔成交异步写入 Kafka, 行情服务消费做统计
//
// 异步生产, 按 symbol 作分区 key 保证同币种顺序;
// 发送失败只计数告警, 不影响交易主流程

package event

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"spotex.com/pkg/store"
)

// TradeTopic 成交流 topic
const TradeTopic = "spot_trades"

// FeedConfig 行情流生产者配置
type FeedConfig struct {
	Brokers        []string
	Topic          string
	FlushFrequency time.Duration // 批量刷新间隔
	FlushMessages  int           // 批量消息数
	MaxRetries     int
}

// DefaultFeedConfig 默认配置
func DefaultFeedConfig(brokers []string) FeedConfig {
	return FeedConfig{
		Brokers:        brokers,
		Topic:          TradeTopic,
		FlushFrequency: 100 * time.Millisecond,
		FlushMessages:  100,
		MaxRetries:     3,
	}
}

// TradeFeed Kafka 成交流生产者
type TradeFeed struct {
	producer sarama.AsyncProducer
	topic    string
	log      *zap.Logger

	sentCount  atomic.Int64
	errorCount atomic.Int64

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewTradeFeed 创建成交流生产者
func NewTradeFeed(cfg FeedConfig, log *zap.Logger) (*TradeFeed, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = cfg.FlushFrequency
	saramaConfig.Producer.Flush.Messages = cfg.FlushMessages
	saramaConfig.Producer.Retry.Max = cfg.MaxRetries
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create trade feed producer: %w", err)
	}

	f := &TradeFeed{
		producer: producer,
		topic:    cfg.Topic,
		log:      log,
	}

	f.wg.Add(1)
	go f.drainErrors()

	return f, nil
}

// PublishTrade 异步发布一笔成交 (事务提交后调用)
func (f *TradeFeed) PublishTrade(t *store.Trade) error {
	if f.closed.Load() {
		return fmt.Errorf("trade feed is closed")
	}

	data, err := json.Marshal(NewTradePayload(t))
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}

	f.producer.Input() <- &sarama.ProducerMessage{
		Topic: f.topic,
		Key:   sarama.StringEncoder(t.Symbol),
		Value: sarama.ByteEncoder(data),
	}
	f.sentCount.Add(1)
	return nil
}

func (f *TradeFeed) drainErrors() {
	defer f.wg.Done()
	for err := range f.producer.Errors() {
		f.errorCount.Add(1)
		f.log.Warn("trade feed send failed",
			zap.String("topic", err.Msg.Topic),
			zap.Error(err.Err))
	}
}

// FeedStats 生产计数
type FeedStats struct {
	SentCount  int64
	ErrorCount int64
}

// Stats 获取计数
func (f *TradeFeed) Stats() FeedStats {
	return FeedStats{
		SentCount:  f.sentCount.Load(),
		ErrorCount: f.errorCount.Load(),
	}
}

// Close 关闭生产者, 等待错误处理退出
func (f *TradeFeed) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	err := f.producer.Close()
	f.wg.Wait()
	return err
}
