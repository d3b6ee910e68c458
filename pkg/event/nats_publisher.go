// 文件: pkg/event/nats_publisher.go
// NATS 发布实现: 事件推到 user.{id} 主题, 推送网关订阅转发

package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

var _ Publisher = (*NatsPublisher)(nil)

// NatsPublisher 基于 NATS 的用户频道发布者
type NatsPublisher struct {
	conn *nats.Conn
}

// NewNatsPublisher 连接 NATS
func NewNatsPublisher(url string) (*NatsPublisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NatsPublisher{conn: conn}, nil
}

// Publish 发布完整推送帧, 主题即频道名
func (p *NatsPublisher) Publish(ctx context.Context, userID int64, event string, data any) error {
	frame := Frame{
		Channel: UserChannel(userID),
		Event:   event,
		Data:    data,
	}
	bytes, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return p.conn.Publish(frame.Channel, bytes)
}

// Close 关闭连接
func (p *NatsPublisher) Close() {
	p.conn.Close()
}
