// 文件: pkg/audit/sink.go
// 审计日志: 追加写, 永不反向影响业务
//
// 成交审计随结算事务一起写入; 登录/登出等在各自调用点写入。
// 写失败一律吞掉只告警, 审计缺一条不能让交易回滚。

package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"spotex.com/pkg/store"
)

// 审计动作
const (
	ActionUserRegistered    = "USER_REGISTERED"
	ActionUserLogin         = "USER_LOGIN"
	ActionUserLogout        = "USER_LOGOUT"
	ActionOrderPlaced       = "ORDER_PLACED"
	ActionOrderCancelled    = "ORDER_CANCELLED"
	ActionTradeExecutedBuy  = "TRADE_EXECUTED_BUY"
	ActionTradeExecutedSell = "TRADE_EXECUTED_SELL"
)

// 实体类型
const (
	EntityUser  = "user"
	EntityOrder = "order"
	EntityTrade = "trade"
)

// Entry 一条审计记录
type Entry struct {
	UserID     int64  // 0 表示无关联用户
	Action     string
	EntityKind string
	EntityID   int64
	Detail     any // 序列化为 JSON 存储
	IP         string
}

// Sink 审计写入器
type Sink struct {
	db  *gorm.DB
	log *zap.Logger
}

// New 创建审计写入器
func New(db *gorm.DB, log *zap.Logger) *Sink {
	return &Sink{db: db, log: log}
}

// WithTx 绑定到事务句柄, 随外层事务一起提交
func (s *Sink) WithTx(tx *gorm.DB) *Sink {
	return &Sink{db: tx, log: s.log}
}

// Log 追加一条审计, 失败只告警
func (s *Sink) Log(ctx context.Context, e Entry) {
	detail := "{}"
	if e.Detail != nil {
		bytes, err := json.Marshal(e.Detail)
		if err != nil {
			s.log.Warn("audit detail marshal failed",
				zap.String("action", e.Action), zap.Error(err))
		} else {
			detail = string(bytes)
		}
	}

	row := &store.AuditLog{
		UserID:     e.UserID,
		Action:     e.Action,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Detail:     detail,
		IP:         e.IP,
		CreatedAt:  time.Now().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		s.log.Warn("audit write failed",
			zap.String("action", e.Action),
			zap.Int64("user_id", e.UserID),
			zap.Error(err))
	}
}
