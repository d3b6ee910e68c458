// 文件: pkg/api/websocket.go
// WebSocket 推送网关
//
// 频道模型:
//   user.{id}        私有频道, 连接时带合法令牌自动订阅本人频道
//   ticker.{symbol}  行情频道, 任意连接可订阅
//
// 投递为尽力而为: 客户端缓冲满则丢弃该条消息, 不阻塞其他连接。
// 使用开源库: github.com/gorilla/websocket

package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"spotex.com/pkg/event"
	"spotex.com/pkg/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 跨域由外层 CORS 统一处理
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub 维护全部在线连接并按频道分发消息
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool

	register   chan *wsClient
	unregister chan *wsClient
	stop       chan struct{}

	log *zap.Logger
}

func newHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		stop:       make(chan struct{}),
		log:        log,
	}
}

// run 连接注册主循环, 在独立 goroutine 中执行
func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WSConnections.Inc()
			h.log.Info("ws client connected",
				zap.Int64("user_id", c.userID),
				zap.Int("total", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				metrics.WSConnections.Dec()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info("ws client disconnected",
				zap.Int64("user_id", c.userID),
				zap.Int("total", total))

		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
				metrics.WSConnections.Dec()
			}
			h.mu.Unlock()
			return
		}
	}
}

// broadcastRaw 把已序列化的帧投给订阅了该频道的连接
func (h *Hub) broadcastRaw(channel string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.isSubscribed(channel) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// 慢客户端丢弃本条
		}
	}
}

func (h *Hub) close() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
}

// =============================================================================
// 客户端连接
// =============================================================================

// wsClient 单个 WebSocket 连接, userID 为 0 表示未认证
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	userID int64

	subsMu sync.RWMutex
	subs   map[string]bool
}

// wsRequest 客户端订阅协议
type wsRequest struct {
	Op       string   `json:"op"` // subscribe / unsubscribe
	Channels []string `json:"channels"`
}

func (c *wsClient) isSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subs[channel]
}

// canSubscribe 行情频道公开, 私有频道仅限本人
func (c *wsClient) canSubscribe(channel string) bool {
	if strings.HasPrefix(channel, "ticker.") {
		return true
	}
	return c.userID != 0 && channel == event.UserChannel(c.userID)
}

func (c *wsClient) subscribe(channel string) {
	c.subsMu.Lock()
	c.subs[channel] = true
	c.subsMu.Unlock()
}

func (c *wsClient) unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subs, channel)
	c.subsMu.Unlock()
}

// readPump 处理订阅指令与心跳, 连接断开时注销
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("ws read error", zap.Error(err))
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.log.Warn("ws invalid message", zap.Error(err))
			continue
		}
		switch req.Op {
		case "subscribe":
			for _, channel := range req.Channels {
				if c.canSubscribe(channel) {
					c.subscribe(channel)
				}
			}
		case "unsubscribe":
			for _, channel := range req.Channels {
				c.unsubscribe(channel)
			}
		}
	}
}

// writePump 把分发到的帧写出, 定期 ping 保活
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// =============================================================================
// 升级入口
// =============================================================================

// handleWebSocket 升级连接; 令牌可经 ?token= 或 Authorization 头传入,
// 带令牌但校验失败直接拒绝, 不带令牌按匿名处理 (仅行情频道)
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}

	var userID int64
	if token != "" {
		uid, _, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		userID = uid
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		userID: userID,
		subs:   make(map[string]bool),
	}
	if userID != 0 {
		c.subscribe(event.UserChannel(userID))
	}

	s.hub.register <- c
	go c.writePump()
	go c.readPump()
}
