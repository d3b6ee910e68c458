// 文件: pkg/api/server.go
// HTTP 服务: REST 路由 + WebSocket 推送 + /metrics
//
// 推送链路: 撮合发布 NATS user.{id} -> 本服务订阅 user.* 原样转发 ->
// 对应用户的 WebSocket 连接; 行情从 market.Service 订阅后按
// ticker.{symbol} 频道分发。
// 使用开源库: github.com/gorilla/mux, github.com/rs/cors, github.com/nats-io/nats.go

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"spotex.com/pkg/auth"
	"spotex.com/pkg/event"
	"spotex.com/pkg/market"
	"spotex.com/pkg/spot"
)

// Config HTTP 服务配置
type Config struct {
	Auth   *auth.Service
	Spot   *spot.Service
	Market *market.Service

	// NatsURL 推送桥接地址, 为空禁用私有频道推送
	NatsURL string
	// AllowedOrigins 跨域白名单, 为空放行所有来源
	AllowedOrigins []string

	Log *zap.Logger
}

// Server HTTP 服务
type Server struct {
	auth   *auth.Service
	spot   *spot.Service
	market *market.Service

	router  *mux.Router
	handler http.Handler
	hub     *Hub
	log     *zap.Logger

	natsURL  string
	natsConn *nats.Conn
	tickerID int64

	httpServer *http.Server
}

// NewServer 组装路由与中间件链
func NewServer(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	s := &Server{
		auth:    cfg.Auth,
		spot:    cfg.Spot,
		market:  cfg.Market,
		router:  mux.NewRouter(),
		log:     cfg.Log,
		natsURL: cfg.NatsURL,
	}
	s.hub = newHub(cfg.Log)
	s.setupRoutes()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: len(cfg.AllowedOrigins) > 0,
	})
	s.handler = c.Handler(requestID(s.accessLog(s.recovery(s.router))))

	go s.hub.run()
	s.startTickerBridge()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// 公开
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/ticker", s.handleTicker).Methods(http.MethodGet)

	// 认证
	priv := api.PathPrefix("").Subrouter()
	priv.Use(s.authenticate)
	priv.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	priv.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	priv.HandleFunc("/profile", s.handleProfile).Methods(http.MethodGet)
	priv.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	priv.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	priv.HandleFunc("/orders/{id:[0-9]+}/cancel", s.handleCancelOrder).Methods(http.MethodPost)
	priv.HandleFunc("/orderbook", s.handleOrderbook).Methods(http.MethodGet)
	priv.HandleFunc("/trades", s.handleTrades).Methods(http.MethodGet)

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler 完整中间件链后的入口, 测试直接挂 httptest
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start 接通 NATS 私有频道并启动 HTTP 监听, 阻塞直至服务关闭
func (s *Server) Start(addr string) error {
	if err := s.startNatsBridge(); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("http server listening", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown 优雅下线: 停 HTTP, 断开推送桥, 关闭全部 WS 连接
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.natsConn != nil {
		s.natsConn.Close()
	}
	if s.market != nil {
		s.market.Unsubscribe(s.tickerID)
	}
	s.hub.close()
	return err
}

// startNatsBridge 订阅 user.* 并原样转发到对应连接
func (s *Server) startNatsBridge() error {
	if s.natsURL == "" {
		return nil
	}
	conn, err := nats.Connect(s.natsURL)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	// 主题即频道名, 负载为完整帧
	_, err = conn.Subscribe(event.UserChannelWildcard, func(msg *nats.Msg) {
		s.hub.broadcastRaw(msg.Subject, msg.Data)
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("subscribe user events: %w", err)
	}
	s.natsConn = conn
	return nil
}

// startTickerBridge 把行情广播转成 ticker.{symbol} 频道帧
func (s *Server) startTickerBridge() {
	if s.market == nil {
		return
	}
	id, ch := s.market.Subscribe()
	s.tickerID = id
	go func() {
		for tk := range ch {
			frame := event.Frame{
				Channel: "ticker." + tk.Symbol,
				Event:   "ticker",
				Data:    tk,
			}
			payload, err := json.Marshal(frame)
			if err != nil {
				s.log.Warn("marshal ticker frame", zap.Error(err))
				continue
			}
			s.hub.broadcastRaw(frame.Channel, payload)
		}
	}()
}
