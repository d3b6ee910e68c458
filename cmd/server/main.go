// 文件: cmd/server/main.go
// 交易所服务进程: 配置 -> 基础设施 -> 服务装配 -> HTTP, 支持优雅下线
//
// MySQL/Redis 缺失直接启动失败; NATS/Kafka 未配置时对应推送降级关闭。

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"spotex.com/pkg/api"
	"spotex.com/pkg/audit"
	"spotex.com/pkg/auth"
	"spotex.com/pkg/config"
	"spotex.com/pkg/event"
	"spotex.com/pkg/market"
	"spotex.com/pkg/match"
	"spotex.com/pkg/order"
	"spotex.com/pkg/spot"
	"spotex.com/pkg/store"
	"spotex.com/pkg/util"
)

// tickerPrimeDepth 启动时每币种回灌的历史成交数
const tickerPrimeDepth = 500

func main() {
	cfg := config.Load("")

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.LogFile)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := store.InitSnowflake(cfg.SnowflakeNode); err != nil {
		logger.Fatal("init snowflake", zap.Error(err))
	}

	// ---- 基础设施 ----

	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		logger.Fatal("open mysql", zap.Error(err))
	}
	if err := st.AutoMigrate(); err != nil {
		logger.Fatal("migrate schema", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Fatal("connect redis", zap.Error(err))
	}

	sink := audit.New(st.DB(), logger)

	var pub event.Publisher = event.Nop{}
	var natsPub *event.NatsPublisher
	if cfg.Nats.URL != "" {
		natsPub, err = event.NewNatsPublisher(cfg.Nats.URL)
		if err != nil {
			logger.Fatal("connect nats", zap.Error(err))
		}
		pub = natsPub
	} else {
		logger.Info("nats disabled; order.matched push off")
	}

	var feed *event.TradeFeed
	if len(cfg.Kafka.Brokers) > 0 {
		feed, err = event.NewTradeFeed(event.DefaultFeedConfig(cfg.Kafka.Brokers), logger)
		if err != nil {
			logger.Fatal("create trade feed", zap.Error(err))
		}
	} else {
		logger.Info("kafka disabled; trade feed off")
	}

	// ---- 服务装配 ----

	mkt, err := market.NewService(market.Config{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
		Log:     logger,
	})
	if err != nil {
		logger.Fatal("create market service", zap.Error(err))
	}
	for _, sym := range store.Symbols {
		trades, err := store.ListTradesBySymbol(context.Background(), st.DB(), sym, tickerPrimeDepth)
		if err != nil {
			logger.Warn("prime ticker failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		mkt.Prime(trades)
	}
	mkt.Start()

	orders := order.New(order.Config{
		Store:  st,
		Engine: match.New(sink),
		Sink:   sink,
		Events: pub,
		Feed:   feed,
		Log:    logger,
	})

	srv := api.NewServer(api.Config{
		Auth: auth.New(auth.Config{
			Store:     st,
			Redis:     rdb,
			Sink:      sink,
			JWTSecret: cfg.Auth.JWTSecret,
			Log:       logger,
		}),
		Spot:           spot.New(st, orders),
		Market:         mkt,
		NatsURL:        cfg.Nats.URL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Log:            logger,
	})

	// ---- 启动与优雅下线 ----

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Addr) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	if err := mkt.Stop(); err != nil {
		logger.Warn("stop market service", zap.Error(err))
	}
	if feed != nil {
		_ = feed.Close()
	}
	if natsPub != nil {
		natsPub.Close()
	}
	logger.Info("server stopped")
}
