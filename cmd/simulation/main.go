// 文件: cmd/simulation/main.go
// 端到端演练: 并发模拟用户随机下单/撤单, 跑完后校验资金与资产守恒
//
// 直接驱动 spot 门面打真实 MySQL, 不依赖 Redis/NATS/Kafka。
// 需要一套专用数据库: 库里若有其他挂单会与模拟单交叉, 守恒账算不平。

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"spotex.com/pkg/asset"
	"spotex.com/pkg/audit"
	"spotex.com/pkg/balance"
	"spotex.com/pkg/config"
	"spotex.com/pkg/fixed"
	"spotex.com/pkg/match"
	"spotex.com/pkg/order"
	"spotex.com/pkg/spot"
	"spotex.com/pkg/store"
)

// =============================================================================
// 模拟参数
// =============================================================================

var (
	numUsers  = flag.Int("users", 8, "并发模拟用户数")
	numRounds = flag.Int("rounds", 100, "每个用户的操作轮次")
	randSeed  = flag.Int64("seed", time.Now().UnixNano(), "随机种子, 固定后可复现")
)

// 价格锚点: 报价在锚点 ±10 内游走, 买卖价才会交叉
var basePrice = map[string]int64{
	store.SymbolBTC: 30000,
	store.SymbolETH: 2000,
}

// 全量成交约束下, 离散数量池让对手单容易精确对上
var amountPool = []string{"0.01", "0.02", "0.05", "0.1"}

type counters struct {
	matched   atomic.Int64 // 下单即成交
	rested    atomic.Int64 // 下单后挂入订单簿
	cancelled atomic.Int64
	partial   atomic.Int64 // 对手单数量不齐被拒
	rejected  atomic.Int64 // 余额/资产不足被拒
	transient atomic.Int64 // 锁超时/死锁, 放弃本轮
	failed    atomic.Int64 // 预期之外的错误
}

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	flag.Parse()
	log.Printf("🚀 spot simulation: users=%d rounds=%d seed=%d", *numUsers, *numRounds, *randSeed)

	cfg := config.Load("")

	// 1. 基础设施
	// -------------------------------------------------------------------------
	if err := store.InitSnowflake(cfg.SnowflakeNode); err != nil {
		log.Fatalf("init snowflake: %v", err)
	}
	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open mysql: %v", err)
	}
	if err := st.AutoMigrate(); err != nil {
		log.Fatalf("migrate schema: %v", err)
	}

	sink := audit.New(st.DB(), zap.NewNop())
	orders := order.New(order.Config{
		Store:  st,
		Engine: match.New(sink),
		Sink:   sink,
		Log:    zap.NewNop(),
	})
	svc := spot.New(st, orders)
	log.Println("✅ services wired (mysql only)")

	// 2. 铸造模拟用户
	// -------------------------------------------------------------------------
	ctx := context.Background()
	runTag := time.Now().UnixNano()
	ids := make([]int64, 0, *numUsers)
	for i := 0; i < *numUsers; i++ {
		u := &store.User{
			Name:     fmt.Sprintf("sim-%d", i),
			Email:    fmt.Sprintf("sim.%d.%d@spotex.local", runTag, i),
			Password: "simulated",
		}
		if err := st.Transaction(ctx, func(tx *gorm.DB) error {
			return store.CreateUserWithSeed(ctx, tx, u)
		}); err != nil {
			log.Fatalf("seed user %d: %v", i, err)
		}
		ids = append(ids, u.ID)
	}
	log.Printf("✅ %d users seeded (%s USD + 1 BTC + 10 ETH each)", len(ids), store.SeedBalance)

	// 3. 并发驱动
	// -------------------------------------------------------------------------
	var c counters
	start := time.Now()
	var wg sync.WaitGroup
	for wi, uid := range ids {
		wg.Add(1)
		go func(worker int, userID int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(*randSeed + int64(worker)))
			for round := 0; round < *numRounds; round++ {
				if r.Float32() < 0.3 {
					cancelRandomOpen(ctx, svc, userID, r, &c)
					continue
				}
				placeRandom(ctx, svc, userID, r, &c)
			}
		}(wi, uid)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// 4. 守恒校验
	// -------------------------------------------------------------------------
	db := st.DB()
	ok := true

	var userRows []store.User
	if err := db.Where("id IN ?", ids).Find(&userRows).Error; err != nil {
		log.Fatalf("load users: %v", err)
	}
	usd := fixed.Zero()
	for _, u := range userRows {
		usd = usd.Add(u.Balance)
	}

	var openOrders []store.Order
	if err := db.Where("user_id IN ? AND status = ?", ids, store.StatusOpen).Find(&openOrders).Error; err != nil {
		log.Fatalf("load open orders: %v", err)
	}
	for _, o := range openOrders {
		if o.Side == store.SideBuy {
			usd = usd.Add(o.Volume())
		}
	}

	var trades []store.Trade
	if err := db.Where("buyer_id IN ?", ids).Find(&trades).Error; err != nil {
		log.Fatalf("load trades: %v", err)
	}
	commission := fixed.Zero()
	for _, t := range trades {
		commission = commission.Add(t.Commission)
	}
	usd = usd.Add(commission)

	// 可用余额 + 买单锁定 + 手续费 = 初始发放总额
	wantUSD := store.SeedBalance.Mul(fixed.FromInt(int64(len(ids))))
	if usd.Equal(wantUSD) {
		log.Printf("✅ USD conserved: balances + buy locks + commission = %s", usd)
	} else {
		ok = false
		log.Printf("❌ USD conservation broken: have %s want %s", usd, wantUSD)
	}

	for _, symbol := range store.Symbols {
		var assetRows []store.Asset
		if err := db.Where("user_id IN ? AND symbol = ?", ids, symbol).Find(&assetRows).Error; err != nil {
			log.Fatalf("load assets: %v", err)
		}
		total := fixed.Zero()
		for _, a := range assetRows {
			total = total.Add(a.Amount).Add(a.LockedAmount)
		}
		want := store.SeedAmounts[symbol].Mul(fixed.FromInt(int64(len(ids))))
		if total.Equal(want) {
			log.Printf("✅ %s conserved: %s", symbol, total)
		} else {
			ok = false
			log.Printf("❌ %s conservation broken: have %s want %s", symbol, total, want)
		}
	}

	// 每笔成交恰好终结一买一卖
	var filled int64
	if err := db.Model(&store.Order{}).
		Where("user_id IN ? AND status = ?", ids, store.StatusFilled).
		Count(&filled).Error; err != nil {
		log.Fatalf("count filled orders: %v", err)
	}
	if filled == int64(len(trades))*2 {
		log.Printf("✅ order ledger consistent: %d filled = 2 x %d trades", filled, len(trades))
	} else {
		ok = false
		log.Printf("❌ order ledger broken: %d filled, %d trades", filled, len(trades))
	}

	// 5. 汇总
	// -------------------------------------------------------------------------
	log.Printf("📊 done in %s: matched=%d rested=%d cancelled=%d partial=%d rejected=%d transient=%d",
		elapsed.Round(time.Millisecond),
		c.matched.Load(), c.rested.Load(), c.cancelled.Load(),
		c.partial.Load(), c.rejected.Load(), c.transient.Load())
	if c.failed.Load() > 0 || !ok {
		log.Fatalf("❌ simulation FAILED: unexpected_errors=%d", c.failed.Load())
	}
	log.Println("✅ simulation passed")
}

// =============================================================================
// 随机操作
// =============================================================================

func placeRandom(ctx context.Context, svc *spot.Service, userID int64, r *rand.Rand, c *counters) {
	symbol := store.Symbols[r.Intn(len(store.Symbols))]
	side := "buy"
	if r.Float32() < 0.5 {
		side = "sell"
	}
	in := spot.PlaceOrderInput{
		Symbol: symbol,
		Side:   side,
		Price:  fmt.Sprintf("%d", basePrice[symbol]+r.Int63n(21)-10),
		Amount: amountPool[r.Intn(len(amountPool))],
	}

	_, trade, err := svc.PlaceOrder(ctx, userID, in, "127.0.0.1")
	switch {
	case err == nil && trade != nil:
		c.matched.Add(1)
	case err == nil:
		c.rested.Add(1)
	case errors.Is(err, match.ErrPartialMatch):
		c.partial.Add(1)
	case errors.Is(err, balance.ErrInsufficientBalance), errors.Is(err, asset.ErrInsufficientAssets):
		c.rejected.Add(1)
	case store.IsTransient(err):
		c.transient.Add(1)
	default:
		c.failed.Add(1)
		log.Printf("❌ unexpected place error (user %d): %v", userID, err)
	}
}

func cancelRandomOpen(ctx context.Context, svc *spot.Service, userID int64, r *rand.Rand, c *counters) {
	open, err := svc.Orders(ctx, userID, "open")
	if err != nil || len(open) == 0 {
		return
	}
	pick := open[r.Intn(len(open))]

	if _, err := svc.CancelOrder(ctx, userID, pick.OrderID, "127.0.0.1"); err != nil {
		// 撤单与撮合赛跑输掉属正常
		if errors.Is(err, order.ErrNotOpen) || store.IsTransient(err) {
			return
		}
		c.failed.Add(1)
		log.Printf("❌ unexpected cancel error (user %d): %v", userID, err)
		return
	}
	c.cancelled.Add(1)
}
