// 文件: pkg/api/handlers.go
// REST 处理器, 路由表见 server.go

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"spotex.com/pkg/auth"
	"spotex.com/pkg/market"
	"spotex.com/pkg/spot"
	"spotex.com/pkg/store"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 200
)

// decodeJSON 请求体解析失败归为校验错误 (422)
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed json body: %v", spot.ErrValidation, err)
	}
	return nil
}

// =============================================================================
// 认证
// =============================================================================

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeJSON(r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	u, token, err := s.auth.Register(r.Context(), in, clientIP(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"user":  newUserView(u),
		"token": token,
	})
}

type loginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginInput
	if err := decodeJSON(r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	u, token, err := s.auth.Login(r.Context(), in.Email, in.Password, clientIP(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user":  newUserView(u),
		"token": token,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.auth.Logout(ctx, userIDFrom(ctx), jtiFrom(ctx), clientIP(r)); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.spot.Me(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user": newUserView(u)})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.spot.Profile(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newProfileView(p))
}

// =============================================================================
// 交易
// =============================================================================

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var in spot.PlaceOrderInput
	if err := decodeJSON(r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	o, _, err := s.spot.PlaceOrder(r.Context(), userIDFrom(r.Context()), in, clientIP(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"order": newOrderView(o)})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.spot.Orders(r.Context(), userIDFrom(r.Context()), r.URL.Query().Get("status"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"orders": newOrderViews(orders)})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.respondError(w, r, store.ErrOrderNotFound)
		return
	}
	o, err := s.spot.CancelOrder(r.Context(), userIDFrom(r.Context()), orderID, clientIP(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"order": newOrderView(o)})
}

// =============================================================================
// 行情
// =============================================================================

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	ob, err := s.spot.Orderbook(r.Context(), r.URL.Query().Get("symbol"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, OrderbookView{
		Symbol:     ob.Symbol,
		BuyOrders:  newOrderViews(ob.Buys),
		SellOrders: newOrderViews(ob.Sells),
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, r, fmt.Errorf("%w: limit must be a positive integer", spot.ErrValidation))
			return
		}
		if n > maxTradeLimit {
			n = maxTradeLimit
		}
		limit = n
	}
	trades, err := s.spot.Trades(r.Context(), r.URL.Query().Get("symbol"), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"trades": newTradeViews(trades)})
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		tickers := []market.Ticker{}
		if s.market != nil {
			tickers = s.market.Tickers()
		}
		respondJSON(w, http.StatusOK, map[string]any{"tickers": tickers})
		return
	}
	if !store.ValidSymbol(symbol) {
		s.respondError(w, r, fmt.Errorf("%w: unsupported symbol %q", spot.ErrValidation, symbol))
		return
	}
	// 首笔成交前返回零值快照
	tk := market.Ticker{Symbol: symbol}
	if s.market != nil {
		tk, _ = s.market.Ticker(symbol)
	}
	respondJSON(w, http.StatusOK, map[string]any{"ticker": tk})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
