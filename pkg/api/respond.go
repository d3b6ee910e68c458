// 文件: pkg/api/respond.go
// 统一响应与错误分类
//
// 业务错误按类别映射 HTTP 状态:
//   422 入参 / 状态类 (校验失败, 余额不足, 非本人订单, 非挂单状态, 部分成交)
//   404 实体不存在
//   401 认证失败
//   503 瞬时错误 (锁等待超时, 死锁), 客户端可退避重试
//   500 其余, 细节不下发

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"spotex.com/pkg/asset"
	"spotex.com/pkg/auth"
	"spotex.com/pkg/balance"
	"spotex.com/pkg/match"
	"spotex.com/pkg/order"
	"spotex.com/pkg/spot"
	"spotex.com/pkg/store"
)

// ErrorResponse 错误响应体
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// unprocessable 422 错误族
var unprocessable = []error{
	spot.ErrValidation,
	auth.ErrValidation,
	auth.ErrEmailTaken,
	order.ErrInvalidSymbol,
	order.ErrInvalidSide,
	order.ErrInvalidPrice,
	order.ErrInvalidAmount,
	order.ErrNotOwner,
	order.ErrNotOpen,
	balance.ErrInvalidAmount,
	balance.ErrInsufficientBalance,
	asset.ErrInvalidSymbol,
	asset.ErrInvalidAmount,
	asset.ErrInsufficientAssets,
	asset.ErrInsufficientLocked,
	match.ErrPartialMatch,
}

// notFound 404 错误族
var notFound = []error{
	store.ErrUserNotFound,
	store.ErrAssetNotFound,
	store.ErrOrderNotFound,
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized
	}
	for _, target := range notFound {
		if errors.Is(err, target) {
			return http.StatusNotFound
		}
	}
	for _, target := range unprocessable {
		if errors.Is(err, target) {
			return http.StatusUnprocessableEntity
		}
	}
	if store.IsTransient(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorCode(status int) string {
	switch status {
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusServiceUnavailable:
		return "transient"
	}
	return "internal"
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError 按错误类别响应, 500 不泄漏内部细节
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("internal error",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		message = "internal error"
	}
	respondJSON(w, status, ErrorResponse{Error: errorCode(status), Message: message})
}
