// 文件: pkg/auth/service.go
// 认证服务: 注册 / 登录 / 登出 / 令牌校验
//
// JWT HS256 有效期 72 小时, jti 作为会话标识写入 Redis (session:{jti}),
// 登出删除标记, 校验时标记不存在即视为已退出。
// 密码 bcrypt 哈希入库, 注册送种子资金 (10000 USD + 1 BTC + 10 ETH)。
// 使用开源库: github.com/golang-jwt/jwt/v5, golang.org/x/crypto/bcrypt,
// github.com/redis/go-redis/v9, github.com/google/uuid

package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"spotex.com/pkg/audit"
	"spotex.com/pkg/store"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTokenInvalid       = errors.New("token invalid or expired")
)

// TokenTTL 令牌与会话有效期
const TokenTTL = 72 * time.Hour

const sessionPrefix = "session:"

// Service 认证服务
type Service struct {
	st     *store.Store
	rdb    *redis.Client
	sink   *audit.Sink
	secret []byte
	log    *zap.Logger
}

// Config 认证服务依赖
type Config struct {
	Store     *store.Store
	Redis     *redis.Client
	Sink      *audit.Sink
	JWTSecret string
	Log       *zap.Logger
}

// New 创建认证服务
func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Service{
		st:     cfg.Store,
		rdb:    cfg.Redis,
		sink:   cfg.Sink,
		secret: []byte(cfg.JWTSecret),
		log:    cfg.Log,
	}
}

// =============================================================================
// 注册 / 登录 / 登出
// =============================================================================

// RegisterInput 注册请求
type RegisterInput struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

func (in RegisterInput) validate() error {
	if in.Name == "" || len(in.Name) > 64 {
		return fmt.Errorf("%w: name must be 1-64 characters", ErrValidation)
	}
	if len(in.Email) < 3 || len(in.Email) > 128 || !strings.Contains(in.Email, "@") || strings.ContainsAny(in.Email, " \t") {
		return fmt.Errorf("%w: invalid email", ErrValidation)
	}
	// bcrypt 上限 72 字节
	if len(in.Password) < 6 || len(in.Password) > 72 {
		return fmt.Errorf("%w: password must be 6-72 characters", ErrValidation)
	}
	if in.Password != in.PasswordConfirmation {
		return fmt.Errorf("%w: password confirmation does not match", ErrValidation)
	}
	return nil
}

// Register 注册新用户并发放种子资金, 成功即视为已登录, 返回令牌
func (s *Service) Register(ctx context.Context, in RegisterInput, ip string) (*store.User, string, error) {
	if err := in.validate(); err != nil {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	u := &store.User{
		Name:     in.Name,
		Email:    strings.ToLower(in.Email),
		Password: string(hash),
	}
	err = s.st.Transaction(ctx, func(tx *gorm.DB) error {
		if err := store.CreateUserWithSeed(ctx, tx, u); err != nil {
			return err
		}
		s.sink.WithTx(tx).Log(ctx, audit.Entry{
			UserID:     u.ID,
			Action:     audit.ActionUserRegistered,
			EntityKind: audit.EntityUser,
			EntityID:   u.ID,
			IP:         ip,
		})
		return nil
	})
	if err != nil {
		if store.IsDuplicateKey(err) {
			return nil, "", fmt.Errorf("%w: %s", ErrEmailTaken, u.Email)
		}
		return nil, "", err
	}

	token, err := s.issueToken(ctx, u.ID)
	if err != nil {
		return nil, "", err
	}

	s.log.Info("user registered", zap.Int64("user_id", u.ID), zap.String("email", u.Email))
	return u, token, nil
}

// Login 校验口令并发放令牌
// 邮箱不存在与密码错误返回同一错误, 不泄露账号是否存在
func (s *Service) Login(ctx context.Context, email, password, ip string) (*store.User, string, error) {
	u, err := store.GetUserByEmail(ctx, s.st.DB(), strings.ToLower(email))
	if err != nil {
		return nil, "", err
	}
	if u == nil {
		return nil, "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.issueToken(ctx, u.ID)
	if err != nil {
		return nil, "", err
	}

	s.sink.Log(ctx, audit.Entry{
		UserID:     u.ID,
		Action:     audit.ActionUserLogin,
		EntityKind: audit.EntityUser,
		EntityID:   u.ID,
		IP:         ip,
	})
	return u, token, nil
}

// Logout 删除会话标记, 此后该令牌不再通过校验
func (s *Service) Logout(ctx context.Context, userID int64, jti, ip string) error {
	if err := s.rdb.Del(ctx, sessionPrefix+jti).Err(); err != nil {
		return err
	}
	s.sink.Log(ctx, audit.Entry{
		UserID:     userID,
		Action:     audit.ActionUserLogout,
		EntityKind: audit.EntityUser,
		EntityID:   userID,
		IP:         ip,
	})
	return nil
}

// =============================================================================
// 令牌
// =============================================================================

// Authenticate 校验 Bearer 令牌, 返回用户 ID 与会话标识
func (s *Service) Authenticate(ctx context.Context, tokenString string) (int64, string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 || claims.ID == "" {
		return 0, "", ErrTokenInvalid
	}

	n, err := s.rdb.Exists(ctx, sessionPrefix+claims.ID).Result()
	if err != nil {
		return 0, "", err
	}
	if n == 0 {
		// 已登出或会话过期
		return 0, "", ErrTokenInvalid
	}
	return userID, claims.ID, nil
}

// issueToken 签发 JWT 并登记 Redis 会话
func (s *Service) issueToken(ctx context.Context, userID int64) (string, error) {
	now := time.Now()
	jti := uuid.NewString()
	claims := jwt.RegisteredClaims{
		Issuer:    "spotex",
		Subject:   strconv.FormatInt(userID, 10),
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, sessionPrefix+jti, userID, TokenTTL).Err(); err != nil {
		return "", err
	}
	return token, nil
}
