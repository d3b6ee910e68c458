// 文件: pkg/store/store.go
// 存储层: 连接 / 事务 / 错误分类
//
// 【设计】
// - 撮合与清结算的正确性建立在 InnoDB 行锁之上, 隔离级别 REPEATABLE READ
// - 金额运算全部在 Go 内用 fixed.Decimal 完成, 持锁后整值写回,
//   不在 SQL 表达式里对字符串参数做算术 (MySQL 会按 double 参与运算)
// - 锁等待超时(1205)/死锁(1213) 归类为瞬态错误, 客户端可重试

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrAssetNotFound = errors.New("asset not found")
	ErrOrderNotFound = errors.New("order not found")
)

// =============================================================================
// Store
// =============================================================================

// Store 数据库入口, 持有根连接; 事务内操作统一走 *gorm.DB 句柄
type Store struct {
	db *gorm.DB
}

// Open 连接 MySQL
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return &Store{db: db}, nil
}

// New 包装现有连接 (测试注入用)
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 暴露底层句柄
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction 执行原子事务: fn 返回 nil 提交, 返回 error 整体回滚
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// =============================================================================
// 错误分类
// =============================================================================

// IsTransient 判断是否为可重试的瞬态错误 (锁等待超时/死锁被选为牺牲者)
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Lock wait timeout") || strings.Contains(s, "1205") ||
		strings.Contains(s, "Deadlock found") || strings.Contains(s, "1213") ||
		strings.Contains(s, "invalid connection")
}

// IsDuplicateKey 判断是否为唯一键冲突
// MySQL error code 1062 = Duplicate entry
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Duplicate entry") || strings.Contains(s, "1062")
}
