// 文件: pkg/audit/sink_test.go
// 审计写入集成测试 (需要本地 MySQL, 不可用时跳过)

package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"spotex.com/pkg/store"
)

const testDSN = "root:123456@tcp(127.0.0.1:3307)/spotex?charset=utf8mb4&parseTime=True&loc=Local"

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.Open(testDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("skipping test; mysql not available: %v", err)
	}
	require.NoError(t, store.AutoMigrate(db))
	return db
}

func TestLogWritesRow(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sink := New(db, zap.NewNop())

	// 用时间戳当实体 id, 方便捞出本次写入
	entityID := time.Now().UnixNano()
	defer db.Exec("DELETE FROM audit_logs WHERE entity_id = ?", entityID)

	sink.Log(ctx, Entry{
		UserID:     42,
		Action:     ActionTradeExecutedBuy,
		EntityKind: EntityTrade,
		EntityID:   entityID,
		Detail:     map[string]string{"symbol": "BTC", "price": "50000.00000000"},
		IP:         "10.0.0.1",
	})

	var row store.AuditLog
	require.NoError(t, db.Where("entity_id = ?", entityID).First(&row).Error)
	assert.Equal(t, int64(42), row.UserID)
	assert.Equal(t, ActionTradeExecutedBuy, row.Action)
	assert.Equal(t, EntityTrade, row.EntityKind)
	assert.Equal(t, "10.0.0.1", row.IP)

	var detail map[string]string
	require.NoError(t, json.Unmarshal([]byte(row.Detail), &detail))
	assert.Equal(t, "BTC", detail["symbol"])
}

func TestLogNilDetail(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sink := New(db, zap.NewNop())

	entityID := time.Now().UnixNano()
	defer db.Exec("DELETE FROM audit_logs WHERE entity_id = ?", entityID)

	sink.Log(ctx, Entry{
		Action:     ActionUserLogin,
		EntityKind: EntityUser,
		EntityID:   entityID,
	})

	var row store.AuditLog
	require.NoError(t, db.Where("entity_id = ?", entityID).First(&row).Error)
	assert.Equal(t, "{}", row.Detail)
	assert.Equal(t, int64(0), row.UserID)
}

func TestLogJoinsTransaction(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sink := New(db, zap.NewNop())

	entityID := time.Now().UnixNano()

	// 事务回滚时审计记录一并消失
	_ = db.Transaction(func(tx *gorm.DB) error {
		sink.WithTx(tx).Log(ctx, Entry{
			Action:     ActionOrderPlaced,
			EntityKind: EntityOrder,
			EntityID:   entityID,
		})
		return assert.AnError
	})

	var count int64
	db.Model(&store.AuditLog{}).Where("entity_id = ?", entityID).Count(&count)
	assert.Equal(t, int64(0), count)
}
