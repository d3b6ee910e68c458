// 文件: pkg/store/snowflake.go
// 雪花 ID: 订单号与成交号共用一个节点, 多实例部署时各自配置 node id
// 使用开源库: github.com/bwmarrin/snowflake

package store

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	nodeMu sync.Mutex
	node   *snowflake.Node
)

// InitSnowflake 配置本进程的雪花节点, nodeID 取值 0-1023
// 重复调用覆盖旧节点, 进程启动时调用一次即可
func InitSnowflake(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return err
	}
	nodeMu.Lock()
	node = n
	nodeMu.Unlock()
	return nil
}

func idNode() *snowflake.Node {
	nodeMu.Lock()
	defer nodeMu.Unlock()
	if node == nil {
		// 未显式初始化时退回节点 0, 单实例场景够用
		node, _ = snowflake.NewNode(0)
	}
	return node
}

// GenerateOrderID 生成订单号
func GenerateOrderID() int64 {
	return idNode().Generate().Int64()
}

// GenerateTradeID 生成成交号
func GenerateTradeID() int64 {
	return idNode().Generate().Int64()
}
