package outbound

import "github.com/taoyao-code/ant-server/internal/protocol/ant"

// 下行命令优先级，数值越小越先发送；同一优先级内保持提交顺序
const (
	// PriorityEmergency 复位
	PriorityEmergency = 1

	// PriorityHigh 关闭通道
	PriorityHigh = 2

	// PriorityNormal 通道配置、数据发送
	PriorityNormal = 3

	// PriorityLow 保留
	PriorityLow = 4

	// PriorityBackground 查询类请求
	PriorityBackground = 5
)

// GetCommandPriority 根据消息 ID 返回优先级。
// 配置类命令共用同一优先级，保证分配、设置 ID、打开的先后顺序不被打乱。
func GetCommandPriority(id ant.MessageID) int {
	switch id {
	case ant.MesgSystemReset:
		return PriorityEmergency
	case ant.MesgCloseChannel:
		return PriorityHigh
	case ant.MesgRequest:
		return PriorityBackground
	default:
		return PriorityNormal
	}
}
