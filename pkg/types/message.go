package types

import "net"

// GooseMessage 表示一条完整解码后的GOOSE报文
// 解码完成后不可变，经过滤器匹配后转发给sink
type GooseMessage struct {
	SrcMAC net.HardwareAddr
	DstMAC net.HardwareAddr
	AppID  uint16

	GoID              string
	GoCbRef           string
	DataSet           string
	ConfRev           uint32
	StNum             uint32
	SqNum             uint32
	Timestamp         uint64 // t字段，毫秒
	TimeAllowedToLive uint32 // 毫秒
	Test              bool
	NdsCom            bool
	NumDatSetEntries  uint32
	Values            []TypedValue

	// ParseIncomplete 表示PDU截断或标签错误，仅填充了成功解析的字段
	// 单条畸形报文不会中断捕获流水线
	ParseIncomplete bool

	// IsRetransmission 由重传检测处理器填充：
	// 同一goID下stNum未变化且sqNum>0即为重传
	IsRetransmission bool
}
