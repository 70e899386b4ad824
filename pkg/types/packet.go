package types

import (
	"net"

	"github.com/google/gopacket"
)

// Packet 表示处理流水线中传递的数据包
type Packet struct {
	ID          string
	Timestamp   int64
	CaptureInfo gopacket.CaptureInfo
	RawData     []byte
	Device      string // 捕获该帧的网口名

	// 以太网头部字段，由解析处理器填充
	SrcMAC       net.HardwareAddr
	DstMAC       net.HardwareAddr
	EthernetType uint16

	Message   *GooseMessage // GOOSE解码结果
	LastError error

	RuleResult *RuleMatchResult // 表达式规则匹配结果
}

// Stage 表示处理阶段的状态
type Stage int

const (
	StageGooseParsing            Stage = iota + 1 // GOOSE解码
	StageRetransmissionDetection                  // 重传检测
	StageCaptureFiltering                         // 捕获过滤器匹配
	StageRuleEngineDetection                      // 表达式规则引擎检测
)
