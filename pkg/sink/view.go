package sink

import (
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// ValueView 是数据集成员的导出表示
type ValueView struct {
	Kind  string      `json:"kind"`
	Value interface{} `json:"value"`
}

// MessageView 是解码后GOOSE报文的导出表示
// 供JSON落盘和WebSocket推送共用
type MessageView struct {
	PacketID          string      `json:"packet_id"`
	Device            string      `json:"device"`
	Timestamp         int64       `json:"timestamp"`
	SrcMAC            string      `json:"src_mac"`
	DstMAC            string      `json:"dst_mac"`
	AppID             uint16      `json:"app_id"`
	GoID              string      `json:"go_id"`
	GoCbRef           string      `json:"gocb_ref"`
	DataSet           string      `json:"data_set"`
	ConfRev           uint32      `json:"conf_rev"`
	StNum             uint32      `json:"st_num"`
	SqNum             uint32      `json:"sq_num"`
	EventTimestamp    uint64      `json:"event_timestamp"`
	TimeAllowedToLive uint32      `json:"time_allowed_to_live"`
	Test              bool        `json:"test"`
	NdsCom            bool        `json:"nds_com"`
	NumEntries        uint32      `json:"num_entries"`
	IsRetransmission  bool        `json:"is_retransmission"`
	ParseIncomplete   bool        `json:"parse_incomplete"`
	Values            []ValueView `json:"values"`

	RuleAction  string `json:"rule_action,omitempty"`
	RuleID      string `json:"rule_id,omitempty"`
	Description string `json:"rule_description,omitempty"`
}

func valueViews(values []types.TypedValue) []ValueView {
	out := make([]ValueView, 0, len(values))
	for i := range values {
		v := &values[i]
		view := ValueView{Kind: kindName(v.Kind)}
		switch v.Kind {
		case types.KindBoolean:
			view.Value = v.Bool
		case types.KindInteger:
			view.Value = v.Int
		case types.KindUnsigned, types.KindUtcTime:
			view.Value = v.Uint
		case types.KindFloat:
			view.Value = v.Float
		case types.KindVisibleString:
			view.Value = v.Str
		case types.KindOctetString, types.KindOpaque:
			view.Value = v.Bytes
		case types.KindBitString:
			view.Value = map[string]interface{}{"width": v.Width, "bits": v.Bits}
		}
		out = append(out, view)
	}
	return out
}

func kindName(k types.ValueKind) string {
	switch k {
	case types.KindBoolean:
		return "boolean"
	case types.KindInteger:
		return "integer"
	case types.KindUnsigned:
		return "unsigned"
	case types.KindFloat:
		return "float"
	case types.KindOctetString:
		return "octet-string"
	case types.KindVisibleString:
		return "visible-string"
	case types.KindBitString:
		return "bit-string"
	case types.KindUtcTime:
		return "utc-time"
	default:
		return "opaque"
	}
}

// NewMessageView 从流水线报文构建导出视图，未解码的报文返回nil
func NewMessageView(packet *types.Packet) *MessageView {
	msg := packet.Message
	if msg == nil {
		return nil
	}

	view := &MessageView{
		PacketID:          packet.ID,
		Device:            packet.Device,
		Timestamp:         packet.Timestamp,
		SrcMAC:            msg.SrcMAC.String(),
		DstMAC:            msg.DstMAC.String(),
		AppID:             msg.AppID,
		GoID:              msg.GoID,
		GoCbRef:           msg.GoCbRef,
		DataSet:           msg.DataSet,
		ConfRev:           msg.ConfRev,
		StNum:             msg.StNum,
		SqNum:             msg.SqNum,
		EventTimestamp:    msg.Timestamp,
		TimeAllowedToLive: msg.TimeAllowedToLive,
		Test:              msg.Test,
		NdsCom:            msg.NdsCom,
		NumEntries:        msg.NumDatSetEntries,
		IsRetransmission:  msg.IsRetransmission,
		ParseIncomplete:   msg.ParseIncomplete,
		Values:            valueViews(msg.Values),
	}

	if packet.RuleResult != nil {
		switch packet.RuleResult.Action {
		case types.ActionAlert:
			view.RuleAction = "alert"
		case types.ActionDeliver:
			view.RuleAction = "deliver"
		case types.ActionDrop:
			view.RuleAction = "drop"
		}
		if packet.RuleResult.BlackRuleID != "" {
			view.RuleID = packet.RuleResult.BlackRuleID
		} else {
			view.RuleID = packet.RuleResult.WhiteRuleID
		}
		view.Description = packet.RuleResult.Description
	}
	return view
}
