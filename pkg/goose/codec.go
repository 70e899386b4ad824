package goose

import (
	"encoding/binary"
	"math"
	"net"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/ber"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// 以太网头部之后的GOOSE APDU头部为8字节：
// APPID(2) + Length(2) + Reserved1(2) + Reserved2(2)
const apduHeaderLen = 8

// EncodeParams 是APDU编码的输入
// 发布状态机在每次发送时（包括重传）都携带完整数据集
type EncodeParams struct {
	AppID             uint16
	GoCbRef           string
	TimeAllowedToLive uint32
	DatSet            string
	GoID              string
	TimestampMs       uint64
	StNum             uint32
	SqNum             uint32
	Test              bool
	ConfRev           uint32
	NdsCom            bool
	Values            []types.TypedValue
}

// Encode 将发布参数编码为完整的GOOSE APDU
// 布局：APPID、总长度、4字节保留字段、0x61标签包裹的IECGoosePdu
// 输出与IEC 61850-8-1逐位兼容，以保证与第三方IED互操作
func Encode(p *EncodeParams) ([]byte, error) {
	if p.GoCbRef == "" {
		return nil, types.NewConfigurationError("goCbRef")
	}
	if p.DatSet == "" {
		return nil, types.NewConfigurationError("datSet")
	}

	// 按字段顺序编码IECGoosePdu内容
	body := make([]byte, 0, 256)
	body = ber.AppendTLV(body, ber.TagGoCbRef, []byte(p.GoCbRef))
	body = ber.AppendTLV(body, ber.TagTimeAllowedToLive, ber.EncodeUnsigned(uint64(p.TimeAllowedToLive)))
	body = ber.AppendTLV(body, ber.TagDatSet, []byte(p.DatSet))
	body = ber.AppendTLV(body, ber.TagGoID, []byte(p.GoID))
	body = ber.AppendTLV(body, ber.TagT, encodeTimestamp(p.TimestampMs))
	body = ber.AppendTLV(body, ber.TagStNum, ber.EncodeUnsigned(uint64(p.StNum)))
	body = ber.AppendTLV(body, ber.TagSqNum, ber.EncodeUnsigned(uint64(p.SqNum)))
	body = ber.AppendTLV(body, ber.TagTest, encodeBoolean(p.Test))
	body = ber.AppendTLV(body, ber.TagConfRev, ber.EncodeUnsigned(uint64(p.ConfRev)))
	body = ber.AppendTLV(body, ber.TagNdsCom, encodeBoolean(p.NdsCom))
	body = ber.AppendTLV(body, ber.TagNumDatSetEntries, ber.EncodeUnsigned(uint64(len(p.Values))))

	allData := make([]byte, 0, 64)
	for i := range p.Values {
		allData = appendValue(allData, &p.Values[i])
	}
	body = ber.AppendTLV(body, ber.TagAllData, allData)

	pdu := ber.EncodeTLV(ber.TagGoosePdu, body)

	// 总长度字段覆盖包括8字节头部在内的整个APDU
	out := make([]byte, apduHeaderLen, apduHeaderLen+len(pdu))
	binary.BigEndian.PutUint16(out[0:2], p.AppID)
	binary.BigEndian.PutUint16(out[2:4], uint16(apduHeaderLen+len(pdu)))
	// out[4:8] 保留字段，置零
	return append(out, pdu...), nil
}

// appendValue 按类型标签编码一个数据集成员
func appendValue(dst []byte, v *types.TypedValue) []byte {
	switch v.Kind {
	case types.KindBoolean:
		return ber.AppendTLV(dst, ber.TagDataBoolean, encodeBoolean(v.Bool))
	case types.KindInteger:
		return ber.AppendTLV(dst, ber.TagDataInteger, ber.EncodeInteger(v.Int))
	case types.KindUnsigned:
		return ber.AppendTLV(dst, ber.TagDataUnsigned, ber.EncodeUnsigned(v.Uint))
	case types.KindFloat:
		raw := make([]byte, 8)
		binary.BigEndian.PutUint64(raw, math.Float64bits(v.Float))
		return ber.AppendTLV(dst, ber.TagDataFloat, raw)
	case types.KindOctetString:
		return ber.AppendTLV(dst, ber.TagDataOctetString, v.Bytes)
	case types.KindVisibleString:
		return ber.AppendTLV(dst, ber.TagDataVisibleString, []byte(v.Str))
	case types.KindBitString:
		return ber.AppendTLV(dst, ber.TagDataBitString, encodeBitString(v.Width, v.Bits))
	case types.KindUtcTime:
		return ber.AppendTLV(dst, ber.TagDataUtcTime, encodeTimestamp(v.Uint))
	case types.KindOpaque:
		// 原样写回未知类型，保证厂商私有类型往返不丢数据
		return ber.AppendTLV(dst, v.Tag, v.Bytes)
	}
	return dst
}

func encodeBoolean(v bool) []byte {
	if v {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// encodeBitString 编码位串：首字节为未用位数，其后为大端位值
func encodeBitString(width uint8, bits uint32) []byte {
	byteLen := (int(width) + 7) / 8
	if byteLen == 0 {
		byteLen = 1
	}
	unused := byte(byteLen*8 - int(width))

	out := make([]byte, 1+byteLen)
	out[0] = unused
	for i := byteLen - 1; i >= 0; i-- {
		out[1+i] = byte(bits)
		bits >>= 8
	}
	return out
}

// 时间质量字节：时钟未失步，24位小数精度
const timeQuality = 0x18

// encodeTimestamp 编码IEC 61850时间戳：
// 4字节秒 + 3字节二进制小数(1/2^24秒) + 1字节质量
func encodeTimestamp(ms uint64) []byte {
	sec := ms / 1000
	frac := ((ms%1000)*0x1000000 + 500) / 1000

	out := make([]byte, 8)
	binary.BigEndian.PutUint32(out[0:4], uint32(sec))
	out[4] = byte(frac >> 16)
	out[5] = byte(frac >> 8)
	out[6] = byte(frac)
	out[7] = timeQuality
	return out
}

// decodeTimestamp 时间戳解码，小数部分四舍五入回毫秒
// 短于8字节时尽量取秒数，彻底畸形返回0
func decodeTimestamp(value []byte) uint64 {
	if len(value) >= 7 {
		sec := uint64(binary.BigEndian.Uint32(value[0:4]))
		frac := uint64(value[4])<<16 | uint64(value[5])<<8 | uint64(value[6])
		return sec*1000 + (frac*1000+0x800000)>>24
	}
	if len(value) >= 4 {
		return uint64(binary.BigEndian.Uint32(value[0:4])) * 1000
	}
	return 0
}

// Decode 解码一条GOOSE APDU为GooseMessage
// 截断或标签错误时返回已成功解析字段构成的部分结果，
// 并置ParseIncomplete标记，单条畸形报文不中断捕获流水线
func Decode(payload []byte, srcMAC, dstMAC net.HardwareAddr) (*types.GooseMessage, error) {
	msg := &types.GooseMessage{
		SrcMAC: srcMAC,
		DstMAC: dstMAC,
	}

	if len(payload) < apduHeaderLen {
		msg.ParseIncomplete = true
		return msg, types.NewMalformedPduError(0, "apdu shorter than header")
	}

	msg.AppID = binary.BigEndian.Uint16(payload[0:2])
	declaredLen := int(binary.BigEndian.Uint16(payload[2:4]))
	_ = declaredLen // 长度字段仅作参考，实际解析以缓冲区边界为准

	pos := apduHeaderLen
	if pos >= len(payload) || payload[pos] != ber.TagGoosePdu {
		msg.ParseIncomplete = true
		return msg, types.NewMalformedPduError(pos, "missing goose pdu tag 0x61")
	}
	pos++

	pos, pduLen := ber.DecodeLength(payload, pos)
	if pduLen == 0 {
		msg.ParseIncomplete = true
		return msg, types.NewMalformedPduError(pos, "invalid pdu length")
	}

	// 长度字段声称的字节数超出实际捕获范围时，
	// 仍对剩余字节尽量解析，保留已到达的字段
	end := pos + pduLen
	truncated := false
	if end > len(payload) {
		end = len(payload)
		truncated = true
	}

	if complete := decodeFields(payload[pos:end], msg); !complete || truncated {
		msg.ParseIncomplete = true
		return msg, types.NewMalformedPduError(pos, "pdu truncated inside field")
	}
	return msg, nil
}

// decodeFields 逐个解析IECGoosePdu字段，返回是否完整解析
// 未知的字段级标签跳过，不视为错误
func decodeFields(body []byte, msg *types.GooseMessage) bool {
	pos := 0
	for pos < len(body) {
		tag, value, next, err := ber.DecodeTLV(body, pos)
		if err != nil {
			return false
		}
		pos = next

		switch tag {
		case ber.TagGoCbRef:
			msg.GoCbRef = string(value)
		case ber.TagTimeAllowedToLive:
			if v, err := ber.DecodeUnsigned(value); err == nil {
				msg.TimeAllowedToLive = uint32(v)
			}
		case ber.TagDatSet:
			msg.DataSet = string(value)
		case ber.TagGoID:
			msg.GoID = string(value)
		case ber.TagT:
			msg.Timestamp = decodeTimestamp(value)
		case ber.TagStNum:
			if v, err := ber.DecodeUnsigned(value); err == nil {
				msg.StNum = uint32(v)
			}
		case ber.TagSqNum:
			if v, err := ber.DecodeUnsigned(value); err == nil {
				msg.SqNum = uint32(v)
			}
		case ber.TagTest:
			msg.Test = len(value) > 0 && value[0] != 0
		case ber.TagConfRev:
			if v, err := ber.DecodeUnsigned(value); err == nil {
				msg.ConfRev = uint32(v)
			}
		case ber.TagNdsCom:
			msg.NdsCom = len(value) > 0 && value[0] != 0
		case ber.TagNumDatSetEntries:
			if v, err := ber.DecodeUnsigned(value); err == nil {
				msg.NumDatSetEntries = uint32(v)
			}
		case ber.TagAllData:
			var complete bool
			msg.Values, complete = decodeAllData(value)
			if !complete {
				return false
			}
		}
	}
	return true
}

// decodeAllData 解析数据集成员序列
// 未知标签保留为带原始字节的Opaque值而非丢弃
func decodeAllData(body []byte) ([]types.TypedValue, bool) {
	values := make([]types.TypedValue, 0, 8)
	pos := 0
	for pos < len(body) {
		tag, value, next, err := ber.DecodeTLV(body, pos)
		if err != nil {
			return values, false
		}
		pos = next
		values = append(values, decodeValue(tag, value))
	}
	return values, true
}

func decodeValue(tag byte, value []byte) types.TypedValue {
	switch tag {
	case ber.TagDataBoolean:
		return types.NewBoolean(len(value) > 0 && value[0] != 0)
	case ber.TagDataBitString:
		if len(value) >= 1 {
			unused := int(value[0])
			raw := value[1:]
			if len(raw) <= 4 && unused <= 7 {
				var bits uint32
				for _, b := range raw {
					bits = bits<<8 | uint32(b)
				}
				width := len(raw)*8 - unused
				if width >= 0 && width <= 32 {
					return types.NewBitString(uint8(width), bits)
				}
			}
		}
		return types.NewOpaque(tag, value)
	case ber.TagDataInteger:
		if v, err := ber.DecodeInteger(value); err == nil {
			return types.NewInteger(v)
		}
		return types.NewOpaque(tag, value)
	case ber.TagDataUnsigned:
		if v, err := ber.DecodeUnsigned(value); err == nil {
			return types.NewUnsigned(v)
		}
		return types.NewOpaque(tag, value)
	case ber.TagDataFloat:
		// 4字节或8字节IEEE-754，其余长度按原始字节保留
		switch len(value) {
		case 4:
			return types.NewFloat(float64(math.Float32frombits(binary.BigEndian.Uint32(value))))
		case 8:
			return types.NewFloat(math.Float64frombits(binary.BigEndian.Uint64(value)))
		}
		return types.NewOpaque(tag, value)
	case ber.TagDataOctetString:
		return types.NewOctetString(value)
	case ber.TagDataVisibleString:
		return types.NewVisibleString(string(value))
	case ber.TagDataUtcTime:
		if len(value) >= 4 {
			return types.NewUtcTime(decodeTimestamp(value))
		}
		return types.NewOpaque(tag, value)
	default:
		return types.NewOpaque(tag, value)
	}
}
