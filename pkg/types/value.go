package types

import (
	"fmt"
	"strings"
)

// ValueKind 表示数据集成员的类型
type ValueKind uint8

const (
	KindBoolean       ValueKind = iota + 1 // 布尔值
	KindInteger                            // 有符号整数
	KindUnsigned                           // 无符号整数
	KindFloat                              // 浮点数
	KindOctetString                        // 字节串
	KindVisibleString                      // 可见字符串
	KindBitString                          // 位串（带宽度）
	KindUtcTime                            // UTC时间戳（毫秒）
	KindOpaque                             // 未知类型，保留原始字节
)

// TypedValue 表示GOOSE数据集中的一个成员值
// 编解码器在allData序列中按Kind选择对应的BER标签
type TypedValue struct {
	Kind  ValueKind
	Bool  bool
	Int   int64
	Uint  uint64
	Float float64
	Str   string
	Bytes []byte // octet-string内容或未知类型的原始字节
	Width uint8  // bit-string位宽
	Bits  uint32 // bit-string值（去除填充位后）
	Tag   byte   // Kind为KindOpaque时的原始BER标签
}

func NewBoolean(v bool) TypedValue {
	return TypedValue{Kind: KindBoolean, Bool: v}
}

func NewInteger(v int64) TypedValue {
	return TypedValue{Kind: KindInteger, Int: v}
}

func NewUnsigned(v uint64) TypedValue {
	return TypedValue{Kind: KindUnsigned, Uint: v}
}

func NewFloat(v float64) TypedValue {
	return TypedValue{Kind: KindFloat, Float: v}
}

func NewOctetString(v []byte) TypedValue {
	b := make([]byte, len(v))
	copy(b, v)
	return TypedValue{Kind: KindOctetString, Bytes: b}
}

func NewVisibleString(v string) TypedValue {
	return TypedValue{Kind: KindVisibleString, Str: v}
}

// NewBitString 创建位串值，width为位宽，bits为整数表示
// 质量(q)属性固定使用16位位串
func NewBitString(width uint8, bits uint32) TypedValue {
	return TypedValue{Kind: KindBitString, Width: width, Bits: bits}
}

// NewUtcTime 创建UTC时间值，ms为毫秒时间戳
func NewUtcTime(ms uint64) TypedValue {
	return TypedValue{Kind: KindUtcTime, Uint: ms}
}

// NewOpaque 保留无法识别的标签及其原始字节，解码时不丢弃数据
func NewOpaque(tag byte, raw []byte) TypedValue {
	b := make([]byte, len(raw))
	copy(b, raw)
	return TypedValue{Kind: KindOpaque, Tag: tag, Bytes: b}
}

// Equal 比较两个值是否相等
func (v TypedValue) Equal(other TypedValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindBoolean:
		return v.Bool == other.Bool
	case KindInteger:
		return v.Int == other.Int
	case KindUnsigned, KindUtcTime:
		return v.Uint == other.Uint
	case KindFloat:
		return v.Float == other.Float
	case KindVisibleString:
		return v.Str == other.Str
	case KindBitString:
		return v.Width == other.Width && v.Bits == other.Bits
	case KindOctetString:
		return bytesEqual(v.Bytes, other.Bytes)
	case KindOpaque:
		return v.Tag == other.Tag && bytesEqual(v.Bytes, other.Bytes)
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String 返回值的可读表示，用于日志和JSON导出
func (v TypedValue) String() string {
	switch v.Kind {
	case KindBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindInteger:
		return fmt.Sprintf("%d", v.Int)
	case KindUnsigned:
		return fmt.Sprintf("%d", v.Uint)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindOctetString:
		return "0x" + strings.ToUpper(fmt.Sprintf("%x", v.Bytes))
	case KindVisibleString:
		return v.Str
	case KindBitString:
		return fmt.Sprintf("0x%0*X", (int(v.Width)+3)/4, v.Bits)
	case KindUtcTime:
		return fmt.Sprintf("UtcTime(%dms)", v.Uint)
	case KindOpaque:
		return fmt.Sprintf("Type%02X:%x", v.Tag, v.Bytes)
	}
	return "unknown"
}
