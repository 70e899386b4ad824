package ber

import (
	"encoding/binary"
	"errors"
)

// Errors
var (
	ErrBufferOverflow    = errors.New("buffer overflow")
	ErrIndefiniteLength  = errors.New("indefinite length not supported")
	ErrTruncatedValue    = errors.New("truncated value")
	ErrUnexpectedTag     = errors.New("unexpected tag")
	ErrUnsupportedLength = errors.New("unsupported length")
)

// EncodeLength 编码BER长度字段
// 短格式：长度<=127，1字节；长格式：0x80|n后跟n字节大端长度
func EncodeLength(length int) []byte {
	switch {
	case length < 0x80:
		return []byte{byte(length)}
	case length < 0x100:
		return []byte{0x81, byte(length)}
	case length < 0x10000:
		return []byte{0x82, byte(length >> 8), byte(length)}
	default:
		return []byte{0x83, byte(length >> 16), byte(length >> 8), byte(length)}
	}
}

// EncodeTLV 编码一个完整的tag-length-value三元组
func EncodeTLV(tag byte, value []byte) []byte {
	out := make([]byte, 0, 2+len(value)+3)
	out = append(out, tag)
	out = append(out, EncodeLength(len(value))...)
	out = append(out, value...)
	return out
}

// AppendTLV 在dst后追加一个TLV三元组，减少中间分配
func AppendTLV(dst []byte, tag byte, value []byte) []byte {
	dst = append(dst, tag)
	dst = append(dst, EncodeLength(len(value))...)
	return append(dst, value...)
}

// DecodeLength 解码BER长度字段
// 返回新的读取位置和长度。以下情况返回长度0，由调用方将PDU视为畸形：
// 1. 不定长编码(0x80)，GOOSE不允许
// 2. 长度字节越界
// 3. 长度超过8字节
// 本函数绝不越界读取，这是整个引擎最关键的安全契约
func DecodeLength(buf []byte, pos int) (newPos int, length int) {
	if pos >= len(buf) {
		return pos, 0
	}

	first := buf[pos]
	pos++

	if first&0x80 == 0 {
		// 短格式
		return pos, int(first)
	}

	numOctets := int(first & 0x7F)
	if numOctets == 0 {
		// 不定长编码，拒绝
		return pos, 0
	}
	if numOctets > 8 || pos+numOctets > len(buf) {
		return pos, 0
	}

	length = 0
	for i := 0; i < numOctets; i++ {
		length = (length << 8) | int(buf[pos+i])
	}
	if length < 0 {
		return pos + numOctets, 0
	}
	return pos + numOctets, length
}

// DecodeTLV 解码一个TLV三元组并做边界检查
// pos+length越界时返回ErrTruncatedValue，绝不读取buf之外的数据
func DecodeTLV(buf []byte, pos int) (tag byte, value []byte, newPos int, err error) {
	if pos >= len(buf) {
		return 0, nil, pos, ErrBufferOverflow
	}

	tag = buf[pos]
	pos++

	pos, length := DecodeLength(buf, pos)
	if pos+length > len(buf) {
		return tag, nil, pos, ErrTruncatedValue
	}

	return tag, buf[pos : pos+length], pos + length, nil
}

// EncodeUnsigned 编码无符号整数为最小字节数的大端表示
// 最高位为1时保留一个前导零字节，与libiec61850的整数压缩行为一致
func EncodeUnsigned(v uint64) []byte {
	raw := make([]byte, 9)
	binary.BigEndian.PutUint64(raw[1:], v)
	return compressInteger(raw)
}

// EncodeInteger 编码有符号整数为最小字节数的二进制补码大端表示
func EncodeInteger(v int64) []byte {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, uint64(v))
	return compressInteger(raw)
}

// compressInteger 去掉冗余的前导0x00/0xFF字节，保留符号语义
func compressInteger(b []byte) []byte {
	start := 0
	for start < len(b)-1 {
		if b[start] == 0x00 && b[start+1]&0x80 == 0 {
			start++
			continue
		}
		if b[start] == 0xFF && b[start+1]&0x80 == 0x80 {
			start++
			continue
		}
		break
	}
	out := make([]byte, len(b)-start)
	copy(out, b[start:])
	return out
}

// DecodeUnsigned 零扩展解码大端无符号整数
// 长度超过8字节时返回ErrUnsupportedLength
func DecodeUnsigned(value []byte) (uint64, error) {
	if len(value) > 9 || (len(value) == 9 && value[0] != 0) {
		return 0, ErrUnsupportedLength
	}
	var v uint64
	for _, b := range value {
		v = (v << 8) | uint64(b)
	}
	return v, nil
}

// DecodeInteger 按给定字节长度的二进制补码解码有符号整数
func DecodeInteger(value []byte) (int64, error) {
	if len(value) == 0 || len(value) > 8 {
		return 0, ErrUnsupportedLength
	}
	var v int64
	if value[0]&0x80 != 0 {
		v = -1
	}
	for _, b := range value {
		v = (v << 8) | int64(b)
	}
	return v, nil
}
