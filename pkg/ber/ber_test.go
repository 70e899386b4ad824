package ber

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLength(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   []byte
	}{
		{"短格式-零长度", 0, []byte{0x00}},
		{"短格式-最大值127", 127, []byte{0x7F}},
		{"长格式-单字节", 128, []byte{0x81, 0x80}},
		{"长格式-双字节", 300, []byte{0x82, 0x01, 0x2C}},
		{"长格式-典型APDU长度", 1400, []byte{0x82, 0x05, 0x78}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeLength(tt.length))
		})
	}
}

func TestDecodeLength(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		pos     int
		wantPos int
		wantLen int
	}{
		{"短格式", []byte{0x2A}, 0, 1, 42},
		{"长格式-单字节", []byte{0x81, 0x80}, 0, 2, 128},
		{"长格式-双字节", []byte{0x82, 0x01, 0x2C}, 0, 3, 300},
		{"不定长编码拒绝", []byte{0x80}, 0, 1, 0},
		{"长度字节越界", []byte{0x82, 0x01}, 0, 2, 0},
		{"起始位置越界", []byte{0x01}, 5, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotPos, gotLen := DecodeLength(tt.buf, tt.pos)
			assert.Equal(t, tt.wantLen, gotLen)
			if tt.wantLen > 0 {
				assert.Equal(t, tt.wantPos, gotPos)
			}
		})
	}
}

func TestTLVRoundTrip(t *testing.T) {
	value := []byte("GE_Device/LLN0$GO$gcb01")
	encoded := EncodeTLV(0x80, value)

	tag, got, next, err := DecodeTLV(encoded, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(0x80), tag)
	assert.Equal(t, value, got)
	assert.Equal(t, len(encoded), next)
}

func TestDecodeTLVTruncated(t *testing.T) {
	// 声明长度超出缓冲区剩余字节
	buf := []byte{0x80, 0x10, 0x01, 0x02}
	_, _, _, err := DecodeTLV(buf, 0)
	assert.Error(t, err)

	// 缓冲区在标签后立即结束
	_, _, _, err = DecodeTLV([]byte{0x80}, 0)
	assert.Error(t, err)
}

func TestUnsignedRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    uint64
	}{
		{"零", 0},
		{"单字节", 200},
		{"需要前导零防止误判符号", 0x80},
		{"stNum典型值", 12345},
		{"uint32最大值", 0xFFFFFFFF},
		{"uint64最大值", 0xFFFFFFFFFFFFFFFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeUnsigned(tt.v)
			got, err := DecodeUnsigned(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.v, got)
		})
	}
}

func TestIntegerRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    int64
	}{
		{"零", 0},
		{"正数", 127},
		{"负数单字节", -1},
		{"负数多字节", -30000},
		{"int64最小值", -9223372036854775808},
		{"int64最大值", 9223372036854775807},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeInteger(tt.v)
			got, err := DecodeInteger(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.v, got)
		})
	}
}

func TestDecodeIntegerInvalid(t *testing.T) {
	_, err := DecodeInteger(nil)
	assert.Error(t, err)

	_, err = DecodeInteger(make([]byte, 9))
	assert.Error(t, err)
}
