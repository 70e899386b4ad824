package goose

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

var (
	testSrcMAC = net.HardwareAddr{0x00, 0x50, 0x56, 0x01, 0x02, 0x03}
	testDstMAC = net.HardwareAddr{0x01, 0x0C, 0xCD, 0x01, 0x00, 0x01}
)

func testParams() *EncodeParams {
	return &EncodeParams{
		AppID:             0x1000,
		GoCbRef:           "TestIED/LLN0$GO$gcb01",
		TimeAllowedToLive: 1000,
		DatSet:            "TestIED/LLN0$DataSet1",
		GoID:              "TestIED_GOOSE1",
		TimestampMs:       1700000000000,
		StNum:             1,
		SqNum:             0,
		Test:              false,
		ConfRev:           1,
		NdsCom:            false,
		Values: []types.TypedValue{
			types.NewBoolean(true),
			types.NewBitString(16, 0),
			types.NewUtcTime(1700000000000),
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload, err := Encode(testParams())
	require.NoError(t, err)

	// APPID与总长度字段
	assert.Equal(t, byte(0x10), payload[0])
	assert.Equal(t, byte(0x00), payload[1])
	assert.Equal(t, byte(0x61), payload[8])

	msg, err := Decode(payload, testSrcMAC, testDstMAC)
	require.NoError(t, err)
	assert.False(t, msg.ParseIncomplete)

	assert.Equal(t, uint16(0x1000), msg.AppID)
	assert.Equal(t, "TestIED/LLN0$GO$gcb01", msg.GoCbRef)
	assert.Equal(t, "TestIED/LLN0$DataSet1", msg.DataSet)
	assert.Equal(t, "TestIED_GOOSE1", msg.GoID)
	assert.Equal(t, uint32(1000), msg.TimeAllowedToLive)
	assert.Equal(t, uint64(1700000000000), msg.Timestamp)
	assert.Equal(t, uint32(1), msg.StNum)
	assert.Equal(t, uint32(0), msg.SqNum)
	assert.False(t, msg.Test)
	assert.Equal(t, uint32(1), msg.ConfRev)
	assert.False(t, msg.NdsCom)
	assert.Equal(t, uint32(3), msg.NumDatSetEntries)
	assert.Equal(t, testSrcMAC, msg.SrcMAC)
	assert.Equal(t, testDstMAC, msg.DstMAC)

	require.Len(t, msg.Values, 3)
	assert.Equal(t, types.KindBoolean, msg.Values[0].Kind)
	assert.True(t, msg.Values[0].Bool)
	assert.Equal(t, types.KindBitString, msg.Values[1].Kind)
	assert.Equal(t, uint8(16), msg.Values[1].Width)
	assert.Equal(t, uint32(0), msg.Values[1].Bits)
	assert.Equal(t, types.KindUtcTime, msg.Values[2].Kind)
	assert.Equal(t, uint64(1700000000000), msg.Values[2].Uint)
}

func TestEncodeAllValueKinds(t *testing.T) {
	p := testParams()
	p.Values = []types.TypedValue{
		types.NewBoolean(false),
		types.NewInteger(-30000),
		types.NewUnsigned(4000000000),
		types.NewFloat(3.14159),
		types.NewOctetString([]byte{0xDE, 0xAD, 0xBE, 0xEF}),
		types.NewVisibleString("breaker_closed"),
		types.NewBitString(13, 0x1FFF),
		types.NewUtcTime(1700000000999),
	}

	payload, err := Encode(p)
	require.NoError(t, err)

	msg, err := Decode(payload, testSrcMAC, testDstMAC)
	require.NoError(t, err)
	require.Len(t, msg.Values, 8)

	assert.False(t, msg.Values[0].Bool)
	assert.Equal(t, int64(-30000), msg.Values[1].Int)
	assert.Equal(t, uint64(4000000000), msg.Values[2].Uint)
	assert.InDelta(t, 3.14159, msg.Values[3].Float, 1e-9)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, msg.Values[4].Bytes)
	assert.Equal(t, "breaker_closed", msg.Values[5].Str)
	assert.Equal(t, uint8(13), msg.Values[6].Width)
	assert.Equal(t, uint32(0x1FFF), msg.Values[6].Bits)
	assert.Equal(t, uint64(1700000000999), msg.Values[7].Uint)
}

func TestTimestampRounding(t *testing.T) {
	// 毫秒到1/2^24秒小数的转换必须双向可逆
	for _, ms := range []uint64{0, 1, 499, 500, 999, 1700000000001} {
		encoded := encodeTimestamp(ms)
		assert.Equal(t, byte(timeQuality), encoded[7])
		assert.Equal(t, ms, decodeTimestamp(encoded), "ms=%d", ms)
	}
}

func TestDecodeTruncationSafety(t *testing.T) {
	payload, err := Encode(testParams())
	require.NoError(t, err)

	// 任意前缀截断都不得崩溃，且必须标记解析不完整或成功返回
	for cut := 0; cut < len(payload); cut++ {
		msg, _ := Decode(payload[:cut], testSrcMAC, testDstMAC)
		require.NotNil(t, msg, "cut=%d", cut)
	}
}

func TestDecodePartialResult(t *testing.T) {
	payload, err := Encode(testParams())
	require.NoError(t, err)

	// 截断在allData内部：前面的头部字段应已填充
	msg, err := Decode(payload[:len(payload)-4], testSrcMAC, testDstMAC)
	assert.Error(t, err)
	assert.True(t, msg.ParseIncomplete)
	assert.True(t, types.IsMalformedPdu(err))
	assert.Equal(t, "TestIED/LLN0$GO$gcb01", msg.GoCbRef)
	assert.Equal(t, uint32(1), msg.StNum)
}

func TestDecodeMissingPduTag(t *testing.T) {
	payload, err := Encode(testParams())
	require.NoError(t, err)
	payload[8] = 0x62

	msg, err := Decode(payload, testSrcMAC, testDstMAC)
	assert.Error(t, err)
	assert.True(t, msg.ParseIncomplete)
	assert.Equal(t, uint16(0x1000), msg.AppID)
}

func TestDecodeUnknownDataTag(t *testing.T) {
	p := testParams()
	p.Values = []types.TypedValue{types.NewOpaque(0xA2, []byte{0x83, 0x01, 0x01})}

	payload, err := Encode(p)
	require.NoError(t, err)

	msg, err := Decode(payload, testSrcMAC, testDstMAC)
	require.NoError(t, err)
	require.Len(t, msg.Values, 1)
	assert.Equal(t, types.KindOpaque, msg.Values[0].Kind)
	assert.Equal(t, byte(0xA2), msg.Values[0].Tag)
	assert.Equal(t, []byte{0x83, 0x01, 0x01}, msg.Values[0].Bytes)
}

func TestEncodeMissingRequiredFields(t *testing.T) {
	p := testParams()
	p.GoCbRef = ""
	_, err := Encode(p)
	assert.Error(t, err)

	p = testParams()
	p.DatSet = ""
	_, err = Encode(p)
	assert.Error(t, err)
}
