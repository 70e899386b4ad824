package processor

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/goose"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

var (
	testSrcMAC = net.HardwareAddr{0x00, 0x50, 0x56, 0xAA, 0xBB, 0xCC}
	testDstMAC = net.HardwareAddr{0x01, 0x0C, 0xCD, 0x01, 0x00, 0x01}
)

// buildGooseFrame 构造一条完整的GOOSE以太网帧
func buildGooseFrame(t *testing.T, goID string, appID uint16, stNum, sqNum uint32) []byte {
	t.Helper()

	apdu, err := goose.Encode(&goose.EncodeParams{
		AppID:             appID,
		GoCbRef:           "TestIEDLD0/LLN0$GO$gcb01",
		TimeAllowedToLive: 2000,
		DatSet:            "TestIEDLD0/LLN0$DataSet1",
		GoID:              goID,
		TimestampMs:       1700000000000,
		StNum:             stNum,
		SqNum:             sqNum,
		ConfRev:           1,
		Values:            []types.TypedValue{types.NewBoolean(true)},
	})
	require.NoError(t, err)

	frame := make([]byte, 0, 14+len(apdu))
	frame = append(frame, testDstMAC...)
	frame = append(frame, testSrcMAC...)
	frame = append(frame, 0x88, 0xB8)
	return append(frame, apdu...)
}

// runProcessor 将一批报文灌入处理器并收集输出
func runProcessor(t *testing.T, p interface {
	Process(ctx context.Context, in <-chan *types.Packet, wg *sync.WaitGroup) (<-chan *types.Packet, error)
}, packets []*types.Packet) []*types.Packet {
	t.Helper()

	var wg sync.WaitGroup
	in := make(chan *types.Packet, len(packets))
	for _, pkt := range packets {
		in <- pkt
	}
	close(in)

	out, err := p.Process(context.Background(), in, &wg)
	require.NoError(t, err)

	var results []*types.Packet
	for pkt := range out {
		results = append(results, pkt)
	}
	wg.Wait()
	return results
}

func TestGooseParserDecodesFrame(t *testing.T) {
	parser := NewGooseParser()
	frame := buildGooseFrame(t, "TestIED_GOOSE1", 0x1000, 3, 0)

	results := runProcessor(t, parser, []*types.Packet{{ID: "pkt-1", RawData: frame, Device: "eth0"}})

	require.Len(t, results, 1)
	pkt := results[0]
	assert.Equal(t, testSrcMAC, pkt.SrcMAC)
	assert.Equal(t, testDstMAC, pkt.DstMAC)
	assert.Equal(t, uint16(0x88B8), pkt.EthernetType)

	require.NotNil(t, pkt.Message)
	assert.Equal(t, "TestIED_GOOSE1", pkt.Message.GoID)
	assert.Equal(t, uint32(3), pkt.Message.StNum)
	assert.False(t, pkt.Message.ParseIncomplete)
}

func TestGooseParserDropsNonGooseFrames(t *testing.T) {
	parser := NewGooseParser()

	// IPv4以太网类型的帧
	frame := buildGooseFrame(t, "x", 1, 1, 0)
	frame[12] = 0x08
	frame[13] = 0x00

	results := runProcessor(t, parser, []*types.Packet{
		{ID: "pkt-1", RawData: frame},
		{ID: "pkt-2", RawData: []byte{0x01, 0x02}}, // 短于以太网头
	})

	assert.Empty(t, results)
	assert.Equal(t, uint64(2), parser.GetStats().DroppedPackets)
}

func TestGooseParserDropsOutOfRangeDstMAC(t *testing.T) {
	parser := NewGooseParser()

	// 以太网类型正确但目的MAC不在GOOSE保留多播段内
	frame := buildGooseFrame(t, "TestIED_GOOSE1", 0x1000, 1, 0)
	copy(frame[0:6], net.HardwareAddr{0x99, 0x00, 0x00, 0x00, 0x00, 0x01})

	results := runProcessor(t, parser, []*types.Packet{
		{ID: "pkt-1", RawData: frame, Device: "eth0"},
	})

	assert.Empty(t, results)
	assert.Equal(t, uint64(1), parser.GetStats().DroppedPackets)
}

func TestGooseParserKeepsPartialResult(t *testing.T) {
	parser := NewGooseParser()
	frame := buildGooseFrame(t, "TestIED_GOOSE1", 0x1000, 5, 2)

	// 截断在数据集内部
	results := runProcessor(t, parser, []*types.Packet{
		{ID: "pkt-1", RawData: frame[:len(frame)-3], Device: "eth0"},
	})

	require.Len(t, results, 1)
	pkt := results[0]
	require.NotNil(t, pkt.Message)
	assert.True(t, pkt.Message.ParseIncomplete)
	assert.Equal(t, uint32(5), pkt.Message.StNum)
	assert.Error(t, pkt.LastError)
	assert.Equal(t, uint64(1), parser.GetStats().MalformedPackets)
}
