package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

func msgPacket(goID string, stNum, sqNum uint32) *types.Packet {
	return &types.Packet{
		Message: &types.GooseMessage{GoID: goID, StNum: stNum, SqNum: sqNum},
	}
}

func TestRetransmissionDetection(t *testing.T) {
	testCases := []struct {
		name     string
		packets  []*types.Packet
		expected []bool
	}{
		{
			name: "首次报文不是重传",
			packets: []*types.Packet{
				msgPacket("gse1", 1, 0),
			},
			expected: []bool{false},
		},
		{
			name: "stNum不变且sqNum递增判定为重传",
			packets: []*types.Packet{
				msgPacket("gse1", 1, 0),
				msgPacket("gse1", 1, 1),
				msgPacket("gse1", 1, 2),
			},
			expected: []bool{false, true, true},
		},
		{
			name: "stNum变化后视为新状态",
			packets: []*types.Packet{
				msgPacket("gse1", 1, 0),
				msgPacket("gse1", 1, 1),
				msgPacket("gse1", 2, 0),
				msgPacket("gse1", 2, 1),
			},
			expected: []bool{false, true, false, true},
		},
		{
			name: "不同goID互不影响",
			packets: []*types.Packet{
				msgPacket("gse1", 1, 0),
				msgPacket("gse2", 1, 1),
				msgPacket("gse1", 1, 1),
			},
			expected: []bool{false, false, true},
		},
		{
			name: "sqNum为0永不判定为重传",
			packets: []*types.Packet{
				msgPacket("gse1", 1, 0),
				msgPacket("gse1", 1, 0),
			},
			expected: []bool{false, false},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			detector := NewRetransmissionDetector(false)
			results := runProcessor(t, detector, tc.packets)

			require.Len(t, results, len(tc.expected))
			for i, want := range tc.expected {
				assert.Equal(t, want, results[i].Message.IsRetransmission, "packet %d", i)
			}
		})
	}
}

func TestRetransmissionSuppression(t *testing.T) {
	detector := NewRetransmissionDetector(true)

	results := runProcessor(t, detector, []*types.Packet{
		msgPacket("gse1", 1, 0),
		msgPacket("gse1", 1, 1),
		msgPacket("gse1", 1, 2),
		msgPacket("gse1", 2, 0),
	})

	// 重传报文被丢弃，仅状态变化报文通过
	require.Len(t, results, 2)
	assert.Equal(t, uint32(1), results[0].Message.StNum)
	assert.Equal(t, uint32(2), results[1].Message.StNum)
	assert.Equal(t, uint64(2), detector.GetStats().DroppedPackets)
	assert.Equal(t, uint64(2), detector.GetStats().Retransmissions)
}

// 跟踪表在每条报文后都更新，乱序到达后基线回到最近一条
func TestRetransmissionTrackingAlwaysUpdates(t *testing.T) {
	detector := NewRetransmissionDetector(false)

	results := runProcessor(t, detector, []*types.Packet{
		msgPacket("gse1", 5, 3),
		msgPacket("gse1", 4, 0), // 乱序的旧状态
		msgPacket("gse1", 4, 1), // 相对上一条是重传
	})

	require.Len(t, results, 3)
	assert.False(t, results[1].Message.IsRetransmission)
	assert.True(t, results[2].Message.IsRetransmission)
}

func TestRetransmissionFallsBackToGoCbRef(t *testing.T) {
	detector := NewRetransmissionDetector(false)

	p1 := &types.Packet{Message: &types.GooseMessage{GoCbRef: "IED1/LLN0$GO$g1", StNum: 1, SqNum: 0}}
	p2 := &types.Packet{Message: &types.GooseMessage{GoCbRef: "IED1/LLN0$GO$g1", StNum: 1, SqNum: 1}}

	results := runProcessor(t, detector, []*types.Packet{p1, p2})
	require.Len(t, results, 2)
	assert.True(t, results[1].Message.IsRetransmission)
}
