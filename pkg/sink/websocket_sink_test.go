package sink

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebsocketSinkBroadcast(t *testing.T) {
	hub := NewHub()
	conn := dialTestHub(t, hub)

	// 等待客户端注册完成
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	ws := NewWebsocketSink(hub, false)
	consumePackets(t, ws, []*types.Packet{sinkPacket("gse1", 7, 0, false)})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var view MessageView
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, "gse1", view.GoID)
	assert.Equal(t, uint32(7), view.StNum)
}

func TestWebsocketSinkHidesRetransmissions(t *testing.T) {
	hub := NewHub()
	conn := dialTestHub(t, hub)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	ws := NewWebsocketSink(hub, true)
	consumePackets(t, ws, []*types.Packet{
		sinkPacket("gse1", 1, 1, true),
		sinkPacket("gse1", 2, 0, false),
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var view MessageView
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, uint32(2), view.StNum, "重传报文不应推送")
}

func TestHubBroadcastWithoutClients(t *testing.T) {
	hub := NewHub()
	// 没有客户端时广播不应阻塞或崩溃
	hub.Broadcast([]byte("{}"))
	assert.Equal(t, 0, hub.ClientCount())
}
