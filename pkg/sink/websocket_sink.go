package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/metrics"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 站内监控页面直接访问，不校验来源
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient 是一个已连接的监控客户端
// 发送缓冲写满时断开该客户端，慢消费者不能阻塞捕获流水线
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub 管理全部WebSocket客户端并广播报文
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

// ServeWS 将HTTP请求升级为WebSocket连接并注册客户端
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("Websocket upgrade failed: %v", err)
		return err
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	logrus.Infof("Websocket client connected, total: %d", count)

	go h.writeLoop(client)
	go h.readLoop(client)
	return nil
}

// writeLoop 将广播数据写给客户端
func (h *Hub) writeLoop(client *wsClient) {
	defer client.conn.Close()

	for msg := range client.send {
		if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(client)
			return
		}
	}
}

// readLoop 只为感知连接关闭，丢弃客户端发来的数据
func (h *Hub) readLoop(client *wsClient) {
	defer h.remove(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	client.conn.Close()
}

// Broadcast 向全部客户端推送一条消息
// 发送缓冲已满的客户端直接断开
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	var slow []*wsClient
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		logrus.Warn("Websocket client too slow, disconnecting")
		h.remove(client)
	}
}

// ClientCount 返回当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WebsocketSink 将解码后的GOOSE报文实时推送给监控客户端
type WebsocketSink struct {
	hub                 *Hub
	ready               chan struct{}
	hideRetransmissions bool
	stats               *metrics.SinkMetrics
}

func NewWebsocketSink(hub *Hub, hideRetransmissions bool) *WebsocketSink {
	return &WebsocketSink{
		hub:                 hub,
		ready:               make(chan struct{}),
		hideRetransmissions: hideRetransmissions,
		stats:               &metrics.SinkMetrics{},
	}
}

func (s *WebsocketSink) Consume(ctx context.Context, in <-chan *types.Packet) error {
	logrus.Info("Starting websocket sink consumer")
	defer logrus.Info("Websocket sink consumer stopped")

	close(s.ready)

	for {
		select {
		case <-ctx.Done():
			return nil
		case packet, ok := <-in:
			if !ok {
				return nil
			}
			s.push(packet)
		}
	}
}

func (s *WebsocketSink) push(packet *types.Packet) {
	if packet.RuleResult != nil && packet.RuleResult.Action == types.ActionDrop {
		return
	}
	if s.hideRetransmissions && packet.Message != nil && packet.Message.IsRetransmission {
		return
	}

	view := NewMessageView(packet)
	if view == nil {
		return
	}

	msg, err := json.Marshal(view)
	if err != nil {
		s.stats.IncrementWriteErrors()
		logrus.Errorf("Failed to marshal goose message for websocket: %v", err)
		return
	}

	s.hub.Broadcast(msg)
	s.stats.IncrementPacketsWritten()
	s.stats.AddBytesWritten(uint64(len(msg)))
}

func (s *WebsocketSink) Ready() <-chan struct{} {
	return s.ready
}

func (s *WebsocketSink) GetStats() *metrics.SinkMetrics {
	return s.stats
}
