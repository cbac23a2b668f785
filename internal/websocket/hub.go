// Package websocket 通过 WebSocket 推送生成任务事件
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/ai-game-dev/internal/game"
	"go.uber.org/zap"
)

// Hub WebSocket连接管理中心
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 消息广播通道
	broadcast chan *Message

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	heartbeat time.Duration
	done      chan struct{}

	logger *zap.Logger
}

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"`             // 消息类型
	Handle    *int            `json:"handle,omitempty"` // 任务句柄
	Data      json.RawMessage `json:"data,omitempty"`   // 消息数据
	Timestamp int64           `json:"timestamp"`        // 时间戳
}

// 消息类型
const (
	// 系统消息
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"

	// 订阅
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"

	// 任务事件前缀，如 job_submitted、job_succeeded
	MessageTypeJobPrefix = "job_"
)

// NewHub 创建Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		heartbeat:  30 * time.Second,
		done:       make(chan struct{}),
		logger:     logger.Named("ws"),
	}
}

// Run 运行Hub，ctx 取消后断开所有客户端
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-ticker.C:
			h.broadcastMessage(&Message{Type: MessageTypePing, Timestamp: time.Now().Unix()})

		case <-ctx.Done():
			h.clientsMu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.Send)
			}
			h.clientsMu.Unlock()
			return
		}
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接", zap.String("client_id", client.ID))

	// 发送连接成功消息
	h.SendToClient(client.ID, &Message{
		Type:      MessageTypeConnected,
		Timestamp: time.Now().Unix(),
		Data:      json.RawMessage(`{"client_id":"` + client.ID + `"}`),
	})
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端断开", zap.String("client_id", client.ID))
}

// broadcastMessage 按订阅过滤后广播
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for _, client := range h.clients {
		if message.Handle != nil && !client.Wants(*message.Handle) {
			continue
		}
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("客户端发送缓冲区满", zap.String("client_id", client.ID))
		}
	}
}

// SendToClient 发送消息给指定客户端
func (h *Hub) SendToClient(clientID string, message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	client, ok := h.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}

	select {
	case client.Send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// OnJobEvent 任务事件转为消息广播，不阻塞生成流程
func (h *Hub) OnJobEvent(ev game.JobEvent) {
	data, err := json.Marshal(ev.Job)
	if err != nil {
		h.logger.Error("序列化任务事件失败", zap.Error(err))
		return
	}
	handle := ev.Job.Handle
	h.Broadcast(&Message{
		Type:      MessageTypeJobPrefix + string(ev.Type),
		Handle:    &handle,
		Data:      data,
		Timestamp: ev.Time.Unix(),
	})
}

// Broadcast 广播消息，通道满或已停止时丢弃
func (h *Hub) Broadcast(message *Message) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	default:
		h.logger.Warn("广播通道已满，丢弃消息", zap.String("type", message.Type))
	}
}

// Register 注册客户端
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// GetOnlineCount 获取在线连接数
func (h *Hub) GetOnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Accept 升级连接并启动读写协程
func (h *Hub) Accept(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	client := NewClient(h, conn)
	if !h.Register(client) {
		conn.Close()
		return nil, ErrHubStopped
	}

	go client.WritePump()
	go client.ReadPump()
	return client, nil
}
