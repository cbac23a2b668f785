package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 错误定义
var (
	ErrClientNotFound = errors.New("client not found")
	ErrSendBufferFull = errors.New("send buffer full")
	ErrHubStopped     = errors.New("hub stopped")
)

// WebSocket配置
const (
	// 写超时
	writeWait = 10 * time.Second

	// 读取pong超时
	pongWait = 60 * time.Second

	// ping发送周期（必须小于pongWait）
	pingPeriod = (pongWait * 9) / 10

	// 客户端只发送订阅类小消息
	maxMessageSize = 4 * 1024
)

// Client WebSocket客户端
type Client struct {
	ID   string          // 客户端ID
	Hub  *Hub            // Hub引用
	Conn *websocket.Conn // WebSocket连接
	Send chan []byte     // 发送通道

	// 订阅的句柄，为空表示接收全部
	mu      sync.RWMutex
	handles map[int]struct{}
}

// NewClient 创建新客户端
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:      uuid.New().String(),
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		handles: make(map[int]struct{}),
	}
}

// Wants 是否接收该句柄的事件
func (c *Client) Wants(handle int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.handles) == 0 {
		return true
	}
	_, ok := c.handles[handle]
	return ok
}

// Subscribe 订阅句柄
func (c *Client) Subscribe(handle int) {
	c.mu.Lock()
	c.handles[handle] = struct{}{}
	c.mu.Unlock()
}

// Unsubscribe 取消订阅
func (c *Client) Unsubscribe(handle int) {
	c.mu.Lock()
	delete(c.handles, handle)
	c.mu.Unlock()
}

// ReadPump 读取消息
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket读取错误",
					zap.String("client_id", c.ID),
					zap.Error(err))
			}
			break
		}

		c.handleMessage(message)
	}
}

// WritePump 写入消息
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// 每条消息一帧，客户端按帧解析JSON
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理客户端消息
func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid message format")
		return
	}

	switch msg.Type {
	case MessageTypePong:
		c.Hub.logger.Debug("收到pong", zap.String("client_id", c.ID))

	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		if msg.Handle == nil {
			c.sendError("handle is required")
			return
		}
		if msg.Type == MessageTypeSubscribe {
			c.Subscribe(*msg.Handle)
		} else {
			c.Unsubscribe(*msg.Handle)
		}
		c.Hub.SendToClient(c.ID, &Message{Type: msg.Type, Handle: msg.Handle, Timestamp: time.Now().Unix()})

	default:
		c.Hub.logger.Warn("收到不支持的消息类型",
			zap.String("client_id", c.ID),
			zap.String("type", msg.Type))
		c.sendError("unsupported message type: " + msg.Type)
	}
}

// sendError 发送错误消息
func (c *Client) sendError(message string) {
	data, _ := json.Marshal(map[string]string{"error": message})
	c.Hub.SendToClient(c.ID, &Message{
		Type:      MessageTypeError,
		Timestamp: time.Now().Unix(),
		Data:      data,
	})
}
