package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把每條連接的訊息交給單一調度迴圈，並把事件推回房間內所有人？
//
// 設計方案：
//   - Hub 模式：集中管理所有連接與房間訂閱
//   - readPump 只負責解析並 Submit，所有狀態變更交給 Dispatcher
//   - writePump 從緩衝 channel 取訊息寫出，慢客戶端不會拖住調度迴圈
//   - Ping/Pong 心跳偵測死連接

// CommandSink 接收連接送來的指令
type CommandSink interface {
	Submit(cmd Command) bool
}

// WebSocketHub WebSocket 連接中心，實作 Broadcaster
type WebSocketHub struct {
	cfg      WebSocketConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
	sink     CommandSink

	conns map[ConnID]*Connection
	rooms map[string]map[ConnID]*Connection // roomID -> connID -> Connection
	mu    sync.RWMutex
}

// Connection 一條 WebSocket 連接
type Connection struct {
	ID   ConnID
	Conn *websocket.Conn
	Send chan []byte

	hub       *WebSocketHub
	roomID    string
	lastPing  time.Time
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewWebSocketHub 建立 Hub
func NewWebSocketHub(cfg WebSocketConfig, logger *slog.Logger) *WebSocketHub {
	hub := &WebSocketHub{
		cfg:    cfg,
		logger: logger.With("component", "websocket"),
		conns:  make(map[ConnID]*Connection),
		rooms:  make(map[string]map[ConnID]*Connection),
	}
	hub.upgrader = websocket.Upgrader{
		CheckOrigin:     hub.checkOrigin,
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
	}
	return hub
}

// Bind 設定指令接收端，必須在 ServeWS 之前呼叫
func (hub *WebSocketHub) Bind(sink CommandSink) {
	hub.mu.Lock()
	hub.sink = sink
	hub.mu.Unlock()
}

func (hub *WebSocketHub) checkOrigin(r *http.Request) bool {
	if len(hub.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(hub.cfg.AllowedOrigins, origin) || slices.Contains(hub.cfg.AllowedOrigins, "*")
}

// ServeWS 升級連接並啟動讀寫 goroutine
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	c := &Connection{
		ID:       ConnID(uuid.NewString()),
		Conn:     conn,
		Send:     make(chan []byte, hub.cfg.SendBuffer),
		hub:      hub,
		lastPing: time.Now(),
	}
	hub.register(c)

	go c.writePump()
	go c.readPump()

	hub.logger.Info("WebSocket 連接建立", "conn_id", c.ID, "remote", r.RemoteAddr)
}

func (hub *WebSocketHub) register(c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.conns[c.ID] = c
}

// unregister 移除連接並關閉 Send，重複呼叫安全
func (hub *WebSocketHub) unregister(c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if actual, ok := hub.conns[c.ID]; !ok || actual != c {
		return
	}
	delete(hub.conns, c.ID)
	hub.leaveLocked(c)
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// Subscribe 讓連接接收房間廣播；已在其他房間時先離開
func (hub *WebSocketHub) Subscribe(conn ConnID, roomID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	c, ok := hub.conns[conn]
	if !ok {
		return
	}
	hub.leaveLocked(c)

	if hub.rooms[roomID] == nil {
		hub.rooms[roomID] = make(map[ConnID]*Connection)
	}
	hub.rooms[roomID][conn] = c
	c.roomID = roomID
}

// Unsubscribe 停止接收房間廣播
func (hub *WebSocketHub) Unsubscribe(conn ConnID) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if c, ok := hub.conns[conn]; ok {
		hub.leaveLocked(c)
	}
}

func (hub *WebSocketHub) leaveLocked(c *Connection) {
	if c.roomID == "" {
		return
	}
	if roomConns, ok := hub.rooms[c.roomID]; ok {
		delete(roomConns, c.ID)
		if len(roomConns) == 0 {
			delete(hub.rooms, c.roomID)
		}
	}
	c.roomID = ""
}

// Send 送給單一連接
func (hub *WebSocketHub) Send(conn ConnID, ev Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", ev.Type, "error", err)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if c, ok := hub.conns[conn]; ok {
		hub.enqueue(c, ev.Type, message)
	}
}

// Publish 廣播到房間
func (hub *WebSocketHub) Publish(roomID string, ev Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", ev.Type, "error", err)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for _, c := range hub.rooms[roomID] {
		hub.enqueue(c, ev.Type, message)
	}
}

// enqueue 需要持有讀鎖；Send 只在寫鎖下關閉
func (hub *WebSocketHub) enqueue(c *Connection, event string, message []byte) {
	select {
	case c.Send <- message:
	default:
		hub.logger.Warn("連接緩衝區滿，丟棄事件",
			"conn_id", c.ID,
			"room_code", c.roomID,
			"event", event)
	}
}

// ConnectionCount 目前連接數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.conns)
}

// RoomConnections 房間內的連接數
func (hub *WebSocketHub) RoomConnections(roomID string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.rooms[roomID])
}

// Stop 關閉所有連接
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	for _, c := range hub.conns {
		c.closeOnce.Do(func() {
			close(c.Send)
		})
		c.Conn.Close()
	}
	hub.conns = make(map[ConnID]*Connection)
	hub.rooms = make(map[string]map[ConnID]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

func (hub *WebSocketHub) submit(cmd Command) {
	hub.mu.RLock()
	sink := hub.sink
	hub.mu.RUnlock()

	if sink == nil {
		hub.logger.Error("尚未綁定指令接收端", "command", cmd.commandName())
		return
	}
	sink.Submit(cmd)
}

// readPump 讀取客戶端訊息
//
// 超過 PongWait 沒有收到任何訊息（包括 Pong）就關閉連接。
// 離開時送出 Disconnect，讓玩家進入寬限期。
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
		c.hub.submit(Disconnect{ConnID: c.ID})
	}()

	cfg := c.hub.cfg
	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.Conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		return c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket 讀取錯誤", "error", err, "conn_id", c.ID)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		cmd, err := ParseCommand(c.ID, message)
		if err != nil {
			c.hub.logger.Warn("無法解析客戶端訊息", "error", err, "conn_id", c.ID)
			continue
		}
		c.hub.submit(cmd)
	}
}

// writePump 把 Send 中的訊息寫到客戶端，並定期送出 Ping
func (c *Connection) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 把佇列中剩下的訊息一起寫出
			n := len(c.Send)
			for range n {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					c.hub.logger.Error("發送訊息失敗", "error", err, "conn_id", c.ID)
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// LastPing 最後一次收到 Pong 的時間
func (c *Connection) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}
