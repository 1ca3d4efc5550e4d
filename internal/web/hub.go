package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait 是单次推送允许的最长时间，慢客户端会被断开
const writeWait = 5 * time.Second

// Hub 维护所有 WebSocket 订阅者，把车队状态快照推送给它们
// 所有写操作都在 Run 的 goroutine 中完成
type Hub struct {
	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	frames  chan []byte
	joins   chan *websocket.Conn
	leaves  chan *websocket.Conn
	done    chan struct{}
	initial func() interface{} // 新连接建立时先推送的全量状态，可为 nil
	logger  *slog.Logger
}

// NewHub 创建推送中心
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		conns:  make(map[*websocket.Conn]struct{}),
		frames: make(chan []byte, 64),
		joins:  make(chan *websocket.Conn),
		leaves: make(chan *websocket.Conn),
		done:   make(chan struct{}),
		logger: logger.With("component", "ws_hub"),
	}
}

// SetInitialState 设置新连接的首帧来源，必须在 Run 之前调用
func (h *Hub) SetInitialState(fn func() interface{}) {
	h.initial = fn
}

// Run 处理连接加入、离开和推送，直到 ctx 被取消
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-h.joins:
			h.add(conn)
		case conn := <-h.leaves:
			h.drop(conn)
		case frame := <-h.frames:
			h.mu.Lock()
			for conn := range h.conns {
				if err := h.write(conn, frame); err != nil {
					h.logger.Warn("推送状态失败，断开客户端", "remote", conn.RemoteAddr().String(), "error", err)
					conn.Close()
					delete(h.conns, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) {
	if h.initial != nil {
		frame, err := json.Marshal(h.initial())
		if err == nil {
			err = h.write(conn, frame)
		}
		if err != nil {
			h.logger.Warn("发送初始状态失败", "remote", conn.RemoteAddr().String(), "error", err)
			conn.Close()
			return
		}
	}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		conn.Close()
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
		delete(h.conns, conn)
	}
}

func (h *Hub) write(conn *websocket.Conn, frame []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Clients 返回当前连接的客户端数量
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// BroadcastState 序列化状态并排队推送
// 队列已满时丢弃本帧，下一次状态变化会携带完整快照
func (h *Hub) BroadcastState(state interface{}) {
	frame, err := json.Marshal(state)
	if err != nil {
		h.logger.Error("序列化状态失败", "error", err)
		return
	}
	select {
	case h.frames <- frame:
	default:
		h.logger.Warn("推送队列已满，丢弃状态快照")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 看板和协调器不同源部署
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWs 把 HTTP 请求升级为 WebSocket 并登记到 Hub
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("升级 WebSocket 失败", "error", err)
		return
	}
	select {
	case h.joins <- conn:
	case <-h.done:
		conn.Close()
		return
	}
	// 客户端只接收推送，读循环用于发现断开
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				select {
				case h.leaves <- conn:
				case <-h.done:
				}
				return
			}
		}
	}()
}
