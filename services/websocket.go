package services

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qianlnk/impostor/models"
)

var ErrNotConnected = errors.New("player not connected")

// WebSocketOptions 连接参数
type WebSocketOptions struct {
	ReadLimit      int64
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReconnectGrace time.Duration
}

// WebSocketManager WebSocket管理器
type WebSocketManager struct {
	connections map[string]*websocket.Conn // playerID -> connection
	writeLocks  map[*websocket.Conn]*sync.Mutex
	rooms       map[string][]string // roomID -> []playerID
	mutex       sync.RWMutex
	roomManager *RoomManager
	opts        WebSocketOptions
}

// NewWebSocketManager 创建WebSocket管理器
func NewWebSocketManager(rm *RoomManager, opts WebSocketOptions) *WebSocketManager {
	return &WebSocketManager{
		connections: make(map[string]*websocket.Conn),
		writeLocks:  make(map[*websocket.Conn]*sync.Mutex),
		rooms:       make(map[string][]string),
		roomManager: rm,
		opts:        opts,
	}
}

// SetRoomManager 设置房间管理器
func (wm *WebSocketManager) SetRoomManager(rm *RoomManager) {
	wm.roomManager = rm
}

// Message WebSocket消息
type Message struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	Content json.RawMessage `json:"content,omitempty"`
}

// actionContent game_action 消息内容
type actionContent struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Guess  string `json:"guess"`
}

type chatContent struct {
	Message string `json:"message"`
}

// RegisterConnection 注册连接，替换旧连接
func (wm *WebSocketManager) RegisterConnection(playerID string, conn *websocket.Conn, connectionID string) {
	wm.mutex.Lock()
	if oldConn, exists := wm.connections[playerID]; exists {
		oldConn.Close()
		delete(wm.writeLocks, oldConn)
	}
	wm.connections[playerID] = conn
	wm.writeLocks[conn] = &sync.Mutex{}
	wm.mutex.Unlock()

	log.Printf("[ws] %s connected (connection %s)", playerID, connectionID)

	go wm.handleMessages(playerID, conn)
	if wm.opts.PingInterval > 0 {
		go wm.startPingHandler(playerID, conn)
	}
}

// JoinRoom 加入房间广播组
func (wm *WebSocketManager) JoinRoom(roomID, playerID string) {
	wm.mutex.Lock()
	for _, pid := range wm.rooms[roomID] {
		if pid == playerID {
			wm.mutex.Unlock()
			return
		}
	}
	wm.rooms[roomID] = append(wm.rooms[roomID], playerID)
	wm.mutex.Unlock()

	if wm.roomManager == nil {
		return
	}
	if room, err := wm.roomManager.GetRoom(roomID); err == nil {
		wm.BroadcastToRoom(roomID, map[string]interface{}{
			"type":    "room_update",
			"players": room.Players,
		})
	}
}

// write 发送数据帧，同一连接串行写入
func (wm *WebSocketManager) write(conn *websocket.Conn, messageType int, data []byte) error {
	wm.mutex.RLock()
	lock, ok := wm.writeLocks[conn]
	wm.mutex.RUnlock()
	if !ok {
		return ErrNotConnected
	}

	lock.Lock()
	defer lock.Unlock()
	if wm.opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(wm.opts.WriteTimeout))
		defer conn.SetWriteDeadline(time.Time{})
	}
	return conn.WriteMessage(messageType, data)
}

// BroadcastToRoom 向房间广播消息
func (wm *WebSocketManager) BroadcastToRoom(roomID string, message interface{}) {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("[ws] marshal broadcast for room %s: %v", roomID, err)
		return
	}

	wm.mutex.RLock()
	connections := make([]*websocket.Conn, 0, len(wm.rooms[roomID]))
	for _, playerID := range wm.rooms[roomID] {
		if conn, ok := wm.connections[playerID]; ok {
			connections = append(connections, conn)
		}
	}
	wm.mutex.RUnlock()

	for _, conn := range connections {
		if err := wm.write(conn, websocket.TextMessage, msgBytes); err != nil {
			log.Printf("[ws] broadcast to room %s failed: %v", roomID, err)
		}
	}
}

// SendToPlayer 发送私密消息，失败时短暂重试
func (wm *WebSocketManager) SendToPlayer(playerID string, message interface{}) error {
	wm.mutex.RLock()
	conn, exists := wm.connections[playerID]
	wm.mutex.RUnlock()
	if !exists {
		return ErrNotConnected
	}

	msgBytes, err := json.Marshal(map[string]interface{}{
		"type":    "private",
		"content": message,
	})
	if err != nil {
		return err
	}

	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		if err = wm.write(conn, websocket.TextMessage, msgBytes); err == nil {
			return nil
		}
		if errors.Is(err, ErrNotConnected) {
			return err
		}
		log.Printf("[ws] send to %s failed (attempt %d/%d): %v", playerID, i+1, maxRetries, err)
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}

	go wm.RemoveConnection(playerID)
	return err
}

// startPingHandler 心跳检测，连续失败 maxFailures 次后断开
func (wm *WebSocketManager) startPingHandler(playerID string, conn *websocket.Conn) {
	ticker := time.NewTicker(wm.opts.PingInterval)
	defer ticker.Stop()

	const maxFailures = 3
	failures := 0
	for range ticker.C {
		wm.mutex.RLock()
		current := wm.connections[playerID]
		wm.mutex.RUnlock()
		if current != conn {
			return
		}

		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
			failures++
			log.Printf("[ws] ping %s failed (%d/%d): %v", playerID, failures, maxFailures, err)
			if failures >= maxFailures {
				wm.RemoveConnection(playerID)
				return
			}
			continue
		}
		failures = 0
	}
}

// RemoveConnection 关闭连接，宽限期内未重连则移出所有房间
func (wm *WebSocketManager) RemoveConnection(playerID string) {
	wm.mutex.Lock()
	conn, exists := wm.connections[playerID]
	if !exists {
		wm.mutex.Unlock()
		return
	}
	delete(wm.connections, playerID)
	delete(wm.writeLocks, conn)
	wm.mutex.Unlock()

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "connection closed")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(100*time.Millisecond))
	conn.Close()

	log.Printf("[ws] released connection of %s, waiting %s for reconnect", playerID, wm.opts.ReconnectGrace)

	go func() {
		time.Sleep(wm.opts.ReconnectGrace)
		wm.dropFromRooms(playerID)
	}()
}

func (wm *WebSocketManager) dropFromRooms(playerID string) {
	wm.mutex.Lock()
	if _, reconnected := wm.connections[playerID]; reconnected {
		wm.mutex.Unlock()
		return
	}
	var left []string
	for roomID, players := range wm.rooms {
		for i, pid := range players {
			if pid == playerID {
				wm.rooms[roomID] = append(players[:i], players[i+1:]...)
				left = append(left, roomID)
				break
			}
		}
		if len(wm.rooms[roomID]) == 0 {
			delete(wm.rooms, roomID)
		}
	}
	wm.mutex.Unlock()

	for _, roomID := range left {
		wm.BroadcastToRoom(roomID, map[string]interface{}{
			"type":      "player_left",
			"player_id": playerID,
		})
	}
	log.Printf("[ws] %s did not reconnect, removed from %d room(s)", playerID, len(left))
}

func (wm *WebSocketManager) isPlayerInRoom(roomID, playerID string) bool {
	wm.mutex.RLock()
	defer wm.mutex.RUnlock()

	for _, pid := range wm.rooms[roomID] {
		if pid == playerID {
			return true
		}
	}
	return false
}

func (wm *WebSocketManager) sendError(playerID, message string) {
	_ = wm.SendToPlayer(playerID, map[string]interface{}{
		"type":    "error",
		"message": message,
	})
}

// handleMessages 处理玩家消息直到连接关闭
func (wm *WebSocketManager) handleMessages(playerID string, conn *websocket.Conn) {
	if wm.opts.ReadLimit > 0 {
		conn.SetReadLimit(wm.opts.ReadLimit)
	}

	for {
		_, p, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] %s closed the connection", playerID)
			} else {
				log.Printf("[ws] read from %s: %v", playerID, err)
			}
			wm.mutex.RLock()
			current := wm.connections[playerID]
			wm.mutex.RUnlock()
			if current == conn {
				wm.RemoveConnection(playerID)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(p, &msg); err != nil {
			log.Printf("[ws] bad message from %s: %v", playerID, err)
			continue
		}
		wm.dispatch(playerID, msg)
	}
}

// dispatch 分发消息
func (wm *WebSocketManager) dispatch(playerID string, msg Message) {
	if msg.RoomID == "" {
		wm.sendError(playerID, "missing room id")
		return
	}
	if !wm.isPlayerInRoom(msg.RoomID, playerID) {
		wm.sendError(playerID, "player is not in this room")
		return
	}

	switch msg.Type {
	case "game_action":
		var content actionContent
		if err := json.Unmarshal(msg.Content, &content); err != nil || content.Type == "" {
			wm.sendError(playerID, "invalid action")
			return
		}
		if wm.roomManager == nil {
			wm.sendError(playerID, "game not initialised")
			return
		}

		switch content.Type {
		case "start_game":
			if err := wm.roomManager.StartGame(msg.RoomID); err != nil {
				wm.sendError(playerID, err.Error())
			}
			return
		case "end_game":
			if err := wm.roomManager.EndGame(msg.RoomID); err != nil {
				wm.sendError(playerID, err.Error())
			}
			return
		}

		game, exists := wm.roomManager.GetGameController(msg.RoomID)
		if !exists {
			wm.sendError(playerID, ErrRoomNotFound.Error())
			return
		}
		action := models.GameAction{
			Type:      content.Type,
			RoomID:    msg.RoomID,
			PlayerID:  playerID,
			TargetID:  content.Target,
			Content:   content.Guess,
			Timestamp: time.Now().Unix(),
		}
		if _, err := game.ProcessAction(action); err != nil {
			wm.sendError(playerID, err.Error())
		}

	case "chat":
		var chat chatContent
		if err := json.Unmarshal(msg.Content, &chat); err != nil {
			return
		}
		wm.BroadcastToRoom(msg.RoomID, map[string]interface{}{
			"type":      "chat",
			"player_id": playerID,
			"message":   chat.Message,
		})

	default:
		log.Printf("[ws] unknown message type %q from %s", msg.Type, playerID)
	}
}
