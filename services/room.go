package services

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qianlnk/impostor/models"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomFull            = errors.New("room is full")
	ErrParticipantNotFound = errors.New("participant not found")
)

// RoomSettings 房间及对局的默认设置
type RoomSettings struct {
	DefaultImpostors     int
	MaxPlayers           int
	Words                []string
	Seed                 int64
	AllowEliminatedGuess bool
}

// RoomManager 房间管理器，每个房间一个 GameController
type RoomManager struct {
	rooms    map[string]*models.Room
	games    map[string]*GameController
	notifier Notifier
	settings RoomSettings
	mutex    sync.RWMutex
}

// NewRoomManager 创建房间管理器实例
func NewRoomManager(notifier Notifier, settings RoomSettings) *RoomManager {
	return &RoomManager{
		rooms:    make(map[string]*models.Room),
		games:    make(map[string]*GameController),
		notifier: notifier,
		settings: settings,
	}
}

// CreateRoom 创建新房间，零值使用默认设置
func (rm *RoomManager) CreateRoom(name string, maxPlayers, impostors int, words []string) *models.Room {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if maxPlayers <= 0 {
		maxPlayers = rm.settings.MaxPlayers
	}
	if impostors <= 0 {
		impostors = rm.settings.DefaultImpostors
	}
	if len(words) == 0 {
		words = rm.settings.Words
	}

	room := &models.Room{
		ID:            uuid.NewString(),
		Name:          name,
		MaxPlayers:    maxPlayers,
		MinPlayers:    MinMatchPlayers,
		ImpostorCount: impostors,
		Words:         words,
		Players:       make([]models.Participant, 0),
		CreatedAt:     time.Now().Unix(),
	}

	rm.rooms[room.ID] = room
	rm.games[room.ID] = NewGameController(room, rm.notifier, ControllerOptions{
		Seed:                 rm.settings.Seed,
		AllowEliminatedGuess: rm.settings.AllowEliminatedGuess,
	})

	log.Printf("[room] created %s (%q), max %d players, %d impostor(s)", room.ID, name, maxPlayers, impostors)
	return room
}

// GetRoom 获取房间信息
func (rm *RoomManager) GetRoom(roomID string) (*models.Room, error) {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	room, exists := rm.rooms[roomID]
	if !exists {
		return nil, ErrRoomNotFound
	}
	snapshot := *room
	snapshot.Players = append([]models.Participant(nil), room.Players...)
	return &snapshot, nil
}

// ListRooms 获取所有房间列表
func (rm *RoomManager) ListRooms() []*models.Room {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	rooms := make([]*models.Room, 0, len(rm.rooms))
	for _, room := range rm.rooms {
		snapshot := *room
		snapshot.Players = append([]models.Participant(nil), room.Players...)
		rooms = append(rooms, &snapshot)
	}
	return rooms
}

// JoinRoom 加入房间，ID 为空时自动分配。已在房间中的参与者只更新名字
func (rm *RoomManager) JoinRoom(roomID string, participant models.Participant) (models.Participant, error) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	room, exists := rm.rooms[roomID]
	if !exists {
		return models.Participant{}, ErrRoomNotFound
	}

	if participant.ID == "" {
		participant.ID = uuid.NewString()
	}

	for i := range room.Players {
		if room.Players[i].ID == participant.ID {
			room.Players[i].Name = participant.Name
			return room.Players[i], nil
		}
	}

	if room.GameStarted {
		return models.Participant{}, ErrGameInProgress
	}
	if len(room.Players) >= room.MaxPlayers {
		return models.Participant{}, ErrRoomFull
	}

	room.Players = append(room.Players, participant)
	log.Printf("[room] %s joined %s (%d/%d)", participant.ID, roomID, len(room.Players), room.MaxPlayers)
	return participant, nil
}

// LeaveRoom 开局前离开房间
func (rm *RoomManager) LeaveRoom(roomID, participantID string) error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	room, exists := rm.rooms[roomID]
	if !exists {
		return ErrRoomNotFound
	}
	if room.GameStarted {
		return ErrGameInProgress
	}
	for i, p := range room.Players {
		if p.ID == participantID {
			room.Players = append(room.Players[:i], room.Players[i+1:]...)
			return nil
		}
	}
	return ErrParticipantNotFound
}

// DeleteRoom 删除房间及其控制器
func (rm *RoomManager) DeleteRoom(roomID string) error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if _, exists := rm.rooms[roomID]; !exists {
		return ErrRoomNotFound
	}
	delete(rm.rooms, roomID)
	delete(rm.games, roomID)
	return nil
}

// GetGameController 获取游戏控制器
func (rm *RoomManager) GetGameController(roomID string) (*GameController, bool) {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	game, exists := rm.games[roomID]
	return game, exists
}

// GetPlayer 获取房间中的玩家信息
func (rm *RoomManager) GetPlayer(roomID, participantID string) (*models.Participant, error) {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	room, exists := rm.rooms[roomID]
	if !exists {
		return nil, ErrRoomNotFound
	}
	for _, p := range room.Players {
		if p.ID == participantID {
			p := p
			return &p, nil
		}
	}
	return nil, ErrParticipantNotFound
}

// StartGame 用房间当前的参与者发牌。房间在发牌前即被锁定，失败时解锁
func (rm *RoomManager) StartGame(roomID string) error {
	rm.mutex.Lock()
	room, exists := rm.rooms[roomID]
	if !exists {
		rm.mutex.Unlock()
		return ErrRoomNotFound
	}
	game := rm.games[roomID]
	if room.GameStarted {
		rm.mutex.Unlock()
		return ErrGameInProgress
	}
	room.GameStarted = true
	participants := append([]models.Participant(nil), room.Players...)
	rm.mutex.Unlock()

	if err := game.StartGame(participants); err != nil {
		rm.mutex.Lock()
		room.GameStarted = false
		rm.mutex.Unlock()
		return err
	}
	return nil
}

// EndGame 结束房间的对局并重新开放房间
func (rm *RoomManager) EndGame(roomID string) error {
	rm.mutex.RLock()
	room, exists := rm.rooms[roomID]
	game := rm.games[roomID]
	rm.mutex.RUnlock()
	if !exists {
		return ErrRoomNotFound
	}

	if err := game.EndGame(); err != nil {
		return err
	}

	rm.mutex.Lock()
	room.GameStarted = false
	rm.mutex.Unlock()
	log.Printf("[room] %s reopened", roomID)
	return nil
}
