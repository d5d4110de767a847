package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/qianlnk/impostor/config"
	"github.com/qianlnk/impostor/models"
	"github.com/qianlnk/impostor/services"
)

type handlers struct {
	rooms    *services.RoomManager
	sockets  *services.WebSocketManager
	upgrader websocket.Upgrader
}

// NewServer 创建 HTTP API 和 WebSocket 路由
func NewServer(cfg *config.Config, rooms *services.RoomManager, sockets *services.WebSocketManager) *gin.Engine {
	h := &handlers{
		rooms:   rooms,
		sockets: sockets,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(cfg.Server.AllowedOrigins),
		},
	}

	r := gin.Default()
	r.Use(corsMiddleware(cfg.Server.AllowedOrigins))

	r.GET("/ws", h.serveWebSocket)

	api := r.Group("/api")
	{
		api.POST("/rooms", h.createRoom)
		api.GET("/rooms", h.listRooms)
		api.GET("/rooms/:id", h.getRoomInfo)
		api.DELETE("/rooms/:id", h.deleteRoom)
		api.POST("/rooms/:id/join", h.joinRoom)
		api.POST("/rooms/:id/start", h.startGame)
		api.POST("/rooms/:id/end", h.endGame)
		api.GET("/rooms/:id/status", h.getGameStatus)
		api.GET("/rooms/:id/players/:playerId", h.getPlayerInfo)

		api.POST("/game/action", h.gameAction)
	}

	return r
}

func allowed(origins []string, origin string) bool {
	for _, o := range origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func originChecker(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed(origins, origin)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" && allowed(origins, origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// statusFor 错误到 HTTP 状态码的映射
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrRoomNotFound),
		errors.Is(err, services.ErrParticipantNotFound),
		errors.Is(err, services.ErrNotSeated):
		return http.StatusNotFound
	case errors.Is(err, services.ErrRoomFull),
		errors.Is(err, services.ErrGameInProgress),
		errors.Is(err, services.ErrGameOver),
		errors.Is(err, services.ErrGameNotStarted):
		return http.StatusConflict
	case errors.Is(err, services.ErrPlayerEliminated):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}

func (h *handlers) serveWebSocket(c *gin.Context) {
	roomID := c.Query("room")
	playerID := c.Query("player")
	connectionID := c.Query("connection_id")
	if roomID == "" || playerID == "" || connectionID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "room, player and connection_id are required"})
		return
	}
	if _, err := h.rooms.GetPlayer(roomID, playerID); err != nil {
		abortWithError(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[http] websocket upgrade failed: %v", err)
		return
	}

	h.sockets.RegisterConnection(playerID, ws, connectionID)
	h.sockets.JoinRoom(roomID, playerID)
}

type createRoomRequest struct {
	Name          string   `json:"name" binding:"required"`
	MaxPlayers    int      `json:"max_players"`
	ImpostorCount int      `json:"impostor_count"`
	Words         []string `json:"words"`
}

func (h *handlers) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MaxPlayers < 0 || req.ImpostorCount < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_players and impostor_count must not be negative"})
		return
	}
	if req.MaxPlayers > 0 && req.MaxPlayers < services.MinMatchPlayers {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_players must be at least 3"})
		return
	}

	room := h.rooms.CreateRoom(req.Name, req.MaxPlayers, req.ImpostorCount, req.Words)
	c.JSON(http.StatusOK, room)
}

func (h *handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.rooms.ListRooms()})
}

func (h *handlers) getRoomInfo(c *gin.Context) {
	room, err := h.rooms.GetRoom(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *handlers) deleteRoom(c *gin.Context) {
	if err := h.rooms.DeleteRoom(c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *handlers) joinRoom(c *gin.Context) {
	var participant models.Participant
	if err := c.ShouldBindJSON(&participant); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	joined, err := h.rooms.JoinRoom(c.Param("id"), participant)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, joined)
}

func (h *handlers) startGame(c *gin.Context) {
	roomID := c.Param("id")
	if err := h.rooms.StartGame(roomID); err != nil {
		abortWithError(c, err)
		return
	}

	game, _ := h.rooms.GetGameController(roomID)
	c.JSON(http.StatusOK, game.Status())
}

func (h *handlers) endGame(c *gin.Context) {
	roomID := c.Param("id")
	if err := h.rooms.EndGame(roomID); err != nil {
		abortWithError(c, err)
		return
	}

	room, err := h.rooms.GetRoom(roomID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *handlers) getGameStatus(c *gin.Context) {
	game, exists := h.rooms.GetGameController(c.Param("id"))
	if !exists {
		abortWithError(c, services.ErrRoomNotFound)
		return
	}
	c.JSON(http.StatusOK, game.Status())
}

// getPlayerInfo 获取玩家的角色和词。知道参与者ID即可读取
func (h *handlers) getPlayerInfo(c *gin.Context) {
	game, exists := h.rooms.GetGameController(c.Param("id"))
	if !exists {
		abortWithError(c, services.ErrRoomNotFound)
		return
	}

	view, err := game.PlayerView(c.Param("playerId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handlers) gameAction(c *gin.Context) {
	var action models.GameAction
	if err := c.ShouldBindJSON(&action); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	game, exists := h.rooms.GetGameController(action.RoomID)
	if !exists {
		abortWithError(c, services.ErrRoomNotFound)
		return
	}

	outcome, err := game.ProcessAction(action)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}
