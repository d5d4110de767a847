package models

// Role 座位角色
type Role string

const (
	Impostor   Role = "impostor"   // 没有秘密词
	Crew       Role = "crew"       // 知道秘密词
	Eliminated Role = "eliminated" // 已出局，隐藏原身份
)

// Winner 获胜阵营
type Winner string

const (
	ImpostorsWin Winner = "impostors"
	CrewWin      Winner = "crew"
	NoWinner     Winner = "none"
)

// Player 座位信息
type Player struct {
	ID   int     `json:"id"`
	Name string  `json:"name"`
	Role Role    `json:"role"`
	Word *string `json:"word,omitempty"` // 内鬼为 nil
}

// GuessResult 猜词结果
type GuessResult struct {
	PlayerID   int    `json:"player_id"`
	PlayerName string `json:"player_name"`
	Guess      string `json:"guess"` // 归一化后
	Correct    bool   `json:"correct"`
	IsImpostor bool   `json:"is_impostor"`
	GameOver   bool   `json:"game_over"`
	Winner     Winner `json:"winner"`
}

// EliminationResult 淘汰结果
type EliminationResult struct {
	PlayerID    int    `json:"player_id"`
	WasAlive    bool   `json:"was_alive"`
	WasImpostor bool   `json:"was_impostor"`
	GameOver    bool   `json:"game_over"`
	Winner      Winner `json:"winner"`
	Reason      string `json:"reason"`
}

// VoteResult 投票结果
type VoteResult struct {
	Elected     *int               `json:"elected"` // 平票或无人投票时为 nil
	IsImpostor  bool               `json:"is_impostor"`
	Counts      map[int]int        `json:"counts"`
	Elimination *EliminationResult `json:"elimination,omitempty"`
}

// WinCheck 胜负判定
type WinCheck struct {
	Over   bool   `json:"over"`
	Winner Winner `json:"winner"`
	Reason string `json:"reason"`
}

// PlayerStatus 座位公开状态，不含角色和词
type PlayerStatus struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Alive bool   `json:"alive"`
}

// Participant 房间参与者
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name" binding:"required"`
}

// Room 游戏房间
type Room struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Players       []Participant `json:"players"`
	MaxPlayers    int           `json:"max_players"`
	MinPlayers    int           `json:"min_players"`
	ImpostorCount int           `json:"impostor_count"`
	Words         []string      `json:"-"` // 候选词只保存在服务端
	GameStarted   bool          `json:"game_started"`
	CreatedAt     int64         `json:"created_at"`
}

// GameAction 参与者提交的动作
type GameAction struct {
	Type      string `json:"type"`
	PlayerID  string `json:"player_id"`
	TargetID  string `json:"target_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"room_id"`
	Content   string `json:"content,omitempty"` // 猜测内容
}

// GameStatus 对局的旁观视图
type GameStatus struct {
	RoomID  string         `json:"room_id"`
	Started bool           `json:"started"`
	Over    bool           `json:"over"`
	Winner  Winner         `json:"winner"`
	Summary string         `json:"summary"`
	Players []PlayerStatus `json:"players"`
	Votes   int            `json:"votes"` // 本轮已投票数
}

// PlayerView 参与者的私密视图
type PlayerView struct {
	Seat   int     `json:"seat"`
	Name   string  `json:"name"`
	Role   Role    `json:"role"`
	Word   *string `json:"word,omitempty"`
	Alive  bool    `json:"alive"`
	RoomID string  `json:"room_id"`
}
