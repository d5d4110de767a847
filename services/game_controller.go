package services

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/qianlnk/impostor/models"
)

// ProcessAction 支持的动作类型
const (
	ActionVote      = "vote"
	ActionAbstain   = "abstain"
	ActionCloseVote = "close_vote"
	ActionGuess     = "guess"
)

var (
	ErrGameNotStarted    = errors.New("game has not started")
	ErrGameInProgress    = errors.New("game already in progress")
	ErrGameOver          = errors.New("game is over")
	ErrInvalidAction     = errors.New("invalid game action")
	ErrNotEnoughPlayers  = errors.New("not enough players")
	ErrNotSeated         = errors.New("participant is not seated in this game")
	ErrPlayerEliminated  = errors.New("player has been eliminated")
	ErrInvalidVoteTarget = errors.New("invalid vote target")
)

// Notifier 向房间参与者推送消息
type Notifier interface {
	BroadcastToRoom(roomID string, message interface{})
	SendToPlayer(playerID string, message interface{}) error
}

// ControllerOptions 控制器选项
type ControllerOptions struct {
	// 发牌种子，0 表示每局随机
	Seed int64
	// 允许出局玩家猜词
	AllowEliminatedGuess bool
}

// ActionOutcome 动作结果，最多设置一个字段
type ActionOutcome struct {
	Guess *models.GuessResult `json:"guess,omitempty"`
	Vote  *models.VoteResult  `json:"vote,omitempty"`
}

// GameController 游戏控制器，串行处理房间内的动作
type GameController struct {
	roomID     string
	minPlayers int
	impostors  int
	words      []string
	opts       ControllerOptions
	notifier   Notifier

	match *Match
	seats map[string]int // 参与者ID -> 座位
	ids   []string       // 座位 -> 参与者ID
	// 本轮选票，nil 表示弃权
	ballots map[int]*int
	mutex   sync.RWMutex
}

// NewGameController 创建游戏控制器
func NewGameController(room *models.Room, notifier Notifier, opts ControllerOptions) *GameController {
	return &GameController{
		roomID:     room.ID,
		minPlayers: room.MinPlayers,
		impostors:  room.ImpostorCount,
		words:      append([]string(nil), room.Words...),
		opts:       opts,
		notifier:   notifier,
	}
}

// StartGame 按座位顺序为参与者发牌。私密角色消息在释放锁之后发送
func (gc *GameController) StartGame(participants []models.Participant) error {
	gc.mutex.Lock()

	if gc.match != nil {
		gc.mutex.Unlock()
		return ErrGameInProgress
	}
	if len(participants) < gc.minPlayers {
		gc.mutex.Unlock()
		return fmt.Errorf("%w: need %d, have %d", ErrNotEnoughPlayers, gc.minPlayers, len(participants))
	}

	rnd, err := NewRandomizer(gc.opts.Seed)
	if err != nil {
		gc.mutex.Unlock()
		return err
	}

	names := make([]string, len(participants))
	for i, p := range participants {
		names[i] = p.Name
	}
	match, err := NewMatch(MatchConfig{
		PlayerNames:   names,
		Words:         gc.words,
		ImpostorCount: gc.impostors,
	}, rnd)
	if err != nil {
		gc.mutex.Unlock()
		return err
	}

	gc.match = match
	gc.seats = make(map[string]int, len(participants))
	gc.ids = make([]string, len(participants))
	for i, p := range participants {
		gc.seats[p.ID] = i
		gc.ids[i] = p.ID
	}
	gc.ballots = make(map[int]*int)

	views := make([]models.PlayerView, len(gc.ids))
	for seat := range gc.ids {
		views[seat] = gc.viewLocked(seat)
	}
	ids := append([]string(nil), gc.ids...)
	status := gc.statusLocked()
	gc.mutex.Unlock()

	for seat, id := range ids {
		if err := gc.notifier.SendToPlayer(id, map[string]interface{}{
			"type": "role_assigned",
			"view": views[seat],
		}); err != nil {
			log.Printf("[game] could not send role to %s: %v", id, err)
		}
	}

	gc.notifier.BroadcastToRoom(gc.roomID, map[string]interface{}{
		"type":    "game_started",
		"message": "The game has started",
		"status":  status,
	})
	return nil
}

// EndGame 结束当前对局并清空座位和投票，房间可以重新发牌。
// 对局尚未分出胜负时公布全部身份
func (gc *GameController) EndGame() error {
	gc.mutex.Lock()
	defer gc.mutex.Unlock()

	if gc.match == nil {
		return ErrGameNotStarted
	}

	msg := map[string]interface{}{
		"type":   "game_end",
		"winner": gc.match.Winner(),
		"reason": gc.match.Reason(),
		"ended":  true,
	}
	if !gc.match.IsOver() {
		msg["reason"] = "The match was ended before a winner was decided."
		msg["word"] = gc.match.SecretWord()
		msg["players"] = gc.match.Reveal()
	}
	log.Printf("[game] room %s match ended (over=%v, winner %s)", gc.roomID, gc.match.IsOver(), gc.match.Winner())

	gc.match = nil
	gc.seats = nil
	gc.ids = nil
	gc.ballots = nil

	gc.notifier.BroadcastToRoom(gc.roomID, msg)
	return nil
}

// ProcessAction 处理玩家动作
func (gc *GameController) ProcessAction(action models.GameAction) (ActionOutcome, error) {
	gc.mutex.Lock()
	defer gc.mutex.Unlock()

	if gc.match == nil {
		return ActionOutcome{}, ErrGameNotStarted
	}
	if gc.match.IsOver() {
		return ActionOutcome{}, ErrGameOver
	}

	seat, ok := gc.seats[action.PlayerID]
	if !ok {
		return ActionOutcome{}, ErrNotSeated
	}

	switch action.Type {
	case ActionVote:
		return gc.castVote(seat, action.TargetID)
	case ActionAbstain:
		return gc.abstain(seat)
	case ActionCloseVote:
		return gc.closeVote()
	case ActionGuess:
		return gc.guess(seat, action.Content)
	default:
		return ActionOutcome{}, fmt.Errorf("%w: %q", ErrInvalidAction, action.Type)
	}
}

func (gc *GameController) requireAlive(seat int) error {
	alive, err := gc.match.Alive(seat)
	if err != nil {
		return err
	}
	if !alive {
		return ErrPlayerEliminated
	}
	return nil
}

func (gc *GameController) castVote(seat int, targetID string) (ActionOutcome, error) {
	if err := gc.requireAlive(seat); err != nil {
		return ActionOutcome{}, err
	}
	target, ok := gc.seats[targetID]
	if !ok {
		return ActionOutcome{}, ErrInvalidVoteTarget
	}
	if alive, _ := gc.match.Alive(target); !alive {
		return ActionOutcome{}, ErrInvalidVoteTarget
	}

	gc.ballots[seat] = &target
	return gc.afterBallot()
}

func (gc *GameController) abstain(seat int) (ActionOutcome, error) {
	if err := gc.requireAlive(seat); err != nil {
		return ActionOutcome{}, err
	}
	gc.ballots[seat] = nil
	return gc.afterBallot()
}

// afterBallot 所有存活玩家投票或弃权后计票
func (gc *GameController) afterBallot() (ActionOutcome, error) {
	for seat := 0; seat < gc.match.PlayerCount(); seat++ {
		alive, _ := gc.match.Alive(seat)
		if _, voted := gc.ballots[seat]; alive && !voted {
			gc.notifier.BroadcastToRoom(gc.roomID, map[string]interface{}{
				"type":   "vote_progress",
				"votes":  len(gc.ballots),
				"status": gc.statusLocked(),
			})
			return ActionOutcome{}, nil
		}
	}
	return gc.closeVote()
}

func (gc *GameController) closeVote() (ActionOutcome, error) {
	ballot := make(map[int]int, len(gc.ballots))
	for voter, target := range gc.ballots {
		if target != nil {
			ballot[voter] = *target
		}
	}
	gc.ballots = make(map[int]*int)

	result, err := gc.match.Vote(ballot, true)
	if err != nil {
		return ActionOutcome{}, err
	}

	msg := map[string]interface{}{
		"type":   "vote_result",
		"result": result,
		"status": gc.statusLocked(),
	}
	if result.Elected != nil {
		msg["elected_id"] = gc.ids[*result.Elected]
	}
	gc.notifier.BroadcastToRoom(gc.roomID, msg)

	if gc.match.IsOver() {
		gc.handleGameEnd()
	}
	return ActionOutcome{Vote: &result}, nil
}

func (gc *GameController) guess(seat int, text string) (ActionOutcome, error) {
	if !gc.opts.AllowEliminatedGuess {
		if err := gc.requireAlive(seat); err != nil {
			return ActionOutcome{}, err
		}
	}

	result, err := gc.match.ResolveGuess(seat, text)
	if err != nil {
		return ActionOutcome{}, err
	}

	// 猜错时不公开猜词者是否为内鬼
	public := result
	if !result.Correct {
		public.IsImpostor = false
	}
	gc.notifier.BroadcastToRoom(gc.roomID, map[string]interface{}{
		"type":   "guess_result",
		"result": public,
	})

	if gc.match.IsOver() {
		gc.handleGameEnd()
	}
	return ActionOutcome{Guess: &result}, nil
}

// handleGameEnd 公布结果及全部身份
func (gc *GameController) handleGameEnd() {
	log.Printf("[game] room %s finished, winner %s", gc.roomID, gc.match.Winner())
	gc.notifier.BroadcastToRoom(gc.roomID, map[string]interface{}{
		"type":    "game_end",
		"winner":  gc.match.Winner(),
		"reason":  gc.match.Reason(),
		"word":    gc.match.SecretWord(),
		"players": gc.match.Reveal(),
	})
}

// Status 获取游戏状态
func (gc *GameController) Status() models.GameStatus {
	gc.mutex.RLock()
	defer gc.mutex.RUnlock()
	return gc.statusLocked()
}

func (gc *GameController) statusLocked() models.GameStatus {
	status := models.GameStatus{RoomID: gc.roomID, Winner: models.NoWinner}
	if gc.match == nil {
		return status
	}
	status.Started = true
	status.Over = gc.match.IsOver()
	status.Winner = gc.match.Winner()
	status.Summary = gc.match.Summary()
	status.Players = gc.match.Statuses()
	status.Votes = len(gc.ballots)
	return status
}

// PlayerView 玩家私密视图，出局玩家不再可见
func (gc *GameController) PlayerView(participantID string) (models.PlayerView, error) {
	gc.mutex.RLock()
	defer gc.mutex.RUnlock()

	if gc.match == nil {
		return models.PlayerView{}, ErrGameNotStarted
	}
	seat, ok := gc.seats[participantID]
	if !ok {
		return models.PlayerView{}, ErrNotSeated
	}
	if alive, _ := gc.match.Alive(seat); !alive {
		return models.PlayerView{}, ErrPlayerEliminated
	}
	return gc.viewLocked(seat), nil
}

func (gc *GameController) viewLocked(seat int) models.PlayerView {
	name, _ := gc.match.Name(seat)
	role, _ := gc.match.Role(seat)
	word, _ := gc.match.AssignedWord(seat)
	alive, _ := gc.match.Alive(seat)
	return models.PlayerView{
		Seat:   seat,
		Name:   name,
		Role:   role,
		Word:   word,
		Alive:  alive,
		RoomID: gc.roomID,
	}
}
