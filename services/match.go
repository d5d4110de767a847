package services

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/text/cases"

	"github.com/qianlnk/impostor/models"
)

// MinMatchPlayers 开局最少人数
const MinMatchPlayers = 3

// DefaultWords 默认候选词
var DefaultWords = []string{"python", "manzana", "guitarra", "estrella", "avion"}

var (
	ErrConfiguration  = errors.New("invalid match configuration")
	ErrPlayerNotFound = errors.New("player not found")
)

// ConfigurationError 无法发牌的原因
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// Randomizer 发牌用的随机源，*rand.Rand 即可满足
type Randomizer interface {
	Intn(n int) int
	Perm(n int) []int
}

// MatchConfig 对局参数。PlayerNames 优先于 PlayerCount。
// ImpostorCount 为零值时按 1 个内鬼处理，负数返回 ConfigurationError
type MatchConfig struct {
	PlayerNames   []string
	PlayerCount   int
	Words         []string
	ImpostorCount int
}

// Match 一局游戏的状态。
//
// 角色发出后不再改变，淘汰只修改存活标记，存活内鬼由两者推导
type Match struct {
	names         []string
	secretWord    string
	impostorCount int
	impostor      []bool
	alive         []bool
	over          bool
	winner        models.Winner
	reason        string
}

// NewMatch 发牌创建新对局
func NewMatch(cfg MatchConfig, rnd Randomizer) (*Match, error) {
	var names []string
	switch {
	case len(cfg.PlayerNames) > 0:
		names = make([]string, len(cfg.PlayerNames))
		for i, name := range cfg.PlayerNames {
			name = strings.TrimSpace(name)
			if name == "" {
				name = placeholderName(i)
			}
			names[i] = name
		}
	case cfg.PlayerCount > 0:
		names = make([]string, cfg.PlayerCount)
		for i := range names {
			names[i] = placeholderName(i)
		}
	default:
		return nil, &ConfigurationError{Reason: "player names or player count must be given"}
	}

	n := len(names)
	if n < MinMatchPlayers {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("at least %d players are required, got %d", MinMatchPlayers, n)}
	}

	impostors := cfg.ImpostorCount
	if impostors == 0 {
		impostors = 1
	}
	if impostors < 1 {
		return nil, &ConfigurationError{Reason: "there must be at least 1 impostor"}
	}
	if impostors >= n-impostors {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("%d impostor(s) is not fewer than %d crew", impostors, n-impostors)}
	}

	words := cleanWords(cfg.Words)

	m := &Match{
		names:         names,
		impostorCount: impostors,
		impostor:      make([]bool, n),
		alive:         make([]bool, n),
		winner:        models.NoWinner,
	}
	for _, idx := range rnd.Perm(n)[:impostors] {
		m.impostor[idx] = true
	}
	m.secretWord = words[rnd.Intn(len(words))]
	for i := range m.alive {
		m.alive[i] = true
	}

	log.Printf("[match] dealt %d players, %d impostor(s), %d candidate word(s)", n, impostors, len(words))
	return m, nil
}

func placeholderName(i int) string {
	return fmt.Sprintf("Player %d", i)
}

func cleanWords(in []string) []string {
	words := make([]string, 0, len(in))
	for _, w := range in {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		words = append(words, DefaultWords...)
	}
	return words
}

// normalize 去空白并折叠大小写
func normalize(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

func (m *Match) checkID(playerID int) error {
	if playerID < 0 || playerID >= len(m.names) {
		return fmt.Errorf("%w: %d", ErrPlayerNotFound, playerID)
	}
	return nil
}

// PlayerCount 座位数
func (m *Match) PlayerCount() int { return len(m.names) }

// ImpostorCount 初始内鬼数
func (m *Match) ImpostorCount() int { return m.impostorCount }

// SecretWord 船员共享的秘密词
func (m *Match) SecretWord() string { return m.secretWord }

// IsOver 对局是否结束
func (m *Match) IsOver() bool { return m.over }

// Winner 获胜方，进行中为 NoWinner
func (m *Match) Winner() models.Winner { return m.winner }

// Alive 座位是否存活
func (m *Match) Alive(playerID int) (bool, error) {
	if err := m.checkID(playerID); err != nil {
		return false, err
	}
	return m.alive[playerID], nil
}

// Name 座位名称
func (m *Match) Name(playerID int) (string, error) {
	if err := m.checkID(playerID); err != nil {
		return "", err
	}
	return m.names[playerID], nil
}

// Role 当前角色，出局座位返回 Eliminated
func (m *Match) Role(playerID int) (models.Role, error) {
	if err := m.checkID(playerID); err != nil {
		return "", err
	}
	if !m.alive[playerID] {
		return models.Eliminated, nil
	}
	return m.dealtRole(playerID), nil
}

func (m *Match) dealtRole(playerID int) models.Role {
	if m.impostor[playerID] {
		return models.Impostor
	}
	return models.Crew
}

// AssignedWord 座位拿到的词，内鬼为 nil
func (m *Match) AssignedWord(playerID int) (*string, error) {
	if err := m.checkID(playerID); err != nil {
		return nil, err
	}
	if m.impostor[playerID] {
		return nil, nil
	}
	word := m.secretWord
	return &word, nil
}

// Players 所有座位及当前角色
func (m *Match) Players() []models.Player {
	players := make([]models.Player, len(m.names))
	for i, name := range m.names {
		role, _ := m.Role(i)
		word, _ := m.AssignedWord(i)
		players[i] = models.Player{ID: i, Name: name, Role: role, Word: word}
	}
	return players
}

// Reveal 所有座位及原始身份，用于结算
func (m *Match) Reveal() []models.Player {
	players := m.Players()
	for i := range players {
		players[i].Role = m.dealtRole(i)
	}
	return players
}

// Statuses 所有座位的公开存活状态
func (m *Match) Statuses() []models.PlayerStatus {
	statuses := make([]models.PlayerStatus, len(m.names))
	for i, name := range m.names {
		statuses[i] = models.PlayerStatus{ID: i, Name: name, Alive: m.alive[i]}
	}
	return statuses
}

// LivingCounts 存活内鬼数和存活船员数
func (m *Match) LivingCounts() (impostors, crew int) {
	for i, alive := range m.alive {
		if !alive {
			continue
		}
		if m.impostor[i] {
			impostors++
		} else {
			crew++
		}
	}
	return impostors, crew
}

// Summary 旁观文本，不泄露角色和词
func (m *Match) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Match: %d players, %d initial impostor(s).\n", len(m.names), m.impostorCount)
	b.WriteString("Players (status):\n")
	for i, name := range m.names {
		state := "alive"
		if !m.alive[i] {
			state = "eliminated"
		}
		fmt.Fprintf(&b, " - %d: %s (%s)\n", i, name, state)
	}
	return b.String()
}

// finish 结束对局的唯一入口，结束后结果不再改变
func (m *Match) finish(winner models.Winner, reason string) models.WinCheck {
	if !m.over {
		m.over = true
		m.winner = winner
		m.reason = reason
		log.Printf("[match] over, winner=%s: %s", winner, reason)
	}
	return models.WinCheck{Over: true, Winner: m.winner, Reason: m.reason}
}

// ResolveGuess 判定猜词。猜中立即结束对局：猜词者原身份为内鬼则内鬼胜，
// 否则船员胜。出局座位仍可猜词
func (m *Match) ResolveGuess(playerID int, guess string) (models.GuessResult, error) {
	if err := m.checkID(playerID); err != nil {
		return models.GuessResult{}, err
	}

	norm := normalize(guess)
	result := models.GuessResult{
		PlayerID:   playerID,
		PlayerName: m.names[playerID],
		Guess:      norm,
		Correct:    norm == normalize(m.secretWord),
		IsImpostor: m.impostor[playerID],
		Winner:     models.NoWinner,
	}
	if !result.Correct {
		return result, nil
	}

	winner := models.CrewWin
	reason := fmt.Sprintf("%s guessed the secret word.", m.names[playerID])
	if result.IsImpostor {
		winner = models.ImpostorsWin
		reason = fmt.Sprintf("Impostor %s guessed the secret word.", m.names[playerID])
	}
	verdict := m.finish(winner, reason)
	result.GameOver = verdict.Over
	result.Winner = verdict.Winner
	return result, nil
}

// Vote 统计 投票者 -> 目标 的选票。唯一最高票者当选，最高票平票则无人当选。
// performElimination 为真时淘汰当选者并附带淘汰结果
func (m *Match) Vote(ballot map[int]int, performElimination bool) (models.VoteResult, error) {
	counts := make(map[int]int)
	for voter, target := range ballot {
		if err := m.checkID(voter); err != nil {
			return models.VoteResult{}, err
		}
		if err := m.checkID(target); err != nil {
			return models.VoteResult{}, err
		}
		counts[target]++
	}

	result := models.VoteResult{Counts: counts}
	if len(counts) == 0 {
		return result, nil
	}

	maxVotes := 0
	var leaders []int
	for target, count := range counts {
		if count > maxVotes {
			maxVotes = count
			leaders = []int{target}
		} else if count == maxVotes {
			leaders = append(leaders, target)
		}
	}
	if len(leaders) > 1 {
		log.Printf("[match] vote tied between %v with %d vote(s), nobody elected", leaders, maxVotes)
		return result, nil
	}

	elected := leaders[0]
	result.Elected = &elected
	result.IsImpostor = m.impostor[elected] && m.alive[elected]

	if performElimination {
		elimination, err := m.Eliminate(elected)
		if err != nil {
			return result, err
		}
		result.Elimination = &elimination
	}
	return result, nil
}

// Eliminate 淘汰座位并判定胜负。重复淘汰返回 WasAlive=false，不做任何修改
func (m *Match) Eliminate(playerID int) (models.EliminationResult, error) {
	if err := m.checkID(playerID); err != nil {
		return models.EliminationResult{}, err
	}

	info := models.EliminationResult{
		PlayerID:    playerID,
		WasAlive:    m.alive[playerID],
		WasImpostor: m.impostor[playerID] && m.alive[playerID],
		Winner:      models.NoWinner,
	}
	if !info.WasAlive {
		info.Reason = "Player was already eliminated."
		return info, nil
	}

	m.alive[playerID] = false
	if info.WasImpostor {
		info.Reason = "An impostor was ejected."
	} else {
		info.Reason = "A crew member was ejected."
	}

	verdict := m.CheckWin()
	info.GameOver = verdict.Over
	info.Winner = verdict.Winner
	if verdict.Over {
		info.Reason += " " + verdict.Reason
	}
	return info, nil
}

// CheckWin 判定胜负。内鬼全部出局船员胜，内鬼人数不少于船员内鬼胜。
// 已结束时返回既定结果
func (m *Match) CheckWin() models.WinCheck {
	if m.over {
		return models.WinCheck{Over: true, Winner: m.winner, Reason: "Match already finished."}
	}

	impostors, crew := m.LivingCounts()
	if impostors == 0 {
		return m.finish(models.CrewWin, "No impostors remain.")
	}
	if impostors >= crew {
		return m.finish(models.ImpostorsWin, fmt.Sprintf("%d impostor(s) vs %d crew: the impostors control the vote.", impostors, crew))
	}
	return models.WinCheck{Winner: models.NoWinner, Reason: "The match continues."}
}

// Reason 结果说明，进行中为空
func (m *Match) Reason() string { return m.reason }
