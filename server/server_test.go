package server_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/qianlnk/impostor/config"
	"github.com/qianlnk/impostor/models"
	"github.com/qianlnk/impostor/server"
	"github.com/qianlnk/impostor/services"
)

var _ = Describe("Server", func() {
	var (
		ctx     context.Context
		client  *resty.Client
		baseURL string
		rooms   *services.RoomManager
	)

	BeforeEach(func() {
		var cancelFn context.CancelFunc
		ctx, cancelFn = context.WithTimeout(context.Background(), time.Minute)
		DeferCleanup(cancelFn)

		cfg := &config.Config{
			Server: config.ServerConfig{Addr: ":0", AllowedOrigins: []string{"*"}},
			Game: config.GameConfig{
				DefaultImpostors: 1,
				MaxPlayers:       8,
				Words:            []string{"linterna"},
				Seed:             2024,
			},
			WebSocket: config.WebSocketConfig{
				ReadLimit:      64 * 1024,
				WriteTimeout:   time.Second,
				ReconnectGrace: 10 * time.Millisecond,
			},
		}

		sockets := services.NewWebSocketManager(nil, services.WebSocketOptions{
			ReadLimit:      cfg.WebSocket.ReadLimit,
			WriteTimeout:   cfg.WebSocket.WriteTimeout,
			ReconnectGrace: cfg.WebSocket.ReconnectGrace,
		})
		rooms = services.NewRoomManager(sockets, services.RoomSettings{
			DefaultImpostors: cfg.Game.DefaultImpostors,
			MaxPlayers:       cfg.Game.MaxPlayers,
			Words:            cfg.Game.Words,
			Seed:             cfg.Game.Seed,
		})
		sockets.SetRoomManager(rooms)

		httpServer := httptest.NewServer(server.NewServer(cfg, rooms, sockets))
		DeferCleanup(httpServer.Close)

		baseURL = httpServer.URL
		client = resty.New()
	})

	createRoom := func(body map[string]interface{}) models.Room {
		var room models.Room
		resp, err := client.R().SetContext(ctx).SetBody(body).SetResult(&room).Post(baseURL + "/api/rooms")
		Expect(err).ToNot(HaveOccurred(), "creating a room should not fail")
		Expect(resp.StatusCode()).To(Equal(http.StatusOK), "unexpected status creating a room: %s", resp.String())
		return room
	}

	join := func(roomID, name string) models.Participant {
		var p models.Participant
		resp, err := client.R().SetContext(ctx).SetBody(map[string]string{"name": name}).SetResult(&p).Post(fmt.Sprintf("%s/api/rooms/%s/join", baseURL, roomID))
		Expect(err).ToNot(HaveOccurred(), "%s joining should not fail", name)
		Expect(resp.StatusCode()).To(Equal(http.StatusOK), "unexpected status when %s joined: %s", name, resp.String())
		return p
	}

	act := func(action models.GameAction) (*resty.Response, services.ActionOutcome) {
		var outcome services.ActionOutcome
		resp, err := client.R().SetContext(ctx).SetBody(action).SetResult(&outcome).Post(baseURL + "/api/game/action")
		Expect(err).ToNot(HaveOccurred(), "posting a %s action should not fail", action.Type)
		return resp, outcome
	}

	It("plays a three-person game to a crew win", func() {
		room := createRoom(map[string]interface{}{"name": "party", "max_players": 3})
		Expect(room.MaxPlayers).To(Equal(3))
		Expect(room.ImpostorCount).To(Equal(1))

		players := []models.Participant{join(room.ID, "Ana"), join(room.ID, "Bea"), join(room.ID, "Ciro")}

		resp, err := client.R().SetContext(ctx).SetBody(map[string]string{"name": "Late"}).Post(fmt.Sprintf("%s/api/rooms/%s/join", baseURL, room.ID))
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusConflict), "a fourth player should not fit")

		var status models.GameStatus
		resp, err = client.R().SetContext(ctx).SetResult(&status).Post(fmt.Sprintf("%s/api/rooms/%s/start", baseURL, room.ID))
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusOK), "starting the game: %s", resp.String())
		Expect(status.Started).To(BeTrue())
		Expect(status.Players).To(HaveLen(3))
		Expect(status.Summary).To(ContainSubstring("Ana (alive)"))
		Expect(status.Summary).ToNot(ContainSubstring("linterna"))

		var impostor string
		var crew []string
		for _, p := range players {
			var view models.PlayerView
			resp, err := client.R().SetContext(ctx).SetResult(&view).Get(fmt.Sprintf("%s/api/rooms/%s/players/%s", baseURL, room.ID, p.ID))
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))
			Expect(view.Name).To(Equal(p.Name))
			switch view.Role {
			case models.Impostor:
				Expect(view.Word).To(BeNil())
				impostor = p.ID
			case models.Crew:
				Expect(view.Word).To(HaveValue(Equal("linterna")))
				crew = append(crew, p.ID)
			default:
				Fail("unexpected role " + string(view.Role))
			}
		}
		Expect(impostor).ToNot(BeEmpty())
		Expect(crew).To(HaveLen(2))

		resp, outcome := act(models.GameAction{Type: "vote", RoomID: room.ID, PlayerID: crew[0], TargetID: impostor})
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))
		Expect(outcome.Vote).To(BeNil())

		resp, _ = act(models.GameAction{Type: "vote", RoomID: room.ID, PlayerID: impostor, TargetID: crew[0]})
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))

		resp, outcome = act(models.GameAction{Type: "vote", RoomID: room.ID, PlayerID: crew[1], TargetID: impostor})
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))
		Expect(outcome.Vote).ToNot(BeNil())
		Expect(outcome.Vote.Elimination).ToNot(BeNil())
		Expect(outcome.Vote.Elimination.WasImpostor).To(BeTrue())
		Expect(outcome.Vote.Elimination.Winner).To(Equal(models.CrewWin))

		resp, err = client.R().SetContext(ctx).SetResult(&status).Get(fmt.Sprintf("%s/api/rooms/%s/status", baseURL, room.ID))
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))
		Expect(status.Over).To(BeTrue())
		Expect(status.Winner).To(Equal(models.CrewWin))

		resp, _ = act(models.GameAction{Type: "guess", RoomID: room.ID, PlayerID: crew[0], Content: "linterna"})
		Expect(resp.StatusCode()).To(Equal(http.StatusConflict), "actions after the end should be refused")

		resp, err = client.R().SetContext(ctx).Get(fmt.Sprintf("%s/api/rooms/%s/players/%s", baseURL, room.ID, impostor))
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusForbidden), "eliminated players no longer see their role")
	})

	It("ends the game on a correct guess", func() {
		room := createRoom(map[string]interface{}{"name": "guessers"})
		players := []models.Participant{join(room.ID, "a"), join(room.ID, "b"), join(room.ID, "c"), join(room.ID, "d")}

		resp, err := client.R().SetContext(ctx).Post(fmt.Sprintf("%s/api/rooms/%s/start", baseURL, room.ID))
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))

		resp, outcome := act(models.GameAction{Type: "guess", RoomID: room.ID, PlayerID: players[0].ID, Content: "  LINTERNA "})
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))
		Expect(outcome.Guess).ToNot(BeNil())
		Expect(outcome.Guess.Correct).To(BeTrue())
		Expect(outcome.Guess.GameOver).To(BeTrue())
		if outcome.Guess.IsImpostor {
			Expect(outcome.Guess.Winner).To(Equal(models.ImpostorsWin))
		} else {
			Expect(outcome.Guess.Winner).To(Equal(models.CrewWin))
		}
	})

	It("ends a match and plays a rematch in the same room", func() {
		room := createRoom(map[string]interface{}{"name": "rematch"})
		join(room.ID, "a")
		join(room.ID, "b")
		join(room.ID, "c")

		endURL := fmt.Sprintf("%s/api/rooms/%s/end", baseURL, room.ID)
		startURL := fmt.Sprintf("%s/api/rooms/%s/start", baseURL, room.ID)

		resp, err := client.R().SetContext(ctx).Post(endURL)
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusConflict), "nothing to end before the start")

		resp, err = client.R().SetContext(ctx).Post(startURL)
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))

		var reopened models.Room
		resp, err = client.R().SetContext(ctx).SetResult(&reopened).Post(endURL)
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusOK), "ending the game: %s", resp.String())
		Expect(reopened.GameStarted).To(BeFalse())

		d := join(room.ID, "d")

		var status models.GameStatus
		resp, err = client.R().SetContext(ctx).SetResult(&status).Post(startURL)
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusOK), "dealing the rematch: %s", resp.String())
		Expect(status.Players).To(HaveLen(4))

		resp, err = client.R().SetContext(ctx).Get(fmt.Sprintf("%s/api/rooms/%s/players/%s", baseURL, room.ID, d.ID))
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusOK), "the newcomer is seated in the rematch")

		resp, err = client.R().SetContext(ctx).Post(baseURL + "/api/rooms/missing/end")
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusNotFound))
	})

	It("reports bad requests and unknown rooms", func() {
		resp, err := client.R().SetContext(ctx).SetBody(map[string]interface{}{}).Post(baseURL + "/api/rooms")
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusBadRequest), "a room needs a name")

		resp, err = client.R().SetContext(ctx).SetBody(map[string]interface{}{"name": "tiny", "max_players": 2}).Post(baseURL + "/api/rooms")
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusBadRequest))

		resp, err = client.R().SetContext(ctx).Get(baseURL + "/api/rooms/missing")
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusNotFound))

		resp, err = client.R().SetContext(ctx).Get(baseURL + "/api/rooms/missing/status")
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusNotFound))

		resp, _ = act(models.GameAction{Type: "vote", RoomID: "missing", PlayerID: "a", TargetID: "b"})
		Expect(resp.StatusCode()).To(Equal(http.StatusNotFound))

		room := createRoom(map[string]interface{}{"name": "early"})
		join(room.ID, "solo")
		resp, err = client.R().SetContext(ctx).Post(fmt.Sprintf("%s/api/rooms/%s/start", baseURL, room.ID))
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusBadRequest), "one player cannot start a game")

		resp, _ = act(models.GameAction{Type: "vote", RoomID: room.ID, PlayerID: "a", TargetID: "b"})
		Expect(resp.StatusCode()).To(Equal(http.StatusConflict), "no game has started")
	})

	It("lists and deletes rooms", func() {
		room := createRoom(map[string]interface{}{"name": "temp"})

		var list struct {
			Rooms []models.Room `json:"rooms"`
		}
		resp, err := client.R().SetContext(ctx).SetResult(&list).Get(baseURL + "/api/rooms")
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))
		Expect(list.Rooms).To(HaveLen(1))

		resp, err = client.R().SetContext(ctx).Delete(fmt.Sprintf("%s/api/rooms/%s", baseURL, room.ID))
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))

		resp, err = client.R().SetContext(ctx).Get(fmt.Sprintf("%s/api/rooms/%s", baseURL, room.ID))
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusNotFound))
	})

	It("pushes room updates and private roles over the websocket", func() {
		room := createRoom(map[string]interface{}{"name": "live"})
		players := []models.Participant{join(room.ID, "a"), join(room.ID, "b"), join(room.ID, "c")}

		wsURL := fmt.Sprintf("ws%s/ws?room=%s&player=%s&connection_id=conn-1", strings.TrimPrefix(baseURL, "http"), room.ID, players[0].ID)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		Expect(err).ToNot(HaveOccurred(), "dialing the websocket should not fail")
		DeferCleanup(conn.Close)
		Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())

		var update map[string]interface{}
		Expect(conn.ReadJSON(&update)).To(Succeed())
		Expect(update).To(HaveKeyWithValue("type", "room_update"))
		Expect(update["players"]).To(HaveLen(3))

		resp, err := client.R().SetContext(ctx).Post(fmt.Sprintf("%s/api/rooms/%s/start", baseURL, room.ID))
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode()).To(Equal(http.StatusOK))

		var private struct {
			Type    string `json:"type"`
			Content struct {
				Type string            `json:"type"`
				View models.PlayerView `json:"view"`
			} `json:"content"`
		}
		Expect(conn.ReadJSON(&private)).To(Succeed())
		Expect(private.Type).To(Equal("private"))
		Expect(private.Content.Type).To(Equal("role_assigned"))
		Expect(private.Content.View.Name).To(Equal("a"))
		Expect(private.Content.View.Role).To(BeElementOf(models.Impostor, models.Crew))

		var started map[string]interface{}
		Expect(conn.ReadJSON(&started)).To(Succeed())
		Expect(started).To(HaveKeyWithValue("type", "game_started"))

		Expect(conn.WriteJSON(map[string]interface{}{
			"type":    "game_action",
			"room_id": room.ID,
			"content": map[string]string{"type": "guess", "guess": "Linterna"},
		})).To(Succeed())

		var guessed map[string]interface{}
		Expect(conn.ReadJSON(&guessed)).To(Succeed())
		Expect(guessed).To(HaveKeyWithValue("type", "guess_result"))
		Expect(guessed["result"]).To(HaveKeyWithValue("correct", true))

		var ended map[string]interface{}
		Expect(conn.ReadJSON(&ended)).To(Succeed())
		Expect(ended).To(HaveKeyWithValue("type", "game_end"))
		Expect(ended).To(HaveKeyWithValue("word", "linterna"))
		Expect(ended["players"]).To(HaveLen(3))

		Expect(conn.WriteJSON(map[string]interface{}{
			"type":    "game_action",
			"room_id": room.ID,
			"content": map[string]string{"type": "end_game"},
		})).To(Succeed())

		var cleared map[string]interface{}
		Expect(conn.ReadJSON(&cleared)).To(Succeed())
		Expect(cleared).To(HaveKeyWithValue("type", "game_end"))
		Expect(cleared).To(HaveKeyWithValue("ended", true))
		Expect(cleared).ToNot(HaveKey("players"))

		Eventually(func() bool {
			snapshot, err := rooms.GetRoom(room.ID)
			return err == nil && !snapshot.GameStarted
		}).Should(BeTrue(), "the room reopens after end_game")
	})

	It("refuses websocket connections from strangers", func() {
		room := createRoom(map[string]interface{}{"name": "closed"})
		wsURL := fmt.Sprintf("ws%s/ws?room=%s&player=ghost&connection_id=conn-1", strings.TrimPrefix(baseURL, "http"), room.ID)
		_, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		Expect(err).To(HaveOccurred())
		Expect(resp).ToNot(BeNil())
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})
})
