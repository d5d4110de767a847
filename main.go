package main

import (
	"flag"
	"log"

	"github.com/qianlnk/impostor/config"
	"github.com/qianlnk/impostor/server"
	"github.com/qianlnk/impostor/services"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	configPath := flag.String("config", "", "path to a config file (default: ./config.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath, ".env")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	webSocketMgr := services.NewWebSocketManager(nil, services.WebSocketOptions{
		ReadLimit:      cfg.WebSocket.ReadLimit,
		PingInterval:   cfg.WebSocket.PingInterval,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		ReconnectGrace: cfg.WebSocket.ReconnectGrace,
	})
	roomManager := services.NewRoomManager(webSocketMgr, services.RoomSettings{
		DefaultImpostors:     cfg.Game.DefaultImpostors,
		MaxPlayers:           cfg.Game.MaxPlayers,
		Words:                cfg.Game.Words,
		Seed:                 cfg.Game.Seed,
		AllowEliminatedGuess: cfg.Game.AllowEliminatedGuess,
	})
	webSocketMgr.SetRoomManager(roomManager)

	r := server.NewServer(cfg, roomManager, webSocketMgr)

	log.Printf("server listening on %s", cfg.Server.Addr)
	if err := r.Run(cfg.Server.Addr); err != nil {
		log.Fatal("server failed: ", err)
	}
}
