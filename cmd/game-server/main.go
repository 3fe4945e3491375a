package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"gridclaim/internal/auth"
	"gridclaim/internal/cache"
	"gridclaim/internal/config"
	"gridclaim/internal/logging"
	"gridclaim/internal/notify"
	"gridclaim/internal/presence"
	"gridclaim/internal/session"
	"gridclaim/internal/store"
	"gridclaim/internal/ws"
)

func main() {
	appCfg, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	logging.Init(appCfg.Log)
	cfg := appCfg.Server

	st, err := store.New(cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	if err := st.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis ping failed")
	}

	tracker := presence.NewTracker(rdb, cfg.PresenceWindow)
	tracker.StartJanitor(context.Background(), time.Minute)

	hub := ws.NewHub()
	notifier := notify.New(st, hub)
	coord := session.NewCoordinator(st, cache.NewBoardCache(rdb), hub, notifier, cfg.DisconnectGrace)
	coord.StartJanitor(context.Background(), time.Minute)
	hub.OnRoomDisconnect(coord.HandleDisconnect)

	wsServer := ws.NewServer(hub, coord, notifier, tracker, auth.NewVerifier(cfg.JWTSecret), cfg)

	r := newRouter(st, wsServer)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
	log.Fatal().Err(server.ListenAndServe()).Msg("server stopped")
}
