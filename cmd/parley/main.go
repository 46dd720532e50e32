package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"parley/internal/api"
	"parley/internal/broker"
	"parley/internal/config"
	"parley/internal/dispatcher"
	"parley/internal/friends"
	"parley/internal/groups"
	"parley/internal/push"
	"parley/internal/repository"
	"parley/internal/ws"
)

func main() {
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	store := repository.New(db)

	client, err := broker.New(cfg.AMQPURL, cfg.StreamURL)
	if err != nil {
		log.Fatalf("failed to connect broker: %v", err)
	}
	defer client.Close()

	journal, err := broker.NewJournal(client, cfg.JournalStream)
	if err != nil {
		log.Fatalf("failed to open journal: %v", err)
	}
	defer journal.Close()

	disp := dispatcher.New(store, client, journal)
	friendSvc := friends.New(store, client)
	groupSvc := groups.New(store, disp)

	hub := ws.NewHub(store)
	go hub.Run()
	if err := hub.Listen(client); err != nil {
		log.Fatalf("failed to subscribe hub: %v", err)
	}
	defer hub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := push.NewWorker(store, client, cfg.JournalStream)
	go func() {
		if err := worker.Start(ctx); err != nil && ctx.Err() == nil {
			log.Printf("push worker stopped: %v", err)
		}
	}()

	r := gin.Default()
	a := &api.API{
		Dispatcher: disp,
		Friends:    friendSvc,
		Groups:     groupSvc,
		Store:      store,
		Hub:        hub,
		JWTSecret:  cfg.JWTSecret,
	}
	a.Routes(r)

	log.Printf("listening on :%s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
