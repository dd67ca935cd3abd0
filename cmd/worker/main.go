package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"presence/internal/archive"
	"presence/internal/config"
	"presence/internal/queue"
	"presence/internal/store"
)

// Worker consumes presence events and mirrors them into the Postgres
// archive, so sessions and records survive API restarts.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	repo := archive.NewRepository(db.Client)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("archive schema setup failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presence:events")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("archiver started, waiting for events...")
	for msg := range messages {
		switch msg.Type {
		case queue.TypeSessionStarted, queue.TypeSessionClosed:
			evt, err := queue.DecodeSession(msg)
			if err != nil {
				log.Printf("bad %s event: %v", msg.Type, err)
				continue
			}
			if err := repo.SaveSession(ctx, evt.Handle); err != nil {
				log.Printf("archive session %s failed: %v", evt.Handle.ID, err)
				continue
			}
			log.Printf("archived session %s (%s)", evt.Handle.ID, evt.Handle.State)

		case queue.TypeMarked:
			evt, err := queue.DecodeMarked(msg)
			if err != nil {
				log.Printf("bad marked event: %v", err)
				continue
			}
			err = repo.InsertRecord(ctx, evt.SessionID, evt.Record)
			if errors.Is(err, archive.ErrDuplicateRecord) {
				// Redelivery after a crash; the first write won.
				continue
			}
			if err != nil {
				log.Printf("archive record %s/%s failed: %v", evt.SessionID, evt.Record.ParticipantID, err)
				continue
			}
			log.Printf("archived record %s/%s", evt.SessionID, evt.Record.ParticipantID)

		default:
			// Unknown event types are skipped so old workers tolerate new producers.
		}
	}

	log.Println("archiver stopped")
}
