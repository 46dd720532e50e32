// Package push tails the event journal and handles recipients who were not
// online when a message arrived. Delivery to a real push provider is a
// logged stub; the recipient resolution and offline checks are the real part.
package push

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/stream"

	"parley/internal/domain"
)

type Store interface {
	User(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

type Tailer interface {
	TailJournal(name string, handler func([]byte)) (*stream.Consumer, error)
}

type Worker struct {
	store   Store
	tailer  Tailer
	journal string
	now     func() time.Time
}

func NewWorker(store Store, tailer Tailer, journal string) *Worker {
	return &Worker{store: store, tailer: tailer, journal: journal, now: time.Now}
}

// Start consumes the journal until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	consumer, err := w.tailer.TailJournal(w.journal, w.process)
	if err != nil {
		return err
	}
	<-ctx.Done()
	if err := consumer.Close(); err != nil {
		log.Printf("close journal consumer: %v", err)
	}
	return ctx.Err()
}

func (w *Worker) process(payload []byte) {
	var event domain.MessageEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("[push] decode journal entry: %v", err)
		return
	}
	for _, id := range w.recipients(&event) {
		w.notify(context.Background(), id, &event)
	}
}

// recipients resolves who the event is for, excluding the sender.
func (w *Worker) recipients(event *domain.MessageEvent) []uuid.UUID {
	switch event.TargetType {
	case domain.TargetUser:
		if event.TargetUserID == nil || *event.TargetUserID == event.FromID {
			return nil
		}
		return []uuid.UUID{*event.TargetUserID}
	case domain.TargetGroup:
		if event.TargetGroup == nil {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(event.TargetGroup.Users))
		for _, m := range event.TargetGroup.Users {
			if m.ID == event.FromID {
				continue
			}
			ids = append(ids, m.ID)
		}
		return ids
	}
	return nil
}

// notify re-checks presence at consume time; a user who came online since the
// event was journaled already got it over the socket.
func (w *Worker) notify(ctx context.Context, userID uuid.UUID, event *domain.MessageEvent) {
	user, err := w.store.User(ctx, userID)
	if err != nil {
		log.Printf("[push] load recipient %s: %v", userID, err)
		return
	}
	if domain.IsOnline(user.LastSeenAt, w.now()) {
		return
	}
	log.Printf("[push] notify %s: message %s from %s", user.Name, event.ID, event.From.Name)
}
