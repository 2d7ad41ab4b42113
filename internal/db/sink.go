package db

import (
	"context"
	"log"
	"time"

	"github.com/rawblock/botwall-engine/internal/escalate"
	"github.com/rawblock/botwall-engine/pkg/models"
)

// SignatureLookup resolves a signature key to its current rolling state.
// The gateway wires this to the signature coordinator.
type SignatureLookup func(key string) (models.SignatureState, bool)

// Sink adapts the store to the escalation boundary so detections and
// signature snapshots stream into Postgres off the request path.
type Sink struct {
	store  *PostgresStore
	lookup SignatureLookup // may be nil
}

// NewSink wraps a connected store as an escalation subscriber.
func NewSink(store *PostgresStore, lookup SignatureLookup) *Sink {
	return &Sink{store: store, lookup: lookup}
}

// Name implements escalate.Subscriber.
func (s *Sink) Name() string { return "postgres" }

// Handle implements escalate.Subscriber. Write failures are logged and
// dropped; persistence never feeds back into the serving path.
func (s *Sink) Handle(ev escalate.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.SaveDetection(ctx, ev.Request, ev.Operation); err != nil {
		log.Printf("[Postgres] Failed to save detection %s: %v", ev.Request.RequestID, err)
	}

	if s.lookup == nil || ev.Request.Signature == "" {
		return
	}
	if state, ok := s.lookup(ev.Request.Signature); ok {
		if err := s.store.SaveSignatureSnapshot(ctx, state); err != nil {
			log.Printf("[Postgres] Failed to save signature snapshot %s: %v", state.PrimarySignature, err)
		}
	}
}
