package signature

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Redis Mirror
//
// Best-effort replication of signature state into a shared Redis hash so
// multiple gateway replicas see the same rolling view. The in-memory
// coordinator stays authoritative; the mirror is write-only from this
// process's perspective and is allowed to lose updates.
//
// Writes go through a bounded queue drained by one background goroutine.
// A full queue drops the oldest pending snapshot, never blocks Record.
// ──────────────────────────────────────────────────────────────────────

// RedisMirror replicates signature snapshots into a Redis hash.
type RedisMirror struct {
	client  *redis.Client
	hashKey string
	ttl     time.Duration

	queue chan models.SignatureState
	stop  chan struct{}
	done  chan struct{}
}

// NewRedisMirror starts the background writer. hashKey names the Redis
// hash holding one JSON field per signature; ttl refreshes the hash's
// expiry on every write batch.
func NewRedisMirror(client *redis.Client, hashKey string, ttl time.Duration, queueSize int) *RedisMirror {
	if hashKey == "" {
		hashKey = "botwall:signatures"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	m := &RedisMirror{
		client:  client,
		hashKey: hashKey,
		ttl:     ttl,
		queue:   make(chan models.SignatureState, queueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.writeLoop()
	return m
}

// Enqueue hands a snapshot to the writer without blocking. On overflow
// the oldest pending snapshot is dropped to make room.
func (m *RedisMirror) Enqueue(state models.SignatureState) {
	for {
		select {
		case m.queue <- state:
			return
		default:
		}
		select {
		case <-m.queue:
			// Dropped the oldest; retry the send.
		default:
		}
	}
}

// Close drains nothing further and stops the writer.
func (m *RedisMirror) Close() {
	close(m.stop)
	<-m.done
}

func (m *RedisMirror) writeLoop() {
	defer close(m.done)
	for {
		select {
		case state := <-m.queue:
			m.write(state)
		case <-m.stop:
			return
		}
	}
}

func (m *RedisMirror) write(state models.SignatureState) {
	payload, err := json.Marshal(state)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := m.client.Pipeline()
	pipe.HSet(ctx, m.hashKey, state.PrimarySignature, payload)
	pipe.Expire(ctx, m.hashKey, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		// Mirror loss is acceptable; log once per failure and move on.
		log.Printf("[Signatures] Redis mirror write failed: %v", err)
	}
}
