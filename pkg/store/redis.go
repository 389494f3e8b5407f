package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinymesh-ai/tinymesh/pkg/mesh"
)

const (
	sessionNameKey = "tinymesh:session:name:" // + participant name -> session JSON
	sessionIDKey   = "tinymesh:session:id:"   // + session id -> participant name
	sessionSetKey  = "tinymesh:sessions"      // set of participant names
	messageKey     = "tinymesh:message:"      // + message id -> message JSON
	messageIndex   = "tinymesh:messages"      // zset of message ids by unix ms
)

// Redis implements SessionStore and MessageStore on a Redis server. Record
// expiry is delegated to per-key TTLs; the sorted-set message index may hold
// ids whose payload key has expired, which reads skip over.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) PutSession(ctx context.Context, rec SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionNameKey+rec.ParticipantName, data, r.ttl)
	pipe.Set(ctx, sessionIDKey+rec.SessionID, rec.ParticipantName, r.ttl)
	pipe.SAdd(ctx, sessionSetKey, rec.ParticipantName)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put session %s: %w", rec.SessionID, err)
	}
	return nil
}

func (r *Redis) GetSessionByParticipant(ctx context.Context, name string) (SessionRecord, error) {
	data, err := r.client.Get(ctx, sessionNameKey+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("get session for %s: %w", name, err)
	}
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return SessionRecord{}, fmt.Errorf("decode session for %s: %w", name, err)
	}
	return rec, nil
}

func (r *Redis) UpdateHeartbeat(ctx context.Context, sessionID string) error {
	name, err := r.client.Get(ctx, sessionIDKey+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("resolve session %s: %w", sessionID, err)
	}
	rec, err := r.GetSessionByParticipant(ctx, name)
	if err != nil {
		return err
	}
	rec.LastHeartbeat = time.Now()
	return r.PutSession(ctx, rec)
}

func (r *Redis) GetAllSessions(ctx context.Context) ([]SessionRecord, error) {
	names, err := r.client.SMembers(ctx, sessionSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]SessionRecord, 0, len(names))
	for _, name := range names {
		rec, err := r.GetSessionByParticipant(ctx, name)
		if errors.Is(err, ErrNotFound) {
			// Expired payload still referenced by the set.
			r.client.SRem(ctx, sessionSetKey, name)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Redis) StoreMessage(ctx context.Context, msg *mesh.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, messageKey+msg.ID, data, r.ttl)
	pipe.ZAdd(ctx, messageIndex, redis.Z{
		Score:  float64(msg.Timestamp.UnixMilli()),
		Member: msg.ID,
	})
	// Keep the index from outliving its payloads.
	pipe.ZRemRangeByScore(ctx, messageIndex, "0",
		fmt.Sprintf("%d", time.Now().Add(-r.ttl).UnixMilli()))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store message %s: %w", msg.ID, err)
	}
	return nil
}

func (r *Redis) QueryMessages(ctx context.Context, filter MessageFilter) ([]mesh.Message, error) {
	min := "-inf"
	if !filter.Since.IsZero() {
		min = fmt.Sprintf("(%d", filter.Since.UnixMilli())
	}
	ids, err := r.client.ZRangeByScore(ctx, messageIndex, &redis.ZRangeBy{
		Min: min,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query message index: %w", err)
	}

	var out []mesh.Message
	for _, id := range ids {
		data, err := r.client.Get(ctx, messageKey+id).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get message %s: %w", id, err)
		}
		var msg mesh.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", id, err)
		}
		if !matches(&msg, filter) {
			continue
		}
		out = append(out, msg)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

func (r *Redis) MarkRead(ctx context.Context, messageID, sessionID string) error {
	key := messageKey + messageID
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get message %s: %w", messageID, err)
	}
	var msg mesh.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode message %s: %w", messageID, err)
	}
	for _, id := range msg.ReadBy {
		if id == sessionID {
			return nil
		}
	}
	msg.ReadBy = append(msg.ReadBy, sessionID)
	updated, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", messageID, err)
	}
	if err := r.client.Set(ctx, key, updated, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("update message %s: %w", messageID, err)
	}
	return nil
}
