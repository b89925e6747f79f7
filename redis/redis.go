// Package redis stores respondent sessions in Redis. Each session is a JSON
// value; a per-flow set indexes session ids for analytics.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/meikuraledutech/flow"
	"github.com/redis/go-redis/v9"
)

// SessionStore implements flow.SessionStore using Redis.
type SessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Options configures a SessionStore.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "flow:"
	TTL      time.Duration // Expiration for sessions, default 0 (no expiration)
}

var _ flow.SessionStore = (*SessionStore)(nil)

// New creates a SessionStore with its own client.
func New(opts Options) *SessionStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(client, opts.Prefix, opts.TTL)
}

// NewWithClient creates a SessionStore over an existing client.
func NewWithClient(client *redis.Client, prefix string, ttl time.Duration) *SessionStore {
	if prefix == "" {
		prefix = "flow:"
	}
	return &SessionStore{client: client, prefix: prefix, ttl: ttl}
}

// Close closes the underlying client.
func (s *SessionStore) Close() error {
	return s.client.Close()
}

func (s *SessionStore) sessionKey(id string) string {
	return fmt.Sprintf("%ssession:%s", s.prefix, id)
}

func (s *SessionStore) flowKey(flowID string) string {
	return fmt.Sprintf("%sflow:%s:sessions", s.prefix, flowID)
}

func (s *SessionStore) CreateSession(ctx context.Context, sess *flow.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("flow: marshal session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.sessionKey(sess.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("flow: save session to redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: session %s already exists", flow.ErrConflict, sess.ID)
	}

	flowKey := s.flowKey(sess.FlowID)
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, flowKey, sess.ID)
	if s.ttl > 0 {
		pipe.Expire(ctx, flowKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flow: index session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*flow.Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("flow: load session from redis: %w", err)
	}
	return decode(data)
}

// UpdateSession replaces the session inside a WATCH transaction, so a
// concurrent writer makes it fail with flow.ErrConflict instead of being
// overwritten.
func (s *SessionStore) UpdateSession(ctx context.Context, sess *flow.Session) error {
	key := s.sessionKey(sess.ID)
	next := sess.Clone()
	next.Revision++
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("flow: marshal session: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", flow.ErrSessionNotFound, sess.ID)
			}
			return err
		}
		cur, err := decode(raw)
		if err != nil {
			return err
		}
		if cur.Revision != sess.Revision {
			return fmt.Errorf("%w: session %s is at revision %d, not %d", flow.ErrConflict, sess.ID, cur.Revision, sess.Revision)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: session %s changed during update", flow.ErrConflict, sess.ID)
	}
	if err != nil {
		return err
	}
	sess.Revision = next.Revision
	return nil
}

// ListSessions returns the flow's sessions oldest first. Expired sessions are
// skipped.
func (s *SessionStore) ListSessions(ctx context.Context, flowID string) ([]*flow.Session, error) {
	ids, err := s.client.SMembers(ctx, s.flowKey(flowID)).Result()
	if err != nil {
		return nil, fmt.Errorf("flow: list sessions for flow %s: %w", flowID, err)
	}
	sessions := []*flow.Session{}
	if len(ids) == 0 {
		return sessions, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("flow: fetch sessions: %w", err)
	}
	for _, r := range results {
		str, ok := r.(string)
		if !ok {
			continue
		}
		sess, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	sortSessions(sessions)
	return sessions, nil
}

func decode(data []byte) (*flow.Session, error) {
	var sess flow.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("flow: decode session: %w", err)
	}
	return &sess, nil
}

func sortSessions(sessions []*flow.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].StartedAt.Before(sessions[j].StartedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
}
