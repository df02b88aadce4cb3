package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"form-coach/internal/coaching"
	"form-coach/internal/models"

	"github.com/go-redis/redis/v8"
)

const (
	CoachingQueueKey = "coaching:requests"

	recentLimit = 1000
	recentTTL   = time.Hour
)

func IssuesChannel(sessionID string) string   { return fmt.Sprintf("session:%s:issues", sessionID) }
func CapturesChannel(sessionID string) string { return fmt.Sprintf("session:%s:captures", sessionID) }
func RecentIssuesKey(sessionID string) string { return fmt.Sprintf("session:%s:issues:recent", sessionID) }

type RedisClient struct {
	client *redis.Client
}

func NewRedisClient(ctx context.Context, addr string) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     "",
		DB:           0,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisClient{client: client}, nil
}

// PublishIssue broadcasts an issue to the session's subscribers and keeps it
// in the capped recent list.
func (r *RedisClient) PublishIssue(ctx context.Context, sessionID string, issue models.FormIssue) error {
	data, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("failed to marshal issue: %w", err)
	}

	listKey := RecentIssuesKey(sessionID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, IssuesChannel(sessionID), data)
		pipe.LPush(ctx, listKey, data)
		pipe.LTrim(ctx, listKey, 0, recentLimit-1)
		pipe.Expire(ctx, listKey, recentTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish issue to Redis: %w", err)
	}
	return nil
}

func (r *RedisClient) PublishCapture(ctx context.Context, sessionID string, rep models.RepResult) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("failed to marshal capture: %w", err)
	}
	if err := r.client.Publish(ctx, CapturesChannel(sessionID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish capture to Redis: %w", err)
	}
	return nil
}

// EnqueueCoaching queues a request for the advisory service worker.
func (r *RedisClient) EnqueueCoaching(ctx context.Context, req coaching.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal coaching request: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, CoachingQueueKey, data)
		pipe.LTrim(ctx, CoachingQueueKey, 0, recentLimit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue coaching request: %w", err)
	}
	return nil
}

// GetRecentIssues returns up to count issues, newest first.
func (r *RedisClient) GetRecentIssues(ctx context.Context, sessionID string, count int64) ([]models.FormIssue, error) {
	items, err := r.client.LRange(ctx, RecentIssuesKey(sessionID), 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get recent issues: %w", err)
	}

	issues := make([]models.FormIssue, 0, len(items))
	for _, item := range items {
		var issue models.FormIssue
		if err := json.Unmarshal([]byte(item), &issue); err != nil {
			continue
		}
		issues = append(issues, issue)
	}

	return issues, nil
}

// ClearSession drops the session's recent list.
func (r *RedisClient) ClearSession(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, RecentIssuesKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session %s: %w", sessionID, err)
	}
	return nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
