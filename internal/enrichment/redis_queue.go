package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultQueueKey はRedisキューのデフォルトのキー名。
const DefaultQueueKey = "recall:enrichment:tasks"

// pollTimeout はBRPOPの1回あたりの待機時間。停止要求の確認間隔も兼ねる。
const pollTimeout = 5 * time.Second

// Scheduler はTaskを受け取って処理を予約するインターフェース。Dispatcherが実装する。
type Scheduler interface {
	Schedule(task Task)
}

// RedisQueue はRedisのリストを使ったプロセス間のタスクキュー。
// APIサーバーではHandlerとしてLPUSHし、workerプロセスではConsumeでBRPOPする。
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisQueue はRedis URLから接続を作成し、疎通を確認する。
func NewRedisQueue(ctx context.Context, redisURL, key string, logger *slog.Logger) (*RedisQueue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisQueue(client, key, logger), nil
}

func newRedisQueue(client *redis.Client, key string, logger *slog.Logger) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key, logger: logger}
}

// Handle はTaskをキューの先頭に追加する。
func (q *RedisQueue) Handle(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("push task: %w", err)
	}
	return nil
}

// Consume はctxが終了するまでキューの末尾からTaskを取り出し、schedulerに渡す。
// 読み取りエラーが続く場合は指数バックオフで待機する。
func (q *RedisQueue) Consume(ctx context.Context, scheduler Scheduler) error {
	q.logger.Info("エンリッチメントキューの購読を開始しました", slog.String("key", q.key))

	consecutiveErrors := 0
	for {
		if ctx.Err() != nil {
			q.logger.Info("エンリッチメントキューの購読を停止しました")
			return nil
		}

		result, err := q.client.BRPop(ctx, pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			consecutiveErrors = 0
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			delay := calculateBackoff(consecutiveErrors)
			consecutiveErrors++
			q.logger.Error("エンリッチメントキューの読み取りに失敗しました",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		consecutiveErrors = 0

		// BRPOPの結果は [key, value]
		if len(result) != 2 {
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
			q.logger.Error("不正なエンリッチメントタスクを破棄しました",
				slog.String("error", err.Error()),
			)
			continue
		}
		scheduler.Schedule(task)
	}
}

// Ping はRedisへの疎通を確認する。
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close はRedis接続を閉じる。
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// compile-time interface check
var _ Handler = (*RedisQueue)(nil)
