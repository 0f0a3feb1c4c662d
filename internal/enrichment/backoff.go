package enrichment

import "time"

const (
	// initialBackoff はキュー読み取り失敗時の初回待機時間。
	initialBackoff = 500 * time.Millisecond
	// maxBackoff はキュー読み取り失敗時の最大待機時間。
	maxBackoff = 30 * time.Second
)

// calculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回500ms、2倍ずつ増加、最大30秒。
func calculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
