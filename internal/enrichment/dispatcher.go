package enrichment

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// デフォルト設定
const (
	defaultWorkers        = 4
	defaultQueueSize      = 256
	defaultEnqueueTimeout = 5 * time.Second
	defaultTaskTimeout    = 30 * time.Second
)

// DispatcherConfig はDispatcherの設定。0以下の値はデフォルト値に置き換える。
type DispatcherConfig struct {
	Workers        int
	QueueSize      int           // ワーカーごとのキュー長
	EnqueueTimeout time.Duration // キュー満杯時に投入を待つ最大時間
	TaskTimeout    time.Duration // タスク1件の処理時間の上限
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = defaultEnqueueTimeout
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = defaultTaskTimeout
	}
	return c
}

// Dispatcher はTaskをワーカーに振り分けてバックグラウンドで処理する。
// セッションIDのハッシュでワーカーを固定するため、同一セッションのタスクは
// キューが溢れない限り投入順に処理される。
// Scheduleは呼び出し元をブロックせず、処理の失敗も呼び出し元には返さない。
type Dispatcher struct {
	handler  Handler
	logger   *slog.Logger
	recorder Recorder
	config   DispatcherConfig

	queues []chan Task
	stop   chan struct{}

	mu      sync.RWMutex
	closed  bool
	workers sync.WaitGroup
	pending sync.WaitGroup
}

// NewDispatcher はDispatcherを生成し、ワーカーを起動する。
// recorderがnilの場合は記録しない。
func NewDispatcher(handler Handler, logger *slog.Logger, recorder Recorder, config DispatcherConfig) *Dispatcher {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	config = config.withDefaults()

	d := &Dispatcher{
		handler:  handler,
		logger:   logger,
		recorder: recorder,
		config:   config,
		queues:   make([]chan Task, config.Workers),
		stop:     make(chan struct{}),
	}
	for i := range d.queues {
		d.queues[i] = make(chan Task, config.QueueSize)
		d.workers.Add(1)
		go d.runWorker(d.queues[i])
	}

	logger.Info("エンリッチメントディスパッチャを開始しました",
		slog.Int("workers", config.Workers),
		slog.Int("queue_size", config.QueueSize),
	)
	return d
}

// Schedule はTaskを非同期処理用に投入する。
// キューが満杯の場合は別goroutineでEnqueueTimeoutまで投入を待ち、
// 期限切れまたは停止済みの場合はタスクを破棄してログとメトリクスに記録する。
func (d *Dispatcher) Schedule(task Task) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(task, "dispatcher closed")
		return
	}

	q := d.queues[d.shard(task.SessionID)]
	select {
	case q <- task:
		d.recorder.RecordEnrichmentScheduled()
		return
	default:
	}

	d.pending.Add(1)
	go func() {
		defer d.pending.Done()

		timer := time.NewTimer(d.config.EnqueueTimeout)
		defer timer.Stop()

		select {
		case q <- task:
			d.recorder.RecordEnrichmentScheduled()
		case <-timer.C:
			d.drop(task, "queue full")
		case <-d.stop:
			d.drop(task, "dispatcher closed")
		}
	}()
}

// Close は新規投入を停止し、キューに残ったタスクの処理完了を待つ。
// ctxが先に終了した場合はctx.Err()を返す。ワーカーはその後も残りを処理し続ける。
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.stop)
	d.mu.Unlock()

	d.pending.Wait()
	for _, q := range d.queues {
		close(q)
	}

	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("エンリッチメントディスパッチャを停止しました")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shard はセッションIDからワーカー番号を求める。
func (d *Dispatcher) shard(sessionID string) int {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return int(h.Sum32() % uint32(len(d.queues)))
}

func (d *Dispatcher) runWorker(q <-chan Task) {
	defer d.workers.Done()
	for task := range q {
		d.process(task)
	}
}

// process はタスク1件を独立したコンテキストで処理する。
// パニックはエラーとして回収し、ワーカーを停止させない。
func (d *Dispatcher) process(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	err := d.safeHandle(ctx, task)
	duration := time.Since(start)
	d.recorder.RecordEnrichmentResult(err, duration)

	if err != nil {
		d.logger.Error("エンリッチメント処理に失敗しました",
			slog.String("message_id", task.MessageID),
			slog.String("session_id", task.SessionID),
			slog.String("user_id", task.UserID),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) safeHandle(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in enrichment handler: %v", rec)
			d.logger.Error("エンリッチメント処理でパニックが発生しました",
				slog.String("message_id", task.MessageID),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	return d.handler.Handle(ctx, task)
}

func (d *Dispatcher) drop(task Task, reason string) {
	d.recorder.RecordEnrichmentDropped()
	d.logger.Warn("エンリッチメントタスクを破棄しました",
		slog.String("reason", reason),
		slog.String("message_id", task.MessageID),
		slog.String("session_id", task.SessionID),
		slog.String("user_id", task.UserID),
	)
}
