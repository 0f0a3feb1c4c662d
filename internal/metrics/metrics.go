// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	messagesAppended    prometheus.Counter
	logins              *prometheus.CounterVec
	enrichmentScheduled prometheus.Counter
	enrichmentDropped   prometheus.Counter
	enrichmentResults   *prometheus.CounterVec
	enrichmentLatency   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_http_requests_total",
			Help: "ルート・ステータスコード別のHTTPリクエスト数",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recall_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		messagesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recall_chat_messages_appended_total",
			Help: "保存されたチャットメッセージの合計数",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_oauth_logins_total",
			Help: "プロバイダー・結果別のOAuthログイン数",
		}, []string{"provider", "result"}),
		enrichmentScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recall_enrichment_scheduled_total",
			Help: "キューに投入されたエンリッチメントタスクの合計数",
		}),
		enrichmentDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recall_enrichment_dropped_total",
			Help: "キュー満杯または停止中のため破棄されたエンリッチメントタスクの合計数",
		}),
		enrichmentResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_enrichment_processed_total",
			Help: "結果別の処理済みエンリッチメントタスク数",
		}, []string{"result"}),
		enrichmentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "recall_enrichment_latency_seconds",
			Help:    "エンリッチメントタスクの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.messagesAppended,
		c.logins,
		c.enrichmentScheduled,
		c.enrichmentDropped,
		c.enrichmentResults,
		c.enrichmentLatency,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエスト1件の結果を記録する。
// routeにはURLパラメータを含まないルートパターンを渡すこと。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordMessageAppended はチャットメッセージの保存を記録する。
func (c *Collector) RecordMessageAppended() {
	c.messagesAppended.Inc()
}

// RecordLogin はOAuthログインの結果を記録する。
func (c *Collector) RecordLogin(provider string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.logins.WithLabelValues(provider, result).Inc()
}

// RecordEnrichmentScheduled はタスクのキュー投入を記録する。
func (c *Collector) RecordEnrichmentScheduled() {
	c.enrichmentScheduled.Inc()
}

// RecordEnrichmentDropped はタスクの破棄を記録する。
func (c *Collector) RecordEnrichmentDropped() {
	c.enrichmentDropped.Inc()
}

// RecordEnrichmentResult はタスクの処理結果とレイテンシを記録する。
func (c *Collector) RecordEnrichmentResult(err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.enrichmentResults.WithLabelValues(result).Inc()
	c.enrichmentLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
