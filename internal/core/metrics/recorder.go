// Package metrics 实现 Prometheus 指标采集
//
// 双路径发送的每条腿、传输回退、重连尝试、心跳丢失、配对
// 结果、去重命中和剪贴板应用都以计数器或直方图的形式上报。
// Recorder 持有自己的 Registry，不污染全局默认注册表，
// 测试可以并行创建多个实例。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syncboard/go-syncboard/pkg/types"
)

// ============================================================================
//                              Recorder - 指标记录器
// ============================================================================

// Recorder Prometheus 指标记录器
//
// 同时充当双路径传输的发送结果上报方。所有方法并发安全。
type Recorder struct {
	registry *prometheus.Registry

	sendTotal        *prometheus.CounterVec
	sendDuration     *prometheus.HistogramVec
	fallbackTotal    *prometheus.CounterVec
	reconnectTotal   prometheus.Counter
	heartbeatMisses  prometheus.Counter
	pairingTotal     *prometheus.CounterVec
	dedupHits        *prometheus.CounterVec
	syncApplied      prometheus.Counter
	syncAppliedBytes prometheus.Counter
}

// NewRecorder 创建指标记录器
//
// namespace 为空时使用 "syncboard"。
func NewRecorder(namespace string) *Recorder {
	if namespace == "" {
		namespace = "syncboard"
	}

	r := &Recorder{
		registry: prometheus.NewRegistry(),

		sendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_total",
			Help:      "Per-path send attempts by route and outcome.",
		}, []string{"route", "outcome"}),

		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Per-path send latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		fallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_fallback_total",
			Help:      "LAN-to-cloud fallbacks by reason.",
		}, []string{"reason"}),

		reconnectTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Supervisor reconnect attempts.",
		}),

		heartbeatMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_misses_total",
			Help:      "Heartbeats that failed or timed out without an ack.",
		}),

		pairingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_total",
			Help:      "Pairing sessions by mode and outcome.",
		}, []string{"mode", "outcome"}),

		dedupHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_hits_total",
			Help:      "Suppressed duplicate deliveries by kind.",
		}, []string{"kind"}),

		syncApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_applied_total",
			Help:      "Clipboard updates applied from peers.",
		}),

		syncAppliedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_applied_bytes_total",
			Help:      "Decrypted clipboard bytes applied from peers.",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		r.sendTotal,
		r.sendDuration,
		r.fallbackTotal,
		r.reconnectTotal,
		r.heartbeatMisses,
		r.pairingTotal,
		r.dedupHits,
		r.syncApplied,
		r.syncAppliedBytes,
	)
	return r
}

// Registry 返回底层注册表
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler 返回 /metrics 端点的 HTTP 处理器
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// SendOutcome 实现传输层的发送结果上报接口
//
// 双路径发送的两条腿各上报一次，无论整体成败。
func (r *Recorder) SendOutcome(route types.Route, ok bool, elapsed time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	r.sendTotal.WithLabelValues(route.String(), outcome).Inc()
	r.sendDuration.WithLabelValues(route.String()).Observe(elapsed.Seconds())
}

// Fallback 记录一次 LAN 到云端的回退
func (r *Recorder) Fallback(reason types.FallbackReason) {
	r.fallbackTotal.WithLabelValues(string(reason)).Inc()
}

// ReconnectAttempt 记录一次重连尝试
func (r *Recorder) ReconnectAttempt() {
	r.reconnectTotal.Inc()
}

// HeartbeatMiss 记录一次心跳丢失
func (r *Recorder) HeartbeatMiss() {
	r.heartbeatMisses.Inc()
}

// PairingOutcome 记录一次配对会话结果
func (r *Recorder) PairingOutcome(mode string, success bool) {
	outcome := "completed"
	if !success {
		outcome = "failed"
	}
	r.pairingTotal.WithLabelValues(mode, outcome).Inc()
}

// DedupHit 记录一次重复抑制
//
// kind 为 "messageId"（双路径副本）或 "nonce"（密文重放）。
func (r *Recorder) DedupHit(kind string) {
	r.dedupHits.WithLabelValues(kind).Inc()
}

// SyncApplied 记录一次剪贴板应用
func (r *Recorder) SyncApplied(size int) {
	r.syncApplied.Inc()
	r.syncAppliedBytes.Add(float64(size))
}
