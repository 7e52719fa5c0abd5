package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 监控指标
type Metrics struct {
	// 邮箱生命周期指标
	MailboxesProvisioned prometheus.Counter
	MailboxesExpired     prometheus.Counter
	MailboxesDestroyed   prometheus.Counter
	MailboxesCleaned     prometheus.Counter
	MailboxesActive      prometheus.Gauge

	// 扫描管线指标
	ScanCycles       *prometheus.CounterVec // result: completed / skipped / abandoned
	ScanDuration     prometheus.Histogram
	MessagesFetched  prometheus.Counter
	MessageFailures  prometheus.Counter
	CodesExtracted   prometheus.Counter
	DuplicateSkipped prometheus.Counter

	// 调度器指标
	TriggerRuns *prometheus.CounterVec // trigger, result: ran / skipped / failed
	SyncDrift   prometheus.Counter
}

// NewMetrics 创建监控指标并注册到默认 Registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith 创建监控指标并注册到指定 Registry（测试时传入独立 Registry）
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MailboxesProvisioned: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempcode_mailboxes_provisioned_total",
			Help: "Total number of mailboxes provisioned on the remote server",
		}),
		MailboxesExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempcode_mailboxes_expired_total",
			Help: "Total number of mailboxes transitioned to expired",
		}),
		MailboxesDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempcode_mailboxes_destroyed_total",
			Help: "Total number of mailboxes deleted from the remote server",
		}),
		MailboxesCleaned: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempcode_mailboxes_cleaned_total",
			Help: "Total number of mailboxes hard-deleted by cleanup",
		}),
		MailboxesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tempcode_mailboxes_active",
			Help: "Current number of active mailboxes",
		}),

		ScanCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempcode_scan_cycles_total",
			Help: "Total number of per-mailbox scan cycles by result",
		}, []string{"result"}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tempcode_scan_duration_seconds",
			Help:    "Duration of a single mailbox scan cycle",
			Buckets: prometheus.DefBuckets,
		}),
		MessagesFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempcode_messages_fetched_total",
			Help: "Total number of messages fetched from the remote server",
		}),
		MessageFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempcode_message_failures_total",
			Help: "Total number of per-message fetch or extraction failures",
		}),
		CodesExtracted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempcode_codes_extracted_total",
			Help: "Total number of verification codes extracted",
		}),
		DuplicateSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempcode_duplicates_skipped_total",
			Help: "Total number of messages skipped by the dedup check",
		}),

		TriggerRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempcode_trigger_runs_total",
			Help: "Total number of scheduler trigger firings by outcome",
		}, []string{"trigger", "result"}),
		SyncDrift: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempcode_sync_drift_total",
			Help: "Total number of local mailboxes reconciled against remote state",
		}),
	}
}
