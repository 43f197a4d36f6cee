// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// プロフィール取得の結果ラベル。
const (
	ProfileHit      = "hit"
	ProfileInFlight = "in_flight"
	ProfileFetched  = "fetched"
	ProfileCreated  = "created"
	ProfileError    = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やミドルウェアから利用する。
type MetricsCollector interface {
	RecordProfileFetch(outcome string)
	RecordAuthEvent(event string)
	RecordSignIn(success bool)
	RecordHTTPStatus(statusCode int)
	RecordDashboardLatency(duration time.Duration)
	RecordNotificationFailure()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	profileFetch      *prometheus.CounterVec
	authEvents        *prometheus.CounterVec
	signIn            *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	dashboardLatency  prometheus.Histogram
	notificationFails prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		profileFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_profile_fetch_total",
			Help: "プロフィール取得の結果別件数",
		}, []string{"outcome"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_auth_events_total",
			Help: "認証状態変化イベントの種別ごとの件数",
		}, []string{"event"}),
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_sign_in_total",
			Help: "サインイン試行の結果別件数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		dashboardLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "academy_dashboard_assemble_seconds",
			Help:    "ダッシュボード組み立てのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		notificationFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "academy_notification_fail_total",
			Help: "講師通知の送信失敗数",
		}),
	}

	reg.MustRegister(
		c.profileFetch,
		c.authEvents,
		c.signIn,
		c.httpStatus,
		c.dashboardLatency,
		c.notificationFails,
	)

	return c
}

// RecordProfileFetch はプロフィール取得の結果を記録する。
func (c *Collector) RecordProfileFetch(outcome string) {
	c.profileFetch.WithLabelValues(outcome).Inc()
}

// RecordAuthEvent は認証イベントを記録する。
func (c *Collector) RecordAuthEvent(event string) {
	c.authEvents.WithLabelValues(event).Inc()
}

// RecordSignIn はサインイン試行の成否を記録する。
func (c *Collector) RecordSignIn(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.signIn.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordDashboardLatency はダッシュボード組み立ての所要時間を記録する。
func (c *Collector) RecordDashboardLatency(duration time.Duration) {
	c.dashboardLatency.Observe(duration.Seconds())
}

// RecordNotificationFailure は講師通知の失敗を記録する。
func (c *Collector) RecordNotificationFailure() {
	c.notificationFails.Inc()
}

// Nop は何も記録しないMetricsCollector。テストや任意依存の既定値として使う。
type Nop struct{}

func (Nop) RecordProfileFetch(string)             {}
func (Nop) RecordAuthEvent(string)                {}
func (Nop) RecordSignIn(bool)                     {}
func (Nop) RecordHTTPStatus(int)                  {}
func (Nop) RecordDashboardLatency(time.Duration) {}
func (Nop) RecordNotificationFailure()            {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
