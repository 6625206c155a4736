// Package metrics собирает метрики сервиса в реестр Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kindwords"

// Исходы обращения к API модерации.
const (
	ModerationOK          = "ok"
	ModerationUnavailable = "unavailable"
	ModerationSkipped     = "skipped"
)

// Metrics - набор метрик сервиса. Методы безопасны для nil-получателя.
type Metrics struct {
	registry *prometheus.Registry

	PostsCreated     prometheus.Counter
	PostsDeleted     prometheus.Counter
	CommentsCreated  *prometheus.CounterVec
	Moderation       *prometheus.CounterVec
	ToxicityScores   prometheus.Histogram
	RequestDurations *prometheus.HistogramVec
}

// New регистрирует метрики в собственном реестре вместе со стандартными метриками процесса и Go.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		PostsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_created_total",
			Help:      "Number of posts created.",
		}),
		PostsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_deleted_total",
			Help:      "Number of posts deleted together with their comments.",
		}),
		CommentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comments_created_total",
			Help:      "Number of comments and replies created.",
		}, []string{"kind"}),
		Moderation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_requests_total",
			Help:      "Toxicity analysis requests by outcome.",
		}, []string{"outcome"}),
		ToxicityScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "toxicity_score",
			Help:      "Distribution of toxicity scores returned by the moderation API.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		RequestDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		m.PostsCreated,
		m.PostsDeleted,
		m.CommentsCreated,
		m.Moderation,
		m.ToxicityScores,
		m.RequestDurations,
	)
	return m
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PostCreated() {
	if m == nil {
		return
	}
	m.PostsCreated.Inc()
}

func (m *Metrics) PostDeleted() {
	if m == nil {
		return
	}
	m.PostsDeleted.Inc()
}

// CommentCreated учитывает комментарий или ответ (kind = "comment" | "reply").
func (m *Metrics) CommentCreated(kind string) {
	if m == nil {
		return
	}
	m.CommentsCreated.WithLabelValues(kind).Inc()
}

// ModerationOutcome учитывает исход запроса; score учитывается только для успешных.
func (m *Metrics) ModerationOutcome(outcome string, score float64) {
	if m == nil {
		return
	}
	m.Moderation.WithLabelValues(outcome).Inc()
	if outcome == ModerationOK {
		m.ToxicityScores.Observe(score)
	}
}

// Middleware измеряет длительность запросов по шаблону маршрута chi.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestDurations.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
