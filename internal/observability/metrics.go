package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	messagesAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_appended_total",
			Help: "Total number of messages stored, by conversation kind.",
		},
		[]string{"kind"},
	)
	statusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_status_transitions_total",
			Help: "Total number of message rows advanced, by target status.",
		},
		[]string{"status"},
	)
	realtimeChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_changes_total",
			Help: "Total number of change notifications published to the local broker.",
		},
		[]string{"kind"},
	)
	realtimeDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_realtime_dropped_total",
			Help: "Change notifications dropped because a subscriber already had one pending.",
		},
	)
	resyncsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_session_resyncs_total",
			Help: "Total number of session resyncs.",
		},
	)
	patchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_session_patches_total",
			Help: "Total number of patches pushed to viewers.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		messagesAppendedTotal,
		statusTransitionsTotal,
		realtimeChangesTotal,
		realtimeDroppedTotal,
		resyncsTotal,
		patchesTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncMessagesAppended(kind string) {
	messagesAppendedTotal.WithLabelValues(kind).Inc()
}

func AddStatusTransitions(status string, n int64) {
	if n > 0 {
		statusTransitionsTotal.WithLabelValues(status).Add(float64(n))
	}
}

func IncRealtimeChange(kind string) {
	realtimeChangesTotal.WithLabelValues(kind).Inc()
}

func IncRealtimeDropped() {
	realtimeDroppedTotal.Inc()
}

func IncResync() {
	resyncsTotal.Inc()
}

func IncPatch(patchType string) {
	patchesTotal.WithLabelValues(patchType).Inc()
}
