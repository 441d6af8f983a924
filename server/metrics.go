package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/kit/metrics"
	kitlogrus "github.com/go-kit/kit/log/logrus"
	discardMetrics "github.com/go-kit/kit/metrics/discard"
	expvarMetrics "github.com/go-kit/kit/metrics/expvar"
	kitinflux "github.com/go-kit/kit/metrics/influx"
	prometheusMetrics "github.com/go-kit/kit/metrics/prometheus"
	influx "github.com/influxdata/influxdb1-client/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

type MetricsBuilder interface {
	BuildRouterMetrics() *RouterMetrics
	Start(ctx context.Context) error
}

const (
	MetricsBackendExpvar     = "expvar"
	MetricsBackendPrometheus = "prometheus"
	MetricsBackendInfluxDB   = "influxdb"
	MetricsBackendDiscard    = "discard"
)

type MetricsBackendConfig struct {
	Influxdb struct {
		Interval        time.Duration     `default:"1m"`
		Tags            map[string]string `usage:"any extra tags to be included with all reported metrics"`
		Addr            string
		Username        string
		Password        string
		Database        string
		RetentionPolicy string
	}
}

// RouterMetrics label keys:
// Errors "type", BytesTransmitted "direction" (to_backend, to_client),
// DiscoveryRefreshes "result" (success, failure), DiscoveryReplies "kind"
// (info, player, ping), DroppedPackets "reason".
type RouterMetrics struct {
	Errors                       metrics.Counter
	BytesTransmitted             metrics.Counter
	Sessions                     metrics.Counter
	ActiveSessions               metrics.Gauge
	DiscoveryRefreshes           metrics.Counter
	DiscoveryConsecutiveFailures metrics.Gauge
	DiscoveryReplies             metrics.Counter
	DroppedPackets               metrics.Counter
}

// NewMetricsBuilder creates a new MetricsBuilder based on the specified backend.
// If the backend is not recognized, a discard builder is returned.
// config can be nil if the backend is not influxdb.
func NewMetricsBuilder(backend string, config *MetricsBackendConfig) MetricsBuilder {
	switch strings.ToLower(backend) {
	case MetricsBackendExpvar:
		return &expvarMetricsBuilder{}
	case MetricsBackendPrometheus:
		return &prometheusMetricsBuilder{}
	case MetricsBackendInfluxDB:
		return &influxMetricsBuilder{config: config}
	default:
		return &discardMetricsBuilder{}
	}
}

type expvarMetricsBuilder struct {
}

func (b expvarMetricsBuilder) Start(ctx context.Context) error {
	// nothing needed
	return nil
}

func (b expvarMetricsBuilder) BuildRouterMetrics() *RouterMetrics {
	return &RouterMetrics{
		Errors:                       expvarMetrics.NewCounter("errors"),
		BytesTransmitted:             expvarMetrics.NewCounter("bytes"),
		Sessions:                     expvarMetrics.NewCounter("sessions"),
		ActiveSessions:               expvarMetrics.NewGauge("active_sessions"),
		DiscoveryRefreshes:           expvarMetrics.NewCounter("discovery_refreshes"),
		DiscoveryConsecutiveFailures: expvarMetrics.NewGauge("discovery_consecutive_failures"),
		DiscoveryReplies:             expvarMetrics.NewCounter("discovery_replies"),
		DroppedPackets:               expvarMetrics.NewCounter("dropped_packets"),
	}
}

type discardMetricsBuilder struct {
}

func (b discardMetricsBuilder) Start(ctx context.Context) error {
	// nothing needed
	return nil
}

func (b discardMetricsBuilder) BuildRouterMetrics() *RouterMetrics {
	return &RouterMetrics{
		Errors:                       discardMetrics.NewCounter(),
		BytesTransmitted:             discardMetrics.NewCounter(),
		Sessions:                     discardMetrics.NewCounter(),
		ActiveSessions:               discardMetrics.NewGauge(),
		DiscoveryRefreshes:           discardMetrics.NewCounter(),
		DiscoveryConsecutiveFailures: discardMetrics.NewGauge(),
		DiscoveryReplies:             discardMetrics.NewCounter(),
		DroppedPackets:               discardMetrics.NewCounter(),
	}
}

type influxMetricsBuilder struct {
	config  *MetricsBackendConfig
	metrics *kitinflux.Influx
}

func (b *influxMetricsBuilder) Start(ctx context.Context) error {
	influxConfig := &b.config.Influxdb
	if influxConfig.Addr == "" {
		return errors.New("influx addr is required")
	}

	ticker := time.NewTicker(influxConfig.Interval)
	client, err := influx.NewHTTPClient(influx.HTTPConfig{
		Addr:     influxConfig.Addr,
		Username: influxConfig.Username,
		Password: influxConfig.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to create influx http client: %w", err)
	}

	go b.metrics.WriteLoop(ctx, ticker.C, client)

	logrus.WithField("addr", influxConfig.Addr).
		Debug("reporting metrics to influxdb")

	return nil
}

func (b *influxMetricsBuilder) BuildRouterMetrics() *RouterMetrics {
	influxConfig := &b.config.Influxdb

	metrics := kitinflux.New(influxConfig.Tags, influx.BatchPointsConfig{
		Database:        influxConfig.Database,
		RetentionPolicy: influxConfig.RetentionPolicy,
	}, kitlogrus.NewLogger(logrus.StandardLogger()))

	b.metrics = metrics

	return &RouterMetrics{
		Errors:                       metrics.NewCounter("srcds_router_errors"),
		BytesTransmitted:             metrics.NewCounter("srcds_router_transmitted_bytes"),
		Sessions:                     metrics.NewCounter("srcds_router_sessions"),
		ActiveSessions:               metrics.NewGauge("srcds_router_sessions_active"),
		DiscoveryRefreshes:           metrics.NewCounter("srcds_router_discovery_refreshes"),
		DiscoveryConsecutiveFailures: metrics.NewGauge("srcds_router_discovery_consecutive_failures"),
		DiscoveryReplies:             metrics.NewCounter("srcds_router_discovery_replies"),
		DroppedPackets:               metrics.NewCounter("srcds_router_dropped_packets"),
	}
}

type prometheusMetricsBuilder struct {
}

func (b prometheusMetricsBuilder) Start(ctx context.Context) error {
	// nothing needed
	return nil
}

func (b prometheusMetricsBuilder) BuildRouterMetrics() *RouterMetrics {
	return &RouterMetrics{
		Errors: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "srcds_router",
			Name:      "errors",
			Help:      "The total number of errors",
		}, []string{"type"})),
		BytesTransmitted: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "srcds_router",
			Name:      "bytes",
			Help:      "The total number of bytes relayed",
		}, []string{"direction"})),
		Sessions: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "srcds_router",
			Name:      "sessions",
			Help:      "The total number of sessions created",
		}, nil)),
		ActiveSessions: prometheusMetrics.NewGauge(promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "srcds_router",
			Name:      "active_sessions",
			Help:      "The number of live sessions",
		}, nil)),
		DiscoveryRefreshes: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "srcds_router",
			Subsystem: "discovery",
			Name:      "refreshes",
			Help:      "The total number of discovery cache refreshes",
		}, []string{"result"})),
		DiscoveryConsecutiveFailures: prometheusMetrics.NewGauge(promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "srcds_router",
			Subsystem: "discovery",
			Name:      "consecutive_failures",
			Help:      "The number of discovery refreshes that failed in a row",
		}, nil)),
		DiscoveryReplies: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "srcds_router",
			Subsystem: "discovery",
			Name:      "replies",
			Help:      "The total number of discovery queries answered from the cache",
		}, []string{"kind"})),
		DroppedPackets: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "srcds_router",
			Name:      "dropped_packets",
			Help:      "The total number of inbound packets dropped",
		}, []string{"reason"})),
	}
}
