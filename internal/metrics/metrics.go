// Package metrics exposes Prometheus counters for the transport core and an
// optional HTTP endpoint serving them.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	DatagramsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pvanet_datagrams_received_total",
		Help: "Total number of UDP datagrams received",
	})
	DatagramsIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pvanet_datagrams_ignored_total",
		Help: "Total number of datagrams dropped by the ignore list",
	})
	DatagramsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pvanet_datagrams_sent_total",
		Help: "Total number of UDP datagrams sent",
	})
	SendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pvanet_send_errors_total",
		Help: "Total number of sendto failures",
	})
	FramesDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pvanet_frames_dispatched_total",
		Help: "Total number of frames handed to a response handler",
	})
	FramingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pvanet_framing_errors_total",
		Help: "Total number of datagrams discarded for framing errors",
	})
	HandlerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pvanet_handler_panics_total",
		Help: "Total number of panics recovered at the transport boundary",
	})
	BeaconsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pvanet_beacons_sent_total",
		Help: "Total number of server beacons emitted",
	})
)

// Serve starts an HTTP server exposing /metrics on addr. The server runs on
// its own goroutine; the caller shuts it down via the returned handle.
func Serve(addr string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info().Str("addr", addr).Msg("Metrics endpoint started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics endpoint failed")
		}
	}()

	return srv
}
