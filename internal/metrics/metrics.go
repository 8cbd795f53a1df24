// Package metrics exposes DropHub's Prometheus gauges and counters: active
// rooms/peers/transfers, invite generation failures, and RPC errors broken
// out by error-code family (spec.md §6, §7).
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	reg = prometheus.NewRegistry()

	WSConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drophub_ws_connections_total", Help: "Total WebSocket connections accepted",
	})
	WSErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drophub_ws_errors_total", Help: "WebSocket connections that ended in a protocol/transport error",
	})
	RPCCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drophub_rpc_calls_total", Help: "RPC calls by method",
	}, []string{"method"})
	RPCErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drophub_rpc_errors_total", Help: "RPC calls that returned an error, by method and error code",
	}, []string{"method", "code"})

	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "drophub_rooms_active", Help: "Rooms currently live",
	})
	PeersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "drophub_peers_active", Help: "Peers currently connected across all rooms",
	})
	TransfersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "drophub_transfers_active", Help: "Transfers currently in flight across all rooms",
	})
	InviteGenerationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drophub_invite_generation_failures_total", Help: "Invite generations that failed (RNG error or collision re-rolls exhausted)",
	})
	BlocksTransferred = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drophub_blocks_transferred_total", Help: "Blocks successfully delivered across all transfers",
	})
)

func Init() {
	reg.MustRegister(
		WSConnections, WSErrors, RPCCalls, RPCErrors,
		RoomsActive, PeersActive, TransfersActive,
		InviteGenerationFailures, BlocksTransferred,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// SetRooms reports the room store's current size; called on every create/remove.
func SetRooms(n int) { RoomsActive.Set(float64(n)) }

// ObserveRPC records one RPC call outcome; codeOf maps err to its
// roomerr.Code family (int(roomerr.RPCCode(err))).
func ObserveRPC(method string, err error, codeOf func(error) int) {
	RPCCalls.WithLabelValues(method).Inc()
	if err != nil {
		RPCErrors.WithLabelValues(method, strconv.Itoa(codeOf(err))).Inc()
	}
}
