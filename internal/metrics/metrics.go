// Package metrics exposes Prometheus counters and histograms for the MUP1
// transports and the block-wise controller, grounded on the promauto
// instrumentation pattern this codebase's liveness engine uses for its
// session/packet counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelTransport = "transport"
	LabelFrameType = "frame_type"
	LabelReason    = "reason"
	LabelMethod    = "method"
)

var (
	FramesTX = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keti_tsn_mup1_frames_tx_total",
			Help: "MUP1 frames written to the wire, by transport and frame type.",
		},
		[]string{LabelTransport, LabelFrameType},
	)

	FramesRX = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keti_tsn_mup1_frames_rx_total",
			Help: "MUP1 frames successfully reassembled from the wire, by transport and frame type.",
		},
		[]string{LabelTransport, LabelFrameType},
	)

	ReassemblyResyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keti_tsn_mup1_reassembly_resyncs_total",
			Help: "Times the MUP1 reassembler dropped a byte to recover from a torn or corrupt frame.",
		},
		[]string{LabelTransport},
	)

	CoAPDecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keti_tsn_coap_decode_errors_total",
			Help: "CoAP messages that failed to decode after MUP1 reassembly, by transport.",
		},
		[]string{LabelTransport},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keti_tsn_requests_total",
			Help: "CoAP request/response exchanges completed, by transport, method, and outcome reason (ok, timeout, disconnected, canceled, error).",
		},
		[]string{LabelTransport, LabelMethod, LabelReason},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "keti_tsn_request_duration_seconds",
			Help: "Time from SendRequest call to resolution, by transport and method.",
		},
		[]string{LabelTransport, LabelMethod},
	)

	BlockTransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keti_tsn_block_transfers_total",
			Help: "Block-wise transfers completed, by transport, direction (upload/download), and outcome reason.",
		},
		[]string{LabelTransport, "direction", LabelReason},
	)

	BlockTransferBlocks = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keti_tsn_block_transfer_blocks",
			Help:    "Number of individual block requests a completed block-wise transfer took.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{LabelTransport, "direction"},
	)
)

// ObserveRequest records a completed request's outcome and latency.
func ObserveRequest(transport, method, reason string, d time.Duration) {
	RequestsTotal.WithLabelValues(transport, method, reason).Inc()
	RequestDuration.WithLabelValues(transport, method).Observe(d.Seconds())
}

// ObserveBlockTransfer records a completed block-wise transfer's outcome and
// the number of block requests it took.
func ObserveBlockTransfer(transport, direction, reason string, blocks int) {
	BlockTransfersTotal.WithLabelValues(transport, direction, reason).Inc()
	BlockTransferBlocks.WithLabelValues(transport, direction).Observe(float64(blocks))
}
