package bulkfetch

import (
	"github.com/ValerySidorin/bulkfetch/pkg/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	polls           prometheus.Counter
	progress        prometheus.Gauge
	files           *prometheus.CounterVec
	bytes           prometheus.Counter
	rawBytes        prometheus.Counter
	attachments     prometheus.Counter
	attachmentBytes prometheus.Counter
	retries         prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	reg = prometheus.WrapRegistererWithPrefix("bulkfetch_", reg)
	f := promauto.With(reg)

	return &metrics{
		polls: f.NewCounter(prometheus.CounterOpts{
			Name: "status_polls_total",
			Help: "Number of export status responses that reported a running export.",
		}),
		progress: f.NewGauge(prometheus.GaugeOpts{
			Name: "export_progress_percent",
			Help: "Last progress reported by the server, -1 when unknown.",
		}),
		files: f.NewCounterVec(prometheus.CounterOpts{
			Name: "files_total",
			Help: "Number of manifest files by final status.",
		}, []string{"status", "kind"}),
		bytes: f.NewCounter(prometheus.CounterOpts{
			Name: "downloaded_bytes_total",
			Help: "Decoded bytes of downloaded files.",
		}),
		rawBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "wire_bytes_total",
			Help: "Bytes of downloaded files as received, before decompression.",
		}),
		attachments: f.NewCounter(prometheus.CounterOpts{
			Name: "attachments_total",
			Help: "Number of downloaded attachments.",
		}),
		attachmentBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "attachment_bytes_total",
			Help: "Bytes of downloaded attachments.",
		}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Name: "transient_retries_total",
			Help: "Number of retries after a transient server issue.",
		}),
	}
}

func (m *metrics) fileFinished(f *tracker.FileDescriptor) {
	m.files.WithLabelValues(f.Status().String(), string(f.Kind)).Inc()
	m.bytes.Add(float64(f.Bytes()))
	m.rawBytes.Add(float64(f.RawBytes()))
}

func (m *metrics) attachment(bytes int64) {
	m.attachments.Inc()
	m.attachmentBytes.Add(float64(bytes))
}
