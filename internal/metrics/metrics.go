package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	nfseEmissoes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nfse_emissoes_total",
			Help: "Quantidade de emissões de NFS-e, por resultado.",
		},
		[]string{"status"}, // status: aceita|rejeitada|validacao|transporte
	)

	nfseEmissaoDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nfse_emissao_duration_seconds",
			Help:    "Tempo de cada tentativa de emissão em segundos.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	nfseConsultas = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nfse_consultas_total",
			Help: "Quantidade de consultas de situação de NFS-e, por desfecho.",
		},
		[]string{"status"}, // status: autorizada|rejeitada|processando|transporte
	)

	nfseConsultaDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nfse_consulta_duration_seconds",
			Help:    "Tempo de cada consulta de situação em segundos.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

// Init registra as métricas no registry global.
func Init() {
	prometheus.MustRegister(nfseEmissoes, nfseEmissaoDuration, nfseConsultas, nfseConsultaDuration)
}

// ObserveEmissao registra o resultado de uma tentativa de emissão.
func ObserveEmissao(status string, d time.Duration) {
	labels := prometheus.Labels{"status": status}
	nfseEmissoes.With(labels).Inc()
	nfseEmissaoDuration.With(labels).Observe(d.Seconds())
}

// ObserveConsulta registra o desfecho de uma consulta de situação.
func ObserveConsulta(status string, d time.Duration) {
	labels := prometheus.Labels{"status": status}
	nfseConsultas.With(labels).Inc()
	nfseConsultaDuration.With(labels).Observe(d.Seconds())
}

// StartHTTPServer sobe um /metrics na porta indicada (ex: ":9101").
func StartHTTPServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		slog.Info("iniciando servidor de métricas Prometheus", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("erro no servidor de métricas", "addr", addr, "err", err)
		}
	}()
}
