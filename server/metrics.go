// metrics.go - Prometheus-Metriken der Evaluierungen
// Enthaelt: Zaehler je Ergebnis, Dauer-Histogramm, Genome und beste Fitness

package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/genevo/fiteval/evaluate"
	"github.com/genevo/fiteval/ml"
	"github.com/genevo/fiteval/population"
)

var (
	evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiteval_evaluations_total",
		Help: "Evaluations by result (ok or the error kind).",
	}, []string{"result"})

	evaluationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fiteval_evaluation_duration_seconds",
		Help:    "Duration of successful evaluations, acquisition to teardown.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"backend"})

	genomesEvaluated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fiteval_genomes_evaluated_total",
		Help: "Genomes evaluated successfully.",
	})

	bestFitness = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fiteval_best_fitness",
		Help: "Best fitness of the most recent evaluation.",
	})
)

func init() {
	prometheus.MustRegister(evaluationsTotal, evaluationDuration, genomesEvaluated, bestFitness)
}

func metricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// observe records the outcome of one evaluation.
func observe(r *evaluate.Result, err error) {
	if err != nil {
		evaluationsTotal.WithLabelValues(resultLabel(err)).Inc()
		return
	}

	evaluationsTotal.WithLabelValues("ok").Inc()
	evaluationDuration.WithLabelValues(r.Device.Backend).Observe(r.Duration.Seconds())
	genomesEvaluated.Add(float64(len(r.Fitness)))
	if s := population.Summarize(r.Fitness); s.Best >= 0 {
		bestFitness.Set(s.Max)
	}
}

func resultLabel(err error) string {
	kind := ml.KindOf(err)
	if kind == nil {
		return "error"
	}
	return strings.ReplaceAll(kind.Error(), " ", "_")
}
