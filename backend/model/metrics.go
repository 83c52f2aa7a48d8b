package model

import (
	"github.com/prometheus/client_golang/prometheus"
)

type providerMetrics struct {
	requests         *prometheus.CounterVec
	promptTokens     prometheus.Counter
	completionTokens prometheus.Counter
}

func newProviderMetrics(provider string, registry *prometheus.Registry) *providerMetrics {
	metrics := &providerMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "sage_provider_requests_total",
			Help:        "Completion requests issued to the provider, by outcome.",
			ConstLabels: prometheus.Labels{"provider": provider},
		}, []string{"outcome"}),
		promptTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "sage_provider_prompt_tokens_total",
			Help:        "Prompt tokens consumed across completion requests.",
			ConstLabels: prometheus.Labels{"provider": provider},
		}),
		completionTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "sage_provider_completion_tokens_total",
			Help:        "Completion tokens produced across completion requests.",
			ConstLabels: prometheus.Labels{"provider": provider},
		}),
	}

	if registry != nil {
		registry.MustRegister(metrics.requests, metrics.promptTokens, metrics.completionTokens)
	}

	return metrics
}

func (m *providerMetrics) recordResult(err error, promptTokens, completionTokens int64) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.promptTokens.Add(float64(promptTokens))
	m.completionTokens.Add(float64(completionTokens))
}
