package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlchat_questions_total",
			Help: "Total number of questions answered.",
		},
	)
	agentParseFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlchat_agent_parse_failures_total",
			Help: "Total number of agent invocations recovered with the apology answer.",
		},
	)
	agentStatementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlchat_agent_statements_total",
			Help: "Total number of SQL statements executed by the agent tool loop.",
		},
	)
	agentInvokeLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlchat_agent_invoke_latency_ms",
			Help:    "Agent invocation latency in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
	)
	chartsRenderedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlchat_charts_rendered_total",
			Help: "Total number of charts rendered, by chart kind.",
		},
		[]string{"kind"},
	)
	chartDegradationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlchat_chart_degradations_total",
			Help: "Total number of requests that asked for a chart but degraded to text only.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		agentParseFailuresTotal,
		agentStatementsTotal,
		agentInvokeLatencyMs,
		chartsRenderedTotal,
		chartDegradationsTotal,
	)
}

func ObserveQuestion() {
	questionsTotal.Inc()
}

func ObserveAgentInvoke(elapsed time.Duration) {
	agentInvokeLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementAgentParseFailure() {
	agentParseFailuresTotal.Inc()
}

func IncrementAgentStatement() {
	agentStatementsTotal.Inc()
}

func IncrementChartRendered(kind string) {
	chartsRenderedTotal.WithLabelValues(kind).Inc()
}

func IncrementChartDegradation() {
	chartDegradationsTotal.Inc()
}
