package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var SummaryVecMetrics = map[MetricTag]*prometheus.SummaryVec{
	HttpRequestDurationTag: prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: "rolu", Subsystem: "http", Name: string(HttpRequestDurationTag),
		Help: "HTTP requests durations, sliding window = 10m",
	},
		[]string{"status", "route", "method"},
	),
	SuccessfulQueryDurationTag: prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: "rolu", Subsystem: "db", Name: string(SuccessfulQueryDurationTag),
		Help: "Successful DB query durations",
	},
		[]string{"query_type"},
	),
	FailureQueryDurationTag: prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: "rolu", Subsystem: "db", Name: string(FailureQueryDurationTag),
		Help: "Failure DB query durations",
	},
		[]string{"query_type"},
	),
}

var CounterMetrics = map[MetricTag]prometheus.Counter{
	TransactionsCreatedCounterTag: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rolu", Subsystem: "business", Name: string(TransactionsCreatedCounterTag),
		Help: "A counter of created cash-out transactions",
	}),
	TransactionsPaidCounterTag: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rolu", Subsystem: "business", Name: string(TransactionsPaidCounterTag),
		Help: "A counter of transactions that reached the paid status",
	}),
}

var CounterVecMetrics = map[MetricTag]*prometheus.CounterVec{
	DispenseReportsCounterTag: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rolu", Subsystem: "business", Name: string(DispenseReportsCounterTag),
		Help: "A counter of dispense job reports, tagged with their outcome",
	},
		DispenseReportLabelNames,
	),
}
