package monitor

type MetricTag string

const (
	SuccessfulQueryDurationTag MetricTag = "successful_queries_duration"
	FailureQueryDurationTag    MetricTag = "failure_queries_duration"
	HttpRequestDurationTag     MetricTag = "requests_duration_seconds"
	// Transactions:
	TransactionsCreatedCounterTag MetricTag = "transactions_created_counter"
	TransactionsPaidCounterTag    MetricTag = "transactions_paid_counter"
	// Dispense jobs:
	DispenseReportsCounterTag MetricTag = "dispense_reports_counter"
)

func (m MetricTag) ListAll() []MetricTag {
	return []MetricTag{
		SuccessfulQueryDurationTag,
		FailureQueryDurationTag,
		HttpRequestDurationTag,
		TransactionsCreatedCounterTag,
		TransactionsPaidCounterTag,
		DispenseReportsCounterTag,
	}
}
