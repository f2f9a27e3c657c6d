package monitor

type HttpRequestLabels struct {
	Status string
	Route  string
	Method string
}

type DBQueryLabels struct {
	QueryType string
}

// DispenseReportLabels tags the outcome of an agent dispense report.
type DispenseReportLabels struct {
	Outcome string
}

func (d DispenseReportLabels) ToMap() map[string]string {
	return map[string]string{
		"outcome": d.Outcome,
	}
}

var DispenseReportLabelNames = []string{"outcome"}
