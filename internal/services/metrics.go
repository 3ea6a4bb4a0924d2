package services

import "github.com/prometheus/client_golang/prometheus"

// Submission outcomes recorded in visitSubmissions.
const (
	outcomeCreated   = "created"
	outcomeDuplicate = "duplicate"
	outcomeOverlap   = "overlap"
	outcomeInvalid   = "invalid"
	outcomeError     = "error"
)

// visitSubmissions counts visit submissions by outcome. Label values are
// the fixed set above so cardinality stays bounded.
var visitSubmissions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "visit_submissions_total",
		Help: "Visit submissions by outcome (created, duplicate, overlap, invalid, error).",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(visitSubmissions)
}
