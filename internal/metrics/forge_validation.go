package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	forgeProofChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forgenode",
		Subsystem: "forge_validation",
		Name:      "proof_checks_total",
		Help:      "Count of forge proof validations by result.",
	}, []string{"network", "result"})

	forgeProofRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forgenode",
		Subsystem: "forge_validation",
		Name:      "proof_reject_total",
		Help:      "Count of rejected forge proofs by failure class.",
	}, []string{"network", "reason"})
)

// ForgeValidation tracks metrics for forge block validation.
type ForgeValidation struct {
	network string
}

// NewForgeValidation constructs a ForgeValidation with defaults.
func NewForgeValidation(network string) *ForgeValidation {
	if network == "" {
		network = "unknown"
	}
	return &ForgeValidation{network: network}
}

// kinder is implemented by rule errors that carry a failure class.
type kinder interface {
	error
	KindLabel() string
}

// ObserveCheck records the outcome of one proof validation.
func (m *ForgeValidation) ObserveCheck(err error) {
	if err == nil {
		forgeProofChecksTotal.WithLabelValues(m.network, "accept").Inc()
		return
	}
	forgeProofChecksTotal.WithLabelValues(m.network, "reject").Inc()

	reason := "unknown"
	var k kinder
	if errors.As(err, &k) {
		reason = k.KindLabel()
	}
	forgeProofRejectTotal.WithLabelValues(m.network, reason).Inc()
}
