package metrics

import "time"

// Recorder receives counters and latencies from the payment flow. Labels
// always carry "network" when the operation is bound to one.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Counter names
const (
	PaymentBuilt          = "payment_built"
	PaymentDemanded       = "payment_demanded"
	PaymentRejected       = "payment_rejected"
	PaymentAccepted       = "payment_accepted"
	VerificationSucceeded = "verification_succeeded"
	VerificationFailed    = "verification_failed"
	SettlementSucceeded   = "settlement_succeeded"
	SettlementFailed      = "settlement_failed"
	AutoPaySucceeded      = "autopay_succeeded"
	AutoPayRefused        = "autopay_refused"
)

// Latency names
const (
	OpBuild  = "build"
	OpVerify = "verify"
	OpSettle = "settle"
	OpGate   = "gate"
)
