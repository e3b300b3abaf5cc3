// Package status defines the closed vocabulary of transfer status codes
// emitted by the event producer, their human labels, and the severity class
// each code maps to.
//
// Classification drives the session badge: in-progress codes keep a session
// running, failed codes flag it as errored and the succeeded code marks it as
// confirmed. Codes outside the vocabulary are labeled verbatim but never
// classified, so they leave the badge untouched.
package status

type (
	// Code is a machine-readable transfer status as emitted by the producer.
	Code string

	// Class is the severity bucket a Code belongs to.
	Class int
)

const (
	// Preparing indicates the producer is building the transaction.
	Preparing Code = "preparing"
	// ForcingFailure indicates the producer is deliberately making the
	// transaction fail (for example by overriding the gas limit).
	ForcingFailure Code = "forcing-failure"
	// Submitted indicates the transaction was broadcast.
	Submitted Code = "submitted"
	// Monitoring indicates the producer is waiting for a receipt.
	Monitoring Code = "monitoring"
	// Pending indicates the transaction is visible in the mempool.
	Pending Code = "pending"
	// NotFound indicates the transaction is not (yet) visible to the RPC node.
	NotFound Code = "notfound"
	// Reverted indicates the transaction was mined and reverted.
	Reverted Code = "reverted"
	// Error indicates the producer failed to process the transfer.
	Error Code = "error"
	// InvalidBatch indicates the submitted batch was rejected as a whole.
	InvalidBatch Code = "invalid-batch"
	// Confirmed indicates the transaction was mined successfully.
	Confirmed Code = "confirmed"
)

const (
	// ClassUnrecognized is the class of codes outside the vocabulary.
	ClassUnrecognized Class = iota
	// ClassInProgress groups codes describing a transfer still in flight.
	ClassInProgress
	// ClassFailed groups codes describing a failed transfer or batch.
	ClassFailed
	// ClassSucceeded groups codes describing a successful transfer.
	ClassSucceeded
)

// UnknownLabel is the label used for an absent status code.
const UnknownLabel = "Unknown"

var (
	labels = map[Code]string{
		Preparing:      "Preparing",
		ForcingFailure: "Forcing failure",
		Submitted:      "Submitted",
		Monitoring:     "Monitoring",
		Pending:        "Pending",
		NotFound:       "Not found",
		Reverted:       "Reverted",
		Error:          "Error",
		InvalidBatch:   "Invalid batch",
		Confirmed:      "Confirmed",
	}

	classes = map[Code]Class{
		Preparing:      ClassInProgress,
		ForcingFailure: ClassInProgress,
		Submitted:      ClassInProgress,
		Monitoring:     ClassInProgress,
		Pending:        ClassInProgress,
		NotFound:       ClassInProgress,
		Reverted:       ClassFailed,
		Error:          ClassFailed,
		InvalidBatch:   ClassFailed,
		Confirmed:      ClassSucceeded,
	}
)

// Label returns the human label for code. Unrecognized non-empty codes are
// returned verbatim and the empty code maps to UnknownLabel.
func Label(code Code) string {
	if code == "" {
		return UnknownLabel
	}
	if l, ok := labels[code]; ok {
		return l
	}
	return string(code)
}

// Classify returns the severity class of code, ClassUnrecognized when the
// code is not part of the vocabulary.
func Classify(code Code) Class {
	return classes[code]
}

// Known reports whether code is part of the vocabulary.
func Known(code Code) bool {
	_, ok := classes[code]
	return ok
}

// Codes returns every code of the vocabulary in lifecycle order.
func Codes() []Code {
	return []Code{
		Preparing, ForcingFailure, Submitted, Monitoring, Pending, NotFound,
		Reverted, Error, InvalidBatch, Confirmed,
	}
}

// Label returns the code's human label, see Label.
func (c Code) Label() string { return Label(c) }

// Class returns the code's severity class, see Classify.
func (c Code) Class() Class { return Classify(c) }

// String implements fmt.Stringer.
func (c Class) String() string {
	switch c {
	case ClassInProgress:
		return "in-progress"
	case ClassFailed:
		return "failed"
	case ClassSucceeded:
		return "succeeded"
	default:
		return "unrecognized"
	}
}
