package bus

import "errors"

type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRetry
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetry:
		return "retry"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result is what a handler reports for one delivery. Only OK commits progress; Retry asks
// for redelivery; Fatal sends the message straight to the dead letter topic.
type Result struct {
	Outcome Outcome
	Err     error
}

func OK() Result { return Result{Outcome: OutcomeOK} }

func Retry(err error) Result { return Result{Outcome: OutcomeRetry, Err: err} }

func Fatal(err error) Result { return Result{Outcome: OutcomeFatal, Err: err} }

// FromError maps nil to OK, any of the fatal errors to Fatal, everything else to Retry.
func FromError(err error, fatal ...error) Result {
	if err == nil {
		return OK()
	}
	for _, target := range fatal {
		if errors.Is(err, target) {
			return Fatal(err)
		}
	}
	return Retry(err)
}
