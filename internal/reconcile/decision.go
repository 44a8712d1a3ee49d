package reconcile

import (
	"github.com/regpayhq/regpay-backend/pkg/enums"
)

// EventKind collapses gateway event types into the two signals the funnel
// cares about.
type EventKind string

const (
	KindSuccess    EventKind = "success"
	KindFailure    EventKind = "failure"
	KindIncomplete EventKind = "incomplete"
)

// Action is what the dispatcher should do with a record for an incoming
// signal.
type Action string

const (
	ActionMarkSucceeded Action = "mark_succeeded"
	ActionMarkFailed    Action = "mark_failed"
	ActionIgnore        Action = "ignore"
)

// Decision pairs the action with a reason suitable for logging.
type Decision struct {
	Action Action
	Reason string
}

// Decide maps (current status, signal) to an action. Success is absorbing: no
// signal downgrades a succeeded record. A failure followed by a late success
// still promotes, since the gateway's settlement is authoritative. The
// conditional writes in storage enforce the same table under concurrent
// deliveries; this function exists so callers can skip work and log why.
//
// An incomplete signal never transitions anything: a completed checkout with
// a delayed payment method has no money captured yet, and the later
// payment_intent event carries the real outcome.
func Decide(current enums.PaymentStatus, kind EventKind) Decision {
	if kind == KindIncomplete {
		return Decision{Action: ActionIgnore, Reason: "payment not captured"}
	}

	switch current {
	case enums.PaymentStatusSucceeded:
		if kind == KindSuccess {
			return Decision{Action: ActionIgnore, Reason: "already settled"}
		}
		return Decision{Action: ActionIgnore, Reason: "success absorbs failure"}

	case enums.PaymentStatusFailed:
		if kind == KindSuccess {
			return Decision{Action: ActionMarkSucceeded, Reason: "late success overrides failure"}
		}
		return Decision{Action: ActionIgnore, Reason: "already failed"}

	case enums.PaymentStatusRefunded:
		return Decision{Action: ActionIgnore, Reason: "refunded is terminal"}

	case enums.PaymentStatusPending:
		if kind == KindSuccess {
			return Decision{Action: ActionMarkSucceeded, Reason: "settlement received"}
		}
		return Decision{Action: ActionMarkFailed, Reason: "failure received"}

	default:
		return Decision{Action: ActionIgnore, Reason: "unknown status"}
	}
}
