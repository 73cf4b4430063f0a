package notify

import (
	"errors"
	"fmt"
)

// ErrQueueFull is the drop reason for a subscriber that fell behind.
var ErrQueueFull = errors.New("notify: subscriber queue full")

// ErrRegistryClosed is returned by Register after Close.
var ErrRegistryClosed = errors.New("notify: registry closed")

// NotificationFault describes a failed delivery to one subscriber. It is
// logged and counted, never returned to the writer that produced the event.
type NotificationFault struct {
	SubscriberID string
	Err          error
}

func (e *NotificationFault) Error() string {
	return fmt.Sprintf("notification fault: subscriber %s: %v", e.SubscriberID, e.Err)
}

func (e *NotificationFault) Unwrap() error { return e.Err }

// FilterError reports a subscription filter that cannot be compiled.
type FilterError struct {
	Expr   string
	Reason string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("notify: invalid filter %q: %s", e.Expr, e.Reason)
}
