package services

import "time"

// DefaultReturnWindow is how long after delivery a member may ask for a return.
const DefaultReturnWindow = 24 * time.Hour

// ReturnWindowPolicy decides whether a return request is still acceptable.
type ReturnWindowPolicy struct {
	Window time.Duration
}

// NewReturnWindowPolicy returns a policy with the given window, or the default when window is not positive.
func NewReturnWindowPolicy(window time.Duration) ReturnWindowPolicy {
	if window <= 0 {
		window = DefaultReturnWindow
	}
	return ReturnWindowPolicy{Window: window}
}

// Open reports whether now falls within the window that started at changedAt. The cutoff
// instant itself is still open.
func (p ReturnWindowPolicy) Open(changedAt, now time.Time) bool {
	return !now.After(changedAt.Add(p.Window))
}

// returnWindowStart picks the instant the return window is measured from.
func returnWindowStart(order Order) time.Time {
	switch {
	case order.DeliveredAt != nil:
		return *order.DeliveredAt
	case !order.StatusChangedAt.IsZero():
		return order.StatusChangedAt
	default:
		return order.UpdatedAt
	}
}
