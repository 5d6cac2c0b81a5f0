package window

import (
	"context"
	"fmt"
	"time"
)

// Status classifies a recipient's messaging eligibility inside the
// 24-hour session window opened by a paid activation.
type Status string

const (
	// StatusActive: free-form sends are allowed.
	StatusActive Status = "ACTIVE"
	// StatusCoolDown: the window was opened moments ago; hold off so we
	// don't race a just-delivered activation.
	StatusCoolDown Status = "COOL_DOWN"
	// StatusExpiringSoon: the window closes shortly; starting a multi-step
	// sequence now risks the tail steps landing outside it.
	StatusExpiringSoon Status = "EXPIRING_SOON"
	// StatusInactive: no window, or the window has expired.
	StatusInactive Status = "INACTIVE"
)

const (
	// Length is the session window opened by a successful activation.
	Length = 24 * time.Hour
	// CoolDown is the grace period right after activation.
	CoolDown = 10 * time.Minute
	// ExpiryMargin is how close to expiry counts as "expiring soon".
	ExpiryMargin = 20 * time.Minute
)

// State is a classification plus a human-readable detail for the dashboard.
type State struct {
	Recipient string
	Status    Status
	Detail    string
}

// Blocked reports whether dispatch should hold off for this recipient
// rather than start a send sequence.
func (s State) Blocked() bool {
	return s.Status == StatusCoolDown || s.Status == StatusExpiringSoon
}

// Classify is a pure function of (last activation, now).
//
// The cooldown check deliberately runs before the expiry checks so a
// just-activated window is never reported as expiring.
func Classify(lastActivation time.Time, recorded bool, now time.Time) Status {
	if !recorded {
		return StatusInactive
	}
	elapsed := now.Sub(lastActivation)
	if elapsed < CoolDown {
		return StatusCoolDown
	}
	left := Length - elapsed
	if left <= 0 {
		return StatusInactive
	}
	if left < ExpiryMargin {
		return StatusExpiringSoon
	}
	return StatusActive
}

func detail(status Status, lastActivation time.Time, recorded bool, now time.Time) string {
	if !recorded {
		return "never activated"
	}
	elapsed := now.Sub(lastActivation)
	left := Length - elapsed
	switch status {
	case StatusCoolDown:
		return fmt.Sprintf("cooling down for %s more", (CoolDown - elapsed).Round(time.Minute))
	case StatusExpiringSoon:
		return fmt.Sprintf("expires in %s", left.Round(time.Minute))
	case StatusActive:
		return fmt.Sprintf("active for %s more", left.Round(time.Minute))
	default:
		return "expired"
	}
}

// Source is the persistence slice the tracker reads.
// The activation write path lives on the dispatch side; classification
// itself never writes.
type Source interface {
	GetWindow(ctx context.Context, recipient string) (lastActivation time.Time, ok bool, err error)
}

// Tracker classifies recipients against persisted activation timestamps.
type Tracker struct {
	src Source
	now func() time.Time
}

func NewTracker(src Source) *Tracker {
	return &Tracker{src: src, now: time.Now}
}

// SetNow overrides the clock. Test hook only.
func (t *Tracker) SetNow(now func() time.Time) { t.now = now }

func (t *Tracker) Classify(ctx context.Context, recipient string) (State, error) {
	last, ok, err := t.src.GetWindow(ctx, recipient)
	if err != nil {
		return State{}, err
	}
	now := t.now()
	status := Classify(last, ok, now)
	return State{
		Recipient: recipient,
		Status:    status,
		Detail:    detail(status, last, ok, now),
	}, nil
}
