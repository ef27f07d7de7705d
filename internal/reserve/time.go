// Package reserve computes when a reservation race opens and fights it with
// a bounded retry loop.
package reserve

import (
	"time"

	"github.com/philosquare/zju-tem/internal/instrument"
)

// TriggerTime returns the instant the portal opens slots covering
// reservationDate: the instrument's publish weekday in the calendar week
// before reservationDate's, at the instrument's publish time. If that instant
// is not after now the window is already open and now is returned so the
// caller acts immediately.
//
// Weeks run Monday through Sunday, so a reservation date sharing the publish
// weekday goes a full 7 days back, and a Sunday date can reach up to 13 days
// back.
func TriggerTime(ins instrument.Instrument, reservationDate time.Time, now time.Time) time.Time {
	deltaDays := mondayIndex(reservationDate.Weekday()) + 7 - mondayIndex(ins.PublishWeekday)
	publishDay := reservationDate.AddDate(0, 0, -deltaDays)
	trigger := ins.PublishTime.At(publishDay)
	if !trigger.After(now) {
		return now
	}
	return trigger
}

// mondayIndex maps Go's Sunday-first weekday onto a Monday=0..Sunday=6 scale.
func mondayIndex(w time.Weekday) int {
	return (int(w) + 6) % 7
}
