// Package jobs holds the persisted reservation job record and its durable
// sqlite store.
package jobs

import (
	"fmt"
	"time"

	"github.com/philosquare/zju-tem/internal/portal"
)

// State is a job's lifecycle position. A pending job is waiting for its
// trigger instant; firing flips it to fired, and the retry outcome refines
// that to booked or failed. Records are only ever removed by explicit
// cancellation.
type State string

const (
	StatePending State = "pending"
	StateFired   State = "fired"
	StateBooked  State = "booked"
	StateFailed  State = "failed"
)

// Job is one persisted, single-shot reservation attempt. The embedded
// credential is replayed for a fresh portal login when the job fires and
// lives no longer than the record itself.
type Job struct {
	ID         string
	Owner      string
	TriggerAt  time.Time
	Credential portal.Credential
	Request    portal.Request

	State       State
	LastMessage string
	CreatedAt   time.Time
}

func (j Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("id required")
	}
	if j.Owner == "" {
		return fmt.Errorf("owner required")
	}
	if j.TriggerAt.IsZero() {
		return fmt.Errorf("trigger instant required")
	}
	if j.Credential.Empty() {
		return fmt.Errorf("credential required")
	}
	if j.Request.ReserveDate == "" {
		return fmt.Errorf("reserve date required")
	}
	if j.Request.StartTime == "" || j.Request.EndTime == "" {
		return fmt.Errorf("start and end time required")
	}
	if j.Request.InstrumentID == "" {
		return fmt.Errorf("instrument id required")
	}
	return nil
}
