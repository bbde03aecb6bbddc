package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job is the in-flight execution bound to one machine
type Job struct {
	ID        string         `json:"id"`
	Machine   string         `json:"machine"`
	OrderID   string         `json:"order_id"`
	Product   string         `json:"product"`
	Quantity  int            `json:"quantity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// NewJobID returns a time ordered job token
func NewJobID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Remaining returns how long the job still runs at now, never negative
func (j Job) Remaining(now time.Time) time.Duration {
	left := j.StartedAt.Add(j.Duration).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// CompletionEvent is delivered once per naturally finished job
type CompletionEvent struct {
	JobID          string         `json:"job_id"`
	Machine        string         `json:"machine"`
	OrderID        string         `json:"order_id"`
	Product        string         `json:"product"`
	Quantity       int            `json:"quantity"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Schedule       Schedule       `json:"schedule"`
	ScheduleText   string         `json:"schedule_text"`
	CompletionTime string         `json:"completion_time"`
}

// NewCompletionEvent snapshots the schedule for the finished job
func NewCompletionEvent(job Job, schedule Schedule, completedAt time.Time) CompletionEvent {
	snapshot := schedule.Clone()
	return CompletionEvent{
		JobID:          job.ID,
		Machine:        job.Machine,
		OrderID:        job.OrderID,
		Product:        job.Product,
		Quantity:       job.Quantity,
		Metadata:       job.Metadata,
		Schedule:       snapshot,
		ScheduleText:   snapshot.Text(),
		CompletionTime: completedAt.UTC().Format(time.RFC3339Nano),
	}
}

// CompletionPrompt describes the event for a human or language model reader
func CompletionPrompt(ev CompletionEvent) string {
	return fmt.Sprintf(
		"Machine %s finished order %s for product %s at %s.\n"+
			"Here is the current schedule JSON:\n%s\n"+
			"Please decide what should happen next and explain your reasoning.",
		strings.ToUpper(ev.Machine), ev.OrderID, ev.Product, ev.CompletionTime, ev.ScheduleText,
	)
}

// ReservationCommit is applied by the store as one unit. The store re-checks
// that Machine is idle and that inventory covers Required at write time, so a
// writer that planned against a stale read is rejected instead of overwriting.
type ReservationCommit struct {
	Machine  string
	OrderID  string
	Required map[string]float64
}

// ReservationState is the inventory and schedule left behind by a commit
type ReservationState struct {
	Inventory Inventory
	Schedule  Schedule
}

// Apply validates the commit against the current state and returns the state
// after it. The inputs are not modified. Stores that hold the whole factory in
// memory or in one document call it under their write lock.
func (c ReservationCommit) Apply(
	machines map[string]MachineState,
	inventory Inventory,
	schedule Schedule,
) (ReservationState, error) {
	state, ok := machines[c.Machine]
	if !ok {
		return ReservationState{}, fmt.Errorf("commit reservation on %q: %w", c.Machine, ErrUnknownMachine)
	}
	if state == MachineBusy {
		return ReservationState{}, MachineBusyError(c.Machine)
	}
	if shortfalls := inventory.Shortfalls(c.Required); len(shortfalls) > 0 {
		return ReservationState{}, NewInsufficientMaterials(shortfalls)
	}
	remaining, _ := schedule.Without(c.OrderID)
	return ReservationState{
		Inventory: inventory.Deduct(c.Required),
		Schedule:  remaining,
	}, nil
}
