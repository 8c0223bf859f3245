package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusCancelled  Status = "cancelled"
	StatusDone       Status = "done"
)

// ParseStatus validates a raw status string, e.g. when loading a snapshot.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	switch s {
	case StatusOpen, StatusInProgress, StatusSubmitted, StatusCancelled, StatusDone:
		return s, nil
	}
	return "", fmt.Errorf("unknown task status %q", raw)
}

// Terminal reports whether no further transitions leave this status.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// Account holds the virtual balance of one caller identity. Identities are
// opaque strings supplied by the transport (the chat adapter uses the chat
// user id).
type Account struct {
	Identity string          `json:"identity"`
	Balance  decimal.Decimal `json:"balance"`
}

// Task is one marketplace work item. CustomerID, Text, Price and CreatedAt
// are fixed at creation; PerformerID is nil exactly when the task is open or
// cancelled.
type Task struct {
	ID          int64           `json:"id"`
	CustomerID  string          `json:"customer_id"`
	PerformerID *string         `json:"performer_id,omitempty"`
	Text        string          `json:"text"`
	Price       decimal.Decimal `json:"price"`
	Status      Status          `json:"status" enum:"open,in_progress,submitted,cancelled,done"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
}

// Snapshot is the full persisted state: every account, every task in ledger
// insertion order, and the next task id to assign.
type Snapshot struct {
	Accounts   map[string]Account `json:"accounts"`
	Tasks      []Task             `json:"tasks"`
	NextTaskID int64              `json:"next_task_id"`
}

// EmptySnapshot returns the state of a fresh marketplace.
func EmptySnapshot() Snapshot {
	return Snapshot{
		Accounts:   map[string]Account{},
		NextTaskID: 1,
	}
}

// Validate checks the structural invariants a snapshot must satisfy before
// the ledger accepts it.
func (s Snapshot) Validate() error {
	if s.NextTaskID < 1 {
		return fmt.Errorf("next_task_id must be >= 1, got %d", s.NextTaskID)
	}
	lastID := int64(0)
	for _, t := range s.Tasks {
		if _, err := ParseStatus(string(t.Status)); err != nil {
			return fmt.Errorf("task %d: %w", t.ID, err)
		}
		if t.ID <= lastID {
			return fmt.Errorf("task ids not strictly increasing at %d", t.ID)
		}
		lastID = t.ID
		if t.ID >= s.NextTaskID {
			return fmt.Errorf("task %d not below next_task_id %d", t.ID, s.NextTaskID)
		}
		if !t.Price.IsPositive() {
			return fmt.Errorf("task %d: price must be positive", t.ID)
		}
		hasPerformer := t.PerformerID != nil
		wantPerformer := t.Status == StatusInProgress || t.Status == StatusSubmitted || t.Status == StatusDone
		if hasPerformer != wantPerformer {
			return fmt.Errorf("task %d: performer presence inconsistent with status %s", t.ID, t.Status)
		}
		if hasPerformer && *t.PerformerID == t.CustomerID {
			return fmt.Errorf("task %d: performer equals customer", t.ID)
		}
	}
	for identity, acc := range s.Accounts {
		if acc.Identity != identity {
			return fmt.Errorf("account %q keyed under %q", acc.Identity, identity)
		}
	}
	return nil
}
