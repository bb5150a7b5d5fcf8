// Package models defines the core domain types for the compute market.
package models

import (
	"time"

	"cosmossdk.io/math"
)

// TaskStatus represents the lifecycle state of a purchased task.
type TaskStatus string

const (
	TaskStatusCreated   TaskStatus = "created"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusRefunded  TaskStatus = "refunded"
)

// IsTerminal reports whether no further transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusRefunded
}

// HoldsFunds reports whether a task in this status is still backed by escrow.
func (s TaskStatus) HoldsFunds() bool {
	return s == TaskStatusCreated || s == TaskStatusRunning
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusCreated, TaskStatusRunning, TaskStatusCompleted, TaskStatusRefunded:
		return true
	}
	return false
}

// Service is a purchasable compute offering in the catalog.
type Service struct {
	ServiceID  uint64     `json:"service_id"`
	Price      math.Uint  `json:"price"`
	Active     bool       `json:"active"`
	Registrant string     `json:"registrant,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// Task is one purchase of a service, with the funds it holds in escrow.
type Task struct {
	TaskID      uint64     `json:"task_id"`
	ServiceID   uint64     `json:"service_id"`
	Buyer       string     `json:"buyer"`
	Amount      math.Uint  `json:"amount"`
	Status      TaskStatus `json:"status"`
	ResultHash  string     `json:"result_hash"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
}

// TaskFilter narrows a task listing. Zero fields match everything.
type TaskFilter struct {
	Status    TaskStatus
	Buyer     string
	ServiceID uint64
	Limit     int
}

// EventType names a committed notification.
type EventType string

const (
	EventServiceRegistered    EventType = "service_registered"
	EventServicePriceUpdated  EventType = "service_price_updated"
	EventServiceDeactivated   EventType = "service_deactivated"
	EventTaskCreated          EventType = "task_created"
	EventTaskStarted          EventType = "task_started"
	EventTaskCompleted        EventType = "task_completed"
	EventTaskRefunded         EventType = "task_refunded"
	EventAuthorityTransferred EventType = "authority_transferred"
)

// Event is an append-only notification written in the same transaction as
// the state change it describes. Seq is assigned by the store on append.
type Event struct {
	Seq         uint64     `json:"seq"`
	ID          string     `json:"id"`
	Type        EventType  `json:"type"`
	TaskID      uint64     `json:"task_id,omitempty"`
	ServiceID   uint64     `json:"service_id,omitempty"`
	Principal   string     `json:"principal,omitempty"`
	Counterpart string     `json:"counterpart,omitempty"`
	Amount      string     `json:"amount,omitempty"`
	ResultHash  string     `json:"result_hash,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// PDREntry is a Process Decision Record for audit trails.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Caller     string    `json:"caller"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	TaskID     uint64    `json:"task_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EntryType is the side of a double-entry ledger posting.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// LedgerEntry is one side of a settlement posting. Balance is the account
// balance after the entry was applied.
type LedgerEntry struct {
	ID          string    `json:"id"`
	TransferID  string    `json:"transfer_id"`
	Account     string    `json:"account"`
	EntryType   EntryType `json:"entry_type"`
	Amount      math.Uint `json:"amount"`
	Balance     math.Int  `json:"balance"`
	TaskID      uint64    `json:"task_id,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Account is a settlement account in the ledger.
type Account struct {
	Principal string   `json:"principal"`
	Balance   math.Int `json:"balance"`
	Frozen    bool     `json:"frozen"`
}
