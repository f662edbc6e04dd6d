package model

import (
	"encoding/json"
	"fmt"
)

// Notification kinds the router understands. Anything else is ignored.
const (
	EventTransferCreate = "transfer.create"
	EventTransferUpdate = "transfer.update"
	EventMessageSend    = "message.send"
)

// -----------------------------------------------------------------------------
// Notifications
// -----------------------------------------------------------------------------

// Notification is a single event pushed by the ledger over the admin connection.
type Notification struct {
	Event            string          `json:"event"`
	Resource         json.RawMessage `json:"resource"`
	RelatedResources json.RawMessage `json:"related_resources,omitempty"`
}

// IsTransfer reports whether the notification carries a transfer resource.
func (n Notification) IsTransfer() bool {
	return n.Event == EventTransferCreate || n.Event == EventTransferUpdate
}

// IsMessage reports whether the notification carries a message resource.
func (n Notification) IsMessage() bool {
	return n.Event == EventMessageSend
}

// Transfer decodes the resource as a transfer.
func (n Notification) Transfer() (Transfer, error) {
	var t Transfer
	if !n.IsTransfer() {
		return t, fmt.Errorf("notification %q is not a transfer", n.Event)
	}
	if err := json.Unmarshal(n.Resource, &t); err != nil {
		return t, fmt.Errorf("decode transfer: %w", err)
	}
	return t, nil
}

// Message decodes the resource as a message.
func (n Notification) Message() (Message, error) {
	var m Message
	if !n.IsMessage() {
		return m, fmt.Errorf("notification %q is not a message", n.Event)
	}
	if err := json.Unmarshal(n.Resource, &m); err != nil {
		return m, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

// RelatedFulfillment returns the execution condition fulfillment attached to a
// transfer update, if any.
func (n Notification) RelatedFulfillment() string {
	if len(n.RelatedResources) == 0 {
		return ""
	}
	var related struct {
		ExecutionConditionFulfillment    string `json:"execution_condition_fulfillment"`
		CancellationConditionFulfillment string `json:"cancellation_condition_fulfillment"`
	}
	if err := json.Unmarshal(n.RelatedResources, &related); err != nil {
		return ""
	}
	if related.ExecutionConditionFulfillment != "" {
		return related.ExecutionConditionFulfillment
	}
	return related.CancellationConditionFulfillment
}

// -----------------------------------------------------------------------------
// Resources
// -----------------------------------------------------------------------------

// Transfer states reported by the ledger.
const (
	TransferProposed = "proposed"
	TransferPrepared = "prepared"
	TransferExecuted = "executed"
	TransferRejected = "rejected"
)

// Participant is one side (credit or debit) of a transfer.
type Participant struct {
	Account    string          `json:"account"` // Account URI
	Amount     string          `json:"amount"`
	Authorized bool            `json:"authorized,omitempty"`
	Memo       json.RawMessage `json:"memo,omitempty"`
}

// Transfer is the ledger's transfer resource.
type Transfer struct {
	ID                    string          `json:"id"`
	Ledger                string          `json:"ledger"`
	Debits                []Participant   `json:"debits"`
	Credits               []Participant   `json:"credits"`
	State                 string          `json:"state"`
	ExecutionCondition    string          `json:"execution_condition,omitempty"`
	CancellationCondition string          `json:"cancellation_condition,omitempty"`
	ExpiresAt             string          `json:"expires_at,omitempty"`
	RejectionReason       string          `json:"rejection_reason,omitempty"`
	Memo                  json.RawMessage `json:"memo,omitempty"`
}

// Message is the ledger's message resource.
type Message struct {
	Ledger string          `json:"ledger"`
	From   string          `json:"from"` // Account URI
	To     string          `json:"to"`   // Account URI
	Data   json.RawMessage `json:"data,omitempty"`
}
