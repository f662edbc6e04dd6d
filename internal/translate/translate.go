// Package translate turns raw ledger notifications into protocol-agnostic
// events as seen from one impacted account.
package translate

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rickgao/ledgermux/internal/events"
	"github.com/rickgao/ledgermux/internal/ledger"
	"github.com/rickgao/ledgermux/internal/model"
)

// ErrNoEvent means the notification is valid but has no event for the account
// (e.g. a transfer still in the proposed state).
var ErrNoEvent = errors.New("no event for notification")

// Directions.
const (
	Incoming = "incoming"
	Outgoing = "outgoing"
)

// TransferInfo is the first argument of every transfer event.
type TransferInfo struct {
	ID                 string          `json:"id"`
	Direction          string          `json:"direction"`
	Account            string          `json:"account"` // Counterparty address (prefix + name)
	Ledger             string          `json:"ledger"`
	Amount             string          `json:"amount"`
	ExecutionCondition string          `json:"execution_condition,omitempty"`
	ExpiresAt          string          `json:"expires_at,omitempty"`
	Memo               json.RawMessage `json:"memo,omitempty"`
}

// MessageInfo is the first argument of every message event.
type MessageInfo struct {
	Ledger  string          `json:"ledger"`
	Account string          `json:"account"` // Counterparty address
	Data    json.RawMessage `json:"data,omitempty"`
}

// Func is the translator signature consumed by the router and proxies.
type Func func(n model.Notification, accountURI string, lc *ledger.Context) (events.Event, error)

// Translate builds the event account accountURI should observe for n.
// Event types follow "<direction>_<action>": incoming_prepare, outgoing_fulfill,
// incoming_transfer, outgoing_cancel, incoming_message, ...
func Translate(n model.Notification, accountURI string, lc *ledger.Context) (events.Event, error) {
	switch {
	case n.IsTransfer():
		return translateTransfer(n, accountURI, lc)
	case n.IsMessage():
		return translateMessage(n, accountURI, lc)
	default:
		return events.Event{}, fmt.Errorf("%w: unsupported kind %q", ErrNoEvent, n.Event)
	}
}

func translateTransfer(n model.Notification, accountURI string, lc *ledger.Context) (events.Event, error) {
	t, err := n.Transfer()
	if err != nil {
		return events.Event{}, err
	}

	direction, own, counterparty := "", model.Participant{}, ""
	if p, ok := find(t.Credits, accountURI); ok {
		direction, own = Incoming, p
		counterparty = firstAccount(t.Debits)
	} else if p, ok := find(t.Debits, accountURI); ok {
		direction, own = Outgoing, p
		counterparty = firstAccount(t.Credits)
	} else {
		return events.Event{}, fmt.Errorf("account %s is not a participant of transfer %s", accountURI, t.ID)
	}

	var action string
	switch t.State {
	case model.TransferPrepared:
		action = "prepare"
	case model.TransferExecuted:
		action = "transfer"
		if t.ExecutionCondition != "" {
			action = "fulfill"
		}
	case model.TransferRejected:
		action = "cancel"
	default:
		return events.Event{}, fmt.Errorf("%w: transfer %s in state %q", ErrNoEvent, t.ID, t.State)
	}

	info := TransferInfo{
		ID:                 t.ID,
		Direction:          direction,
		Account:            address(lc, counterparty),
		Ledger:             lc.Prefix(),
		Amount:             own.Amount,
		ExecutionCondition: t.ExecutionCondition,
		ExpiresAt:          t.ExpiresAt,
		Memo:               own.Memo,
	}

	args := []any{info}
	switch action {
	case "fulfill", "cancel":
		if f := n.RelatedFulfillment(); f != "" {
			args = append(args, f)
		}
	}
	if action == "cancel" && t.RejectionReason != "" {
		args = append(args, t.RejectionReason)
	}

	return events.Event{Type: direction + "_" + action, Args: args}, nil
}

func translateMessage(n model.Notification, accountURI string, lc *ledger.Context) (events.Event, error) {
	m, err := n.Message()
	if err != nil {
		return events.Event{}, err
	}

	var direction, counterparty string
	switch accountURI {
	case m.To:
		direction, counterparty = Incoming, m.From
	case m.From:
		direction, counterparty = Outgoing, m.To
	default:
		return events.Event{}, fmt.Errorf("account %s is neither sender nor recipient", accountURI)
	}

	info := MessageInfo{
		Ledger:  lc.Prefix(),
		Account: address(lc, counterparty),
		Data:    m.Data,
	}
	return events.Event{Type: direction + "_message", Args: []any{info}}, nil
}

func find(ps []model.Participant, account string) (model.Participant, bool) {
	for _, p := range ps {
		if p.Account == account {
			return p, true
		}
	}
	return model.Participant{}, false
}

func firstAccount(ps []model.Participant) string {
	if len(ps) == 0 {
		return ""
	}
	return ps[0].Account
}

// address renders an account URI as prefix+name, falling back to the URI.
func address(lc *ledger.Context, uri string) string {
	if name := lc.AccountName(uri); name != "" {
		return lc.Prefix() + name
	}
	return uri
}
