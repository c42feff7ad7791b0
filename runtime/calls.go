package runtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"ghost-chat/contract"
	"ghost-chat/domain"
	"ghost-chat/domain/event"
	"ghost-chat/errors"
)

type CallStore interface {
	CreateCall(callType domain.CallType, groupID, initiator string) (domain.Call, error)
	TransitionCall(callID string, status domain.CallStatus) (bool, error)
}

// CallCoordinator drives the call lifecycle and relays negotiation payloads
// between two users without looking into them.
type CallCoordinator struct {
	store     CallStore
	registry  *PresenceRegistry
	publisher contract.Publisher
	log       *slog.Logger
}

func NewCallCoordinator(store CallStore, registry *PresenceRegistry, publisher contract.Publisher, log *slog.Logger) *CallCoordinator {
	return &CallCoordinator{store: store, registry: registry, publisher: publisher, log: log}
}

// Start creates a pending call and rings every member of the group but the initiator.
func (c *CallCoordinator) Start(ctx context.Context, callType domain.CallType, groupID, initiator string) (domain.Call, error) {
	call, err := c.store.CreateCall(callType, groupID, initiator)
	if err != nil {
		return domain.Call{}, err
	}
	delivery := contract.ToGroup(groupID, event.New(event.CallRequest, call))
	delivery.ExceptUserID = initiator
	return call, c.publisher.Publish(ctx, delivery)
}

// Accept activates a pending call and tells everybody but the accepting connection.
// An unknown call, or one that already ended, is reported as false.
func (c *CallCoordinator) Accept(ctx context.Context, conn contract.Connection, callID string) (bool, error) {
	ok, err := c.transition(callID, domain.CallActive)
	if !ok || err != nil {
		return false, err
	}
	return true, c.publisher.Publish(ctx, contract.ToOthers(conn, event.New(event.CallAccepted, event.CallRef{CallID: callID})))
}

// End terminates the call and notifies every connection.
func (c *CallCoordinator) End(ctx context.Context, callID string) (bool, error) {
	ok, err := c.transition(callID, domain.CallEnded)
	if !ok || err != nil {
		return false, err
	}
	return true, c.publisher.Publish(ctx, contract.ToAll(event.New(event.CallEnded, event.CallRef{CallID: callID})))
}

func (c *CallCoordinator) transition(callID string, status domain.CallStatus) (bool, error) {
	ok, err := c.store.TransitionCall(callID, status)
	switch {
	case errors.Is(err, errors.ErrInvalidTransition):
		c.log.Debug("Call transition refused", "call_id", callID, "status", status, "error", err)
		return false, nil
	case err != nil:
		return false, err
	case !ok:
		c.log.Debug("Unknown call", "call_id", callID)
	}
	return ok, nil
}

// RelaySignal delivers the payload to the live connection of the target only.
// A missing or closed target drops the signal: the peer may be leaving.
func (c *CallCoordinator) RelaySignal(ctx context.Context, from, to string, signal json.RawMessage, callID string) bool {
	conn, ok := c.registry.FindConnectionFor(to)
	if !ok {
		c.log.Debug("Signal target not connected", "from", from, "to", to, "call_id", callID)
		return false
	}
	payload := event.RelayedSignal{From: from, Signal: signal, CallID: callID}
	if err := c.publisher.Publish(ctx, contract.ToConnection(conn, event.New(event.CallSignal, payload))); err != nil {
		c.log.Warn("Unable to relay signal", "to", to, "call_id", callID, "error", err)
		return false
	}
	return true
}
