package repositories

import (
	"fmt"

	"ghost-chat/domain"
	"ghost-chat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// CreateCall starts a pending call with the initiator as sole participant.
func (s *BadgerStore) CreateCall(callType domain.CallType, groupID, initiator string) (domain.Call, error) {
	if !callType.Valid() {
		return domain.Call{}, fmt.Errorf("%w: unknown call type %q", errors.ErrValidation, callType)
	}
	if groupID == "" {
		return domain.Call{}, errors.ErrGroupIDRequired
	}
	call := domain.Call{
		ID:           uuid.NewString(),
		Type:         callType,
		GroupID:      groupID,
		Initiator:    initiator,
		Participants: []string{initiator},
		Status:       domain.CallPending,
		StartedAt:    s.now(),
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(groupKey(groupID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return errors.ErrGroupNotFound
			}
			return err
		}
		return setJSON(txn, callKey(call.ID), call)
	})
	if errors.Is(err, errors.ErrGroupNotFound) {
		return domain.Call{}, err
	}
	if err != nil {
		return domain.Call{}, errors.Unavailable("create call", err)
	}
	return call, nil
}

// TransitionCall moves the call forward. It returns false for an unknown call
// and ErrInvalidTransition for any move the lifecycle forbids, such as accepting an ended call.
func (s *BadgerStore) TransitionCall(callID string, status domain.CallStatus) (bool, error) {
	found := false
	err := s.withLock(callLockKey(callID), func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			var call domain.Call
			err := getJSON(txn, callKey(callID), &call)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			found = true
			if !call.Status.CanTransitionTo(status) {
				return fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, call.Status, status)
			}
			call.Status = status
			if status == domain.CallEnded {
				at := s.now()
				call.EndedAt = &at
			}
			return setJSON(txn, callKey(callID), call)
		})
	})
	if errors.Is(err, errors.ErrInvalidTransition) {
		return false, err
	}
	if err != nil {
		return false, errors.Unavailable("transition call", err)
	}
	return found, nil
}

func (s *BadgerStore) GetCall(callID string) (domain.Call, error) {
	var call domain.Call
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, callKey(callID), &call)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Call{}, errors.ErrCallNotFound
	}
	if err != nil {
		return domain.Call{}, errors.Unavailable("get call", err)
	}
	return call, nil
}
