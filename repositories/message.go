package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"ghost-chat/domain"
	"ghost-chat/errors"
	"ghost-chat/moderation"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// errSkip aborts a transaction that has nothing to write. It never leaves this file.
var errSkip = fmt.Errorf("nothing to write")

// AppendMessage stores the message under the next sequence number of its group.
// The group lock makes the sequence, and therefore the history order, total.
func (s *BadgerStore) AppendMessage(groupID string, draft domain.MessageDraft) (domain.Message, error) {
	if groupID == "" {
		return domain.Message{}, errors.ErrGroupIDRequired
	}
	var message domain.Message
	err := s.withLock(groupLockKey(groupID), func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			record, err := readGroupRecord(txn, groupID)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return errors.ErrGroupNotFound
			}
			if err != nil {
				return err
			}
			message = domain.Message{
				ID:         uuid.NewString(),
				GroupID:    groupID,
				Sender:     draft.Sender,
				SenderInfo: draft.SenderInfo,
				Text:       draft.Text,
				Attachment: draft.Attachment,
				Language:   draft.Language,
				Timestamp:  s.now(),
				ViewedBy:   []string{},
			}
			key := messageKey(groupID, record.NextSeq)
			record.NextSeq++
			if err := setJSON(txn, key, message); err != nil {
				return err
			}
			if err := txn.Set(messageRefKey(groupID, message.ID), key); err != nil {
				return err
			}
			return setJSON(txn, groupKey(groupID), record)
		})
	})
	if errors.Is(err, errors.ErrGroupNotFound) {
		return domain.Message{}, err
	}
	if err != nil {
		return domain.Message{}, errors.Unavailable("append message", err)
	}
	if s.index != nil {
		if err := s.index.Index(message); err != nil {
			s.log.Warn("Unable to index message", "message_id", message.ID, "error", err)
		}
	}
	return message, nil
}

// RedactMessage masks the text once. It returns false when the message is
// already redacted, and ErrMessageNotFound when the group or the message is unknown.
func (s *BadgerStore) RedactMessage(messageID, groupID string) (bool, error) {
	err := s.updateMessage(groupID, messageID, func(message *domain.Message) bool {
		if message.IsEncrypted {
			return false
		}
		at := s.now()
		message.Text = moderation.Mask(message.Text)
		message.IsEncrypted = true
		message.EncryptedAt = &at
		return true
	})
	switch {
	case errors.Is(err, errors.ErrMessageNotFound):
		return false, err
	case errors.Is(err, errSkip):
		return false, nil
	case err != nil:
		return false, errors.Unavailable("redact message", err)
	}
	if s.index != nil {
		if err := s.index.Remove(messageID); err != nil {
			s.log.Warn("Unable to remove redacted message from index", "message_id", messageID, "error", err)
		}
	}
	return true, nil
}

// MarkViewed adds the viewer to viewedBy. It returns false only when the message is unknown.
func (s *BadgerStore) MarkViewed(messageID, groupID, userID string) (bool, error) {
	err := s.updateMessage(groupID, messageID, func(message *domain.Message) bool {
		if lo.Contains(message.ViewedBy, userID) {
			return false
		}
		message.ViewedBy = append(message.ViewedBy, userID)
		return true
	})
	switch {
	case err == nil, errors.Is(err, errSkip):
		return true, nil
	case errors.Is(err, errors.ErrMessageNotFound):
		return false, nil
	default:
		return false, errors.Unavailable("mark viewed", err)
	}
}

// updateMessage applies mutate under the group lock. errSkip is returned when
// mutate reports nothing to write.
func (s *BadgerStore) updateMessage(groupID, messageID string, mutate func(*domain.Message) bool) error {
	return s.withLock(groupLockKey(groupID), func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			key, message, err := readMessage(txn, groupID, messageID)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return errors.ErrMessageNotFound
			}
			if err != nil {
				return err
			}
			if !mutate(&message) {
				return errSkip
			}
			return setJSON(txn, key, message)
		})
	})
}

// ListMessages pages backwards through the history of a group, newest page first.
// Each page is returned in append order. The cursor is the sequence part of the
// oldest key of the page and resumes just before it. It is nil once the history
// is exhausted. A limit <= 0 reads everything.
func (s *BadgerStore) ListMessages(groupID string, cursor *string, limit int) ([]domain.Message, *string, error) {
	var messages []domain.Message
	var next *string
	var oldest string
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(groupKey(groupID)); err != nil {
			return err
		}
		prefix := groupMessagesPrefix(groupID)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			seekKey = append(slices.Clone(prefix), []byte("9999999999999999999")...)
		default:
			seekKey = append(slices.Clone(prefix), []byte(*cursor)...)
		}
		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()[len(prefix):]) == *cursor {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if limit > 0 && len(messages) == limit {
				next = &oldest
				break
			}
			oldest = string(item.Key()[len(prefix):])
			message, err := decodeMessage(item)
			if err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, errors.ErrGroupNotFound
	}
	if err != nil {
		return nil, nil, errors.Unavailable("list messages", err)
	}
	slices.Reverse(messages)
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, next, nil
}

// SearchMessages runs a full-text query over the visible messages of a group.
func (s *BadgerStore) SearchMessages(groupID, terms string, limit int) ([]domain.Message, error) {
	if s.index == nil {
		return []domain.Message{}, nil
	}
	if _, err := s.GetGroup(groupID); err != nil {
		return nil, err
	}
	ids, err := s.index.Search(context.Background(), groupID, terms, limit)
	if err != nil {
		return nil, errors.Unavailable("search messages", err)
	}
	messages := make([]domain.Message, 0, len(ids))
	err = s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			_, message, err := readMessage(txn, groupID, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !message.IsEncrypted {
				messages = append(messages, message)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Unavailable("search messages", err)
	}
	return messages, nil
}

func readMessage(txn *badger.Txn, groupID, messageID string) ([]byte, domain.Message, error) {
	ref, err := txn.Get(messageRefKey(groupID, messageID))
	if err != nil {
		return nil, domain.Message{}, err
	}
	key, err := ref.ValueCopy(nil)
	if err != nil {
		return nil, domain.Message{}, err
	}
	item, err := txn.Get(key)
	if err != nil {
		return nil, domain.Message{}, err
	}
	message, err := decodeMessage(item)
	return key, message, err
}

func decodeMessage(item *badger.Item) (domain.Message, error) {
	var message domain.Message
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &message)
	})
	return message, err
}
