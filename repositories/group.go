package repositories

import (
	"time"

	"ghost-chat/domain"
	"ghost-chat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

// groupRecord is the persisted group header. Messages live under their own
// keys so that an append never rewrites the whole history.
type groupRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsPrivate   bool      `json:"isPrivate"`
	Members     []string  `json:"members"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	NextSeq     uint64    `json:"nextSeq"`
}

func toGroupRecord(group domain.Group) groupRecord {
	return groupRecord{
		ID:          group.ID,
		Name:        group.Name,
		Description: group.Description,
		IsPrivate:   group.IsPrivate,
		Members:     lo.Ternary(group.Members == nil, []string{}, group.Members),
		CreatedBy:   group.CreatedBy,
		CreatedAt:   group.CreatedAt,
	}
}

func (r groupRecord) toGroup(messages []domain.Message) domain.Group {
	return domain.Group{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		IsPrivate:   r.IsPrivate,
		Members:     r.Members,
		Messages:    messages,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
	}
}

// CreateGroup rejects a name whose derived id is already taken instead of replacing the existing group.
// The creator becomes the first member.
func (s *BadgerStore) CreateGroup(name, creator, description string, isPrivate bool) (domain.Group, error) {
	groupID := domain.GroupIDFromName(name)
	if groupID == "" {
		return domain.Group{}, errors.ErrInvalidGroupName
	}
	record := groupRecord{
		ID:          groupID,
		Name:        name,
		Description: description,
		IsPrivate:   isPrivate,
		Members:     []string{creator},
		CreatedBy:   creator,
		CreatedAt:   s.now(),
	}
	err := s.withLock(groupLockKey(groupID), func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(groupKey(groupID))
			if err == nil {
				return errors.ErrDuplicateGroup
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return setJSON(txn, groupKey(groupID), record)
		})
	})
	if errors.Is(err, errors.ErrDuplicateGroup) {
		return domain.Group{}, err
	}
	if err != nil {
		return domain.Group{}, errors.Unavailable("create group", err)
	}
	s.log.Debug("Group created", "group_id", groupID, "created_by", creator)
	return record.toGroup([]domain.Message{}), nil
}

// ListGroups returns every group with its full message history.
func (s *BadgerStore) ListGroups() (map[string]domain.Group, error) {
	var groups map[string]domain.Group
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		groups, err = readGroups(txn)
		return err
	})
	if err != nil {
		return nil, errors.Unavailable("list groups", err)
	}
	return groups, nil
}

// GetGroup returns the group header. Messages are left empty, use ListMessages to page through them.
func (s *BadgerStore) GetGroup(groupID string) (domain.Group, error) {
	var record groupRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, groupKey(groupID), &record)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Group{}, errors.ErrGroupNotFound
	}
	if err != nil {
		return domain.Group{}, errors.Unavailable("get group", err)
	}
	return record.toGroup(nil), nil
}

// JoinGroup returns false when the group is missing or the user is already a member.
func (s *BadgerStore) JoinGroup(groupID, userID string) (bool, error) {
	joined := false
	err := s.withLock(groupLockKey(groupID), func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			var record groupRecord
			err := getJSON(txn, groupKey(groupID), &record)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if lo.Contains(record.Members, userID) {
				return nil
			}
			record.Members = append(record.Members, userID)
			joined = true
			return setJSON(txn, groupKey(groupID), record)
		})
	})
	if err != nil {
		return false, errors.Unavailable("join group", err)
	}
	return joined, nil
}

func readGroups(txn *badger.Txn) (map[string]domain.Group, error) {
	records, err := scanJSON[groupRecord](txn, []byte(groupPrefix))
	if err != nil {
		return nil, err
	}
	groups := make(map[string]domain.Group, len(records))
	for _, record := range records {
		messages, err := scanJSON[domain.Message](txn, groupMessagesPrefix(record.ID))
		if err != nil {
			return nil, err
		}
		groups[record.ID] = record.toGroup(messages)
	}
	return groups, nil
}

// readGroupRecord loads the header inside txn. Callers own the group lock.
func readGroupRecord(txn *badger.Txn, groupID string) (groupRecord, error) {
	var record groupRecord
	err := getJSON(txn, groupKey(groupID), &record)
	return record, err
}
