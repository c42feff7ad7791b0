//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"ghost-chat/domain"
	"ghost-chat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/moby/locker"
)

// IStore is the durable holder of users, groups, messages, calls and files.
// Every mutation is an atomic read-modify-write serialized per entity key:
// a failed write leaves prior state untouched and surfaces ErrStoreUnavailable.
type IStore interface {
	UpsertUser(username string) (domain.User, error)
	SetUserOnline(userID string, online bool) (bool, error)
	ListOnlineUsers() ([]domain.User, error)
	GetUser(userID string) (domain.User, error)

	CreateGroup(name, creator, description string, isPrivate bool) (domain.Group, error)
	ListGroups() (map[string]domain.Group, error)
	GetGroup(groupID string) (domain.Group, error)
	JoinGroup(groupID, userID string) (bool, error)

	AppendMessage(groupID string, draft domain.MessageDraft) (domain.Message, error)
	RedactMessage(messageID, groupID string) (bool, error)
	MarkViewed(messageID, groupID, userID string) (bool, error)
	ListMessages(groupID string, cursor *string, limit int) ([]domain.Message, *string, error)
	SearchMessages(groupID, terms string, limit int) ([]domain.Message, error)

	CreateCall(callType domain.CallType, groupID, initiator string) (domain.Call, error)
	TransitionCall(callID string, status domain.CallStatus) (bool, error)
	GetCall(callID string) (domain.Call, error)

	SaveFile(record domain.FileRecord) (domain.FileRecord, error)
	Export() (Snapshot, error)
}

// Snapshot is the whole persisted state, in the shape the collaborators expect.
type Snapshot struct {
	Users  []domain.User           `json:"users"`
	Groups map[string]domain.Group `json:"groups"`
	Calls  []domain.Call           `json:"calls"`
	Files  []domain.FileRecord     `json:"files"`
}

type BadgerStore struct {
	db    *badger.DB
	log   *slog.Logger
	locks *locker.Locker
	index *MessageIndex
	now   func() time.Time
}

type Option func(*BadgerStore)

// WithSearchIndex keeps a full-text index of visible messages in sync with the store.
func WithSearchIndex(index *MessageIndex) Option {
	return func(s *BadgerStore) { s.index = index }
}

func WithClock(now func() time.Time) Option {
	return func(s *BadgerStore) { s.now = now }
}

// NewBadgerStore wraps an opened BadgerDB and seeds the default group if missing.
func NewBadgerStore(db *badger.DB, log *slog.Logger, opts ...Option) (*BadgerStore, error) {
	s := &BadgerStore{
		db:    db,
		log:   log,
		locks: locker.New(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.seedDefaultGroup(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) seedDefaultGroup() error {
	return s.withLock(groupLockKey(domain.DefaultGroupID), func() error {
		err := s.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(groupKey(domain.DefaultGroupID))
			if err == nil {
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			s.log.Info("Seeding default group", "group_id", domain.DefaultGroupID)
			return setJSON(txn, groupKey(domain.DefaultGroupID), toGroupRecord(domain.NewDefaultGroup(s.now())))
		})
		if err != nil {
			return errors.Unavailable("seed default group", err)
		}
		return nil
	})
}

// withLock serializes fn against every other operation holding the same key.
func (s *BadgerStore) withLock(key string, fn func() error) error {
	s.locks.Lock(key)
	defer func() { _ = s.locks.Unlock(key) }()
	return fn()
}

// Export reads the whole state in a single consistent view.
func (s *BadgerStore) Export() (Snapshot, error) {
	snapshot := Snapshot{Groups: make(map[string]domain.Group)}
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if snapshot.Users, err = scanJSON[domain.User](txn, []byte(userPrefix)); err != nil {
			return err
		}
		if snapshot.Groups, err = readGroups(txn); err != nil {
			return err
		}
		if snapshot.Calls, err = scanJSON[domain.Call](txn, []byte(callPrefix)); err != nil {
			return err
		}
		snapshot.Files, err = scanJSON[domain.FileRecord](txn, []byte(filePrefix))
		return err
	})
	if err != nil {
		return Snapshot{}, errors.Unavailable("export", err)
	}
	return snapshot, nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// scanJSON decodes every value under prefix, in key order.
func scanJSON[T any](txn *badger.Txn, prefix []byte) ([]T, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	res := make([]T, 0)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var v T
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}
