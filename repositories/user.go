package repositories

import (
	"sort"

	"ghost-chat/domain"
	"ghost-chat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// UpsertUser creates the user on first join, otherwise marks the existing one
// online and refreshes lastSeen. Usernames match exactly, case included.
func (s *BadgerStore) UpsertUser(username string) (domain.User, error) {
	if username == "" {
		return domain.User{}, errors.ErrUsernameRequired
	}
	var user domain.User
	err := s.withLock(usernameLockKey(username), func() error {
		userID, err := s.lookupUsername(username)
		if err != nil {
			return err
		}
		if userID == "" {
			user, err = s.createUser(username)
			return err
		}
		// The username -> id mapping never changes once written, so the
		// record itself is guarded by the per-id lock shared with SetUserOnline.
		return s.withLock(userLockKey(userID), func() error {
			return s.db.Update(func(txn *badger.Txn) error {
				if err := getJSON(txn, userKey(userID), &user); err != nil {
					return err
				}
				user.IsOnline = true
				user.LastSeen = s.now()
				return setJSON(txn, userKey(userID), user)
			})
		})
	})
	if err != nil {
		return domain.User{}, errors.Unavailable("upsert user", err)
	}
	return user, nil
}

func (s *BadgerStore) lookupUsername(username string) (string, error) {
	var userID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(usernameKey(username))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		userID = string(value)
		return err
	})
	return userID, err
}

func (s *BadgerStore) createUser(username string) (domain.User, error) {
	now := s.now()
	user := domain.User{
		ID:        uuid.NewString(),
		Username:  username,
		IsOnline:  true,
		LastSeen:  now,
		CreatedAt: now,
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(usernameKey(username), []byte(user.ID)); err != nil {
			return err
		}
		return setJSON(txn, userKey(user.ID), user)
	})
	if err != nil {
		return domain.User{}, err
	}
	s.log.Debug("User created", "user_id", user.ID, "username", username)
	return user, nil
}

// SetUserOnline updates the durable presence flag. It returns false when the user is unknown.
func (s *BadgerStore) SetUserOnline(userID string, online bool) (bool, error) {
	found := false
	err := s.withLock(userLockKey(userID), func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			var user domain.User
			err := getJSON(txn, userKey(userID), &user)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			found = true
			user.IsOnline = online
			user.LastSeen = s.now()
			return setJSON(txn, userKey(userID), user)
		})
	})
	if err != nil {
		return false, errors.Unavailable("set user online", err)
	}
	return found, nil
}

// ListOnlineUsers returns users whose durable flag is set, sorted by username.
func (s *BadgerStore) ListOnlineUsers() ([]domain.User, error) {
	var users []domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		users, err = scanJSON[domain.User](txn, []byte(userPrefix))
		return err
	})
	if err != nil {
		return nil, errors.Unavailable("list online users", err)
	}
	online := lo.Filter(users, func(u domain.User, _ int) bool { return u.IsOnline })
	sort.Slice(online, func(i, j int) bool { return online[i].Username < online[j].Username })
	return online, nil
}

func (s *BadgerStore) GetUser(userID string) (domain.User, error) {
	var user domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(userID), &user)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.User{}, errors.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, errors.Unavailable("get user", err)
	}
	return user, nil
}
