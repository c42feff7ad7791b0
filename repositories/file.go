package repositories

import (
	"ghost-chat/domain"
	"ghost-chat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// SaveFile persists the metadata of an uploaded file, assigning an id when missing.
func (s *BadgerStore) SaveFile(record domain.FileRecord) (domain.FileRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.UploadedAt.IsZero() {
		record.UploadedAt = s.now()
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, fileKey(record.ID), record)
	})
	if err != nil {
		return domain.FileRecord{}, errors.Unavailable("save file", err)
	}
	return record, nil
}
