package repositories

import (
	"context"
	"log/slog"

	"ghost-chat/domain"

	"github.com/blugelabs/bluge"
)

const (
	groupIDField = "groupId"
	textField    = "text"
	idField      = "_id"
)

// MessageIndex keeps the plaintext of visible messages searchable.
// A redacted message is removed so its original text can no longer be found.
type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewMessageIndex(writer *bluge.Writer, log *slog.Logger) *MessageIndex {
	return &MessageIndex{writer: writer, log: log}
}

func (i *MessageIndex) Index(message domain.Message) error {
	doc := bluge.NewDocument(message.ID).
		AddField(bluge.NewKeywordField(groupIDField, message.GroupID).StoreValue()).
		AddField(bluge.NewTextField(textField, message.Text))
	return i.writer.Update(doc.ID(), doc)
}

func (i *MessageIndex) Remove(messageID string) error {
	return i.writer.Delete(bluge.Identifier(messageID))
}

// Search returns the ids of the best matching messages of a group.
func (i *MessageIndex) Search(ctx context.Context, groupID, terms string, limit int) ([]string, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	query := bluge.NewBooleanQuery().
		AddMust(bluge.NewTermQuery(groupID).SetField(groupIDField)).
		AddMust(bluge.NewMatchQuery(terms).SetField(textField))
	matches, err := reader.Search(ctx, bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, err
	}

	var ids []string
	match, err := matches.Next()
	for err == nil && match != nil {
		visitErr := match.VisitStoredFields(func(field string, value []byte) bool {
			if field == idField {
				ids = append(ids, string(value))
				return false
			}
			return true
		})
		if visitErr != nil {
			return nil, visitErr
		}
		match, err = matches.Next()
	}
	if err != nil {
		return nil, err
	}
	i.log.Debug("Search done", "group_id", groupID, "hits", len(ids))
	return ids, nil
}
