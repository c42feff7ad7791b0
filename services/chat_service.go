package services

import (
	"context"
	"log/slog"

	"ghost-chat/contract"
	"ghost-chat/domain"
	"ghost-chat/domain/chat"
	"ghost-chat/domain/event"
	"ghost-chat/repositories"
)

// RedactionTrigger arms the delayed redaction of a viewed message.
type RedactionTrigger interface {
	Trigger(messageID, groupID string) bool
}

// ActiveUsers lists users with a live connection.
type ActiveUsers interface {
	ListActive() []domain.User
}

type IChatService interface {
	ListGroups() (map[string]domain.Group, error)
	CreateGroup(ctx context.Context, cmd chat.CreateGroupCommand) (domain.Group, error)
	JoinGroup(ctx context.Context, cmd chat.JoinGroupCommand) error
	GetMessages(cmd chat.GetMessagesCommand) ([]domain.Message, *string, error)
	SearchMessages(cmd chat.SearchMessagesCommand) ([]domain.Message, error)
	ViewMessage(cmd chat.ViewMessageCommand)
	OnlineUsers() []domain.User
}

// ChatService serves the REST reads and writes over the same store and
// scheduler as the real-time path, so both stay consistent.
type ChatService struct {
	log       *slog.Logger
	store     repositories.IStore
	scheduler RedactionTrigger
	presence  ActiveUsers
	publisher contract.Publisher
}

func NewChatService(
	log *slog.Logger,
	store repositories.IStore,
	scheduler RedactionTrigger,
	presence ActiveUsers,
	publisher contract.Publisher,
) *ChatService {
	return &ChatService{
		log:       log,
		store:     store,
		scheduler: scheduler,
		presence:  presence,
		publisher: publisher,
	}
}

func (s *ChatService) ListGroups() (map[string]domain.Group, error) {
	return s.store.ListGroups()
}

func (s *ChatService) CreateGroup(ctx context.Context, cmd chat.CreateGroupCommand) (domain.Group, error) {
	group, err := s.store.CreateGroup(cmd.Name, cmd.CreatedBy, cmd.Description, cmd.IsPrivate)
	if err != nil {
		return domain.Group{}, err
	}
	s.broadcastGroups(ctx)
	return group, nil
}

// JoinGroup is idempotent: joining a group twice succeeds without a broadcast.
func (s *ChatService) JoinGroup(ctx context.Context, cmd chat.JoinGroupCommand) error {
	joined, err := s.store.JoinGroup(cmd.GroupID, cmd.UserID)
	if err != nil {
		return err
	}
	if !joined {
		_, err := s.store.GetGroup(cmd.GroupID)
		return err
	}
	s.broadcastGroups(ctx)
	return nil
}

func (s *ChatService) GetMessages(cmd chat.GetMessagesCommand) ([]domain.Message, *string, error) {
	return s.store.ListMessages(cmd.GroupID, cmd.Cursor, cmd.Limit)
}

func (s *ChatService) SearchMessages(cmd chat.SearchMessagesCommand) ([]domain.Message, error) {
	return s.store.SearchMessages(cmd.GroupID, cmd.Query, cmd.Limit)
}

// ViewMessage records the viewer when known and arms the redaction. A message
// the store does not know is left alone.
func (s *ChatService) ViewMessage(cmd chat.ViewMessageCommand) {
	if cmd.UserID != "" {
		found, err := s.store.MarkViewed(cmd.MessageID, cmd.GroupID, cmd.UserID)
		switch {
		case err != nil:
			s.log.Warn("Unable to record viewer", "messageID", cmd.MessageID, "error", err)
		case !found:
			s.log.Debug("View of unknown message dropped", "messageID", cmd.MessageID)
			return
		}
	}
	s.scheduler.Trigger(cmd.MessageID, cmd.GroupID)
}

func (s *ChatService) OnlineUsers() []domain.User {
	return s.presence.ListActive()
}

// broadcastGroups is best effort: the write already succeeded.
func (s *ChatService) broadcastGroups(ctx context.Context) {
	groups, err := s.store.ListGroups()
	if err != nil {
		s.log.Warn("Unable to list groups for broadcast", "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, contract.ToAll(event.New(event.GroupsUpdated, groups))); err != nil {
		s.log.Warn("Unable to broadcast groups", "error", err)
	}
}
