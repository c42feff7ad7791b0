package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ghost-chat/domain"
	"ghost-chat/domain/event"
)

// RunTeamScenario drives two users through presence, group creation,
// a message, its view and redaction, then a disconnect.
// The group name is unique per run so a persistent server can be reused.
func RunTeamScenario(ctx context.Context, cfg Config, logf Logf) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	Step(cfg, logf, "alice and bob join")
	alice, err := Dial(ctx, cfg, "alice", logf)
	if err != nil {
		return err
	}
	defer alice.Close()
	bob, err := Dial(ctx, cfg, "bob", logf)
	if err != nil {
		return err
	}
	defer bob.Close()

	if err := alice.Send(event.Join, event.JoinPayload{Username: "alice"}); err != nil {
		return err
	}
	if err := alice.Expect(ctx, event.GroupsUpdated, nil, nil); err != nil {
		return err
	}
	if err := bob.Send(event.Join, event.JoinPayload{Username: "bob"}); err != nil {
		return err
	}
	var bobUser domain.User
	if err := alice.Expect(ctx, event.UserConnected, &bobUser, hasField("username", "bob")); err != nil {
		return err
	}
	logf("bob is %s", bobUser.ID)

	Step(cfg, logf, "alice creates a group")
	name := fmt.Sprintf("Team %d", time.Now().UnixNano())
	groupID := domain.GroupIDFromName(name)
	if err := alice.Send(event.CreateGroup, event.CreateGroupPayload{Name: name}); err != nil {
		return err
	}
	for _, c := range []*Client{alice, bob} {
		if err := c.Expect(ctx, event.GroupsUpdated, nil, hasKey(groupID)); err != nil {
			return err
		}
	}

	Step(cfg, logf, "alice sends, bob views")
	if err := alice.Send(event.SendMessage, event.SendMessagePayload{GroupID: groupID, Text: "the meeting is at noon"}); err != nil {
		return err
	}
	var message domain.Message
	if err := bob.Expect(ctx, event.NewMessage, &message, hasField("groupId", groupID)); err != nil {
		return err
	}
	if err := bob.Send(event.MarkMessageViewed, event.MessageRefPayload{MessageID: message.ID, GroupID: groupID}); err != nil {
		return err
	}

	Step(cfg, logf, "the message is redacted for everyone")
	for _, c := range []*Client{alice, bob} {
		if err := c.Expect(ctx, event.MessageEncrypted, nil, hasField("messageId", message.ID)); err != nil {
			return err
		}
	}

	Step(cfg, logf, "bob leaves")
	bob.Close()
	if err := alice.Expect(ctx, event.UserDisconnected, nil, hasField("userId", bobUser.ID)); err != nil {
		return err
	}
	logf("scenario completed")
	return nil
}

func hasField(field, want string) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var fields map[string]any
		if json.Unmarshal(raw, &fields) != nil {
			return false
		}
		return fields[field] == want
	}
}

func hasKey(key string) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var groups map[string]json.RawMessage
		if json.Unmarshal(raw, &groups) != nil {
			return false
		}
		_, ok := groups[key]
		return ok
	}
}
