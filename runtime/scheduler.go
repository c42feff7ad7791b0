package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ghost-chat/contract"
	"ghost-chat/domain/event"
	"ghost-chat/errors"

	"github.com/jonboulle/clockwork"
)

// Redactor performs the redaction itself. It returns false when the message is
// already redacted, and an error matching ErrMessageNotFound when it does not exist.
type Redactor interface {
	RedactMessage(messageID, groupID string) (bool, error)
}

type RedactionState int

const (
	Unviewed RedactionState = iota
	PendingRedaction
	Redacted
)

func (s RedactionState) String() string {
	switch s {
	case PendingRedaction:
		return "pending_redaction"
	case Redacted:
		return "redacted"
	default:
		return "unviewed"
	}
}

type redaction struct {
	groupID string
	state   RedactionState
	timer   clockwork.Timer
}

// RedactionScheduler arms at most one timer per message and redacts it once
// the delay has elapsed. It only ever holds identifiers: the masked text is
// produced by the Redactor when the timer fires.
type RedactionScheduler struct {
	mu        sync.Mutex
	entries   map[string]*redaction
	clock     clockwork.Clock
	delay     time.Duration
	redactor  Redactor
	publisher contract.Publisher
	log       *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	inflight  sync.WaitGroup
	stopped   bool
}

func NewRedactionScheduler(
	clock clockwork.Clock,
	delay time.Duration,
	redactor Redactor,
	publisher contract.Publisher,
	log *slog.Logger,
) *RedactionScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedactionScheduler{
		entries:   make(map[string]*redaction),
		clock:     clock,
		delay:     delay,
		redactor:  redactor,
		publisher: publisher,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Trigger moves an unviewed message to PendingRedaction and arms its timer.
// It returns false, without side effects, for a message already pending or redacted.
func (s *RedactionScheduler) Trigger(messageID, groupID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if _, ok := s.entries[messageID]; ok {
		s.log.Debug("Redaction already scheduled", "message_id", messageID)
		return false
	}
	entry := &redaction{groupID: groupID, state: PendingRedaction}
	entry.timer = s.clock.AfterFunc(s.delay, func() { s.fire(messageID, entry) })
	s.entries[messageID] = entry
	return true
}

func (s *RedactionScheduler) fire(messageID string, entry *redaction) {
	s.mu.Lock()
	if s.stopped || s.entries[messageID] != entry || entry.state != PendingRedaction {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	redacted, err := s.redactor.RedactMessage(messageID, entry.groupID)

	s.mu.Lock()
	switch {
	case err != nil:
		// Never retried. Forgetting the entry lets a later view arm a new timer.
		delete(s.entries, messageID)
	default:
		entry.state = Redacted
		entry.timer = nil
	}
	s.mu.Unlock()

	if errors.Is(err, errors.ErrMessageNotFound) {
		s.log.Debug("Unknown message not redacted", "message_id", messageID, "group_id", entry.groupID)
		return
	}
	if err != nil {
		s.log.Error("Unable to redact message", "message_id", messageID, "group_id", entry.groupID, "error", err)
		return
	}
	if !redacted {
		s.log.Debug("Nothing to redact", "message_id", messageID, "group_id", entry.groupID)
		return
	}
	payload := event.MessageEncryptedPayload{MessageID: messageID, GroupID: entry.groupID}
	if err := s.publisher.Publish(s.ctx, contract.ToGroup(entry.groupID, event.New(event.MessageEncrypted, payload))); err != nil {
		s.log.Warn("Unable to publish redaction", "message_id", messageID, "error", err)
	}
}

// Cancel disarms a pending redaction and returns the message to Unviewed.
func (s *RedactionScheduler) Cancel(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[messageID]
	if !ok || entry.state != PendingRedaction {
		return false
	}
	entry.timer.Stop()
	delete(s.entries, messageID)
	return true
}

func (s *RedactionScheduler) State(messageID string) RedactionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[messageID]; ok {
		return entry.state
	}
	return Unviewed
}

// Len counts the messages the scheduler still tracks, pending or redacted.
func (s *RedactionScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop disarms every pending timer and waits for redactions already running.
func (s *RedactionScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, entry := range s.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	s.mu.Unlock()

	s.cancel()
	s.inflight.Wait()
}
