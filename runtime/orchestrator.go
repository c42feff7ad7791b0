// Package runtime wires the session core: presence, fan-out, delayed redaction,
// calls and the event dispatcher. It owns their lifecycle, not their rules.
package runtime

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ghost-chat/contract"
	"ghost-chat/moderation"
	"ghost-chat/repositories"
	"ghost-chat/runtime/workers"

	"github.com/jonboulle/clockwork"
)

//go:embed censored/*
var censoredFolder embed.FS

type Config struct {
	BufferSize        int
	SinkTimeout       time.Duration
	RedactionDelay    time.Duration
	PruneInterval     time.Duration
	HeartbeatInterval time.Duration
	// CapacityInterval samples the fanout buffer when non zero.
	CapacityInterval  time.Duration
	CapacityThreshold int
	EnableModeration  bool
	CharReplacement   rune
}

type Orchestrator struct {
	mu         sync.Mutex
	log        *slog.Logger
	cfg        Config
	supervisor contract.ISupervisor
	registry   *PresenceRegistry
	fanout     *workers.EventFanout
	scheduler  *RedactionScheduler
	calls      *CallCoordinator
	dispatcher *EventDispatcher
	started    bool
}

// NewOrchestrator builds every component around store. Nothing runs until Start.
func NewOrchestrator(
	log *slog.Logger,
	store repositories.IStore,
	supervisor contract.ISupervisor,
	clock clockwork.Clock,
	cfg Config,
) (*Orchestrator, error) {
	registry := NewPresenceRegistry()
	fanout := workers.NewEventFanout(log, registry, store, cfg.BufferSize, cfg.SinkTimeout)
	scheduler := NewRedactionScheduler(clock, cfg.RedactionDelay, store, fanout, log)
	calls := NewCallCoordinator(store, registry, fanout, log)

	var opts []DispatcherOption
	if cfg.EnableModeration {
		moderator, err := prepareModeration(log, cfg.CharReplacement)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithModerator(moderator))
	}

	return &Orchestrator{
		log:        log,
		cfg:        cfg,
		supervisor: supervisor,
		registry:   registry,
		fanout:     fanout,
		scheduler:  scheduler,
		calls:      calls,
		dispatcher: NewEventDispatcher(store, registry, scheduler, calls, fanout, log, opts...),
	}, nil
}

// prepareModeration loads censored words and builds the Aho-Corasick automaton.
func prepareModeration(log *slog.Logger, charReplacement rune) (*moderation.Moderator, error) {
	data, err := NewCensoredLoader(censoredFolder).LoadAll("censored")
	if err != nil {
		return nil, err
	}
	log.Info(fmt.Sprintf("%d censored files loaded [%s]",
		len(data.Languages), strings.Join(data.Languages, ",")))
	log.Info(fmt.Sprintf("%d unique censored words loaded", len(data.Words)))
	return moderation.NewModerator(data.Words, charReplacement, log)
}

func (o *Orchestrator) Dispatcher() *EventDispatcher { return o.dispatcher }

func (o *Orchestrator) Scheduler() *RedactionScheduler { return o.scheduler }

func (o *Orchestrator) Registry() *PresenceRegistry { return o.registry }

// Publisher feeds the fanout, for collaborators that emit outside the dispatcher.
func (o *Orchestrator) Publisher() contract.Publisher { return o.fanout }

// Start registers the long-lived workers and blocks while the supervisor runs them.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	o.started = true
	o.supervisor.Add(o.fanout)
	if o.cfg.PruneInterval > 0 {
		o.supervisor.Add(workers.NewPresenceJanitor(o.log, o.dispatcher, o.cfg.PruneInterval))
	}
	if o.cfg.HeartbeatInterval > 0 {
		o.supervisor.Add(workers.NewHeartbeatWorker(o.log, o.registry, o.cfg.HeartbeatInterval))
	}
	if o.cfg.CapacityInterval > 0 {
		o.supervisor.Add(workers.NewChannelCapacityWorker(o.log,
			[]workers.NamedChannel{o.fanout.Queue()}, o.cfg.CapacityInterval, o.cfg.CapacityThreshold))
	}
	o.mu.Unlock()

	o.log.Info("Starting orchestrator and all supervised workers")
	o.supervisor.Run(ctx)
	return nil
}

// Stop disarms pending redactions, stops the workers and forgets every session.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.scheduler.Stop()
	o.supervisor.Stop()
	o.registry.Close()
}
