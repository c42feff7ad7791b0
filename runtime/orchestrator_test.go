package runtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"ghost-chat/contract"
	"ghost-chat/domain/event"
	"ghost-chat/mocks"
	"ghost-chat/repositories"
	"ghost-chat/runtime/workers"

	"github.com/dgraph-io/badger/v4"
	"github.com/jonboulle/clockwork"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestStore(t *testing.T) *repositories.BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := repositories.NewBadgerStore(db, logs.GetLoggerFromLevel(slog.LevelDebug))
	require.NoError(t, err)
	return store
}

func TestOrchestrator_Registers_Configured_Workers(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	supervisor := mocks.NewMockISupervisor(ctrl)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	orch, err := NewOrchestrator(log, newTestStore(t), supervisor, clockwork.NewFakeClock(), Config{
		BufferSize:        8,
		SinkTimeout:       time.Second,
		RedactionDelay:    time.Second,
		PruneInterval:     time.Minute,
		HeartbeatInterval: time.Minute,
		CapacityInterval:  time.Minute,
		CapacityThreshold: 80,
	})
	req.NoError(err)

	// Then fanout, janitor, heartbeat and capacity sampler are supervised
	var added []string
	supervisor.EXPECT().Add(gomock.Any()).DoAndReturn(func(ws ...contract.Worker) contract.ISupervisor {
		for _, w := range ws {
			added = append(added, contract.GetWorkerName(w))
		}
		return supervisor
	}).Times(4)
	supervisor.EXPECT().Run(gomock.Any())

	req.NoError(orch.Start(context.Background()))
	req.Equal([]string{"EventFanout", "PresenceJanitor", "HeartbeatWorker", "ChannelCapacityWorker"}, added)

	// And a second start is refused
	req.Error(orch.Start(context.Background()))
}

func TestOrchestrator_Skips_Disabled_Workers(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	supervisor := mocks.NewMockISupervisor(ctrl)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	orch, err := NewOrchestrator(log, newTestStore(t), supervisor, clockwork.NewFakeClock(), Config{BufferSize: 8})
	req.NoError(err)

	supervisor.EXPECT().Add(gomock.Any()).Return(supervisor).Times(1)
	supervisor.EXPECT().Run(gomock.Any())

	req.NoError(orch.Start(context.Background()))
}

func TestOrchestrator_Stop_Ends_Sessions(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	orch, err := NewOrchestrator(log, newTestStore(t), workers.NewSupervisor(log, 10*time.Millisecond),
		clockwork.NewFakeClock(), Config{BufferSize: 8, SinkTimeout: time.Second, RedactionDelay: time.Second})
	req.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = orch.Start(ctx)
		close(done)
	}()

	// Given a joined user
	conn := newRecordingConn()
	req.NoError(orch.Dispatcher().Handle(context.Background(), conn, event.Inbound{
		Type: event.Join, Payload: []byte(`{"username":"alice"}`),
	}))
	req.Eventually(func() bool { return len(conn.ReceivedOf(event.GroupsUpdated)) == 1 }, waitFor, tick)
	req.Equal(1, orch.Registry().Len())

	// When the orchestrator stops
	orch.Stop()

	// Then Start returns and the registry is empty
	req.Eventually(func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, waitFor, tick)
	req.Equal(0, orch.Registry().Len())
}
