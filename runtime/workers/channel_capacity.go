package workers

import (
	"context"
	"log/slog"
	"reflect"
	"time"
)

type NamedChannel struct {
	Name    string
	Channel any
}

// ChannelCapacityWorker periodically samples the fill level of buffered channels.
// Reading len(channel) and cap(channel) is non-blocking, so sampling never
// interferes with producers or consumers.
// A channel filled above threshold percent is reported at Warn level, since
// publishers start blocking once it is full.
type ChannelCapacityWorker struct {
	log       *slog.Logger
	channels  []NamedChannel
	interval  time.Duration
	threshold int
}

func NewChannelCapacityWorker(log *slog.Logger, channels []NamedChannel, interval time.Duration, threshold int) *ChannelCapacityWorker {
	return &ChannelCapacityWorker{log: log, channels: channels, interval: interval, threshold: threshold}
}

func (w *ChannelCapacityWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Sample()
		}
	}
}

// Sample logs one reading per channel and returns how many are above the threshold.
func (w *ChannelCapacityWorker) Sample() int {
	saturated := 0
	for _, nc := range w.channels {
		v := reflect.ValueOf(nc.Channel)
		if v.Kind() != reflect.Chan {
			w.log.Error("Provided object is not a channel", "name", nc.Name)
			continue
		}
		capacity, length := v.Cap(), v.Len()
		if capacity == 0 {
			continue
		}
		fill := length * 100 / capacity
		if fill >= w.threshold {
			saturated++
			w.log.Warn("Channel close to saturation", "name", nc.Name, "length", length, "capacity", capacity, "fill_percent", fill)
			continue
		}
		w.log.Debug("Channel capacity", "name", nc.Name, "length", length, "capacity", capacity)
	}
	return saturated
}
