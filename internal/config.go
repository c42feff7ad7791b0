package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

type Config struct {
	LogLevel  string `env:"LOG_LEVEL,default=INFO"`
	Host      string `env:"HOST,default=0.0.0.0"`
	Port      int    `env:"PORT,default=8000"`
	DebugPort int    `env:"DEBUG_PORT,default=0"`

	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/badger"`
	BadgerInMemory bool   `env:"BADGER_IN_MEMORY,default=false"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,default=./data/bluge"`

	UploadDir     string `env:"UPLOAD_DIR,default=./uploads"`
	MaxUploadSize int    `env:"MAX_UPLOAD_SIZE,default=10485760"`

	RedactionDelay       time.Duration `env:"REDACTION_DELAY,default=1s"`
	BufferSize           int           `env:"BUFFER_SIZE,default=1024"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=256"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=250ms"`
	MaxFrameSize         int           `env:"MAX_FRAME_SIZE,default=1048576"`
	PruneInterval        time.Duration `env:"PRUNE_INTERVAL,default=30s"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL,default=1m"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=2s"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=10s"`
	LowCapacityThreshold int           `env:"LOW_CAPACITY_THRESHOLD,default=80"`
	CharReplacement      string        `env:"CHARACTER_REPLACEMENT,default=*"`
	EnableModeration     bool          `env:"ENABLE_MODERATION,default=true"`
	AllowedOrigins       string        `env:"ALLOWED_ORIGINS,default=*"`
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins splits ALLOWED_ORIGINS on commas, dropping blanks.
func (c Config) Origins() []string {
	parts := lo.Map(strings.Split(c.AllowedOrigins, ","), func(s string, _ int) string { return strings.TrimSpace(s) })
	return lo.Compact(parts)
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
