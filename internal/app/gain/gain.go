// Package gain converts logical volumes into hardware mixer gain commands.
package gain

import (
	"fmt"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/sysaudio/internal/domain/audio"
)

var (
	ErrNoSink         = errors.New("gain sink not available")
	ErrInvalidVolume  = errors.New("volume out of range")
	ErrUnknownChannel = errors.New("unknown mixer channel")
)

// Mixer range in dB. 0 is maximum, MuteFloorDB is the quietest level the
// mixer accepts and is used for a logical volume of 0.
const (
	MaxGainDB   = 0
	MuteFloorDB = -96
)

// notApplied marks a channel that has never been written.
const notApplied = -1

// Channel is a mixer channel.
type Channel int

const (
	Primary Channel = iota // Main/primary audio, used for ducking
	System                 // System sounds
	App                    // Application speech (TTS)
)

// String returns the string representation of the channel.
func (c Channel) String() string {
	switch c {
	case Primary:
		return "primary"
	case System:
		return "system"
	case App:
		return "app"
	default:
		return "unknown"
	}
}

// parameter returns the mixer parameter name of the channel.
func (c Channel) parameter() (string, bool) {
	switch c {
	case Primary:
		return "prim_mixgain", true
	case System:
		return "syss_mixgain", true
	case App:
		return "apps_mixgain", true
	default:
		return "", false
	}
}

// ChannelForMode returns the channel a player of the given mode drives.
func ChannelForMode(mode audio.PlayMode) Channel {
	if mode == audio.App {
		return App
	}
	return System
}

// Sink accepts mixer commands such as "prim_mixgain=-6".
type Sink interface {
	SetParameters(command string) error
}

// ToDecibel converts a logical volume (0-100) to an integer gain in dB.
func ToDecibel(volume int) int {
	if volume <= 0 {
		return MuteFloorDB
	}
	if volume >= 100 {
		return MaxGainDB
	}
	db := math.Round(20 * math.Log10(float64(volume)/100))
	return int(math.Max(db, MuteFloorDB))
}

// Command formats the mixer command for a channel and gain.
func Command(ch Channel, db int) (string, error) {
	name, ok := ch.parameter()
	if !ok {
		return "", errors.Wrapf(ErrUnknownChannel, "channel %d", int(ch))
	}
	return fmt.Sprintf("%s=%d", name, db), nil
}

// Controller applies volumes to mixer channels and skips writes that would
// not change the last applied value.
type Controller struct {
	mu          sync.Mutex
	sink        Sink
	lastApplied map[Channel]int
}

// NewController creates a controller. sink may be nil when the platform has
// no mixer control; every Apply then fails with ErrNoSink.
func NewController(sink Sink) *Controller {
	return &Controller{
		sink: sink,
		lastApplied: map[Channel]int{
			Primary: notApplied,
			System:  notApplied,
			App:     notApplied,
		},
	}
}

// Available reports whether a sink is present.
func (c *Controller) Available() bool {
	return c.sink != nil
}

// Apply sets the channel to the logical volume. Repeating the last applied
// volume is a no-op. The cache is only updated when the sink accepts the
// command, so a failed write is retried by the next identical call. Failed
// writes are returned, not logged.
func (c *Controller) Apply(ch Channel, volume int) error {
	if volume < 0 || volume > 100 {
		return errors.Wrapf(ErrInvalidVolume, "volume=%d", volume)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lastApplied[ch]
	if !ok {
		return errors.Wrapf(ErrUnknownChannel, "channel %d", int(ch))
	}
	if last == volume {
		return nil
	}
	if c.sink == nil {
		return ErrNoSink
	}

	db := ToDecibel(volume)
	cmd, err := Command(ch, db)
	if err != nil {
		return err
	}

	if err := c.sink.SetParameters(cmd); err != nil {
		return errors.Wrapf(err, "failed to apply %s", cmd)
	}

	zlog.Info().Msgf("gain: set parameter: cmd=%s volume=%d", cmd, volume)
	c.lastApplied[ch] = volume
	return nil
}

// LastApplied returns the last volume written to the channel, or -1.
func (c *Controller) LastApplied(ch Channel) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.lastApplied[ch]; ok {
		return v
	}
	return notApplied
}
