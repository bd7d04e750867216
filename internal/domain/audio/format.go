package audio

import "fmt"

// Sample formats and layouts understood by the pipeline backends.
const (
	FormatS16LE       = "S16LE"
	LayoutInterleaved = "interleaved"
)

// PCMFormat describes raw PCM caps.
type PCMFormat struct {
	Format   string
	Rate     int
	Channels int
	Layout   string
}

// DefaultPCMFormat returns the caps a PCM player starts with.
// System players default to CD rate stereo, App players to the TTS rate mono.
func DefaultPCMFormat(mode PlayMode) PCMFormat {
	if mode == System {
		return PCMFormat{Format: FormatS16LE, Rate: 44100, Channels: 2, Layout: LayoutInterleaved}
	}
	return PCMFormat{Format: FormatS16LE, Rate: 22050, Channels: 1, Layout: LayoutInterleaved}
}

// BytesPerFrame returns the size of one interleaved frame, or 0 for unknown formats.
func (f PCMFormat) BytesPerFrame() int {
	if f.Format != FormatS16LE {
		return 0
	}
	return 2 * f.Channels
}

// Valid reports whether every field is set to a usable value.
func (f PCMFormat) Valid() bool {
	return f.Format != "" && f.Layout != "" && f.Rate > 0 && f.Channels > 0
}

// String returns caps in a compact "audio/x-raw" notation.
func (f PCMFormat) String() string {
	return fmt.Sprintf("audio/x-raw,format=%s,rate=%d,channels=%d,layout=%s", f.Format, f.Rate, f.Channels, f.Layout)
}
