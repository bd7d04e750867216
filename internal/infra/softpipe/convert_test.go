package softpipe

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/sysaudio/internal/domain/audio"
)

func pcm(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func samplesOf(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func format(rate, channels int) audio.PCMFormat {
	return audio.PCMFormat{Format: audio.FormatS16LE, Rate: rate, Channels: channels, Layout: audio.LayoutInterleaved}
}

func TestConvert_PassThrough(t *testing.T) {
	in := bytes.NewReader(pcm(1, 2, 3, 4))
	r := convert(in, format(48000, 2), format(48000, 2))
	assert.Same(t, in, r)
}

func TestConvert_MonoToStereo(t *testing.T) {
	in := pcm(0, 16384, -16384)
	r := convert(bytes.NewReader(in), format(48000, 1), format(48000, 2))

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	got := samplesOf(out)
	require.Len(t, got, 6)
	for i := 0; i < 3; i++ {
		assert.Equal(t, got[i*2], got[i*2+1], "frame %d should be duplicated", i)
	}
	assert.InDelta(t, 16383, got[2], 2)
	assert.InDelta(t, -16384, got[4], 2)
}

func TestConvert_StereoToMono(t *testing.T) {
	in := pcm(1000, 3000, -2000, -4000)
	r := convert(bytes.NewReader(in), format(48000, 2), format(48000, 1))

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	got := samplesOf(out)
	require.Len(t, got, 2)
	assert.InDelta(t, 2000, got[0], 2)
	assert.InDelta(t, -3000, got[1], 2)
}

func TestConvert_Resample(t *testing.T) {
	const frames = 2400
	in := make([]int16, frames)
	for i := range in {
		in[i] = int16(i % 100 * 100)
	}
	r := convert(bytes.NewReader(pcm(in...)), format(24000, 1), format(48000, 2))

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	gotFrames := len(out) / 4
	assert.InDelta(t, frames*2, gotFrames, 64)
}

func TestConvert_DropsPartialFrame(t *testing.T) {
	in := append(pcm(100, 200), 0x01)
	r := convert(bytes.NewReader(in), format(8000, 2), format(8000, 1))

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestToInt16(t *testing.T) {
	assert.Equal(t, int16(32767), toInt16(1.5))
	assert.Equal(t, int16(-32768), toInt16(-2))
	assert.Equal(t, int16(0), toInt16(0))
}
