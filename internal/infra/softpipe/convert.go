package softpipe

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/faiface/beep"

	"github.com/osa030/sysaudio/internal/domain/audio"
)

// resampleQuality is the beep resampler quality (1-64).
const resampleQuality = 4

// convert returns a reader producing S16LE frames in the to format.
// Matching formats pass through untouched.
func convert(r io.Reader, from, to audio.PCMFormat) io.Reader {
	if from.Rate == to.Rate && from.Channels == to.Channels {
		return r
	}
	var s beep.Streamer = &s16Streamer{r: r, channels: from.Channels}
	if from.Rate != to.Rate {
		s = beep.Resample(resampleQuality, beep.SampleRate(from.Rate), beep.SampleRate(to.Rate), s)
	}
	return &s16Encoder{s: s, channels: to.Channels}
}

// s16Streamer decodes interleaved S16LE frames into beep samples. Mono is
// duplicated to both sides; channels beyond the second are dropped.
type s16Streamer struct {
	r        io.Reader
	channels int
	buf      []byte
	have     int
	eof      bool
	err      error
}

func (s *s16Streamer) Stream(samples [][2]float64) (int, bool) {
	bpf := 2 * s.channels
	want := len(samples) * bpf
	if len(s.buf) < want {
		grown := make([]byte, want)
		copy(grown, s.buf[:s.have])
		s.buf = grown
	}

	// Streamers fill the whole slice unless the input is drained.
	for s.have < want && !s.eof {
		n, err := s.r.Read(s.buf[s.have:want])
		s.have += n
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.err = err
			}
			s.eof = true
		}
	}

	frames := min(s.have/bpf, len(samples))
	for i := 0; i < frames; i++ {
		f := s.buf[i*bpf:]
		l := float64(int16(binary.LittleEndian.Uint16(f))) / 32768
		r := l
		if s.channels > 1 {
			r = float64(int16(binary.LittleEndian.Uint16(f[2:]))) / 32768
		}
		samples[i] = [2]float64{l, r}
	}
	used := frames * bpf
	copy(s.buf, s.buf[used:s.have])
	s.have -= used

	if frames == 0 {
		return 0, false
	}
	return frames, true
}

func (s *s16Streamer) Err() error {
	return s.err
}

// encodeFrames caps one encoder read so short pushes are not held back long.
const encodeFrames = 512

// s16Encoder encodes beep samples as interleaved S16LE.
type s16Encoder struct {
	s        beep.Streamer
	channels int
	samples  [][2]float64
}

func (e *s16Encoder) Read(p []byte) (int, error) {
	bpf := 2 * e.channels
	frames := min(len(p)/bpf, encodeFrames)
	if frames == 0 {
		return 0, io.ErrShortBuffer
	}
	if len(e.samples) < frames {
		e.samples = make([][2]float64, frames)
	}

	n, ok := e.s.Stream(e.samples[:frames])
	for i := 0; i < n; i++ {
		l, r := e.samples[i][0], e.samples[i][1]
		if e.channels == 1 {
			binary.LittleEndian.PutUint16(p[i*2:], uint16(toInt16((l+r)/2)))
			continue
		}
		binary.LittleEndian.PutUint16(p[i*bpf:], uint16(toInt16(l)))
		binary.LittleEndian.PutUint16(p[i*bpf+2:], uint16(toInt16(r)))
	}
	if !ok {
		if err := e.s.Err(); err != nil {
			return n * bpf, err
		}
		return n * bpf, io.EOF
	}
	return n * bpf, nil
}

func toInt16(v float64) int16 {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	default:
		return int16(v * 32767)
	}
}
