package softpipe

import (
	"bufio"
	"encoding/binary"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-audio/audio"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	sapaudio "github.com/osa030/sysaudio/internal/domain/audio"
	"github.com/osa030/sysaudio/internal/domain/media"
)

var errNotMPEG = errors.New("not an MPEG audio stream")

// decoded is the raw output of the parse/decode stages.
type decoded struct {
	r        io.Reader
	format   sapaudio.PCMFormat
	duration time.Duration
}

// decode links the parse and decode stages of topo behind src.
func decode(topo media.Topology, src *source, caps sapaudio.PCMFormat) (*decoded, error) {
	switch {
	case topo.Has(media.StageWavParse):
		return decodeWav(src)
	case topo.Has(media.StageMP3Decode):
		return decodeMP3(src)
	default:
		d := &decoded{r: src.r, format: caps}
		if bpf := caps.BytesPerFrame(); src.size > 0 && bpf > 0 {
			d.duration = frameDuration(src.size/int64(bpf), caps.Rate)
		}
		return d, nil
	}
}

func frameDuration(frames int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(rate)
}

func decodeWav(src *source) (*decoded, error) {
	if src.seeker == nil {
		return decodeWavStream(src)
	}

	d := wav.NewDecoder(src.seeker)
	if !d.IsValidFile() {
		return nil, tag(media.ElementWavParse, errors.New("invalid WAV header"))
	}
	if err := d.FwdToPCM(); err != nil {
		return nil, tag(media.ElementWavParse, err)
	}

	channels := int(d.NumChans)
	rate := int(d.SampleRate)
	depth := int(d.BitDepth)
	switch depth {
	case 8, 16, 24, 32:
	default:
		return nil, tag(media.ElementWavParse, errors.Newf("unsupported bit depth %d", depth))
	}

	out := &decoded{
		r: &wavReader{
			d:     d,
			depth: depth,
			buf: &audio.IntBuffer{
				Data:   make([]int, 4096*channels),
				Format: &audio.Format{NumChannels: channels, SampleRate: rate},
			},
		},
		format: sapaudio.PCMFormat{
			Format:   sapaudio.FormatS16LE,
			Rate:     rate,
			Channels: channels,
			Layout:   sapaudio.LayoutInterleaved,
		},
	}
	if frameBytes := int64(channels * depth / 8); frameBytes > 0 {
		out.duration = frameDuration(d.PCMLen()/frameBytes, rate)
	}
	return out, nil
}

// wavFormatExtensible is the WAVE_FORMAT_EXTENSIBLE format tag.
const wavFormatExtensible = 0xFFFE

// decodeWavStream reads the RIFF header from a stream that cannot seek and
// passes the data chunk through. A data size of 0 or 0xFFFFFFFF marks a
// live stream that runs until its source ends.
func decodeWavStream(src *source) (*decoded, error) {
	parser := riff.New(src.r)
	if err := parser.ParseHeaders(); err != nil {
		if parser.ID != riff.RiffID && parser.ID != ([4]byte{}) {
			return nil, tag(media.ElementWavParse, errors.New("invalid WAV header"))
		}
		return nil, tag(media.ElementWavParse, err)
	}
	if parser.Format != riff.WavFormatID {
		return nil, tag(media.ElementWavParse, errors.Newf("unsupported RIFF format %q", parser.Format[:]))
	}

	for {
		ch, err := parser.NextChunk()
		if err != nil {
			return nil, tag(media.ElementWavParse, errors.Wrap(err, "no data chunk"))
		}
		switch ch.ID {
		case riff.FmtID:
			if err := ch.DecodeWavHeader(parser); err != nil {
				return nil, tag(media.ElementWavParse, errors.Wrap(err, "fmt chunk"))
			}
			ch.Drain()
		case riff.DataFormatID:
			return wavData(src, parser, ch.Size)
		default:
			ch.Drain()
		}
	}
}

// wavData builds the decoded stream for a data chunk of size bytes.
func wavData(src *source, parser *riff.Parser, size int) (*decoded, error) {
	channels := int(parser.NumChannels)
	rate := int(parser.SampleRate)
	depth := int(parser.BitsPerSample)
	switch {
	case rate == 0 || channels == 0:
		return nil, tag(media.ElementWavParse, errors.New("data chunk before fmt chunk"))
	case parser.WavAudioFormat != 1 && parser.WavAudioFormat != wavFormatExtensible:
		return nil, tag(media.ElementWavParse, errors.Newf("unsupported WAV encoding %d", parser.WavAudioFormat))
	}
	switch depth {
	case 8, 16, 24, 32:
	default:
		return nil, tag(media.ElementWavParse, errors.Newf("unsupported bit depth %d", depth))
	}

	r := src.r
	if size > 0 {
		r = io.LimitReader(r, int64(size))
	}
	out := &decoded{
		r: r,
		format: sapaudio.PCMFormat{
			Format:   sapaudio.FormatS16LE,
			Rate:     rate,
			Channels: channels,
			Layout:   sapaudio.LayoutInterleaved,
		},
	}
	if depth != 16 {
		width := depth / 8
		out.r = &sampleReader{r: r, depth: depth, in: make([]byte, 4096*width)}
	}
	if frameBytes := channels * depth / 8; size > 0 {
		out.duration = frameDuration(int64(size/frameBytes), rate)
	}
	return out, nil
}

// sampleReader re-encodes little-endian samples of another bit depth as
// S16LE. A trailing partial sample is dropped.
type sampleReader struct {
	r       io.Reader
	depth   int
	in      []byte
	held    int
	out     []byte
	pending []byte
	err     error
}

func (s *sampleReader) Read(p []byte) (int, error) {
	width := s.depth / 8
	for len(s.pending) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		n, err := s.r.Read(s.in[s.held:])
		total := s.held + n
		whole := total - total%width
		s.out = s.out[:0]
		for off := 0; off < whole; off += width {
			v := toS16(sampleAt(s.in[off:off+width]), s.depth)
			s.out = binary.LittleEndian.AppendUint16(s.out, uint16(v))
		}
		s.held = copy(s.in, s.in[whole:total])
		s.pending = s.out
		s.err = err
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// sampleAt reads one sample the way the WAV decoder reports it: 8-bit
// samples unsigned, wider ones signed.
func sampleAt(b []byte) int {
	switch len(b) {
	case 1:
		return int(b[0])
	case 2:
		return int(int16(binary.LittleEndian.Uint16(b)))
	case 3:
		return int(b[0]) | int(b[1])<<8 | int(int8(b[2]))<<16
	default:
		return int(int32(binary.LittleEndian.Uint32(b)))
	}
}

// wavReader re-encodes decoded WAV samples as S16LE.
type wavReader struct {
	d       *wav.Decoder
	depth   int
	buf     *audio.IntBuffer
	pending []byte
	out     []byte
}

func (w *wavReader) Read(p []byte) (int, error) {
	if len(w.pending) == 0 {
		n, err := w.d.PCMBuffer(w.buf)
		if n == 0 {
			if err != nil && !errors.Is(err, io.EOF) {
				return 0, tag(media.ElementWavParse, err)
			}
			return 0, io.EOF
		}
		if cap(w.out) < n*2 {
			w.out = make([]byte, n*2)
		}
		w.out = w.out[:n*2]
		for i, v := range w.buf.Data[:n] {
			binary.LittleEndian.PutUint16(w.out[i*2:], uint16(toS16(v, w.depth)))
		}
		w.pending = w.out
	}
	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

// toS16 scales a sample of the given bit depth to 16 bits. 8-bit WAV
// samples are unsigned.
func toS16(v, depth int) int16 {
	switch depth {
	case 8:
		v = (v - 128) << 8
	case 24:
		v >>= 8
	case 32:
		v >>= 16
	}
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}

func decodeMP3(src *source) (*decoded, error) {
	br := bufio.NewReaderSize(src.r, 4096)
	head, err := br.Peek(3)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, tag(media.ElementMP3Parse, errors.Wrap(errNotMPEG, "empty stream"))
		}
		return nil, tag(src.element, err)
	}
	if !isMPEGHeader(head) {
		return nil, tag(media.ElementMP3Parse, errNotMPEG)
	}

	var r io.Reader = br
	if src.seeker != nil {
		// Seekable input lets the decoder compute the length.
		if _, err := src.seeker.Seek(0, io.SeekStart); err == nil {
			r = src.seeker
		}
	}
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, tag(media.ElementMP3Decode, err)
	}

	out := &decoded{
		r: taggedReader{element: media.ElementMP3Decode, r: d},
		format: sapaudio.PCMFormat{
			Format:   sapaudio.FormatS16LE,
			Rate:     d.SampleRate(),
			Channels: 2,
			Layout:   sapaudio.LayoutInterleaved,
		},
	}
	if length := d.Length(); length > 0 {
		out.duration = frameDuration(length/4, d.SampleRate())
	}
	return out, nil
}

// isMPEGHeader accepts an ID3v2 tag or an MPEG audio frame sync.
func isMPEGHeader(b []byte) bool {
	if len(b) >= 3 && string(b[:3]) == "ID3" {
		return true
	}
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0
}
