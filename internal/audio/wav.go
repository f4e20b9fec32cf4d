package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth    = 16
	wavFormatPCM   = 1
	wavNumChannels = 1
)

// PCMClip is decoded mono audio
type PCMClip struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the clip length
func (c PCMClip) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// WriteWAV encodes mono 16-bit PCM as a WAV stream
func WriteWAV(w io.WriteSeeker, pcm []int16, sampleRate int) error {
	e := wav.NewEncoder(w, sampleRate, wavBitDepth, wavNumChannels, wavFormatPCM)

	data := make([]int, len(pcm))
	for i, s := range pcm {
		data[i] = int(s)
	}
	if err := e.Write(&goaudio.IntBuffer{
		Data: data,
		Format: &goaudio.Format{
			NumChannels: wavNumChannels,
			SampleRate:  sampleRate,
		},
		SourceBitDepth: wavBitDepth,
	}); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	if err := e.Close(); err != nil {
		return fmt.Errorf("audio: close wav encoder: %w", err)
	}
	return nil
}

// WriteWAVFile writes mono PCM to path
func WriteWAVFile(path string, pcm []int16, sampleRate int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	return WriteWAV(f, pcm, sampleRate)
}

// EncodeWAV returns mono PCM as WAV bytes
func EncodeWAV(pcm []int16, sampleRate int) ([]byte, error) {
	ws := &seekBuffer{}
	if err := WriteWAV(ws, pcm, sampleRate); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// ReadWAV decodes a 16-bit WAV stream, downmixing to mono
func ReadWAV(r io.ReadSeeker) (PCMClip, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return PCMClip{}, errors.New("audio: not a valid wav stream")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return PCMClip{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	if d.BitDepth != wavBitDepth {
		return PCMClip{}, fmt.Errorf("audio: unsupported wav bit depth %d", d.BitDepth)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return PCMClip{
		Samples:    DownmixToMono(samples, int(d.NumChans)),
		SampleRate: int(d.SampleRate),
	}, nil
}

// DecodeWAV decodes WAV bytes
func DecodeWAV(data []byte) (PCMClip, error) {
	return ReadWAV(bytes.NewReader(data))
}

// ReadWAVFile decodes the WAV file at path
func ReadWAVFile(path string) (PCMClip, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCMClip{}, fmt.Errorf("audio: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadWAV(f)
}

// seekBuffer is an in-memory io.WriteSeeker; the wav encoder rewrites the
// header sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if end := s.pos + len(p); end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	n := copy(s.buf[s.pos:], p)
	s.pos += n
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("audio: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("audio: negative position")
	}
	s.pos = int(abs)
	return abs, nil
}
