package media

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/truelens/capture/internal/errors"
)

// framesPerBuffer is ~64ms per read at 16kHz.
const framesPerBuffer = 1024

// loopbackKeywords identify virtual devices that carry system/tab audio.
var loopbackKeywords = []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}

// PortAudioProvider acquires system loopback audio through PortAudio.
// It is the desktop stand-in for per-tab audio capture: a loopback
// device carries whatever the tab is playing.
type PortAudioProvider struct {
	sampleRate int
}

// NewPortAudioProvider initializes the audio host.
func NewPortAudioProvider(sampleRate int) (*PortAudioProvider, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStreamCapture, "initialize audio host")
	}
	return &PortAudioProvider{sampleRate: sampleRate}, nil
}

// Close releases the audio host.
func (p *PortAudioProvider) Close() error {
	return portaudio.Terminate()
}

// AcquireStream picks a loopback device, falling back to the default
// input. No usable device is a capture-start failure.
func (p *PortAudioProvider) AcquireStream(ctx context.Context, tabID int) (Stream, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStreamCapture, "enumerate audio devices")
	}

	dev := pickLoopbackDevice(devices)
	if dev == nil {
		dev, err = portaudio.DefaultInputDevice()
		if err != nil || dev == nil {
			return nil, apperrors.New(apperrors.CodeStreamCapture, "no capture device available")
		}
	}

	slog.Info("acquired audio stream", "tab", tabID, "device", dev.Name)
	return &portStream{dev: dev, sampleRate: p.sampleRate}, nil
}

// pickLoopbackDevice returns the first input device whose name matches a
// loopback keyword.
func pickLoopbackDevice(devices []*portaudio.DeviceInfo) *portaudio.DeviceInfo {
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		name := strings.ToLower(dev.Name)
		for _, kw := range loopbackKeywords {
			if strings.Contains(name, kw) {
				return dev
			}
		}
	}
	return nil
}

type portStream struct {
	dev        *portaudio.DeviceInfo
	sampleRate int
	released   atomic.Bool
}

func (s *portStream) NewRecorder() (Recorder, error) {
	if s.released.Load() {
		return nil, apperrors.New(apperrors.CodeStreamCapture, "stream released")
	}
	return &portRecorder{stream: s}, nil
}

func (s *portStream) Release() {
	s.released.Store(true)
}

// portRecorder reads the device into an in-memory sample buffer between
// Start and Stop.
type portRecorder struct {
	stream  *portStream
	pa      *portaudio.Stream
	buf     []float32
	mu      sync.Mutex
	samples []float32
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

func (r *portRecorder) Start() error {
	if r.started {
		return nil
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   r.stream.dev,
			Channels: 1,
			Latency:  r.stream.dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(r.stream.sampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	r.buf = make([]float32, framesPerBuffer)
	pa, err := portaudio.OpenStream(params, r.buf)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStreamCapture, "open capture stream")
	}
	if err := pa.Start(); err != nil {
		pa.Close()
		return apperrors.Wrap(err, apperrors.CodeStreamCapture, "start capture stream")
	}

	r.pa = pa
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.started = true
	go r.readLoop()
	return nil
}

func (r *portRecorder) readLoop() {
	defer close(r.doneCh)
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		if err := r.pa.Read(); err != nil {
			slog.Debug("audio read error", "error", err)
			return
		}

		r.mu.Lock()
		r.samples = append(r.samples, r.buf...)
		r.mu.Unlock()
	}
}

// Stop ends recording and returns the chunk as WAV. A recorder that
// captured nothing returns nil bytes.
func (r *portRecorder) Stop() ([]byte, error) {
	if !r.started {
		return nil, nil
	}
	close(r.stopCh)
	<-r.doneCh
	_ = r.pa.Stop()
	_ = r.pa.Close()
	r.started = false

	r.mu.Lock()
	samples := r.samples
	r.samples = nil
	r.mu.Unlock()

	if len(samples) == 0 {
		return nil, nil
	}
	return EncodeWAV(samples, r.stream.sampleRate), nil
}
