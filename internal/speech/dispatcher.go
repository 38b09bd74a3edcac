package speech

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultVoiceRetries bounds how often an empty voice list is re-read
	DefaultVoiceRetries = 8
	// DefaultVoiceRetryInterval is the wait between voice list reads
	DefaultVoiceRetryInterval = 150 * time.Millisecond
)

// Options are the per-request speech settings
type Options struct {
	VoiceURI string
	Rate     float64
	Lang     string
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithVoiceRetry sets the bounded wait for voices to appear
func WithVoiceRetry(retries int, interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.retries = retries
		d.interval = interval
	}
}

// Dispatcher issues fire-and-forget utterances. A new utterance cancels the
// one in flight, and requests tagged with an id that is no longer active
// are dropped before reaching the engine.
type Dispatcher struct {
	engine   Engine
	logger   *zap.Logger
	retries  int
	interval time.Duration

	mu       sync.Mutex
	active   string
	speaking string
	cancel   context.CancelFunc
	cached []Voice
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher for engine
func NewDispatcher(engine Engine, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		engine:   engine,
		logger:   logger,
		retries:  DefaultVoiceRetries,
		interval: DefaultVoiceRetryInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Activate marks tag as the currently visible item. Pending requests for
// other tags are dropped and a tagged utterance still speaking for another
// item is cancelled. Untagged speech keeps playing.
func (d *Dispatcher) Activate(tag string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if tag != d.active && d.cancel != nil && d.speaking != "" && d.speaking != tag {
		d.cancel()
		d.cancel = nil
	}
	d.active = tag
}

// Say speaks text in the background. An empty tag is never dropped.
func (d *Dispatcher) Say(tag, text string, opts Options) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.speaking = tag

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		d.speak(ctx, tag, text, opts)
	}()
}

func (d *Dispatcher) speak(ctx context.Context, tag, text string, opts Options) {
	voices := d.waitVoices(ctx)
	if ctx.Err() != nil {
		return
	}
	if !d.current(tag) {
		d.logger.Debug("Dropping speech for inactive item", zap.String("tag", tag))
		return
	}

	u := Utterance{Text: text, Lang: opts.Lang, Rate: opts.Rate}
	if v, ok := SelectVoice(voices, opts.VoiceURI, opts.Lang); ok {
		u.VoiceURI = v.URI
	}
	if err := d.engine.Speak(ctx, u); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Debug("Speech failed", zap.Error(err))
	}
}

func (d *Dispatcher) current(tag string) bool {
	if tag == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active == tag
}

// Voices returns the engine's voices, waiting a bounded time for them to
// become available.
func (d *Dispatcher) Voices(ctx context.Context) []Voice {
	return d.waitVoices(ctx)
}

// waitVoices polls the engine, or waits for its change notification, until
// a voice is available. When the wait runs out the last non-empty list is
// used.
func (d *Dispatcher) waitVoices(ctx context.Context) []Voice {
	changed := make(chan struct{}, 1)
	if n, ok := d.engine.(VoiceNotifier); ok {
		unsubscribe := n.OnVoicesChanged(func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
		defer unsubscribe()
	}

	for attempt := 0; ; attempt++ {
		voices, err := d.engine.Voices(ctx)
		if err != nil {
			d.logger.Debug("Reading voices failed", zap.Error(err), zap.Int("attempt", attempt))
		}
		if len(voices) > 0 {
			d.mu.Lock()
			d.cached = append([]Voice(nil), voices...)
			d.mu.Unlock()
			return voices
		}
		if attempt >= d.retries {
			break
		}

		timer := time.NewTimer(d.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Voice(nil), d.cached...)
}

// Cancel stops the utterance in flight
func (d *Dispatcher) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// Close cancels speech and waits for background work to finish
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Speaker adapts the dispatcher to callers that speak untagged text
type Speaker struct {
	Dispatcher *Dispatcher
	Options    func() Options
}

// Speak implements the dictation speaker
func (s Speaker) Speak(text, lang string) {
	var opts Options
	if s.Options != nil {
		opts = s.Options()
	}
	opts.Lang = lang
	s.Dispatcher.Say("", text, opts)
}
