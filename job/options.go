package job

import "time"

// Defaults applied when neither the definition nor the dispatch call sets a
// value.
const (
	DefaultQueue       = "default"
	DefaultMaxAttempts = 3
	DefaultTimeout     = 5 * time.Minute
	DefaultBackoff     = 10 * time.Second
)

// Options control how a job of some kind is enqueued.
type Options struct {
	Queue       string
	MaxAttempts int
	Timeout     time.Duration
	Backoff     time.Duration

	// Delay postpones the first availability relative to dispatch time.
	Delay time.Duration

	// RunAt, when non-zero, fixes the first availability and wins over
	// Delay.
	RunAt time.Time

	// Schedule tags the record with the recurring definition that
	// produced it.
	Schedule string

	Codec Codec
}

// DefaultOptions returns the package-wide defaults.
func DefaultOptions() Options {
	return Options{
		Queue:       DefaultQueue,
		MaxAttempts: DefaultMaxAttempts,
		Timeout:     DefaultTimeout,
		Backoff:     DefaultBackoff,
		Codec:       JSONCodec{},
	}
}

// Option configures Options.
type Option func(*Options)

// WithQueue sets the target queue.
func WithQueue(q string) Option {
	return func(o *Options) { o.Queue = q }
}

// WithMaxAttempts sets the attempt budget. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		if n >= 1 {
			o.MaxAttempts = n
		}
	}
}

// WithTimeout sets the per-attempt deadline. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithBackoff sets the base retry delay.
func WithBackoff(d time.Duration) Option {
	return func(o *Options) {
		if d >= 0 {
			o.Backoff = d
		}
	}
}

// WithDelay postpones the first attempt.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithRunAt sets the first availability to an absolute time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) { o.RunAt = t }
}

// WithSchedule tags the job with a schedule name.
func WithSchedule(name string) Option {
	return func(o *Options) { o.Schedule = name }
}

// WithCodec sets the payload codec.
func WithCodec(c Codec) Option {
	return func(o *Options) {
		if c != nil {
			o.Codec = c
		}
	}
}

// Apply returns a copy of o with opts applied. Fields left at an invalid
// zero value fall back to the package defaults.
func (o Options) Apply(opts ...Option) Options {
	for _, fn := range opts {
		fn(&o)
	}
	if o.Queue == "" {
		o.Queue = DefaultQueue
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Backoff < 0 {
		o.Backoff = DefaultBackoff
	}
	if o.Codec == nil {
		o.Codec = JSONCodec{}
	}
	return o
}

// FirstAvailable resolves when a job dispatched at now first becomes due.
func (o Options) FirstAvailable(now time.Time) time.Time {
	if !o.RunAt.IsZero() {
		return o.RunAt
	}
	if o.Delay > 0 {
		return now.Add(o.Delay)
	}
	return now
}
