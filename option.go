package nonblock

import (
	"time"
)

// ErrorAction defines the action to take when an error occurs.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue suppresses the error and continues processing.
	Continue
)

// Default configuration values.
const (
	// defaultBufferSize is the default number of outbound messages that may be queued.
	defaultBufferSize = 16
	// defaultHeartbeat is the default interval at which blocked reads wake up to check for cancellation.
	defaultHeartbeat = time.Second
	// defaultIdleTimeout is the default time a connection may go without reading a byte.
	defaultIdleTimeout = 30 * time.Second
)

// options holds the configuration shared by readers, streams and connections.
type options struct {
	logger Logger
	limits Limits

	onMessage func(message *Message) error
	// onError is called when an error occurs.
	// Returns Disconnect to close the connection, Continue to suppress the error.
	onError func(error) ErrorAction

	bufferSize  int           // size of the outbound queue
	heartbeat   time.Duration // read deadline granularity
	idleTimeout time.Duration // close after this long without inbound bytes
}

// Option is a function that configures options.
type Option func(*options)

// newOptions applies opt on top of the defaults.
func newOptions(opt ...Option) options {
	opts := options{limits: DefaultLimits()}
	for _, o := range opt {
		o(&opts)
	}
	applyDefaults(&opts)
	return opts
}

// applyDefaults fills zero and invalid values with defaults.
func applyDefaults(opts *options) {
	opts.limits = opts.limits.orDefault()

	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.heartbeat <= 0 {
		opts.heartbeat = defaultHeartbeat
	}

	if opts.idleTimeout <= 0 {
		opts.idleTimeout = defaultIdleTimeout
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// LimitsOption returns an Option that sets both validation limits.
// Zero or negative fields fall back to the defaults.
func LimitsOption(limits Limits) Option {
	return func(o *options) {
		o.limits = limits
	}
}

// MaxSegmentsOption returns an Option that sets the maximum segment count of
// an inbound message.
func MaxSegmentsOption(n int) Option {
	return func(o *options) {
		o.limits.MaxSegments = n
	}
}

// MessageMaxSize returns an Option that sets the maximum total segment size
// of an inbound message. Frames declaring more are rejected before any
// segment buffer is allocated.
func MessageMaxSize(size int64) Option {
	return func(o *options) {
		o.limits.MaxMessageSize = size
	}
}

// BufferSizeOption returns an Option that sets how many outbound messages may
// be queued before writes fail with ErrBufferFull.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// HeartbeatOption returns an Option that sets the read deadline granularity of
// a Conn. A read that times out keeps its partial frame and resumes after the
// connection checks for cancellation.
func HeartbeatOption(heartbeat time.Duration) Option {
	return func(o *options) {
		o.heartbeat = heartbeat
	}
}

// IdleTimeoutOption returns an Option that sets how long a Conn may go
// without receiving a byte before it is closed.
func IdleTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = timeout
	}
}

// OnErrorOption returns an Option that sets the error callback.
// The callback is invoked when a read/write error occurs.
// Return Disconnect to close the connection, or Continue to suppress the error.
// Framing errors (ErrMalformedHeader, *FrameError) always close the
// connection; the callback is still told about them.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// OnMessageOption returns an Option that sets the message handler callback.
// This callback is required by Conn and is invoked for each received message.
func OnMessageOption(cb func(*Message) error) Option {
	return func(o *options) {
		o.onMessage = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
