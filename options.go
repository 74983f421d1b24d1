package dc

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Option configures a Control at construction time, following the same
// functional-option shape the teacher's hostConfig used.
type Option func(*Config)

// Config holds the init-string options enumerated in spec.md §6, plus a
// handful of ambient knobs (connect/accept timing, CPU pinning, logging,
// metrics sink, test hook) that don't appear on the wire.
type Config struct {
	// BufferedSend selects the stream sender (true) or the expqueue
	// sender (false). Spec.md §6: "buffered_send = yes|no".
	BufferedSend bool

	// SendBufferSize is the ring capacity for the stream sender, in
	// bytes. Spec.md §6: "send_buffer_size = <bytes>". Init only checks
	// that it exceeds HeaderSize; it does not check it against the packets
	// sent later. A single packet larger than the ring is rejected by the
	// stream sender's enqueue with ConfigurationError.
	SendBufferSize int

	// CombineLowerThreshold is the inclusive cutoff below which the
	// expqueue sender attempts write-combining. Spec.md §6:
	// "combine_lower_threshold = <bytes>".
	CombineLowerThreshold int

	// CombineUpperThreshold is the hard cap of the combining buffer.
	// Spec.md §6: "combine_upper_threshold = <bytes>".
	CombineUpperThreshold int

	// TCPNoDelay passes through to the TCP_NODELAY socket option on every
	// mesh connection. Spec.md §6: "tcp_nodelay = yes|no".
	TCPNoDelay bool

	// ConnectRetries and ConnectRetryDelay bound Init's outbound-connect
	// retry budget (spec.md §7: InitFailed "after bounded retries").
	ConnectRetries    int
	ConnectRetryDelay time.Duration

	// AcceptTimeout bounds how long Init waits for every expected inbound
	// connection to identify itself before giving up with InitFailed.
	AcceptTimeout time.Duration

	// PinIOThreads pins each peer's sender and receiver goroutines to CPU
	// core (peer id mod runtime.NumCPU()) (spec.md §2 module 2, "affinity
	// launcher"), spreading peers round-robin across cores; the two I/O
	// goroutines of one peer share that peer's core.
	// Best-effort: see setThreadAffinity.
	PinIOThreads bool

	// LogLevel records a minimum log level. Default: slog.LevelInfo. No
	// code in this package reads it; InitLogger takes its level as an
	// argument instead.
	LogLevel slog.Level

	// GoMetricsSink, if non-nil, also emits every observability counter
	// in spec.md §6 to a github.com/hashicorp/go-metrics sink, in
	// addition to the always-on expvar publication.
	GoMetricsSink GoMetricsSink

	// fatalHook replaces the os.Exit(1) a FATAL error would otherwise
	// trigger. Test-only (spec.md §7: "FATAL terminates the process");
	// mirrors the teacher's postClaimHook test-hook pattern.
	fatalHook func(error)
}

// DefaultConfig returns the default configuration: expqueue sender (not
// buffered-stream), combining thresholds matching spec.md §4.2's examples,
// TCP_NODELAY enabled, and a modest connect-retry budget.
func DefaultConfig() Config {
	return Config{
		BufferedSend:          false,
		SendBufferSize:        1 << 20, // 1 MiB
		CombineLowerThreshold: 1024,
		CombineUpperThreshold: 64 << 10, // 64 KiB
		TCPNoDelay:            true,
		ConnectRetries:        10,
		ConnectRetryDelay:     200 * time.Millisecond,
		AcceptTimeout:         30 * time.Second,
		LogLevel:              slog.LevelInfo,
	}
}

// WithBufferedSend selects the ring-backed stream sender instead of the
// default queue-backed expqueue sender.
func WithBufferedSend(enabled bool) Option {
	return func(c *Config) { c.BufferedSend = enabled }
}

// WithSendBufferSize sets the stream sender's ring capacity.
func WithSendBufferSize(bytes int) Option {
	return func(c *Config) { c.SendBufferSize = bytes }
}

// WithCombineThresholds sets the expqueue sender's write-combining
// policy. lower is the inclusive small-message cutoff; upper is the hard
// cap of the combining buffer.
func WithCombineThresholds(lower, upper int) Option {
	return func(c *Config) {
		c.CombineLowerThreshold = lower
		c.CombineUpperThreshold = upper
	}
}

// WithTCPNoDelay toggles TCP_NODELAY on every mesh connection.
func WithTCPNoDelay(enabled bool) Option {
	return func(c *Config) { c.TCPNoDelay = enabled }
}

// WithConnectRetries bounds Init's outbound-connect retry budget.
func WithConnectRetries(n int, delay time.Duration) Option {
	return func(c *Config) {
		c.ConnectRetries = n
		c.ConnectRetryDelay = delay
	}
}

// WithAcceptTimeout bounds how long Init waits for inbound peers to
// identify themselves.
func WithAcceptTimeout(d time.Duration) Option {
	return func(c *Config) { c.AcceptTimeout = d }
}

// WithPinIOThreads enables per-peer CPU affinity for sender and receiver
// goroutines.
func WithPinIOThreads(enabled bool) Option {
	return func(c *Config) { c.PinIOThreads = enabled }
}

// WithLogLevel sets Config.LogLevel. It does not change the slog logger;
// InitLogger is configured separately.
func WithLogLevel(level slog.Level) Option {
	return func(c *Config) { c.LogLevel = level }
}

// WithGoMetricsSink additionally emits every spec.md §6 counter to sink.
func WithGoMetricsSink(sink GoMetricsSink) Option {
	return func(c *Config) { c.GoMetricsSink = sink }
}

// WithFatalHook installs a function called instead of os.Exit(1) when a
// FATAL error occurs. Test-only.
func WithFatalHook(fn func(error)) Option {
	return func(c *Config) { c.fatalHook = fn }
}

// ParseInitString parses the literal "key=value,key=value" grammar from
// spec.md §6 (buffered_send, send_buffer_size, combine_lower_threshold,
// combine_upper_threshold, tcp_nodelay) on top of DefaultConfig, returning
// a ConfigurationError on an unknown key or malformed value.
func ParseInitString(s string) (Config, error) {
	cfg := DefaultConfig()
	s = strings.TrimSpace(s)
	if s == "" {
		return cfg, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, found := strings.Cut(pair, "=")
		if !found {
			return cfg, &ConfigurationError{Reason: fmt.Sprintf("init option %q is missing '='", pair)}
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		switch k {
		case "buffered_send":
			b, err := parseYesNo(v)
			if err != nil {
				return cfg, &ConfigurationError{Reason: fmt.Sprintf("buffered_send: %v", err)}
			}
			cfg.BufferedSend = b
		case "send_buffer_size":
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return cfg, &ConfigurationError{Reason: fmt.Sprintf("send_buffer_size: invalid value %q", v)}
			}
			cfg.SendBufferSize = n
		case "combine_lower_threshold":
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return cfg, &ConfigurationError{Reason: fmt.Sprintf("combine_lower_threshold: invalid value %q", v)}
			}
			cfg.CombineLowerThreshold = n
		case "combine_upper_threshold":
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return cfg, &ConfigurationError{Reason: fmt.Sprintf("combine_upper_threshold: invalid value %q", v)}
			}
			cfg.CombineUpperThreshold = n
		case "tcp_nodelay":
			b, err := parseYesNo(v)
			if err != nil {
				return cfg, &ConfigurationError{Reason: fmt.Sprintf("tcp_nodelay: %v", err)}
			}
			cfg.TCPNoDelay = b
		default:
			return cfg, &ConfigurationError{Reason: fmt.Sprintf("unknown init option %q", k)}
		}
	}
	if cfg.CombineLowerThreshold > cfg.CombineUpperThreshold {
		return cfg, &ConfigurationError{Reason: "combine_lower_threshold must not exceed combine_upper_threshold"}
	}
	return cfg, nil
}

func parseYesNo(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "true", "1":
		return true, nil
	case "no", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected yes|no, got %q", v)
	}
}
