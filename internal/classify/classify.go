// Package classify implements transport failure classification, retry
// policy and partition detection, built as a table-driven classifier over
// arbitrary transport errors.
package classify

import (
	"math/rand"
	"regexp"
	"strings"
)

// Kind is a transport failure classification.
type Kind int

const (
	Unknown Kind = iota
	NetworkTimeout
	ConnectionRefused
	NetworkUnreachable
	TemporaryFailure
	SerializationError
	ProtocolError
)

func (k Kind) String() string {
	switch k {
	case NetworkTimeout:
		return "NetworkTimeout"
	case ConnectionRefused:
		return "ConnectionRefused"
	case NetworkUnreachable:
		return "NetworkUnreachable"
	case TemporaryFailure:
		return "TemporaryFailure"
	case SerializationError:
		return "SerializationError"
	case ProtocolError:
		return "ProtocolError"
	default:
		return "Unknown"
	}
}

// Retryable reports whether the retry policy should be applied for this
// classification.
func (k Kind) Retryable() bool {
	switch k {
	case SerializationError, ProtocolError:
		return false
	default:
		return true
	}
}

// networkFamily reports membership in the "network family" used by
// partition detection: timeout, unreachable, refused.
func (k Kind) networkFamily() bool {
	switch k {
	case NetworkTimeout, NetworkUnreachable, ConnectionRefused:
		return true
	default:
		return false
	}
}

// nonRetryableFamily reports membership in the family that vetoes
// partition detection when present in the window.
func (k Kind) nonRetryableFamily() bool {
	switch k {
	case SerializationError, ProtocolError:
		return true
	default:
		return false
	}
}

type rule struct {
	kind Kind
	re   *regexp.Regexp
}

// Rules are evaluated in order; the first match wins. Patterns use \b so a
// word like "timeout" inside an unrelated identifier (e.g. a config field
// name) does not misclassify.
var rules = []rule{
	{NetworkTimeout, regexp.MustCompile(`(?i)\btimed?\s*out\b|\btimeout\b`)},
	{ConnectionRefused, regexp.MustCompile(`(?i)\brefused\b`)},
	{NetworkUnreachable, regexp.MustCompile(`(?i)\bunreachable\b|\bno route\b`)},
	{TemporaryFailure, regexp.MustCompile(`(?i)\btemporary\b|\btry again\b`)},
	{SerializationError, regexp.MustCompile(`(?i)\bparse\b|\bserializ|\bformat\b`)},
	{ProtocolError, regexp.MustCompile(`(?i)\bprotocol violation\b|\bprotocol error\b`)},
}

// Classify maps a transport error to a Kind by matching its message
// against the rule table. nil errors classify as Unknown.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		if r.re.MatchString(msg) {
			return r.kind
		}
	}
	return Unknown
}

// Policy is the retry backoff configuration per RPC kind.
type Policy struct {
	InitialDelay float64 // seconds, kept as float64 to simplify jitter math
	MaxDelay     float64
	Multiplier   float64
	Jitter       float64 // fraction in [0,1); delay is scaled by (1 ± Jitter)
	MaxAttempts  int
}

// DefaultPolicy is a reasonable default used where callers don't override
// per-RPC-kind policy.
func DefaultPolicy() Policy {
	return Policy{InitialDelay: 0.05, MaxDelay: 2.0, Multiplier: 2.0, Jitter: 0.1, MaxAttempts: 5}
}

// DelaySeconds returns the backoff delay before attempt k (1-indexed),
// exponential with cap, scaled by a random jitter factor in
// [1-Jitter, 1+Jitter].
func (p Policy) DelaySeconds(k int, rng *rand.Rand) float64 {
	if k < 1 {
		k = 1
	}
	base := p.InitialDelay
	for i := 1; i < k; i++ {
		base *= p.Multiplier
		if base > p.MaxDelay {
			base = p.MaxDelay
			break
		}
	}
	if base > p.MaxDelay {
		base = p.MaxDelay
	}
	if p.Jitter <= 0 {
		return base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	factor := 1 - p.Jitter + rng.Float64()*2*p.Jitter
	return base * factor
}

// ShouldRetry reports whether attempt k (1-indexed, the attempt that just
// failed with kind) warrants another try under p.
func ShouldRetry(kind Kind, k int, p Policy) bool {
	return kind.Retryable() && k < p.MaxAttempts
}

// PartitionDetector tracks a sliding window of the last <=10
// classifications, declaring a partition when >= 2/3 are network-family
// and none are non-retryable-family.
type PartitionDetector struct {
	window []Kind
	max    int
}

// NewPartitionDetector builds a detector with a fixed window size of 10.
func NewPartitionDetector() *PartitionDetector {
	return &PartitionDetector{max: 10}
}

// Observe records a new classification, evicting the oldest once the
// window is full.
func (d *PartitionDetector) Observe(kind Kind) {
	d.window = append(d.window, kind)
	if len(d.window) > d.max {
		d.window = d.window[len(d.window)-d.max:]
	}
}

// Partitioned reports the current partition state given the window.
func (d *PartitionDetector) Partitioned() bool {
	if len(d.window) == 0 {
		return false
	}
	networkCount := 0
	for _, k := range d.window {
		if k.nonRetryableFamily() {
			return false
		}
		if k.networkFamily() {
			networkCount++
		}
	}
	return float64(networkCount)/float64(len(d.window)) >= 2.0/3.0
}

// Reset clears the sliding window (used on successful RPCs, so a
// detector can be reused across episodes).
func (d *PartitionDetector) Reset() {
	d.window = nil
}
