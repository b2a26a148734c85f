package link

import "time"

// Clamp bounds for the link configuration envelope (spec.md §3 "Link
// configuration", §6 "Configuration envelope").
const (
	AckTimeoutMinMS = 20
	AckTimeoutMaxMS = 2000
	AckTimeoutDefaultMS = 150

	RetryLimitMin     = 1
	RetryLimitMax     = 8
	RetryLimitDefault = 3

	ResponseTimeoutMinMS     = 100
	ResponseTimeoutMaxMS     = 30000
	ResponseTimeoutDefaultMS = 2000

	MinSharedSecretLen = 8
)

// placeholderSecret is the literal value spec.md §3 requires startup to
// refuse outright, regardless of length.
const placeholderSecret = "changeme123"

// Config is the configuration envelope spec.md §6 describes.
type Config struct {
	Baudrate          int
	SharedSecret      []byte
	AckTimeoutMS      uint16
	RetryLimit        uint8
	ResponseTimeoutMS uint32
	RxHighWater       int
	RxLowWater        int
	EnableRLE         bool
}

// DefaultConfig returns a configuration with every knob at its
// documented default. SharedSecret is left empty; callers must set one
// explicitly (an empty secret is accepted as "no authentication", but
// the placeholder and too-short values are always rejected once set).
func DefaultConfig() Config {
	return Config{
		Baudrate:          115200,
		AckTimeoutMS:      AckTimeoutDefaultMS,
		RetryLimit:        RetryLimitDefault,
		ResponseTimeoutMS: ResponseTimeoutDefaultMS,
		RxHighWater:       192,
		RxLowWater:        64,
	}
}

// Validated is a Config after clamping, with a record of which fields
// were out of range (ConfigClamped is a warning, never an error).
type Validated struct {
	Config  Config
	Clamped []string
}

// Validate clamps out-of-range numeric knobs to their documented
// defaults and rejects a weak or placeholder shared secret outright, per
// spec.md §3 and §6.
func Validate(c Config) (Validated, error) {
	v := Validated{Config: c}

	if len(c.SharedSecret) > 0 {
		if string(c.SharedSecret) == placeholderSecret {
			return v, &Error{Kind: KindPlaceholderSecret, msg: "link: shared secret is the published placeholder value"}
		}
		if len(c.SharedSecret) < MinSharedSecretLen {
			return v, &Error{Kind: KindWeakSecret, msg: "link: shared secret shorter than minimum length"}
		}
	}

	if c.AckTimeoutMS < AckTimeoutMinMS || c.AckTimeoutMS > AckTimeoutMaxMS {
		v.Config.AckTimeoutMS = AckTimeoutDefaultMS
		v.Clamped = append(v.Clamped, "ack_timeout_ms")
	}
	if c.RetryLimit < RetryLimitMin || c.RetryLimit > RetryLimitMax {
		v.Config.RetryLimit = RetryLimitDefault
		v.Clamped = append(v.Clamped, "retry_limit")
	}
	if c.ResponseTimeoutMS < ResponseTimeoutMinMS || c.ResponseTimeoutMS > ResponseTimeoutMaxMS {
		v.Config.ResponseTimeoutMS = ResponseTimeoutDefaultMS
		v.Clamped = append(v.Clamped, "response_timeout_ms")
	}
	if c.RxHighWater <= 0 {
		v.Config.RxHighWater = DefaultConfig().RxHighWater
		v.Clamped = append(v.Clamped, "rx_high_water")
	}
	if c.RxLowWater <= 0 || c.RxLowWater >= v.Config.RxHighWater {
		v.Config.RxLowWater = DefaultConfig().RxLowWater
		v.Clamped = append(v.Clamped, "rx_low_water")
	}

	return v, nil
}

func (c Config) ackTimeout() time.Duration {
	return time.Duration(c.AckTimeoutMS) * time.Millisecond
}

func (c Config) responseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeoutMS) * time.Millisecond
}

// dedupWindow returns the (ackTimeout, ackTimeout*(retryLimit+1)] window
// spec.md §4.4 defines for retry deduplication.
func (c Config) dedupWindow() (lower, upper time.Duration) {
	lower = c.ackTimeout()
	upper = c.ackTimeout() * time.Duration(c.RetryLimit+1)
	return lower, upper
}
