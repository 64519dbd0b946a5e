package extract

import (
	"time"

	"github.com/kailas-cloud/docsearch/internal/domain"
	"github.com/kailas-cloud/docsearch/internal/retry"
)

// DefaultMaxMalformedAttempts bounds deliveries of a message that keeps failing as malformed.
const DefaultMaxMalformedAttempts = 3

// Config holds worker settings.
type Config struct {
	// TransformedBucket receives the artifacts.
	TransformedBucket string
	// DepartmentTag is the object tag holding the owning department.
	DepartmentTag string
	// TextField selects a form field to embed instead of the full text. Empty embeds the full text.
	TextField string
	// Dimensions is the expected embedding length; 0 skips the check.
	Dimensions int

	ExtractTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// RatePerSec and Burst bound calls to the extraction service. RatePerSec 0 disables the limit.
	RatePerSec float64
	Burst      int

	// QuotaBackoff computes the redelivery delay after a quota rejection.
	QuotaBackoff retry.Opts
	// MaxDeliveries dead-letters a transiently failing message at this attempt. 0 never does.
	MaxDeliveries int
	// MaxMalformedAttempts dead-letters a malformed message at this attempt.
	MaxMalformedAttempts int
	// ReceiveBackoff is the pause after a failed receive.
	ReceiveBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.DepartmentTag == "" {
		c.DepartmentTag = domain.DefaultDepartmentTag
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.QuotaBackoff.InitialWait <= 0 {
		c.QuotaBackoff = retry.Opts{InitialWait: 2 * time.Second, MaxWait: 5 * time.Minute}
	}
	if c.MaxMalformedAttempts <= 0 {
		c.MaxMalformedAttempts = DefaultMaxMalformedAttempts
	}
	if c.ReceiveBackoff <= 0 {
		c.ReceiveBackoff = time.Second
	}
}
