package executor

import "time"

const (
	// DefaultBarURL is the endpoint Bar tasks request.
	DefaultBarURL = "https://www.whattimeisitrightnow.com/"

	// DefaultBarUserAgent identifies Bar requests to the remote endpoint.
	DefaultBarUserAgent = "Mozilla/5.0 (compatible; MSIE 9.0; Windows NT 6.1; WOW64; Trident/5.0)"
)

// Config holds executor settings.
type Config struct {
	Timeout  time.Duration `yaml:"timeout"` // per-task bound, 0 disables
	FooDelay time.Duration `yaml:"foo_delay"`
	Bar      BarConfig     `yaml:"bar"`
}

// BarConfig configures the outbound request made by Bar tasks.
type BarConfig struct {
	URL        string        `yaml:"url"`
	UserAgent  string        `yaml:"user_agent"`
	Timeout    time.Duration `yaml:"timeout"`
	RatePerSec float64       `yaml:"rate_per_sec"` // 0 disables limiting
	Burst      int           `yaml:"burst"`
}

// DefaultConfig returns the production executor settings.
func DefaultConfig() Config {
	return Config{
		Timeout:  time.Minute,
		FooDelay: 3 * time.Second,
		Bar: BarConfig{
			URL:        DefaultBarURL,
			UserAgent:  DefaultBarUserAgent,
			Timeout:    10 * time.Second,
			RatePerSec: 1,
			Burst:      1,
		},
	}
}
