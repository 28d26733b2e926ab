package history

import "fmt"

// Config defines the buffering of task results on their way to the store
type Config struct {
	// Maximum buffered results before new ones are dropped
	MaxBuffered int `toml:"max_buffered" yaml:"max_buffered" json:"max_buffered"`

	// Channel buffer size between the recorder and the writer goroutine
	ChannelSize int `toml:"channel_size" yaml:"channel_size" json:"channel_size"`

	// Buffered results that trigger a flush
	FlushThreshold int `toml:"flush_threshold" yaml:"flush_threshold" json:"flush_threshold"`
}

// DefaultConfig returns history buffering defaults
func DefaultConfig() Config {
	return Config{
		MaxBuffered:    10000,
		ChannelSize:    200,
		FlushThreshold: 50,
	}
}

func validateConfig(config Config) error {
	if config.MaxBuffered <= 0 {
		return fmt.Errorf("MaxBuffered must be positive, got %d", config.MaxBuffered)
	}

	if config.ChannelSize <= 0 {
		return fmt.Errorf("ChannelSize must be positive, got %d", config.ChannelSize)
	}

	if config.FlushThreshold <= 0 {
		return fmt.Errorf("FlushThreshold must be positive, got %d", config.FlushThreshold)
	}

	return nil
}
