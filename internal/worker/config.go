package worker

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds the configuration for the sweep scheduler.
type Config struct {
	// Location is the time zone cron specs are interpreted in.
	// Default: UTC
	Location *time.Location

	// GroupingSpec schedules the batch grouping sweep.
	// Default: "0 2 * * *" (daily at 02:00)
	GroupingSpec string

	// RetentionSpec schedules the batch tag retention sweep.
	// Default: "0 3 * * 0" (Sundays at 03:00)
	RetentionSpec string

	// JobTimeout is the maximum time a single sweep run is allowed.
	// Default: 10 minutes
	JobTimeout time.Duration

	// ShutdownTimeout is how long Stop waits for running sweeps.
	// Default: 30 seconds
	ShutdownTimeout time.Duration

	// LeaseTTL bounds how long a replica holds a sweep lease. It must
	// outlive JobTimeout so a slow run is not joined by a second one.
	// Default: 15 minutes
	LeaseTTL time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Location:        time.UTC,
		GroupingSpec:    "0 2 * * *",
		RetentionSpec:   "0 3 * * 0",
		JobTimeout:      10 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		LeaseTTL:        15 * time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Location == nil {
		return fmt.Errorf("location is required")
	}
	if _, err := cron.ParseStandard(c.GroupingSpec); err != nil {
		return fmt.Errorf("grouping spec %q: %w", c.GroupingSpec, err)
	}
	if _, err := cron.ParseStandard(c.RetentionSpec); err != nil {
		return fmt.Errorf("retention spec %q: %w", c.RetentionSpec, err)
	}
	if c.JobTimeout < 1*time.Second {
		return fmt.Errorf("job timeout must be at least 1 second, got %v", c.JobTimeout)
	}
	if c.ShutdownTimeout < 1*time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	if c.LeaseTTL <= c.JobTimeout {
		return fmt.Errorf("lease ttl (%v) must exceed job timeout (%v)", c.LeaseTTL, c.JobTimeout)
	}
	return nil
}
