package feed

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
)

// MaxPageSize bounds a single page so candidate queries stay bounded too.
const MaxPageSize = 500

// Config is the immutable tuning snapshot of the feed engine.
type Config struct {
	PageSize                  int  `mapstructure:"page_size" validate:"min=1,max=500"`
	FreshDays                 int  `mapstructure:"fresh_days" validate:"min=0"` // 0 disables the window
	PrioritizedPct            int  `mapstructure:"prioritized_pct" validate:"min=0,max=100"`
	CandidateMultiplier       int  `mapstructure:"candidate_multiplier" validate:"min=1"`
	MaxPerUploader            int  `mapstructure:"max_per_uploader" validate:"min=0"`              // 0 = unlimited
	MaxConsecutivePerUploader int  `mapstructure:"max_consecutive_per_uploader" validate:"min=0"` // 0 = unlimited
	SeenEnabled               bool `mapstructure:"seen_enabled"`
	SeenRetentionDays         int  `mapstructure:"seen_retention_days" validate:"min=0"` // 0 keeps records until evicted by count
	SeenMaxIDs                int  `mapstructure:"seen_max_ids" validate:"min=0"`
	RecordSeenOnFallback      bool `mapstructure:"record_seen_on_fallback"`
	InlinePurge               bool `mapstructure:"inline_purge"`

	// CursorSecret signs cursors with HMAC-SHA256 when non-empty.
	CursorSecret string `mapstructure:"cursor_secret"`
}

// DefaultConfig mirrors the production defaults of the web app.
func DefaultConfig() Config {
	return Config{
		PageSize:                  50,
		FreshDays:                 14,
		PrioritizedPct:            70,
		CandidateMultiplier:       4,
		MaxPerUploader:            5,
		MaxConsecutivePerUploader: 2,
		SeenEnabled:               true,
		SeenRetentionDays:         30,
		SeenMaxIDs:                2000,
		InlinePurge:               true,
	}
}

var validate = validator.New()

// Validate reports out-of-range values wrapped in ErrConfigInvalid.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s must satisfy %s=%s (got %v)", ErrConfigInvalid, fe.Field(), fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if c.SeenEnabled && c.SeenMaxIDs == 0 {
		return fmt.Errorf("%w: SeenMaxIDs must be positive when seen tracking is enabled", ErrConfigInvalid)
	}
	return nil
}

// PrioritizedTarget is round(PageSize * PrioritizedPct / 100).
func (c Config) PrioritizedTarget() int {
	return int(math.Round(float64(c.PageSize) * float64(c.PrioritizedPct) / 100.0))
}

// CandidateLimit caps each pool query.
func (c Config) CandidateLimit() int {
	return c.PageSize * c.CandidateMultiplier
}

// FreshWindow is zero when the window is disabled.
func (c Config) FreshWindow() time.Duration {
	return time.Duration(c.FreshDays) * 24 * time.Hour
}

// SeenRetention is zero when age based purging is disabled.
func (c Config) SeenRetention() time.Duration {
	return time.Duration(c.SeenRetentionDays) * 24 * time.Hour
}
