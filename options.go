package flow

import (
	"time"

	"github.com/google/uuid"
	"github.com/kataras/golog"
)

// DefaultMaxAutoSteps bounds how many non-interactive nodes a single call may
// pass through.
const DefaultMaxAutoSteps = 1000

// Options configures a Runner or Publisher. Zero fields take defaults.
type Options struct {
	Logger       *golog.Logger
	Metrics      *Metrics
	Now          func() time.Time
	NewID        func() string
	MaxAutoSteps int
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = golog.Default
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.MaxAutoSteps <= 0 {
		o.MaxAutoSteps = DefaultMaxAutoSteps
	}
	return o
}
