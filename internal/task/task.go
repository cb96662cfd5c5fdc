package task

import (
	"time"
)

// Option keys of the execution options carried in the third body element.
const (
	OptionChord     = "chord"
	OptionCallbacks = "callbacks"
	OptionErrbacks  = "errbacks"
	OptionChain     = "chain"
)

// ExecutionOptions holds workflow linkage (chord, callbacks, errbacks, chain).
// The codec passes it through without interpreting it.
type ExecutionOptions map[string]any

// DefaultExecutionOptions returns the linkage written when a producer sets none.
func DefaultExecutionOptions() ExecutionOptions {
	return ExecutionOptions{
		OptionChord:     nil,
		OptionCallbacks: nil,
		OptionErrbacks:  nil,
		OptionChain:     nil,
	}
}

type Routing struct {
	Priority    *int   `json:"priority,omitempty"`
	RoutingKey  string `json:"routing_key"`
	Exchange    string `json:"exchange"`
	Redelivered *bool  `json:"redelivered,omitempty"`
}

// TimeLimit is the (hard, soft) pair in seconds; nil means no limit.
type TimeLimit struct {
	Hard *float64 `json:"hard,omitempty"`
	Soft *float64 `json:"soft,omitempty"`
}

// Invocation is one task call as seen by producers and consumers.
// Empty identifier strings mean "not set".
type Invocation struct {
	Name    string           `json:"task"`
	ID      string           `json:"id,omitempty"`
	Args    []any            `json:"args"`
	Kwargs  map[string]any   `json:"kwargs"`
	Options ExecutionOptions `json:"execution_options,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
	ParentID      string `json:"parent_id,omitempty"`
	RootID        string `json:"root_id,omitempty"`
	GroupID       string `json:"group_id,omitempty"`
	ReplyTo       string `json:"reply_to,omitempty"`

	Retries int        `json:"retries"`
	ETA     *time.Time `json:"eta,omitempty"`
	Expires *time.Time `json:"expires,omitempty"`

	// Lang names the producer's implementation language.
	Lang         string    `json:"lang,omitempty"`
	Routing      Routing   `json:"routing"`
	Origin       string    `json:"origin,omitempty"`
	Shadow       string    `json:"shadow,omitempty"`
	TimeLimit    TimeLimit `json:"timelimit"`
	IgnoreResult bool      `json:"ignore_result,omitempty"`

	ContentType     string `json:"content_type,omitempty"`
	ContentEncoding string `json:"content_encoding,omitempty"`

	// Extra holds header keys this package does not know about.
	Extra map[string]any `json:"extra,omitempty"`
}

// New returns an invocation of name with explicit, never nil, args and kwargs.
func New(name string, args []any, kwargs map[string]any) Invocation {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return Invocation{Name: name, Args: args, Kwargs: kwargs}
}

// IsRoot reports whether the invocation was not spawned by another task.
func (i Invocation) IsRoot() bool {
	return i.ParentID == ""
}

// Expired reports whether the invocation may no longer run at now.
func (i Invocation) Expired(now time.Time) bool {
	return i.Expires != nil && now.After(*i.Expires)
}
