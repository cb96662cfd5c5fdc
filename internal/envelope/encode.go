// Package envelope converts task invocations to and from their wire form:
// a flat header mapping plus a body holding (args, kwargs, execution options).
//
// Encode and Decode keep no state between calls and are safe for concurrent use.
package envelope

import (
	"time"

	"github.com/google/uuid"

	"github.com/podushkina/taskenvelope/internal/serializer"
	"github.com/podushkina/taskenvelope/internal/task"
)

const maxPriority = 255

var registry = serializer.Default()

// Encode validates inv, fills in defaults and returns its envelope.
// Every header Encode knows about is written, unset ones as nil.
func Encode(inv task.Invocation, opts Options) (Envelope, error) {
	if err := validate(inv); err != nil {
		return Envelope{}, err
	}

	ct, enc := resolveContent(inv, opts)
	ser := registry.Get(ct)
	if ser == nil {
		return Envelope{}, &ValidationError{Field: HeaderContentType, Value: ct, Reason: "no serializer registered"}
	}
	if enc != ser.ContentEncoding() {
		return Envelope{}, &ValidationError{
			Field:  HeaderContentEncoding,
			Value:  enc,
			Reason: ct + " bodies are " + ser.ContentEncoding(),
		}
	}

	inv = WithDefaults(inv, opts)

	body, err := ser.Marshal([]any{inv.Args, inv.Kwargs, map[string]any(inv.Options)})
	if err != nil {
		return Envelope{}, &ValidationError{Field: "body", Reason: "cannot serialize as " + ct, Err: err}
	}

	maxRepr := opts.ReprMaxSize
	if maxRepr == 0 {
		maxRepr = DefaultReprMaxSize
	}

	h := make(Headers, len(knownHeaders)+len(inv.Extra))
	for k, v := range inv.Extra {
		h[k] = cloneValue(v)
	}
	h[HeaderLang] = inv.Lang
	h[HeaderTask] = inv.Name
	h[HeaderID] = inv.ID
	h[HeaderShadow] = stringOrNil(inv.Shadow)
	h[HeaderETA] = timeOrNil(inv.ETA)
	h[HeaderExpires] = timeOrNil(inv.Expires)
	h[HeaderGroup] = stringOrNil(inv.GroupID)
	h[HeaderRetries] = inv.Retries
	h[HeaderTimeLimit] = []any{floatOrNil(inv.TimeLimit.Hard), floatOrNil(inv.TimeLimit.Soft)}
	h[HeaderRootID] = stringOrNil(inv.RootID)
	h[HeaderParentID] = stringOrNil(inv.ParentID)
	h[HeaderArgsRepr] = argsRepr(inv.Args, maxRepr)
	h[HeaderKwargsRepr] = kwargsRepr(inv.Kwargs, maxRepr)
	h[HeaderOrigin] = stringOrNil(inv.Origin)
	h[HeaderIgnoreResult] = inv.IgnoreResult
	h[HeaderCorrelationID] = inv.CorrelationID
	h[HeaderReplyTo] = stringOrNil(inv.ReplyTo)
	h[HeaderDeliveryInfo] = map[string]any{
		DeliveryPriority:    intOrNil(inv.Routing.Priority),
		DeliveryRedelivered: boolOrNil(inv.Routing.Redelivered),
		DeliveryRoutingKey:  inv.Routing.RoutingKey,
		DeliveryExchange:    inv.Routing.Exchange,
	}
	h[HeaderContentType] = inv.ContentType
	h[HeaderContentEncoding] = inv.ContentEncoding

	return Envelope{Headers: h, Body: body}, nil
}

// WithDefaults returns inv with every default Encode applies: a fresh id
// when none is set, correlation and root ids, execution options, origin,
// producer language, UTC timestamps and the resolved content type and encoding.
// Decode(Encode(x)) equals WithDefaults(x) for any x with an id.
func WithDefaults(inv task.Invocation, opts Options) task.Invocation {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CorrelationID == "" {
		inv.CorrelationID = inv.ID
	}
	if inv.RootID == "" && inv.ParentID == "" {
		inv.RootID = inv.ID
	}
	if inv.Options == nil {
		inv.Options = task.DefaultExecutionOptions()
	}
	if inv.Origin == "" {
		inv.Origin = opts.Origin
	}
	if inv.Lang == "" {
		inv.Lang = lang
	}
	inv.ETA = utc(inv.ETA)
	inv.Expires = utc(inv.Expires)
	inv.ContentType, inv.ContentEncoding = resolveContent(inv, opts)
	return inv
}

func validate(inv task.Invocation) error {
	switch {
	case inv.Name == "":
		return &ValidationError{Field: HeaderTask, Value: inv.Name, Reason: "must not be empty"}
	case inv.Args == nil:
		return &ValidationError{Field: "args", Reason: "must be present, use an empty sequence for no arguments"}
	case inv.Kwargs == nil:
		return &ValidationError{Field: "kwargs", Reason: "must be present, use an empty mapping for no arguments"}
	case inv.Retries < 0:
		return &ValidationError{Field: HeaderRetries, Value: inv.Retries, Reason: "must not be negative"}
	}
	if p := inv.Routing.Priority; p != nil && (*p < 0 || *p > maxPriority) {
		return &ValidationError{Field: DeliveryPriority, Value: *p, Reason: "must be within 0..255"}
	}
	return nil
}

// resolveContent picks the content type and encoding: the invocation's own
// declaration first, then opts, then JSON.
func resolveContent(inv task.Invocation, opts Options) (string, string) {
	ct, enc := inv.ContentType, inv.ContentEncoding
	if ct == "" {
		ct = opts.ContentType
		if enc == "" {
			enc = opts.ContentEncoding
		}
	}
	if ct == "" {
		ct = serializer.JSON().ContentType()
	}
	if enc == "" {
		if s := registry.Get(ct); s != nil {
			enc = s.ContentEncoding()
		}
	}
	return ct, serializer.NormalizeEncoding(enc)
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func stringOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func intOrNil(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolOrNil(p *bool) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatOrNil(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
