package envelope

// Header keys written by Encode.
const (
	HeaderLang            = "lang"
	HeaderTask            = "task"
	HeaderID              = "id"
	HeaderShadow          = "shadow"
	HeaderETA             = "eta"
	HeaderExpires         = "expires"
	HeaderGroup           = "group"
	HeaderRetries         = "retries"
	HeaderTimeLimit       = "timelimit"
	HeaderRootID          = "root_id"
	HeaderParentID        = "parent_id"
	HeaderArgsRepr        = "argsrepr"
	HeaderKwargsRepr      = "kwargsrepr"
	HeaderOrigin          = "origin"
	HeaderIgnoreResult    = "ignore_result"
	HeaderCorrelationID   = "correlation_id"
	HeaderReplyTo         = "reply_to"
	HeaderDeliveryInfo    = "delivery_info"
	HeaderContentType     = "content_type"
	HeaderContentEncoding = "content_encoding"

	// HeaderGroupID is accepted by Decode as an alias of HeaderGroup.
	HeaderGroupID = "group_id"
)

// Keys of the delivery_info header.
const (
	DeliveryPriority    = "priority"
	DeliveryRedelivered = "redelivered"
	DeliveryRoutingKey  = "routing_key"
	DeliveryExchange    = "exchange"
)

const lang = "go"

var knownHeaders = map[string]struct{}{
	HeaderLang: {}, HeaderTask: {}, HeaderID: {}, HeaderShadow: {},
	HeaderETA: {}, HeaderExpires: {}, HeaderGroup: {}, HeaderGroupID: {},
	HeaderRetries: {}, HeaderTimeLimit: {}, HeaderRootID: {}, HeaderParentID: {},
	HeaderArgsRepr: {}, HeaderKwargsRepr: {}, HeaderOrigin: {},
	HeaderIgnoreResult: {}, HeaderCorrelationID: {}, HeaderReplyTo: {},
	HeaderDeliveryInfo: {}, HeaderContentType: {}, HeaderContentEncoding: {},
}

// Headers is the flat metadata mapping of an envelope.
type Headers map[string]any

// Envelope is the wire form of a task invocation.
type Envelope struct {
	Headers Headers `json:"headers"`
	Body    []byte  `json:"body"`
}

// Clone returns a copy whose headers, including nested maps and slices,
// can be modified without touching e.
func (e Envelope) Clone() Envelope {
	out := Envelope{Headers: make(Headers, len(e.Headers))}
	for k, v := range e.Headers {
		out.Headers[k] = cloneValue(v)
	}
	if e.Body != nil {
		out.Body = append([]byte(nil), e.Body...)
	}
	return out
}

// TaskName returns the task header without decoding the body.
func (e Envelope) TaskName() string {
	s, _ := e.Headers[HeaderTask].(string)
	return s
}

// ID returns the id header without decoding the body.
func (e Envelope) ID() string {
	s, _ := e.Headers[HeaderID].(string)
	return s
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Headers:
		m := make(Headers, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	}
	return v
}
