package envelope

import (
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/spf13/cast"

	"github.com/podushkina/taskenvelope/internal/serializer"
	"github.com/podushkina/taskenvelope/internal/task"
)

// naiveISO8601 is how Python producers write timestamps without a zone.
const naiveISO8601 = "2006-01-02T15:04:05.999999999"

// Decode turns a received envelope back into an invocation. It never
// invents an id: a message without one is rejected.
func Decode(env Envelope) (task.Invocation, error) {
	h := env.Headers

	ser, enc, err := bodySerializer(h)
	if err != nil {
		return task.Invocation{}, err
	}

	args, kwargs, options, err := decodeBody(ser, enc, env.Body)
	if err != nil {
		return task.Invocation{}, err
	}

	name, err := optString(h, HeaderTask)
	if err != nil {
		return task.Invocation{}, err
	}
	if name == "" {
		return task.Invocation{}, &MissingFieldError{Field: HeaderTask}
	}
	id, err := optString(h, HeaderID)
	if err != nil {
		return task.Invocation{}, err
	}
	if id == "" {
		return task.Invocation{}, &MissingFieldError{Field: HeaderID}
	}

	inv := task.Invocation{
		Name:            name,
		ID:              id,
		Args:            args,
		Kwargs:          kwargs,
		Options:         options,
		ContentType:     ser.ContentType(),
		ContentEncoding: enc,
	}
	if ct, _ := h[HeaderContentType].(string); ct != "" {
		inv.ContentType = ct
	}

	d := fieldReader{h: h}
	inv.CorrelationID = d.readString(HeaderCorrelationID)
	inv.ParentID = d.readString(HeaderParentID)
	inv.RootID = d.readString(HeaderRootID)
	inv.GroupID = d.readString(HeaderGroup)
	if inv.GroupID == "" {
		inv.GroupID = d.readString(HeaderGroupID)
	}
	inv.ReplyTo = d.readString(HeaderReplyTo)
	inv.Origin = d.readString(HeaderOrigin)
	inv.Lang = d.readString(HeaderLang)
	inv.Shadow = d.readString(HeaderShadow)
	if r := d.readInt(h, HeaderRetries, HeaderRetries); r != nil {
		inv.Retries = *r
	}
	inv.ETA = d.readTime(HeaderETA)
	inv.Expires = d.readTime(HeaderExpires)
	inv.TimeLimit = d.timeLimit()
	if b := d.readBool(h, HeaderIgnoreResult, HeaderIgnoreResult); b != nil {
		inv.IgnoreResult = *b
	}
	inv.Routing = d.routing()
	if d.err != nil {
		return task.Invocation{}, d.err
	}

	if inv.Retries < 0 {
		return task.Invocation{}, &InvalidFieldError{Field: HeaderRetries, Value: inv.Retries, Err: fmt.Errorf("must not be negative")}
	}
	if inv.CorrelationID == "" {
		inv.CorrelationID = inv.ID
	}
	if inv.RootID == "" && inv.ParentID == "" {
		inv.RootID = inv.ID
	}

	for k, v := range h {
		if _, ok := knownHeaders[k]; ok {
			continue
		}
		if inv.Extra == nil {
			inv.Extra = make(map[string]any)
		}
		inv.Extra[k] = cloneValue(v)
	}

	return inv, nil
}

func bodySerializer(h Headers) (serializer.Serializer, string, error) {
	ct, err := optString(h, HeaderContentType)
	if err != nil {
		return nil, "", err
	}
	if ct == "" {
		ct = serializer.JSON().ContentType()
	}
	ser := registry.Get(ct)
	if ser == nil {
		return nil, "", &UnsupportedEncodingError{Field: HeaderContentType, Value: ct}
	}

	enc, err := optString(h, HeaderContentEncoding)
	if err != nil {
		return nil, "", err
	}
	if enc == "" {
		return ser, ser.ContentEncoding(), nil
	}
	if !serializer.KnownEncoding(enc) || serializer.NormalizeEncoding(enc) != ser.ContentEncoding() {
		return nil, "", &UnsupportedEncodingError{Field: HeaderContentEncoding, Value: enc}
	}
	return ser, serializer.NormalizeEncoding(enc), nil
}

func decodeBody(ser serializer.Serializer, enc string, body []byte) ([]any, map[string]any, task.ExecutionOptions, error) {
	if enc == serializer.EncodingUTF8 && !utf8.Valid(body) {
		return nil, nil, nil, &MalformedBodyError{Reason: "body is not valid utf-8"}
	}

	var raw any
	if err := ser.Unmarshal(body, &raw); err != nil {
		return nil, nil, nil, &MalformedBodyError{Reason: "cannot deserialize " + ser.ContentType(), Err: err}
	}
	tuple, ok := raw.([]any)
	if !ok {
		return nil, nil, nil, &MalformedBodyError{Reason: fmt.Sprintf("body is %T, want a 3-element sequence", raw)}
	}
	if len(tuple) != 3 {
		return nil, nil, nil, &MalformedBodyError{Reason: fmt.Sprintf("body has %d elements, want 3", len(tuple))}
	}

	args, ok := tuple[0].([]any)
	if !ok {
		return nil, nil, nil, &MalformedBodyError{Reason: fmt.Sprintf("args is %T, want a sequence", tuple[0])}
	}
	kwargs, ok := tuple[1].(map[string]any)
	if !ok {
		return nil, nil, nil, &MalformedBodyError{Reason: fmt.Sprintf("kwargs is %T, want a mapping", tuple[1])}
	}

	var options task.ExecutionOptions
	switch o := tuple[2].(type) {
	case nil:
	case map[string]any:
		options = task.ExecutionOptions(o)
	default:
		return nil, nil, nil, &MalformedBodyError{Reason: fmt.Sprintf("execution options is %T, want a mapping", o)}
	}

	return args, kwargs, options, nil
}

func optString(h map[string]any, key string) (string, error) {
	return optStringNamed(h, key, key)
}

func optStringNamed(h map[string]any, key, field string) (string, error) {
	v, ok := h[key]
	if !ok || v == nil {
		return "", nil
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	switch v.(type) {
	case map[string]any, []any, Headers:
		return "", &InvalidFieldError{Field: field, Value: v, Err: fmt.Errorf("want a string")}
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", &InvalidFieldError{Field: field, Value: v, Err: err}
	}
	return s, nil
}

// fieldReader reads optional header values and keeps the first error.
type fieldReader struct {
	h   Headers
	err error
}

func (d *fieldReader) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *fieldReader) readString(key string) string {
	s, err := optString(d.h, key)
	if err != nil {
		d.fail(err)
	}
	return s
}

func (d *fieldReader) readInt(m map[string]any, key, field string) *int {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	if _, isBool := v.(bool); isBool {
		d.fail(&InvalidFieldError{Field: field, Value: v, Err: fmt.Errorf("want an integer")})
		return nil
	}
	if f, err := cast.ToFloat64E(v); err == nil && f != math.Trunc(f) {
		d.fail(&InvalidFieldError{Field: field, Value: v, Err: fmt.Errorf("want an integer")})
		return nil
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		d.fail(&InvalidFieldError{Field: field, Value: v, Err: err})
		return nil
	}
	return &i
}

func (d *fieldReader) readBool(m map[string]any, key, field string) *bool {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		d.fail(&InvalidFieldError{Field: field, Value: v, Err: err})
		return nil
	}
	return &b
}

func (d *fieldReader) readTime(key string) *time.Time {
	v, ok := d.h[key]
	if !ok || v == nil {
		return nil
	}
	var t time.Time
	switch tv := v.(type) {
	case time.Time:
		t = tv
	case string:
		if tv == "" {
			return nil
		}
		var err error
		t, err = time.Parse(time.RFC3339Nano, tv)
		if err != nil {
			t, err = time.ParseInLocation(naiveISO8601, tv, time.UTC)
		}
		if err != nil {
			d.fail(&InvalidFieldError{Field: key, Value: v, Err: err})
			return nil
		}
	default:
		d.fail(&InvalidFieldError{Field: key, Value: v, Err: fmt.Errorf("want an ISO 8601 timestamp")})
		return nil
	}
	t = t.UTC()
	return &t
}

func (d *fieldReader) timeLimit() task.TimeLimit {
	v, ok := d.h[HeaderTimeLimit]
	if !ok || v == nil {
		return task.TimeLimit{}
	}
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		d.fail(&InvalidFieldError{Field: HeaderTimeLimit, Value: v, Err: fmt.Errorf("want a [hard, soft] pair")})
		return task.TimeLimit{}
	}
	var limits [2]*float64
	for i, p := range pair {
		if p == nil {
			continue
		}
		f, err := cast.ToFloat64E(p)
		if err != nil {
			d.fail(&InvalidFieldError{Field: HeaderTimeLimit, Value: v, Err: err})
			return task.TimeLimit{}
		}
		limits[i] = &f
	}
	return task.TimeLimit{Hard: limits[0], Soft: limits[1]}
}

func (d *fieldReader) routing() task.Routing {
	v, ok := d.h[HeaderDeliveryInfo]
	if !ok || v == nil {
		return task.Routing{}
	}
	var m map[string]any
	switch dv := v.(type) {
	case map[string]any:
		m = dv
	case Headers:
		m = dv
	default:
		d.fail(&InvalidFieldError{Field: HeaderDeliveryInfo, Value: v, Err: fmt.Errorf("want a mapping")})
		return task.Routing{}
	}

	var r task.Routing
	r.Priority = d.readInt(m, DeliveryPriority, HeaderDeliveryInfo+"."+DeliveryPriority)
	if p := r.Priority; p != nil && (*p < 0 || *p > maxPriority) {
		d.fail(&InvalidFieldError{Field: HeaderDeliveryInfo + "." + DeliveryPriority, Value: *p, Err: fmt.Errorf("must be within 0..%d", maxPriority)})
		r.Priority = nil
	}
	r.Redelivered = d.readBool(m, DeliveryRedelivered, HeaderDeliveryInfo+"."+DeliveryRedelivered)
	var err error
	if r.RoutingKey, err = optStringNamed(m, DeliveryRoutingKey, HeaderDeliveryInfo+"."+DeliveryRoutingKey); err != nil {
		d.fail(err)
	}
	if r.Exchange, err = optStringNamed(m, DeliveryExchange, HeaderDeliveryInfo+"."+DeliveryExchange); err != nil {
		d.fail(err)
	}
	return r
}
