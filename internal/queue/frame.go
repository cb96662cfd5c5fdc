package queue

import (
	"encoding/base64"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/podushkina/taskenvelope/internal/envelope"
)

const (
	bodyEncodingBase64     = "base64"
	deliveryModePersistent = 2
)

// frame is the JSON document the Celery Redis transport stores per message.
type frame struct {
	Body            string           `json:"body"`
	ContentEncoding string           `json:"content-encoding"`
	ContentType     string           `json:"content-type"`
	Headers         envelope.Headers `json:"headers"`
	Properties      properties       `json:"properties"`
}

type properties struct {
	CorrelationID string         `json:"correlation_id"`
	ReplyTo       string         `json:"reply_to,omitempty"`
	DeliveryMode  int            `json:"delivery_mode"`
	DeliveryInfo  map[string]any `json:"delivery_info"`
	Priority      any            `json:"priority"`
	BodyEncoding  string         `json:"body_encoding"`
	DeliveryTag   string         `json:"delivery_tag"`
}

// propertyHeaders move between the envelope headers and the frame properties.
var propertyHeaders = []string{
	envelope.HeaderContentType,
	envelope.HeaderContentEncoding,
	envelope.HeaderCorrelationID,
	envelope.HeaderReplyTo,
	envelope.HeaderDeliveryInfo,
}

func marshalFrame(env envelope.Envelope) ([]byte, error) {
	h := env.Clone().Headers
	di, _ := h[envelope.HeaderDeliveryInfo].(map[string]any)

	f := frame{
		Body:            base64.StdEncoding.EncodeToString(env.Body),
		ContentType:     headerString(h, envelope.HeaderContentType),
		ContentEncoding: headerString(h, envelope.HeaderContentEncoding),
		Headers:         make(envelope.Headers, len(h)),
		Properties: properties{
			CorrelationID: headerString(h, envelope.HeaderCorrelationID),
			ReplyTo:       headerString(h, envelope.HeaderReplyTo),
			DeliveryMode:  deliveryModePersistent,
			DeliveryInfo: map[string]any{
				envelope.DeliveryExchange:    di[envelope.DeliveryExchange],
				envelope.DeliveryRoutingKey:  di[envelope.DeliveryRoutingKey],
				envelope.DeliveryRedelivered: di[envelope.DeliveryRedelivered],
			},
			Priority:     di[envelope.DeliveryPriority],
			BodyEncoding: bodyEncodingBase64,
			DeliveryTag:  uuid.NewString(),
		},
	}
	for k, v := range h {
		f.Headers[k] = v
	}
	for _, k := range propertyHeaders {
		delete(f.Headers, k)
	}

	return sonic.ConfigStd.Marshal(f)
}

func unmarshalFrame(data []byte) (envelope.Envelope, error) {
	var f frame
	if err := sonic.ConfigStd.Unmarshal(data, &f); err != nil {
		return envelope.Envelope{}, err
	}

	body := []byte(f.Body)
	switch f.Properties.BodyEncoding {
	case bodyEncodingBase64:
		b, err := base64.StdEncoding.DecodeString(f.Body)
		if err != nil {
			return envelope.Envelope{}, fmt.Errorf("body: %w", err)
		}
		body = b
	case "":
	default:
		return envelope.Envelope{}, fmt.Errorf("unsupported body_encoding %q", f.Properties.BodyEncoding)
	}

	h := f.Headers
	if h == nil {
		h = envelope.Headers{}
	}
	if f.ContentType != "" {
		h[envelope.HeaderContentType] = f.ContentType
	}
	if f.ContentEncoding != "" {
		h[envelope.HeaderContentEncoding] = f.ContentEncoding
	}
	if f.Properties.CorrelationID != "" {
		h[envelope.HeaderCorrelationID] = f.Properties.CorrelationID
	}
	h[envelope.HeaderReplyTo] = nil
	if f.Properties.ReplyTo != "" {
		h[envelope.HeaderReplyTo] = f.Properties.ReplyTo
	}
	di := f.Properties.DeliveryInfo
	h[envelope.HeaderDeliveryInfo] = map[string]any{
		envelope.DeliveryPriority:    f.Properties.Priority,
		envelope.DeliveryRedelivered: di[envelope.DeliveryRedelivered],
		envelope.DeliveryRoutingKey:  di[envelope.DeliveryRoutingKey],
		envelope.DeliveryExchange:    di[envelope.DeliveryExchange],
	}

	return envelope.Envelope{Headers: h, Body: body}, nil
}

func headerString(h envelope.Headers, key string) string {
	s, _ := h[key].(string)
	return s
}
