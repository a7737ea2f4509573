package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DataType restricts the discriminant carried by data entries
type DataType string

const (
	DataTypeUser   DataType = "user_data"
	DataTypeEvent  DataType = "event_data"
	DataTypeCustom DataType = "custom_data"
)

// Valid reports whether the data type is one of the enumerated set
func (d DataType) Valid() bool {
	switch d {
	case DataTypeUser, DataTypeEvent, DataTypeCustom:
		return true
	}
	return false
}

// Record is the union of telemetry items destined for the remote
// endpoint. Every record carries a unique external identifier, an
// arbitrary nested payload and an ordered set of string tags.
// Records are constructed synchronously, validated before any network
// attempt and discarded once the send resolves or exhausts retries.
type Record interface {
	// RecordType identifies the concrete kind for routing and logging
	RecordType() string

	// Validate checks structural requirements before any network call.
	// A failure here is a ValidationError and is never retried.
	Validate() error

	// Body returns the JSON-serializable request payload
	Body() map[string]interface{}
}

// UserRecord describes one user known to the host application
type UserRecord struct {
	ExternalID string                 `json:"externalId"`
	Email      string                 `json:"email,omitempty"`
	Name       string                 `json:"name,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Tags       []string               `json:"tags,omitempty"`
}

func (r *UserRecord) RecordType() string { return "user" }

func (r *UserRecord) Validate() error {
	if r.ExternalID == "" {
		return &Error{
			Op:      "UserRecord.Validate",
			Kind:    KindValidation,
			Message: "externalId is required",
			Err:     ErrMissingField,
		}
	}
	return nil
}

func (r *UserRecord) Body() map[string]interface{} {
	body := map[string]interface{}{"externalId": r.ExternalID}
	if r.Email != "" {
		body["email"] = r.Email
	}
	if r.Name != "" {
		body["name"] = r.Name
	}
	if len(r.Payload) > 0 {
		body["payload"] = r.Payload
	}
	if len(r.Tags) > 0 {
		body["tags"] = r.Tags
	}
	return body
}

// DataEntry is one tagged data item with a type discriminant drawn from
// the DataType enumeration.
type DataEntry struct {
	ExternalID string                 `json:"externalId"`
	DataType   DataType               `json:"dataType"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Tags       []string               `json:"tags,omitempty"`
}

func (r *DataEntry) RecordType() string { return "entry" }

func (r *DataEntry) Validate() error {
	if r.ExternalID == "" {
		return &Error{
			Op:      "DataEntry.Validate",
			Kind:    KindValidation,
			Message: "externalId is required",
			Err:     ErrMissingField,
		}
	}
	if !r.DataType.Valid() {
		return &Error{
			Op:      "DataEntry.Validate",
			Kind:    KindValidation,
			Message: fmt.Sprintf("dataType %q is not one of user_data, event_data, custom_data", r.DataType),
			Err:     ErrInvalidDataType,
		}
	}
	return nil
}

func (r *DataEntry) Body() map[string]interface{} {
	body := map[string]interface{}{
		"externalId": r.ExternalID,
		"dataType":   string(r.DataType),
	}
	if len(r.Payload) > 0 {
		body["payload"] = r.Payload
	}
	if len(r.Tags) > 0 {
		body["tags"] = r.Tags
	}
	return body
}

// Event is one instrumentation event, typically emitted by the request
// middleware after a response completes.
type Event struct {
	ExternalID string                 `json:"externalId"`
	Name       string                 `json:"name"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Tags       []string               `json:"tags,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

func (r *Event) RecordType() string { return "event" }

func (r *Event) Validate() error {
	if r.ExternalID == "" {
		return &Error{
			Op:      "Event.Validate",
			Kind:    KindValidation,
			Message: "externalId is required",
			Err:     ErrMissingField,
		}
	}
	if r.Name == "" {
		return &Error{
			Op:      "Event.Validate",
			Kind:    KindValidation,
			Message: "event name is required",
			Err:     ErrMissingField,
		}
	}
	return nil
}

func (r *Event) Body() map[string]interface{} {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	body := map[string]interface{}{
		"externalId": r.ExternalID,
		"name":       r.Name,
		"timestamp":  ts.Format(time.RFC3339Nano),
	}
	if len(r.Payload) > 0 {
		body["payload"] = r.Payload
	}
	if len(r.Tags) > 0 {
		body["tags"] = r.Tags
	}
	return body
}

// ErrorReport is a structured error forwarded by the error tracker
type ErrorReport struct {
	ExternalID  string                 `json:"externalId"`
	Message     string                 `json:"message"`
	Stack       string                 `json:"stack,omitempty"`
	Code        int                    `json:"code,omitempty"`
	Severity    string                 `json:"severity"`
	RequestBody string                 `json:"requestBody,omitempty"`
	Service     map[string]interface{} `json:"service,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

func (r *ErrorReport) RecordType() string { return "error" }

func (r *ErrorReport) Validate() error {
	if r.ExternalID == "" {
		return &Error{
			Op:      "ErrorReport.Validate",
			Kind:    KindValidation,
			Message: "externalId is required",
			Err:     ErrMissingField,
		}
	}
	if r.Message == "" {
		return &Error{
			Op:      "ErrorReport.Validate",
			Kind:    KindValidation,
			Message: "error message is required",
			Err:     ErrMissingField,
		}
	}
	return nil
}

func (r *ErrorReport) Body() map[string]interface{} {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	body := map[string]interface{}{
		"externalId": r.ExternalID,
		"message":    r.Message,
		"severity":   r.Severity,
		"timestamp":  ts.Format(time.RFC3339Nano),
	}
	if r.Stack != "" {
		body["stack"] = r.Stack
	}
	if r.Code != 0 {
		body["code"] = r.Code
	}
	if r.RequestBody != "" {
		body["requestBody"] = r.RequestBody
	}
	if len(r.Service) > 0 {
		body["service"] = r.Service
	}
	if len(r.Payload) > 0 {
		body["payload"] = r.Payload
	}
	if len(r.Tags) > 0 {
		body["tags"] = r.Tags
	}
	return body
}

// MetricsSnapshot wraps one exposition snapshot for forwarding to the
// remote endpoint as a telemetry record.
type MetricsSnapshot struct {
	ExternalID string   `json:"externalId"`
	Exposition string   `json:"exposition"`
	Tags       []string `json:"tags,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

func (r *MetricsSnapshot) RecordType() string { return "metrics" }

func (r *MetricsSnapshot) Validate() error {
	if r.ExternalID == "" {
		return &Error{
			Op:      "MetricsSnapshot.Validate",
			Kind:    KindValidation,
			Message: "externalId is required",
			Err:     ErrMissingField,
		}
	}
	return nil
}

func (r *MetricsSnapshot) Body() map[string]interface{} {
	ts := r.CapturedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	body := map[string]interface{}{
		"externalId": r.ExternalID,
		"exposition": r.Exposition,
		"capturedAt": ts.Format(time.RFC3339Nano),
	}
	if len(r.Tags) > 0 {
		body["tags"] = r.Tags
	}
	return body
}

// NewExternalID generates a unique external identifier for records the
// caller did not name.
func NewExternalID() string {
	return uuid.NewString()
}

// NewEvent creates an event with a generated external ID and the
// current timestamp.
func NewEvent(name string, payload map[string]interface{}) *Event {
	return &Event{
		ExternalID: NewExternalID(),
		Name:       name,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}
}
