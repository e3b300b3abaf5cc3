package eventstream

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/txconsole/runtime/console/logview"
	"goa.design/txconsole/runtime/console/status"
	"goa.design/txconsole/runtime/console/transfer"
)

type (
	// Event is a decoded stream message.
	Event struct {
		// Level is the log level, LevelInfo when absent.
		Level logview.Level
		// Message is the human readable message.
		Message string
		// Timestamp is the producer timestamp, zero when absent or not a valid
		// ISO 8601 timestamp.
		Timestamp time.Time
		// Meta is the transfer update carried by the message, if any.
		Meta *transfer.Meta
	}

	// DecodeOption configures Decode.
	DecodeOption func(*decodeOptions)

	decodeOptions struct {
		loc *time.Location
	}

	wireEvent struct {
		Level     *string   `json:"level"`
		Message   *string   `json:"message"`
		Timestamp *string   `json:"timestamp"`
		Meta      *wireMeta `json:"meta"`
	}

	wireMeta struct {
		ID      *string      `json:"id"`
		Label   *string      `json:"label,omitempty"`
		TxIndex *json.Number `json:"txIndex,omitempty"`
		TxHash  *string      `json:"txHash,omitempty"`
		Status  *string      `json:"status,omitempty"`
	}
)

// localTimestampLayout parses ISO 8601 timestamps without a zone offset.
const localTimestampLayout = "2006-01-02T15:04:05.999999999"

// InLocation sets the location of timestamps that carry no zone offset.
// Defaults to UTC.
func InLocation(loc *time.Location) DecodeOption {
	return func(o *decodeOptions) {
		if loc != nil {
			o.loc = loc
		}
	}
}

//go:embed event.schema.json
var eventSchema []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Decode validates data against the event envelope schema and decodes it.
// A txIndex that is negative or not integral is dropped rather than failing
// the whole event.
func Decode(data []byte, opts ...DecodeOption) (Event, error) {
	o := decodeOptions{loc: time.UTC}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	sch, err := compiledSchema()
	if err != nil {
		return Event{}, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return Event{}, fmt.Errorf("invalid event: %w", err)
	}
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	evt := Event{Level: logview.LevelInfo, Meta: w.Meta.meta()}
	if w.Level != nil {
		evt.Level = logview.ParseLevel(*w.Level)
	}
	if w.Message != nil {
		evt.Message = *w.Message
	}
	if w.Timestamp != nil {
		evt.Timestamp = parseTimestamp(strings.TrimSpace(*w.Timestamp), o.loc)
	}
	return evt, nil
}

// parseTimestamp returns the zero time when s is not a valid timestamp.
func parseTimestamp(s string, loc *time.Location) time.Time {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts
	}
	if ts, err := time.ParseInLocation(localTimestampLayout, s, loc); err == nil {
		return ts
	}
	return time.Time{}
}

func (m *wireMeta) meta() *transfer.Meta {
	if m == nil {
		return nil
	}
	var meta transfer.Meta
	if m.ID != nil {
		meta.ID = *m.ID
	}
	if m.Label != nil {
		meta.Label = *m.Label
	}
	if m.TxHash != nil {
		meta.TxHash = *m.TxHash
	}
	if m.Status != nil {
		meta.Status = status.Code(*m.Status)
	}
	if m.TxIndex != nil {
		if idx, ok := txIndex(*m.TxIndex); ok {
			meta.TxIndex = &idx
		}
	}
	return &meta
}

// txIndex accepts non-negative integral numbers, including forms such as
// 1.0 or 1e1.
func txIndex(n json.Number) (int, bool) {
	if i, err := n.Int64(); err == nil {
		if i < 0 || i > math.MaxInt32 {
			return 0, false
		}
		return int(i), true
	}
	f, err := n.Float64()
	if err != nil || f < 0 || f > math.MaxInt32 || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// Encode marshals evt into the wire envelope. Producers use it to publish
// events.
func Encode(evt Event) ([]byte, error) {
	var w wireEvent
	if m := evt.Meta; m != nil {
		w.Meta = &wireMeta{ID: &m.ID}
		if m.Label != "" {
			w.Meta.Label = &m.Label
		}
		if m.TxIndex != nil {
			n := json.Number(strconv.Itoa(*m.TxIndex))
			w.Meta.TxIndex = &n
		}
		if m.TxHash != "" {
			w.Meta.TxHash = &m.TxHash
		}
		if m.Status != "" {
			st := string(m.Status)
			w.Meta.Status = &st
		}
	}
	if evt.Level != "" {
		lvl := string(evt.Level)
		w.Level = &lvl
	}
	msg := evt.Message
	w.Message = &msg
	if !evt.Timestamp.IsZero() {
		ts := evt.Timestamp.UTC().Format(time.RFC3339Nano)
		w.Timestamp = &ts
	}
	return json.Marshal(w)
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(eventSchema))
		if err != nil {
			schemaErr = fmt.Errorf("unmarshal event schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("event.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("add event schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile("event.schema.json")
	})
	return schema, schemaErr
}
