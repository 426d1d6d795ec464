package normalizer

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"agency_calls_backend/internal/calls/domain"
	"agency_calls_backend/platform/apperr"
	"agency_calls_backend/platform/phone"
)

// Event is the canonical call lifecycle event.
type Event struct {
	Kind           domain.Kind
	RawKind        string
	ExternalCallID string
	Direction      domain.Direction
	CallerNumber   string
	CalledNumber   string
	Extension      string
	Timestamp      time.Time
	// DurationSeconds is set only when the payload reported one.
	DurationSeconds *int
	// Irregular lists numbers that could not be normalized and were kept as sent.
	Irregular []string
}

// SessionReady is the canonical transcription "session ready" event.
type SessionReady struct {
	ExternalCallID      string
	SessionID           string
	ExternalPartyNumber string
	ReceivedAt          time.Time
	Irregular           []string
}

// Payload is a decoded request body.
type Payload map[string]any

// Decode parses a request body into a payload. Malformed JSON and non-object
// bodies are a client error; every other shape is tolerated.
func Decode(body []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, apperr.BadRequest("request body must be a JSON object").WithOp("normalizer.Decode")
	}
	if payload == nil {
		return nil, apperr.BadRequest("request body must be a JSON object").WithOp("normalizer.Decode")
	}
	return payload, nil
}

// Normalizer resolves payloads against an alias table.
type Normalizer struct {
	table *Table
}

// New creates a normalizer. A nil table uses the embedded default.
func New(table *Table) *Normalizer {
	if table == nil {
		table = DefaultTable()
	}
	return &Normalizer{table: table}
}

// Normalize maps a call event payload. It never fails: unknown event names
// produce KindUnknown and missing fields stay empty. now is used when the
// payload carries no usable timestamp.
func (n *Normalizer) Normalize(payload Payload, now time.Time) Event {
	fields := n.index(payload)

	ev := Event{
		RawKind:        fields.get(n.table, FieldKind),
		ExternalCallID: fields.get(n.table, FieldExternalCallID),
		Extension:      fields.get(n.table, FieldExtension),
		Timestamp:      parseTimestamp(fields.get(n.table, FieldTimestamp), now),
	}
	ev.Kind = n.table.Kind(ev.RawKind)
	ev.Direction = n.direction(fields.get(n.table, FieldDirection))
	ev.CallerNumber = normalizeNumber(fields.get(n.table, FieldCallerNumber), &ev.Irregular)
	ev.CalledNumber = normalizeNumber(fields.get(n.table, FieldCalledNumber), &ev.Irregular)

	if d, ok := parseDuration(fields.get(n.table, FieldDuration)); ok {
		ev.DurationSeconds = &d
	}
	return ev
}

// NormalizeSessionReady maps a transcription session payload.
func (n *Normalizer) NormalizeSessionReady(payload Payload, now time.Time) SessionReady {
	fields := n.index(payload)

	ready := SessionReady{
		ExternalCallID: fields.get(n.table, FieldExternalCallID),
		SessionID:      fields.get(n.table, FieldSessionID),
		ReceivedAt:     parseTimestamp(fields.get(n.table, FieldTimestamp), now),
	}
	ready.ExternalPartyNumber = normalizeNumber(fields.get(n.table, FieldExternalPartyNumber), &ready.Irregular)
	return ready
}

// WithKind returns the event with its kind forced, for endpoints that imply
// the kind when the payload omits it.
func (e Event) WithKind(kind domain.Kind) Event {
	if e.Kind == domain.KindUnknown {
		e.Kind = kind
		if e.RawKind == "" {
			e.RawKind = string(kind)
		}
	}
	return e
}

func (n *Normalizer) direction(raw string) domain.Direction {
	if d, ok := n.table.Direction(raw); ok {
		return d
	}
	return domain.DirectionInbound
}

// foldedFields maps folded payload keys to string values.
type foldedFields map[string]string

func (f foldedFields) get(t *Table, field string) string {
	for _, alias := range t.fields[field] {
		if v, ok := f[alias]; ok && v != "" {
			return v
		}
	}
	return ""
}

// index folds payload keys once. Envelope objects are merged underneath the
// top level. When two keys fold to the same value, the lexically first
// original key wins so the result does not depend on map order.
func (n *Normalizer) index(payload Payload) foldedFields {
	out := make(foldedFields, len(payload))
	addAll(out, payload)

	for _, envelope := range n.table.envelopes {
		for key, value := range payload {
			if foldKey(key) != envelope {
				continue
			}
			if nested, ok := value.(map[string]any); ok {
				addAll(out, nested)
			}
		}
	}
	return out
}

func addAll(out foldedFields, values map[string]any) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		folded := foldKey(k)
		if _, exists := out[folded]; exists {
			continue
		}
		if s, ok := stringify(values[k]); ok {
			out[folded] = s
		}
	}
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func normalizeNumber(raw string, irregular *[]string) string {
	if raw == "" {
		return ""
	}
	normalized, regular := phone.Normalize(raw)
	if !regular {
		*irregular = append(*irregular, raw)
	}
	return normalized
}

// parseTimestamp accepts RFC 3339 or unix seconds (milliseconds when the
// value is too large to be seconds).
func parseTimestamp(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback.UTC()
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC()
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
		if f > 1e12 {
			return time.UnixMilli(int64(f)).UTC()
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return fallback.UTC()
}

func parseDuration(raw string) (int, bool) {
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Round(f)), true
}
