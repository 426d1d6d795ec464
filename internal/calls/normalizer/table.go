// Package normalizer maps heterogeneous switch, relay and transcription
// payloads to one canonical event shape.
package normalizer

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"agency_calls_backend/internal/calls/domain"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

//go:embed aliases.yaml
var defaultAliases []byte

// Logical payload fields.
const (
	FieldKind                = "kind"
	FieldExternalCallID      = "external_call_id"
	FieldDirection           = "direction"
	FieldCallerNumber        = "caller_number"
	FieldCalledNumber        = "called_number"
	FieldExtension           = "extension"
	FieldTimestamp           = "timestamp"
	FieldDuration            = "duration"
	FieldSessionID           = "session_id"
	FieldExternalPartyNumber = "external_party_number"
)

var requiredFields = []string{
	FieldKind, FieldExternalCallID, FieldDirection, FieldCallerNumber, FieldCalledNumber,
	FieldExtension, FieldTimestamp, FieldDuration, FieldSessionID, FieldExternalPartyNumber,
}

type aliasDocument struct {
	Fields     map[string][]string `yaml:"fields"`
	Kinds      map[string][]string `yaml:"kinds"`
	Directions map[string][]string `yaml:"directions"`
	Envelopes  []string            `yaml:"envelopes"`
}

// Table is a resolved alias table. It is immutable after construction and
// safe for concurrent use.
type Table struct {
	fields     map[string][]string
	kinds      map[string]domain.Kind
	directions map[string]domain.Direction
	envelopes  []string
}

var separators = strings.NewReplacer("_", "", "-", "", " ", "", ".", "")

// foldKey applies Unicode case folding and drops separators, so "call_id",
// "callId", "CALL-ID" and "CallID" share one key. A Caser is stateful, so
// each call gets its own.
func foldKey(s string) string {
	s = cases.Fold().String(strings.TrimSpace(s))
	return separators.Replace(s)
}

// DefaultTable returns the embedded alias table.
func DefaultTable() *Table {
	t, err := ParseTable(defaultAliases)
	if err != nil {
		panic("normalizer: embedded alias table is invalid: " + err.Error())
	}
	return t
}

// LoadTable reads an alias table from disk. An empty path returns the
// embedded default.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable builds a table from YAML.
func ParseTable(data []byte) (*Table, error) {
	var doc aliasDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse alias table: %w", err)
	}

	t := &Table{
		fields:     make(map[string][]string, len(doc.Fields)),
		kinds:      make(map[string]domain.Kind),
		directions: make(map[string]domain.Direction),
	}

	for _, field := range requiredFields {
		aliases := doc.Fields[field]
		if len(aliases) == 0 {
			return nil, fmt.Errorf("alias table: field %q has no aliases", field)
		}
		folded := make([]string, 0, len(aliases))
		for _, a := range aliases {
			folded = append(folded, foldKey(a))
		}
		t.fields[field] = folded
	}

	for kind, synonyms := range doc.Kinds {
		k := domain.Kind(kind)
		switch k {
		case domain.KindStarted, domain.KindAnswered, domain.KindEnded, domain.KindHeld, domain.KindUnheld:
		default:
			return nil, fmt.Errorf("alias table: unknown kind %q", kind)
		}
		for _, s := range synonyms {
			t.kinds[foldKey(s)] = k
		}
		t.kinds[foldKey(kind)] = k
	}

	for dir, synonyms := range doc.Directions {
		d := domain.Direction(dir)
		if d != domain.DirectionInbound && d != domain.DirectionOutbound {
			return nil, fmt.Errorf("alias table: unknown direction %q", dir)
		}
		for _, s := range synonyms {
			t.directions[foldKey(s)] = d
		}
	}

	for _, e := range doc.Envelopes {
		t.envelopes = append(t.envelopes, foldKey(e))
	}

	return t, nil
}

// Kind resolves an event name to its canonical kind.
func (t *Table) Kind(raw string) domain.Kind {
	if k, ok := t.kinds[foldKey(raw)]; ok {
		return k
	}
	return domain.KindUnknown
}

// Direction resolves a direction value. ok is false for unrecognized input.
func (t *Table) Direction(raw string) (domain.Direction, bool) {
	d, ok := t.directions[foldKey(raw)]
	return d, ok
}
