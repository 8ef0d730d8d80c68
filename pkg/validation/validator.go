// Package validation checks Singer records against their stream's resolved
// schema, repairs what it safely can and reports the rest as a Verdict.
//
// The validator never decides what to do with an invalid record. It returns
// the cleaned record and a verdict, and the ingestion driver applies the
// configured invalid-record policy.
package validation

import (
	"fmt"
	"math"
	"math/big"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/target-bigquery/pkg/config"
	"github.com/ajitpratap0/target-bigquery/pkg/json"
	"github.com/ajitpratap0/target-bigquery/pkg/logger"
	"github.com/ajitpratap0/target-bigquery/pkg/schema"
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
)

// BatchedAtColumn is the StitchData-compatible load timestamp. It is only
// populated when the stream's schema declares it.
const BatchedAtColumn = "_sdc_batched_at"

// Violation is one structural mismatch between a record and its schema.
type Violation struct {
	Field   string      `json:"field"`
	Type    string      `json:"type"`
	Value   interface{} `json:"value"`
	Message string      `json:"message"`
}

// Verdict is the outcome of validating one record. Field, Type and Message
// describe the first violation.
type Verdict struct {
	Valid          bool
	Field          string
	Type           string
	Snapshot       map[string]interface{}
	Message        string
	Violations     []Violation
	UnknownColumns []string
	// Repaired lists fields whose numeric strings were coerced to numbers.
	Repaired []string
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock replaces time.Now for the batch timestamp.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// Validator validates records. It keeps a set of already reported unknown
// columns and is not safe for concurrent use.
type Validator struct {
	logger   *zap.Logger
	unknown  config.UnknownColumnPolicy
	now      func() time.Time
	reported map[string]bool
}

// New creates a Validator. An empty policy means UnknownColumnDrop.
func New(log *zap.Logger, unknown config.UnknownColumnPolicy, opts ...Option) *Validator {
	if unknown == "" {
		unknown = config.UnknownColumnDrop
	}
	v := &Validator{
		logger:   logger.OrNop(log),
		unknown:  unknown,
		now:      time.Now,
		reported: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks record against node and returns a cleaned deep copy. The
// caller's record and node are never modified. A nil node is a structural
// error; data problems are reported only through the verdict.
func (v *Validator) Validate(record map[string]interface{}, node *schema.Node) (map[string]interface{}, Verdict, error) {
	if node == nil {
		return nil, Verdict{}, targeterrors.New(targeterrors.ErrorTypeStructural, "no schema registered for record")
	}

	w := &walker{}
	cleaned := w.object(node, "", record)

	if len(w.unknown) > 0 {
		sort.Strings(w.unknown)
		for _, path := range w.unknown {
			if !v.reported[path] {
				v.reported[path] = true
				v.logger.Warn("dropping column not present in schema",
					zap.String("column", path),
					zap.String("policy", string(v.unknown)))
			}
		}
	}

	if _, ok := node.Property(BatchedAtColumn); ok {
		cleaned[BatchedAtColumn] = v.now().UTC().Format(time.RFC3339Nano)
	}

	verdict := Verdict{
		Valid:          true,
		Violations:     w.violations,
		UnknownColumns: w.unknown,
		Repaired:       w.repaired,
	}

	if len(w.violations) > 0 {
		first := w.violations[0]
		verdict.Valid = false
		verdict.Field = first.Field
		verdict.Type = first.Type
		verdict.Message = first.Message
	} else if len(w.unknown) > 0 && v.unknown == config.UnknownColumnInvalidate {
		verdict.Valid = false
		verdict.Field = w.unknown[0]
		verdict.Message = fmt.Sprintf("unknown columns: %s", strings.Join(w.unknown, ", "))
	}

	if !verdict.Valid {
		verdict.Snapshot = deepCopyMap(record)
	}

	for _, path := range w.repaired {
		v.logger.Debug("coerced numeric string", zap.String("field", path))
	}

	return cleaned, verdict, nil
}

type walker struct {
	violations []Violation
	unknown    []string
	repaired   []string
}

func (w *walker) violate(node *schema.Node, path string, value interface{}, format string, args ...interface{}) {
	w.violations = append(w.violations, Violation{
		Field:   path,
		Type:    typeName(node),
		Value:   value,
		Message: fmt.Sprintf(format, args...),
	})
}

// object returns a new map holding the cleaned value of every declared
// property present in in. Unknown keys are recorded and left out.
func (w *walker) object(node *schema.Node, path string, in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))

	for _, prop := range node.Properties {
		p := joinPath(path, prop.Name)
		raw, present := in[prop.Name]
		if !present {
			if node.IsRequired(prop.Name) {
				w.violate(prop, p, nil, "required property %q is missing", prop.Name)
				out[prop.Name] = nil
			}
			continue
		}
		out[prop.Name] = w.value(prop, p, raw)
	}

	for key := range in {
		if _, ok := node.Property(key); !ok {
			w.unknown = append(w.unknown, joinPath(path, key))
		}
	}
	return out
}

// value returns the cleaned value for one node. Offending values come back
// as nil.
func (w *walker) value(node *schema.Node, path string, raw interface{}) interface{} {
	if raw == nil {
		if !node.Nullable {
			w.violate(node, path, raw, "null is not allowed")
		}
		return nil
	}

	switch node.Kind {
	case schema.KindObject:
		m, ok := raw.(map[string]interface{})
		if !ok {
			w.violate(node, path, raw, "expected object, got %T", raw)
			return nil
		}
		return w.object(node, path, m)

	case schema.KindArray:
		items, ok := raw.([]interface{})
		if !ok {
			w.violate(node, path, raw, "expected array, got %T", raw)
			return nil
		}
		before := len(w.violations)
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = w.value(node.Items, fmt.Sprintf("%s[%d]", path, i), item)
		}
		if len(w.violations) > before {
			// REPEATED columns cannot hold null elements.
			return nil
		}
		return out

	case schema.KindString:
		s, ok := raw.(string)
		if !ok {
			w.violate(node, path, raw, "expected string, got %T", raw)
			return nil
		}
		switch node.Format {
		case schema.FormatDateTime:
			if err := checkDateTime(s); err != nil {
				w.violate(node, path, raw, "%v", err)
				return nil
			}
		case schema.FormatJSON:
			if !json.Valid([]byte(s)) {
				w.violate(node, path, raw, "invalid JSON text")
				return nil
			}
		}
		return s

	case schema.KindBoolean:
		if _, ok := raw.(bool); !ok {
			w.violate(node, path, raw, "expected boolean, got %T", raw)
			return nil
		}
		return raw

	case schema.KindInteger, schema.KindNumber:
		return w.number(node, path, raw)
	}

	w.violate(node, path, raw, "unsupported kind %q", node.Kind)
	return nil
}

func (w *walker) number(node *schema.Node, path string, raw interface{}) interface{} {
	integer := node.Kind == schema.KindInteger

	var text string
	switch n := raw.(type) {
	case json.Number:
		text = n.String()
	case float64:
		text = strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		text = strconv.FormatFloat(float64(n), 'f', -1, 32)
	case int:
		text = strconv.Itoa(n)
	case int64:
		text = strconv.FormatInt(n, 10)
	case string:
		num, ok := parseNumber(strings.TrimSpace(n), integer)
		if !ok {
			w.violate(node, path, raw, "%q is not a valid %s", n, node.Kind)
			return nil
		}
		w.repaired = append(w.repaired, path)
		return num
	default:
		w.violate(node, path, raw, "expected %s, got %T", node.Kind, raw)
		return nil
	}

	num, ok := parseNumber(text, integer)
	if !ok {
		w.violate(node, path, raw, "%s is not a valid %s", text, node.Kind)
		return nil
	}
	return num
}

// parseNumber returns s as a json.Number. Integers accept integral floats
// such as 3.0, normalized to their integer text.
func parseNumber(s string, integer bool) (json.Number, bool) {
	if s == "" {
		return "", false
	}
	if !integer {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return "", false
		}
		if jsonNumber.MatchString(s) {
			return json.Number(s), true
		}
		return json.Number(strconv.FormatFloat(f, 'f', -1, 64)), true
	}

	if i, ok := new(big.Int).SetString(s, 10); ok {
		return json.Number(i.String()), true
	}
	f, ok := new(big.Float).SetString(s)
	if !ok || !f.IsInt() {
		return "", false
	}
	i, _ := f.Int(nil)
	return json.Number(i.String()), true
}

var jsonNumber = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// checkDateTime is a sanity check, not calendar validation: the value must
// parse and carry a four digit year no earlier than 1970.
func checkDateTime(s string) error {
	for _, layout := range dateTimeLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() < 1970 || t.Year() > 9999 {
			return fmt.Errorf("date-time %q has year %d outside 1970-9999", s, t.Year())
		}
		return nil
	}
	return fmt.Errorf("%q is not a valid date-time", s)
}

func typeName(node *schema.Node) string {
	name := string(node.Kind)
	if node.Format != "" {
		name += "(" + node.Format + ")"
	}
	if node.Nullable {
		name = "null|" + name
	}
	return name
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func deepCopyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
