package upstream

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Body is a raw JSON answer.
type Body []byte

// Record decodes a single JSON object.
func (b Body) Record() (Record, error) {
	var raw map[string]any
	if err := decode(b, &raw); err != nil {
		return nil, errors.Wrap(err, "decode object")
	}
	return NewRecord(raw), nil
}

// Records decodes a JSON array of objects. An object wrapping the array
// under "items", "data" or "results" is accepted too. An empty body is an
// empty list.
func (b Body) Records() ([]Record, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	var list []map[string]any
	if err := decode(b, &list); err == nil {
		return records(list), nil
	}
	var wrapped map[string]json.RawMessage
	if err := decode(b, &wrapped); err != nil {
		return nil, errors.Wrap(err, "decode list")
	}
	for k, v := range wrapped {
		switch normalize(k) {
		case "items", "data", "results":
			if err := decode(v, &list); err != nil {
				return nil, errors.Wrapf(err, "decode list under %q", k)
			}
			return records(list), nil
		}
	}
	return nil, errors.New("decode list: no array in answer")
}

func decode(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

func records(list []map[string]any) []Record {
	out := make([]Record, 0, len(list))
	for _, raw := range list {
		out = append(out, NewRecord(raw))
	}
	return out
}

// Record is a JSON object with normalized field names. The clinic service
// spells the same field as "Fecha", "fecha" or "Medico_Matricula" and
// "medico_matricula" depending on the endpoint; lookups ignore case and
// underscores.
type Record map[string]any

// NewRecord normalizes the keys of raw.
func NewRecord(raw map[string]any) Record {
	r := make(Record, len(raw))
	for k, v := range raw {
		r[normalize(k)] = v
	}
	return r
}

func normalize(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", ""))
}

func (r Record) lookup(keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := r[normalize(k)]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first present key as text. Numbers are formatted.
func (r Record) String(keys ...string) string {
	v, ok := r.lookup(keys)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// Int returns the first present key as an integer. Numeric strings and
// booleans are accepted.
func (r Record) Int(keys ...string) (int, bool) {
	v, ok := r.lookup(keys)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		if f, err := t.Float64(); err == nil {
			return int(f), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n, true
		}
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// IntPtr is Int returning nil when absent.
func (r Record) IntPtr(keys ...string) *int {
	n, ok := r.Int(keys...)
	if !ok {
		return nil
	}
	return &n
}

// Bool reads true/false, 1/0 or "si"/"no".
func (r Record) Bool(keys ...string) (bool, bool) {
	v, ok := r.lookup(keys)
	if !ok {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case json.Number:
		n, err := t.Int64()
		return n != 0, err == nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "si", "sí", "yes":
			return true, true
		case "0", "false", "no":
			return false, true
		}
	}
	return false, false
}

// Record returns a nested object.
func (r Record) Record(keys ...string) Record {
	v, ok := r.lookup(keys)
	if !ok {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return NewRecord(m)
	}
	return nil
}

// Records returns a nested array of objects.
func (r Record) Records(keys ...string) []Record {
	v, ok := r.lookup(keys)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, NewRecord(m))
		}
	}
	return out
}
