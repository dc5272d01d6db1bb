// Package record implements the record encoder (spec §4.D): full encoding
// of a record's declared non-partition fields, and a covering-value bitmap
// encoding used by index-only scans.
package record

import (
	"github.com/recordstore/engine/engineerr"
	"github.com/recordstore/engine/tuple"
)

// FieldSpec names one declared field of a record type, in the fixed
// declaration order that both full and covering encodings rely on.
type FieldSpec struct {
	Name string
}

// Values is a record's field values keyed by name; nil means the field is
// null (as opposed to absent, which never occurs for a declared field).
type Values map[string]any

// EncodeFull serializes every field in specs (in order) as a single tuple
// (spec §4.D mode 1).
func EncodeFull(values Values, specs []FieldSpec) []byte {
	t := make(tuple.Tuple, len(specs))
	for i, spec := range specs {
		t[i] = values[spec.Name]
	}
	return tuple.Pack(t)
}

// DecodeFull inverts EncodeFull.
func DecodeFull(data []byte, specs []FieldSpec) (Values, error) {
	t, err := tuple.Unpack(data)
	if err != nil {
		return nil, engineerr.New(engineerr.MalformedTuple, "full record decode failed", "cause", err.Error())
	}
	if len(t) != len(specs) {
		return nil, engineerr.New(engineerr.SchemaMismatch, "field count mismatch",
			"expected", len(specs), "got", len(t))
	}
	out := make(Values, len(specs))
	for i, spec := range specs {
		out[spec.Name] = t[i]
	}
	return out, nil
}

// EncodeCovering produces a covering-value bitmap encoding (spec §4.D mode
// 2): an ordered list of stored field names chosen at index-definition time
// produces a bitmap (1 bit per field, present=1) followed by the packed
// present values in bitmap order. A nil value is encoded as bit=0 (absent);
// any non-nil value, including an empty string, is bit=1 with its packed
// bytes appended, so present-empty and absent are distinguishable on
// decode (spec testable property 12).
func EncodeCovering(values Values, coveringFields []string) []byte {
	bitmapLen := (len(coveringFields) + 7) / 8
	out := make([]byte, bitmapLen)

	var body []byte
	for i, name := range coveringFields {
		v, present := values[name]
		if !present || v == nil {
			continue
		}
		out[i/8] |= 1 << uint(i%8)
		body = append(body, tuple.PackOne(v)...)
	}
	return append(out, body...)
}

// DecodeCovering inverts EncodeCovering.
func DecodeCovering(data []byte, coveringFields []string) (Values, error) {
	bitmapLen := (len(coveringFields) + 7) / 8
	if len(data) < bitmapLen {
		return nil, engineerr.New(engineerr.MalformedTuple, "covering value shorter than bitmap")
	}
	bitmap, body := data[:bitmapLen], data[bitmapLen:]

	out := make(Values, len(coveringFields))
	for i, name := range coveringFields {
		present := bitmap[i/8]&(1<<uint(i%8)) != 0
		if !present {
			out[name] = nil
			continue
		}
		v, rest, err := tuple.UnpackOne(body)
		if err != nil {
			return nil, engineerr.New(engineerr.MalformedTuple, "covering value field decode failed",
				"field", name, "cause", err.Error())
		}
		out[name] = v
		body = rest
	}
	return out, nil
}
