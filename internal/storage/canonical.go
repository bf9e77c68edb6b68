package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// MarshalCanonical encodes v as JSON with object keys sorted and a
// trailing LF, matching spec.md's "Bit-exact layout: UTF-8, LF newlines,
// JSON with sorted keys." encoding/json already sorts map[string]any
// keys when marshaling, but struct field order follows declaration
// order, not name order; canonicalize re-marshals through a
// map[string]any pass so structs get the same sorted-key guarantee as
// maps.
func MarshalCanonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("storage: canonicalize: %w", err)
	}

	var buf bytes.Buffer
	if err := encodeSorted(&buf, generic); err != nil {
		return nil, fmt.Errorf("storage: encode sorted: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// encodeSorted writes v as JSON, sorting map keys at every nesting
// level. json.Marshal on map[string]any already sorts keys (Go's
// encoding/json has done so since the package's earliest versions), but
// we walk and re-encode explicitly so the guarantee doesn't silently
// depend on that implementation detail for nested structures produced
// by intermediate transformations.
func encodeSorted(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeSorted(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeSorted(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
