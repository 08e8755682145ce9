package crypto

import (
	"bytes"
	"encoding/json"
	"sort"
)

// canonicalJSON renders v as Matrix canonical JSON: object keys sorted by
// Unicode code point, no insignificant whitespace, integers without leading
// zeros (guaranteed by encoding/json for Go numeric types), and UTF-8
// throughout. This is the signing pre-image for sign_json (spec.md §4.6).
//
// There is no third-party canonical-JSON encoder in the retrieved example
// corpus; every example that needs deterministic JSON (the mautrix-go
// teacher's requests.go, the omemo message types) relies on
// encoding/json's native map-key sorting for object fields, which already
// satisfies the code-point-order requirement. We follow that precedent
// instead of pulling in an unrelated canonicalization library.
func canonicalJSON(v interface{}) ([]byte, error) {
	m, err := toOrderedValue(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toOrderedValue round-trips v through encoding/json so that struct tags,
// omitempty, etc. are honored before we re-marshal it with explicit key
// ordering.
func toOrderedValue(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
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
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// stripSignaturesAndUnsigned removes the "unsigned" and "signatures" fields
// from a canonicalizable JSON object, per spec.md §4.1/§4.6: those fields
// must never be part of the signed pre-image.
func stripSignaturesAndUnsigned(v interface{}) (interface{}, error) {
	ordered, err := toOrderedValue(v)
	if err != nil {
		return nil, err
	}
	if m, ok := ordered.(map[string]interface{}); ok {
		delete(m, "unsigned")
		delete(m, "signatures")
		return m, nil
	}
	return ordered, nil
}
