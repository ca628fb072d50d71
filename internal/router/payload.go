package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/registry"
)

// addressField names the recipient of a directed message. It is consumed by
// the router and never forwarded.
const addressField = "toDeviceId"

var errNotObject = errors.New("payload is not a JSON object")

type field struct {
	key   string
	value json.RawMessage
}

// object is a JSON object whose members keep their original order and raw
// encoding, so forwarded values are passed through untouched.
type object []field

func parseObject(raw []byte) (object, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errNotObject
	}

	obj := object{}
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		// A repeated key keeps its first position and takes the last value.
		if i, dup := index[key]; dup {
			obj[i].value = value
			continue
		}
		index[key] = len(obj)
		obj = append(obj, field{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return obj, nil
}

func (o object) get(key string) (json.RawMessage, bool) {
	for _, f := range o {
		if f.key == key {
			return f.value, true
		}
	}
	return nil, false
}

func (o object) without(key string) object {
	out := make(object, 0, len(o))
	for _, f := range o {
		if f.key != key {
			out = append(out, f)
		}
	}
	return out
}

func (o object) only(keys ...string) object {
	out := make(object, 0, len(keys))
	for _, k := range keys {
		if v, ok := o.get(k); ok {
			out = append(out, field{key: k, value: v})
		}
	}
	return out
}

// addressee returns the recipient device id, read the same way registration
// reads deviceId. A missing or null toDeviceId leaves the message unaddressed.
func (o object) addressee() (string, bool) {
	raw, ok := o.get(addressField)
	if !ok {
		return "", false
	}
	return registry.IdentityFromJSON(raw)
}

// MarshalJSON writes members in order. Keys and values are not HTML-escaped;
// values are copied as received.
func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	buf.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := enc.Encode(f.key); err != nil {
			return nil, err
		}
		// Encode terminates each value with a newline.
		buf.Truncate(buf.Len() - 1)
		buf.WriteByte(':')
		buf.Write(f.value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
