// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tdmux

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Reserved top-level keys of the wire format.
const (
	KeyType     = "@type"
	KeyExtra    = "@extra"
	KeyClientID = "@client_id"
)

// An Object is a typed value that can cross the wire. Type reports the
// discriminant under which the value is encoded.
type Object interface {
	Type() string
}

// Kind distinguishes responses to a request from unsolicited events.
type Kind byte

const (
	Uncorrelated Kind = iota // no @extra: a push event from the engine
	Correlated               // has @extra: the response to a pending call
)

func (k Kind) String() string {
	switch k {
	case Uncorrelated:
		return "EVENT"
	case Correlated:
		return "RESPONSE"
	default:
		return fmt.Sprintf("KIND:%d", byte(k))
	}
}

// Envelope carries the reserved fields of a wire object.
type Envelope struct {
	Type     string // the discriminant ("@type"), empty for untagged data
	Extra    string // the correlation token ("@extra"), empty if uncorrelated
	ClientID int32  // the client ID ("@client_id"), 0 for the default client
}

// Kind reports whether e is correlated with a request.
func (e Envelope) Kind() Kind {
	if e.Extra != "" {
		return Correlated
	}
	return Uncorrelated
}

// String returns a human-friendly rendering of the envelope.
func (e Envelope) String() string {
	if e.Extra == "" {
		return fmt.Sprintf("Envelope(%s, client=%d)", e.Type, e.ClientID)
	}
	return fmt.Sprintf("Envelope(%s, client=%d, extra=%q)", e.Type, e.ClientID, e.Extra)
}

// EncodeEnvelope encodes v as a wire object tagged with its discriminant, the
// correlation token extra, and clientID. The @extra field is omitted if extra
// is empty, and @client_id is omitted if clientID == 0.
//
// The encoding of v must be a JSON object. It is an error for v to define a
// field with a reserved key, except that an @type matching v.Type() is
// permitted.
func EncodeEnvelope(v Object, extra string, clientID int32) ([]byte, error) {
	name := v.Type()
	fields, err := objectFields(v)
	if err != nil {
		return nil, err
	}
	if raw, ok := fields[KeyType]; ok {
		var got string
		if json.Unmarshal(raw, &got) != nil || got != name {
			return nil, fmt.Errorf("encode %s: payload has conflicting %s %s", name, KeyType, raw)
		}
	}
	for _, key := range []string{KeyExtra, KeyClientID} {
		if _, ok := fields[key]; ok {
			return nil, fmt.Errorf("encode %s: payload defines reserved key %q", name, key)
		}
	}
	fields[KeyType] = quote(name)
	if extra != "" {
		fields[KeyExtra] = quote(extra)
	}
	if clientID != 0 {
		fields[KeyClientID] = strconv.AppendInt(nil, int64(clientID), 10)
	}
	return json.Marshal(fields)
}

// Tag encodes v as a JSON object with an @type field set to name.  It is
// intended for the MarshalJSON methods of polymorphic values nested inside
// other objects, which must carry their own discriminant.
func Tag(name string, v any) ([]byte, error) {
	fields, err := objectFields(v)
	if err != nil {
		return nil, err
	}
	fields[KeyType] = quote(name)
	return json.Marshal(fields)
}

// DecodeEnvelope decodes the reserved fields of a wire object from data.
// Other fields are ignored. It reports an error wrapping ErrMalformedPayload
// if data is not a JSON object, or if a reserved field has the wrong type.
// A JSON null for a reserved field is treated as absent.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	} else if fields == nil {
		return Envelope{}, fmt.Errorf("%w: not an object", ErrMalformedPayload)
	}

	var env Envelope
	for key, dst := range map[string]any{
		KeyType:     &env.Type,
		KeyExtra:    &env.Extra,
		KeyClientID: &env.ClientID,
	} {
		if raw, ok := fields[key]; ok {
			if err := json.Unmarshal(raw, dst); err != nil {
				return Envelope{}, fmt.Errorf("%w: invalid %s: %s", ErrMalformedPayload, key, raw)
			}
		}
	}
	return env, nil
}

// PeekType reports the @type of the wire object in data. It reports an error
// wrapping ErrMalformedPayload if data is not an object or has no @type.
func PeekType(data []byte) (string, error) {
	var tag struct {
		Type *string `json:"@type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	} else if tag.Type == nil || *tag.Type == "" {
		return "", fmt.Errorf("%w: missing %s", ErrMalformedPayload, KeyType)
	}
	return *tag.Type, nil
}

// A Message is an inbound wire object together with its decoded value.
type Message struct {
	Envelope
	Raw   json.RawMessage // the complete wire encoding
	Value Object          // the value decoded from Raw
}

// String returns a human-friendly rendering of the message.
func (m *Message) String() string {
	if len(m.Raw) > 64 {
		return fmt.Sprintf("Message(%v, %s ...)", m.Envelope, m.Raw[:64])
	}
	return fmt.Sprintf("Message(%v, %s)", m.Envelope, m.Raw)
}

// objectFields encodes v as JSON and splits the resulting object into its
// top-level fields. A nil pointer encodes as an empty object.
func objectFields(v any) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("payload of type %T is not a JSON object", v)
	} else if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	return fields, nil
}

func quote(s string) json.RawMessage {
	data, _ := json.Marshal(s) // cannot fail for a string
	return data
}
