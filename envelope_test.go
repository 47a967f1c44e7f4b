// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tdmux_test

import (
	"errors"
	"testing"

	"github.com/creachadair/tdmux"
	"github.com/google/go-cmp/cmp"
)

// Test types used throughout the package tests.

type getOption struct {
	Name string `json:"name"`
}

func (getOption) Type() string { return "getOption" }

type optionString struct {
	Value string `json:"value"`
}

func (optionString) Type() string { return "optionValueString" }

type chatList struct {
	Total int32           `json:"total_count"`
	IDs   []int64         `json:"chat_ids"`
	Tags  map[string]bool `json:"tags"`
	Owner *chatOwner      `json:"owner"`
}

func (chatList) Type() string { return "chats" }

type chatOwner struct {
	Names []string `json:"names"`
}

// badObject has a payload that claims a different type.
type badObject struct {
	T string `json:"@type"`
}

func (badObject) Type() string { return "ok" }

// notObject does not encode as a JSON object.
type notObject []int

func (notObject) Type() string { return "list" }

func TestEncodeEnvelope(t *testing.T) {
	tests := []struct {
		v        tdmux.Object
		extra    string
		clientID int32
		want     string
	}{
		{getOption{Name: "version"}, "", 0,
			`{"@type":"getOption","name":"version"}`},
		{getOption{Name: "version"}, "17", 0,
			`{"@extra":"17","@type":"getOption","name":"version"}`},
		{getOption{Name: "version"}, "17", 3,
			`{"@client_id":3,"@extra":"17","@type":"getOption","name":"version"}`},
		{getOption{Name: `a"b`}, "", -1,
			`{"@client_id":-1,"@type":"getOption","name":"a\"b"}`},
		{&getOption{}, "x", 0,
			`{"@extra":"x","@type":"getOption","name":""}`},
		{badObject{T: "ok"}, "", 0,
			`{"@type":"ok"}`},
	}
	for _, tc := range tests {
		got, err := tdmux.EncodeEnvelope(tc.v, tc.extra, tc.clientID)
		if err != nil {
			t.Errorf("Encode %+v: unexpected error: %v", tc.v, err)
		} else if string(got) != tc.want {
			t.Errorf("Encode %+v:\n got %s\nwant %s", tc.v, got, tc.want)
		}
	}

	t.Run("Errors", func(t *testing.T) {
		for _, v := range []tdmux.Object{
			badObject{T: "error"}, // conflicting @type
			notObject{1, 2, 3},    // not an object
		} {
			if got, err := tdmux.EncodeEnvelope(v, "", 0); err == nil {
				t.Errorf("Encode %+v: got %s, want error", v, got)
			}
		}
	})
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		input string
		want  tdmux.Envelope
		kind  tdmux.Kind
	}{
		{`{}`, tdmux.Envelope{}, tdmux.Uncorrelated},
		{`{"@type":"ok"}`, tdmux.Envelope{Type: "ok"}, tdmux.Uncorrelated},
		{`{"@type":"ok","@extra":"5"}`, tdmux.Envelope{Type: "ok", Extra: "5"}, tdmux.Correlated},
		{`{"@type":"ok","@extra":null,"@client_id":null}`, tdmux.Envelope{Type: "ok"}, tdmux.Uncorrelated},
		{`{"@client_id":4,"@type":"updateOption","name":"x","value":{"@type":"optionValueEmpty"}}`,
			tdmux.Envelope{Type: "updateOption", ClientID: 4}, tdmux.Uncorrelated},
	}
	for _, tc := range tests {
		got, err := tdmux.DecodeEnvelope([]byte(tc.input))
		if err != nil {
			t.Errorf("Decode %s: unexpected error: %v", tc.input, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("Decode %s (-want, +got):\n%s", tc.input, diff)
		}
		if k := got.Kind(); k != tc.kind {
			t.Errorf("Decode %s: kind is %v, want %v", tc.input, k, tc.kind)
		}
	}

	t.Run("Malformed", func(t *testing.T) {
		for _, input := range []string{
			``,
			`null`,
			`[1, 2]`,
			`"@type"`,
			`{"@type":`,
			`{"@type": 5}`,
			`{"@type":"ok","@extra":12}`,
			`{"@type":"ok","@client_id":"1"}`,
			`{"@type":"ok","@client_id":1.5}`,
		} {
			got, err := tdmux.DecodeEnvelope([]byte(input))
			if !errors.Is(err, tdmux.ErrMalformedPayload) {
				t.Errorf("Decode %q: got %v, %v; want %v", input, got, err, tdmux.ErrMalformedPayload)
			}
		}
	})
}

func TestRoundTrip(t *testing.T) {
	reg := tdmux.NewRegistry()
	if err := tdmux.RegisterType[getOption](reg, tdmux.Function); err != nil {
		t.Fatalf("Register: %v", err)
	}

	in := &getOption{Name: "my_id"}
	data, err := tdmux.EncodeEnvelope(in, "abc", 7)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := reg.DecodeMessage(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(tdmux.Envelope{Type: "getOption", Extra: "abc", ClientID: 7}, msg.Envelope); diff != "" {
		t.Errorf("Envelope (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff(in, msg.Value); diff != "" {
		t.Errorf("Value (-want, +got):\n%s", diff)
	}
}

func TestPeekType(t *testing.T) {
	if got, err := tdmux.PeekType([]byte(`{"x":1,"@type":"user"}`)); err != nil || got != "user" {
		t.Errorf("PeekType: got %q, %v; want user, nil", got, err)
	}
	for _, input := range []string{`{}`, `{"@type":""}`, `[]`, `{"@type":null}`} {
		if got, err := tdmux.PeekType([]byte(input)); !errors.Is(err, tdmux.ErrMalformedPayload) {
			t.Errorf("PeekType %q: got %q, %v; want %v", input, got, err, tdmux.ErrMalformedPayload)
		}
	}
}

func TestTag(t *testing.T) {
	got, err := tdmux.Tag("optionValueString", struct {
		Value string `json:"value"`
	}{Value: "hi"})
	if err != nil {
		t.Fatalf("Tag: unexpected error: %v", err)
	}
	const want = `{"@type":"optionValueString","value":"hi"}`
	if string(got) != want {
		t.Errorf("Tag: got %s, want %s", got, want)
	}
}
