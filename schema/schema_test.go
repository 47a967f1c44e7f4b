// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package schema_test

import (
	"errors"
	"testing"

	"github.com/creachadair/tdmux"
	"github.com/creachadair/tdmux/schema"
	"github.com/google/go-cmp/cmp"
)

func TestRegister(t *testing.T) {
	r := schema.MustRegistry()

	for _, tc := range []struct {
		name string
		want tdmux.Capability
	}{
		{"getOption", tdmux.Function},
		{"close", tdmux.Function},
		{"ok", tdmux.DataObject},
		{"error", tdmux.DataObject},
		{"updateNewChat", tdmux.DataObject},
		{"authorizationStateReady", tdmux.DataObject},
	} {
		got, ok := r.Capability(tc.name)
		if !ok {
			t.Errorf("Capability(%q): not registered", tc.name)
		} else if got != tc.want {
			t.Errorf("Capability(%q): got %v, want %v", tc.name, got, tc.want)
		}
	}

	// Registering the table a second time must fail without disturbing it.
	n := r.Len()
	if err := schema.Register(r); !errors.Is(err, tdmux.ErrDuplicateDiscriminant) {
		t.Errorf("Register again: got %v, want %v", err, tdmux.ErrDuplicateDiscriminant)
	}
	if got := r.Len(); got != n {
		t.Errorf("Len after duplicate: got %d, want %d", got, n)
	}
}

func TestPolymorphic(t *testing.T) {
	r := schema.MustRegistry()

	t.Run("Decode", func(t *testing.T) {
		for _, tc := range []struct {
			input string
			want  tdmux.Object
		}{
			{`{"@type":"updateOption","name":"version","value":{"@type":"optionValueString","value":"1.8.0"}}`,
				&schema.UpdateOption{Name: "version", Value: &schema.OptionValueString{Value: "1.8.0"}}},
			{`{"@type":"updateOption","name":"unix_time","value":{"@type":"optionValueInteger","value":"1700000000"}}`,
				&schema.UpdateOption{Name: "unix_time", Value: &schema.OptionValueInteger{Value: 1700000000}}},
			{`{"@type":"updateOption","name":"x","value":{"@type":"optionValueEmpty"}}`,
				&schema.UpdateOption{Name: "x", Value: &schema.OptionValueEmpty{}}},
			{`{"@type":"updateOption","name":"x"}`,
				&schema.UpdateOption{Name: "x"}},
			{`{"@type":"updateAuthorizationState","authorization_state":{"@type":"authorizationStateReady"}}`,
				&schema.UpdateAuthorizationState{AuthorizationState: &schema.AuthorizationStateReady{}}},
			{`{"@type":"setOption","name":"online","value":{"@type":"optionValueBoolean","value":true}}`,
				&schema.SetOption{Name: "online", Value: &schema.OptionValueBoolean{Value: true}}},
		} {
			msg, err := r.DecodeMessage([]byte(tc.input))
			if err != nil {
				t.Errorf("Decode %s: unexpected error: %v", tc.input, err)
				continue
			}
			if diff := cmp.Diff(tc.want, msg.Value); diff != "" {
				t.Errorf("Decode %s (-want, +got):\n%s", tc.input, diff)
			}
		}
	})

	t.Run("Encode", func(t *testing.T) {
		// A nested value must carry its own @type, so that it can be decoded
		// again by the receiver.
		in := &schema.UpdateOption{Name: "my_id", Value: schema.OptionValueInteger{Value: 12345}}
		data, err := tdmux.EncodeEnvelope(in, "", 0)
		if err != nil {
			t.Fatalf("Encode: unexpected error: %v", err)
		}
		const want = `{"@type":"updateOption","name":"my_id","value":{"@type":"optionValueInteger","value":"12345"}}`
		if got := string(data); got != want {
			t.Errorf("Encode:\n got %s\nwant %s", got, want)
		}

		msg, err := r.DecodeMessage(data)
		if err != nil {
			t.Fatalf("Decode: unexpected error: %v", err)
		}
		got := msg.Value.(*schema.UpdateOption)
		if v, ok := got.Value.(*schema.OptionValueInteger); !ok || v.Value != 12345 {
			t.Errorf("Decode value: got %#v, want integer 12345", got.Value)
		}
	})

	t.Run("UnknownNested", func(t *testing.T) {
		const input = `{"@type":"updateOption","name":"x","value":{"@type":"optionValueFancy"}}`
		_, err := r.DecodeMessage([]byte(input))
		if !errors.Is(err, tdmux.ErrMalformedPayload) {
			t.Errorf("Decode: got %v, want %v", err, tdmux.ErrMalformedPayload)
		}
		// A variant newer than the local schema is reported as such.
		if !errors.Is(err, tdmux.ErrUnknownDiscriminant) {
			t.Errorf("Decode: got %v, want %v", err, tdmux.ErrUnknownDiscriminant)
		}
	})
}

func TestDefaults(t *testing.T) {
	r := schema.MustRegistry()

	t.Run("MissingList", func(t *testing.T) {
		msg, err := r.DecodeMessage([]byte(`{"@type":"chats","total_count":0}`))
		if err != nil {
			t.Fatalf("Decode: unexpected error: %v", err)
		}
		chats := msg.Value.(*schema.Chats)
		if chats.ChatIDs == nil {
			t.Error("ChatIDs is nil, want empty")
		}
		if len(chats.ChatIDs) != 0 {
			t.Errorf("ChatIDs: got %v, want empty", chats.ChatIDs)
		}
	})

	t.Run("Nested", func(t *testing.T) {
		const input = `{"@type":"user","id":101,"first_name":"Alice",
                   "usernames":{"@type":"usernames","editable_username":"alice"}}`
		msg, err := r.DecodeMessage([]byte(input))
		if err != nil {
			t.Fatalf("Decode: unexpected error: %v", err)
		}
		want := &schema.User{
			ID:        101,
			FirstName: "Alice",
			Usernames: &schema.Usernames{
				ActiveUsernames:   []string{},
				DisabledUsernames: []string{},
				EditableUsername:  "alice",
			},
		}
		// Compare without equating nil and empty, to check the defaults.
		if diff := cmp.Diff(want, msg.Value); diff != "" {
			t.Errorf("Decode (-want, +got):\n%s", diff)
		}
	})
}

func TestRoundTrip(t *testing.T) {
	r := schema.MustRegistry()

	chat := &schema.Chat{ID: -100123, Title: "Chat", UnreadCount: 2, IsMarkedAsUnread: true}
	tests := []tdmux.Object{
		&schema.GetOption{Name: "version"},
		&schema.SetOption{Name: "online", Value: &schema.OptionValueBoolean{Value: true}},
		&schema.GetMe{},
		&schema.GetChat{ChatID: chat.ID},
		&schema.GetChats{Limit: 100},
		&schema.SetLogVerbosityLevel{NewVerbosityLevel: 2},
		&schema.Close{},
		&schema.Ok{},
		&tdmux.RemoteError{Code: 404, Message: "Not Found"},
		&schema.OptionValueBoolean{Value: true},
		&schema.OptionValueEmpty{},
		&schema.OptionValueInteger{Value: 1 << 60},
		&schema.OptionValueString{Value: "1.8.0"},
		&schema.User{
			ID:        42,
			FirstName: "Grace",
			LastName:  "Hopper",
			Usernames: &schema.Usernames{
				ActiveUsernames:   []string{"grace"},
				DisabledUsernames: []string{},
				EditableUsername:  "grace",
			},
			PhoneNumber:  "15555550100",
			IsPremium:    true,
			LanguageCode: "en",
		},
		&schema.Usernames{ActiveUsernames: []string{"a", "b"}, DisabledUsernames: []string{"c"}},
		chat,
		&schema.Chats{TotalCount: 2, ChatIDs: []int64{chat.ID, 7}},
		&schema.AuthorizationStateWaitTdlibParameters{},
		&schema.AuthorizationStateWaitPhoneNumber{},
		&schema.AuthorizationStateReady{},
		&schema.AuthorizationStateClosed{},
		&schema.UpdateOption{Name: "my_id", Value: &schema.OptionValueInteger{Value: 42}},
		&schema.UpdateAuthorizationState{AuthorizationState: &schema.AuthorizationStateWaitPhoneNumber{}},
		&schema.UpdateNewChat{Chat: chat},
	}

	seen := make(map[string]bool)
	for _, want := range tests {
		seen[want.Type()] = true
		data, err := tdmux.EncodeEnvelope(want, "", 0)
		if err != nil {
			t.Errorf("Encode %q: unexpected error: %v", want.Type(), err)
			continue
		}
		got, err := r.Decode(want.Type(), data)
		if err != nil {
			t.Errorf("Decode %s: unexpected error: %v", data, err)
			continue
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Round trip %q (-want, +got):\n%s", want.Type(), diff)
		}
	}
	for _, name := range r.Names() {
		if !seen[name] {
			t.Errorf("Type %q is registered but not tested", name)
		}
	}
}
