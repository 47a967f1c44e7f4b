// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package schema

import (
	"encoding/json"
	"fmt"

	"github.com/creachadair/tdmux"
)

// Functions.

// GetOption returns the value of an option by its name. Returns OptionValue.
type GetOption struct {
	Name string `json:"name"`
}

func (GetOption) Type() string { return "getOption" }

// SetOption sets the value of an option. Returns Ok.
type SetOption struct {
	Name  string      `json:"name"`
	Value OptionValue `json:"value,omitempty"`
}

func (SetOption) Type() string { return "setOption" }

func (s *SetOption) UnmarshalJSON(data []byte) error {
	var tmp struct {
		Name  string          `json:"name"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	v, err := unmarshalOptionValue(tmp.Value)
	if err != nil {
		return fmt.Errorf("field value: %w", err)
	}
	*s = SetOption{Name: tmp.Name, Value: v}
	return nil
}

// GetMe returns the current user. Returns User.
type GetMe struct{}

func (GetMe) Type() string { return "getMe" }

// GetChat returns information about a chat by its identifier. Returns Chat.
type GetChat struct {
	ChatID int64 `json:"chat_id"`
}

func (GetChat) Type() string { return "getChat" }

// GetChats returns an ordered list of chats. Returns Chats.
type GetChats struct {
	Limit int32 `json:"limit"`
}

func (GetChats) Type() string { return "getChats" }

// SetLogVerbosityLevel sets the verbosity level of the internal log. Returns
// Ok.
type SetLogVerbosityLevel struct {
	NewVerbosityLevel int32 `json:"new_verbosity_level"`
}

func (SetLogVerbosityLevel) Type() string { return "setLogVerbosityLevel" }

// Close closes the instance. All databases are flushed and the client
// reports AuthorizationStateClosed when done. Returns Ok.
type Close struct{}

func (Close) Type() string { return "close" }

// Objects.

// Ok is the result of a function that returns nothing.
type Ok struct{}

func (Ok) Type() string { return "ok" }

// OptionValue is the value of an option.
type OptionValue interface {
	tdmux.Object
	isOptionValue()
}

type OptionValueBoolean struct {
	Value bool `json:"value"`
}

func (OptionValueBoolean) Type() string   { return "optionValueBoolean" }
func (OptionValueBoolean) isOptionValue() {}

func (v OptionValueBoolean) MarshalJSON() ([]byte, error) {
	type stub OptionValueBoolean
	return tdmux.Tag(v.Type(), stub(v))
}

type OptionValueEmpty struct{}

func (OptionValueEmpty) Type() string   { return "optionValueEmpty" }
func (OptionValueEmpty) isOptionValue() {}

func (v OptionValueEmpty) MarshalJSON() ([]byte, error) {
	return tdmux.Tag(v.Type(), struct{}{})
}

// OptionValueInteger is an integer option value. The engine encodes 64-bit
// integers as strings.
type OptionValueInteger struct {
	Value int64 `json:"value,string"`
}

func (OptionValueInteger) Type() string   { return "optionValueInteger" }
func (OptionValueInteger) isOptionValue() {}

func (v OptionValueInteger) MarshalJSON() ([]byte, error) {
	type stub OptionValueInteger
	return tdmux.Tag(v.Type(), stub(v))
}

type OptionValueString struct {
	Value string `json:"value"`
}

func (OptionValueString) Type() string   { return "optionValueString" }
func (OptionValueString) isOptionValue() {}

func (v OptionValueString) MarshalJSON() ([]byte, error) {
	type stub OptionValueString
	return tdmux.Tag(v.Type(), stub(v))
}

// User describes a user.
type User struct {
	ID           int64      `json:"id"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Usernames    *Usernames `json:"usernames,omitempty"`
	PhoneNumber  string     `json:"phone_number"`
	IsContact    bool       `json:"is_contact"`
	IsPremium    bool       `json:"is_premium"`
	LanguageCode string     `json:"language_code"`
}

func (User) Type() string { return "user" }

// Usernames describes the usernames assigned to a user, a supergroup, or a
// channel.
type Usernames struct {
	ActiveUsernames   []string `json:"active_usernames"`
	DisabledUsernames []string `json:"disabled_usernames"`
	EditableUsername  string   `json:"editable_username"`
}

func (Usernames) Type() string { return "usernames" }

func (u Usernames) MarshalJSON() ([]byte, error) {
	type stub Usernames
	return tdmux.Tag(u.Type(), stub(u))
}

// Chat describes a chat.
type Chat struct {
	ID               int64  `json:"id"`
	Title            string `json:"title"`
	UnreadCount      int32  `json:"unread_count"`
	IsMarkedAsUnread bool   `json:"is_marked_as_unread"`
}

func (Chat) Type() string { return "chat" }

func (c Chat) MarshalJSON() ([]byte, error) {
	type stub Chat
	return tdmux.Tag(c.Type(), stub(c))
}

// Chats is a list of chat identifiers.
type Chats struct {
	TotalCount int32   `json:"total_count"`
	ChatIDs    []int64 `json:"chat_ids"`
}

func (Chats) Type() string { return "chats" }

// AuthorizationState is the current authorization state of the client.
type AuthorizationState interface {
	tdmux.Object
	isAuthorizationState()
}

type AuthorizationStateWaitTdlibParameters struct{}

func (AuthorizationStateWaitTdlibParameters) Type() string {
	return "authorizationStateWaitTdlibParameters"
}
func (AuthorizationStateWaitTdlibParameters) isAuthorizationState() {}

func (a AuthorizationStateWaitTdlibParameters) MarshalJSON() ([]byte, error) {
	return tdmux.Tag(a.Type(), struct{}{})
}

type AuthorizationStateWaitPhoneNumber struct{}

func (AuthorizationStateWaitPhoneNumber) Type() string          { return "authorizationStateWaitPhoneNumber" }
func (AuthorizationStateWaitPhoneNumber) isAuthorizationState() {}

func (a AuthorizationStateWaitPhoneNumber) MarshalJSON() ([]byte, error) {
	return tdmux.Tag(a.Type(), struct{}{})
}

type AuthorizationStateReady struct{}

func (AuthorizationStateReady) Type() string          { return "authorizationStateReady" }
func (AuthorizationStateReady) isAuthorizationState() {}

func (a AuthorizationStateReady) MarshalJSON() ([]byte, error) {
	return tdmux.Tag(a.Type(), struct{}{})
}

type AuthorizationStateClosed struct{}

func (AuthorizationStateClosed) Type() string          { return "authorizationStateClosed" }
func (AuthorizationStateClosed) isAuthorizationState() {}

func (a AuthorizationStateClosed) MarshalJSON() ([]byte, error) {
	return tdmux.Tag(a.Type(), struct{}{})
}

// Updates.

// UpdateOption reports that an option changed its value.
type UpdateOption struct {
	Name  string      `json:"name"`
	Value OptionValue `json:"value,omitempty"`
}

func (UpdateOption) Type() string { return "updateOption" }

func (u *UpdateOption) UnmarshalJSON(data []byte) error {
	var tmp struct {
		Name  string          `json:"name"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	v, err := unmarshalOptionValue(tmp.Value)
	if err != nil {
		return fmt.Errorf("field value: %w", err)
	}
	*u = UpdateOption{Name: tmp.Name, Value: v}
	return nil
}

// UpdateAuthorizationState reports that the authorization state changed.
type UpdateAuthorizationState struct {
	AuthorizationState AuthorizationState `json:"authorization_state,omitempty"`
}

func (UpdateAuthorizationState) Type() string { return "updateAuthorizationState" }

func (u *UpdateAuthorizationState) UnmarshalJSON(data []byte) error {
	var tmp struct {
		State json.RawMessage `json:"authorization_state"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	v, err := unmarshalAuthorizationState(tmp.State)
	if err != nil {
		return fmt.Errorf("field authorization_state: %w", err)
	}
	*u = UpdateAuthorizationState{AuthorizationState: v}
	return nil
}

// UpdateNewChat reports a chat the client did not know about.
type UpdateNewChat struct {
	Chat *Chat `json:"chat"`
}

func (UpdateNewChat) Type() string { return "updateNewChat" }

// isNull reports whether data is absent or a JSON null.
func isNull(data json.RawMessage) bool {
	return len(data) == 0 || string(data) == "null"
}

func unmarshalOptionValue(data json.RawMessage) (OptionValue, error) {
	if isNull(data) {
		return nil, nil
	}
	name, err := tdmux.PeekType(data)
	if err != nil {
		return nil, err
	}
	var v OptionValue
	switch name {
	case "optionValueBoolean":
		v = new(OptionValueBoolean)
	case "optionValueEmpty":
		v = new(OptionValueEmpty)
	case "optionValueInteger":
		v = new(OptionValueInteger)
	case "optionValueString":
		v = new(OptionValueString)
	default:
		return nil, fmt.Errorf("%w: %q is not an OptionValue", tdmux.ErrUnknownDiscriminant, name)
	}
	return v, json.Unmarshal(data, v)
}

func unmarshalAuthorizationState(data json.RawMessage) (AuthorizationState, error) {
	if isNull(data) {
		return nil, nil
	}
	name, err := tdmux.PeekType(data)
	if err != nil {
		return nil, err
	}
	var v AuthorizationState
	switch name {
	case "authorizationStateWaitTdlibParameters":
		v = new(AuthorizationStateWaitTdlibParameters)
	case "authorizationStateWaitPhoneNumber":
		v = new(AuthorizationStateWaitPhoneNumber)
	case "authorizationStateReady":
		v = new(AuthorizationStateReady)
	case "authorizationStateClosed":
		v = new(AuthorizationStateClosed)
	default:
		return nil, fmt.Errorf("%w: %q is not an AuthorizationState", tdmux.ErrUnknownDiscriminant, name)
	}
	return v, json.Unmarshal(data, v)
}
