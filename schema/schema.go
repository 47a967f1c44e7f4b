// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package schema defines a small table of TDLib types for use with a
// tdmux.Registry.
//
// The types follow the TDLib API: each function, object and update is a
// struct whose Type method reports its discriminant. Fields whose type is
// polymorphic (such as OptionValue) are decoded according to the @type of
// the nested object, and encode their own @type.
package schema

import (
	"errors"

	"github.com/creachadair/tdmux"
)

// Register adds the types of this package to r. It reports an error if any
// of them is already registered.
func Register(r *tdmux.Registry) error {
	return errors.Join(
		// Functions
		tdmux.RegisterType[GetOption](r, tdmux.Function),
		tdmux.RegisterType[SetOption](r, tdmux.Function),
		tdmux.RegisterType[GetMe](r, tdmux.Function),
		tdmux.RegisterType[GetChat](r, tdmux.Function),
		tdmux.RegisterType[GetChats](r, tdmux.Function),
		tdmux.RegisterType[SetLogVerbosityLevel](r, tdmux.Function),
		tdmux.RegisterType[Close](r, tdmux.Function),

		// Objects
		tdmux.RegisterType[Ok](r, tdmux.DataObject),
		tdmux.RegisterType[OptionValueBoolean](r, tdmux.DataObject),
		tdmux.RegisterType[OptionValueEmpty](r, tdmux.DataObject),
		tdmux.RegisterType[OptionValueInteger](r, tdmux.DataObject),
		tdmux.RegisterType[OptionValueString](r, tdmux.DataObject),
		tdmux.RegisterType[User](r, tdmux.DataObject),
		tdmux.RegisterType[Usernames](r, tdmux.DataObject),
		tdmux.RegisterType[Chat](r, tdmux.DataObject),
		tdmux.RegisterType[Chats](r, tdmux.DataObject),
		tdmux.RegisterType[AuthorizationStateWaitTdlibParameters](r, tdmux.DataObject),
		tdmux.RegisterType[AuthorizationStateWaitPhoneNumber](r, tdmux.DataObject),
		tdmux.RegisterType[AuthorizationStateReady](r, tdmux.DataObject),
		tdmux.RegisterType[AuthorizationStateClosed](r, tdmux.DataObject),

		// Updates
		tdmux.RegisterType[UpdateOption](r, tdmux.DataObject),
		tdmux.RegisterType[UpdateAuthorizationState](r, tdmux.DataObject),
		tdmux.RegisterType[UpdateNewChat](r, tdmux.DataObject),
	)
}

// MustRegistry returns a new registry containing the types of this package.
// It panics if registration fails.
func MustRegistry() *tdmux.Registry {
	r := tdmux.NewRegistry()
	if err := Register(r); err != nil {
		panic(err)
	}
	return r
}
