// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/creachadair/tdmux"
	"github.com/creachadair/tdmux/schema"
)

// Memory is an in-memory account state that serves the functions defined by
// the schema package. Install its handlers on an engine with Install.
type Memory struct {
	μ       sync.Mutex
	options map[string]schema.OptionValue
	me      schema.User
	chats   map[int64]schema.Chat
	order   []int64 // chat IDs in insertion order
}

// NewMemory constructs a Memory whose current user is me.
func NewMemory(me schema.User) *Memory {
	return &Memory{
		options: map[string]schema.OptionValue{
			"version": &schema.OptionValueString{Value: "1.8.0"},
		},
		me:    me,
		chats: make(map[int64]schema.Chat),
	}
}

// AddChat adds or replaces a chat. It returns m to permit chaining.
func (m *Memory) AddChat(c schema.Chat) *Memory {
	m.μ.Lock()
	defer m.μ.Unlock()
	if _, ok := m.chats[c.ID]; !ok {
		m.order = append(m.order, c.ID)
	}
	m.chats[c.ID] = c
	return m
}

// Install registers handlers for the functions of the schema package on e,
// and returns e.
//
// A successful setOption pushes an updateOption event to the client that set
// it before replying, and close pushes updateAuthorizationState.
func (m *Memory) Install(e *Engine) *Engine {
	return e.
		Handle("getOption", Func(m.getOption)).
		Handle("setOption", Func(func(ctx context.Context, arg *schema.SetOption) (*schema.Ok, error) {
			v := arg.Value
			if v == nil {
				v = &schema.OptionValueEmpty{}
			}
			m.μ.Lock()
			m.options[arg.Name] = v
			m.μ.Unlock()
			req := ContextRequest(ctx)
			if err := e.Push(req.ClientID, &schema.UpdateOption{Name: arg.Name, Value: v}); err != nil {
				return nil, err
			}
			return &schema.Ok{}, nil
		})).
		Handle("getMe", Func(m.getMe)).
		Handle("getChat", Func(m.getChat)).
		Handle("getChats", Func(m.getChats)).
		Handle("setLogVerbosityLevel", Func(setLogVerbosityLevel)).
		Handle("close", Func(func(ctx context.Context, _ *schema.Close) (*schema.Ok, error) {
			req := ContextRequest(ctx)
			if err := e.Push(req.ClientID, &schema.UpdateAuthorizationState{
				AuthorizationState: &schema.AuthorizationStateClosed{},
			}); err != nil {
				return nil, err
			}
			return &schema.Ok{}, nil
		}))
}

func (m *Memory) getOption(_ context.Context, arg *schema.GetOption) (schema.OptionValue, error) {
	m.μ.Lock()
	defer m.μ.Unlock()
	if v, ok := m.options[arg.Name]; ok {
		return v, nil
	}
	return &schema.OptionValueEmpty{}, nil
}

func (m *Memory) getMe(context.Context, *schema.GetMe) (*schema.User, error) {
	m.μ.Lock()
	defer m.μ.Unlock()
	me := m.me
	return &me, nil
}

func (m *Memory) getChat(_ context.Context, arg *schema.GetChat) (*schema.Chat, error) {
	m.μ.Lock()
	defer m.μ.Unlock()
	c, ok := m.chats[arg.ChatID]
	if !ok {
		return nil, &tdmux.RemoteError{Code: 400, Message: "Chat not found"}
	}
	return &c, nil
}

func (m *Memory) getChats(_ context.Context, arg *schema.GetChats) (*schema.Chats, error) {
	if arg.Limit <= 0 {
		return nil, &tdmux.RemoteError{Code: 400, Message: "Parameter limit must be positive"}
	}
	m.μ.Lock()
	defer m.μ.Unlock()
	ids := slices.Clone(m.order)
	if len(ids) > int(arg.Limit) {
		ids = ids[:arg.Limit]
	}
	return &schema.Chats{TotalCount: int32(len(m.order)), ChatIDs: ids}, nil
}

func setLogVerbosityLevel(_ context.Context, arg *schema.SetLogVerbosityLevel) (*schema.Ok, error) {
	if arg.NewVerbosityLevel < 0 || arg.NewVerbosityLevel > 1023 {
		return nil, &tdmux.RemoteError{Code: 400, Message: "Wrong new verbosity level specified"}
	}
	return &schema.Ok{}, nil
}
