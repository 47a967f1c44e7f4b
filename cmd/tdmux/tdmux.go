// Program tdmux is a command-line utility for working with the TDLib JSON
// envelope protocol.
//
// Default settings are read from the environment, and from a .env file in the
// current directory if one exists:
//
//	TDMUX_ADDR       address for serve and call (default localhost:9091)
//	TDMUX_TIMEOUT    call timeout (default 10s)
//	TDMUX_LOG_LEVEL  log level: debug, info, warn, or error (default info)
package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/tdmux"
	"github.com/creachadair/tdmux/channel"
	"github.com/creachadair/tdmux/engine"
	"github.com/creachadair/tdmux/schema"
	"github.com/joho/godotenv"
)

const (
	defaultAddr    = "localhost:9091"
	defaultTimeout = 10 * time.Second
)

var encodeFlags struct {
	Extra    string `flag:"extra,Correlation token (@extra)"`
	ClientID int    `flag:"client,Client ID (@client_id)"`
}

var serveFlags struct {
	Addr string `flag:"addr,Listen address (default $TDMUX_ADDR)"`
}

var callFlags struct {
	Addr    string        `flag:"addr,Engine address (default $TDMUX_ADDR)"`
	Timeout time.Duration `flag:"timeout,Call timeout (default $TDMUX_TIMEOUT)"`
}

func main() {
	if err := godotenv.Load(cmp.Or(os.Getenv("TDMUX_ENV"), ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: loading environment: %v\n", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()})))

	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Utilities for working with the TDLib JSON envelope protocol.",
		Commands: []*command.C{
			{
				Name: "types",
				Help: "List the registered types and their capabilities.",
				Run:  runTypes,
			},
			{
				Name:  "decode",
				Usage: "< input.jsonl",
				Help: `Decode JSON objects from stdin, one per line.

For each object, print its kind, client ID, correlation token, type, and
decoded value. An object that does not decode is reported, and decoding
continues with the next line.`,
				Run: runDecode,
			},
			{
				Name:     "encode",
				Usage:    "<type> [json-object]",
				Help:     "Encode an object with the given type and fields.",
				SetFlags: func(_ *command.Env, fset *flag.FlagSet) { flax.MustBind(fset, &encodeFlags) },
				Run:      runEncode,
			},
			{
				Name:     "serve",
				Help:     "Run a fake engine serving the built-in schema.",
				SetFlags: func(_ *command.Env, fset *flag.FlagSet) { flax.MustBind(fset, &serveFlags) },
				Run:      runServe,
			},
			{
				Name:     "call",
				Usage:    "<type> [json-object]",
				Help:     "Call a function on an engine and print the response.",
				SetFlags: func(_ *command.Env, fset *flag.FlagSet) { flax.MustBind(fset, &callFlags) },
				Run:      runCall,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func logLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cmp.Or(os.Getenv("TDMUX_LOG_LEVEL"), "info"))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func envDuration(name string, dflt time.Duration) time.Duration {
	if s := os.Getenv(name); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
		slog.Warn("invalid duration in environment", "name", name, "value", s)
	}
	return dflt
}

func runTypes(env *command.Env) error {
	reg := schema.MustRegistry()
	tw := tabwriter.NewWriter(os.Stdout, 4, 8, 2, ' ', 0)
	for _, name := range reg.Names() {
		c, _ := reg.Capability(name)
		fmt.Fprintf(tw, "%s\t%v\n", name, c)
	}
	return tw.Flush()
}

func runDecode(env *command.Env) error {
	reg := schema.MustRegistry()
	in := channel.IO(os.Stdin, nopCloser{})
	tw := tabwriter.NewWriter(os.Stdout, 4, 8, 1, ' ', 0)
	defer tw.Flush()

	var nerr int
	for line := 1; ; line++ {
		data, err := in.Recv()
		if err != nil {
			break
		}
		msg, err := reg.DecodeMessage(data)
		if msg == nil {
			nerr++
			fmt.Fprintf(tw, "%d\tERROR\t%v\n", line, err)
			continue
		}
		var val string
		if err != nil {
			nerr++
			val = "ERROR: " + err.Error()
		} else {
			val = fmt.Sprintf("%+v", msg.Value)
		}
		fmt.Fprintf(tw, "%d\t%v\t%d\t%q\t%s\t%s\n", line, msg.Kind(), msg.ClientID, msg.Extra, msg.Type, val)
	}
	if nerr != 0 {
		return fmt.Errorf("%d objects did not decode", nerr)
	}
	return nil
}

func runEncode(env *command.Env) error {
	obj, err := parseObject(env)
	if err != nil {
		return err
	}
	data, err := tdmux.EncodeEnvelope(obj, encodeFlags.Extra, int32(encodeFlags.ClientID))
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runServe(env *command.Env) error {
	if len(env.Args) != 0 {
		return env.Usagef("extra arguments after command")
	}
	addr := cmp.Or(serveFlags.Addr, os.Getenv("TDMUX_ADDR"), defaultAddr)
	lst, err := net.Listen(engine.SplitAddress(addr))
	if err != nil {
		return err
	}
	defer lst.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	reg := schema.MustRegistry()
	me := schema.User{
		ID:        1,
		FirstName: "Test",
		Usernames: &schema.Usernames{ActiveUsernames: []string{"test"}},
	}
	slog.Info("serving fake engine", "addr", lst.Addr().String())
	return engine.Loop(ctx, engine.NetAccepter(lst), func() *engine.Engine {
		mem := engine.NewMemory(me).
			AddChat(schema.Chat{ID: 1, Title: "Saved Messages"}).
			AddChat(schema.Chat{ID: 2, Title: "General", UnreadCount: 5})
		return mem.Install(engine.New(reg, nil))
	})
}

func runCall(env *command.Env) error {
	obj, err := parseObject(env)
	if err != nil {
		return err
	}
	addr := cmp.Or(callFlags.Addr, os.Getenv("TDMUX_ADDR"), defaultAddr)
	timeout := cmp.Or(callFlags.Timeout, envDuration("TDMUX_TIMEOUT", defaultTimeout))

	conn, err := net.Dial(engine.SplitAddress(addr))
	if err != nil {
		return err
	}
	m := tdmux.New(schema.MustRegistry(), &tdmux.Options{Timeout: timeout}).Start(channel.IO(conn, conn))
	defer m.Stop()

	msg, err := m.Default().Call(context.Background(), obj)
	if err != nil {
		return err
	}
	fmt.Println(string(msg.Raw))
	return nil
}

// parseObject constructs an object from the arguments <type> [json-object].
// If the type is registered, the fields are checked by decoding them.
func parseObject(env *command.Env) (tdmux.Object, error) {
	if len(env.Args) == 0 || len(env.Args) > 2 {
		return nil, env.Usagef("expected <type> [json-object]")
	}
	obj := rawObject{name: env.Args[0], fields: json.RawMessage(`{}`)}
	if len(env.Args) == 2 {
		obj.fields = json.RawMessage(env.Args[1])
	}
	data, err := tdmux.EncodeEnvelope(obj, "", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid fields: %w", err)
	}
	reg := schema.MustRegistry()
	if _, ok := reg.Capability(obj.name); ok {
		if _, err := reg.Decode(obj.name, data); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("type is not registered", "type", obj.name)
	}
	return obj, nil
}

// rawObject is an object of a given type with fields given as JSON.
type rawObject struct {
	name   string
	fields json.RawMessage
}

func (r rawObject) Type() string                 { return r.name }
func (r rawObject) MarshalJSON() ([]byte, error) { return r.fields, nil }

type nopCloser struct{}

func (nopCloser) Write(data []byte) (int, error) { return len(data), nil }
func (nopCloser) Close() error                    { return nil }
