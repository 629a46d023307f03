// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Program syncrpc is a command-line utility for issuing requests to
// child processes that speak the syncrpc protocol.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/syncrpc"
	"github.com/creachadair/syncrpc/callback"
	"github.com/rs/zerolog"
)

var callFlags struct {
	Exe    string `flag:"exe,Child executable to spawn (overrides the config file)"`
	Config string `flag:"config,Path to a TOML script config (see the help text)"`
	Binary bool   `flag:"binary,Write the raw response bytes without UTF-8 validation"`
	Trace  bool   `flag:"trace,Log each frame exchanged with the child to stderr"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Utilities for interacting with syncrpc child processes.",
		Commands: []*command.C{
			{
				Name:  "call",
				Usage: "<method> [<payload>]",
				Help: `Spawn a child process, issue one request, and print the response payload.

The child executable is named by the -exe flag or by the "exe" key of
the TOML config named by -config. A config may also define canned host
callbacks, each mapping a callback name to a fixed reply:

  exe = "./echochild"
  args = []

  [callbacks]
  one = "one"
  two = "two"

With -binary, the response bytes are written to stdout verbatim;
otherwise the response must be valid UTF-8 and is printed with a
trailing newline.`,
				SetFlags: func(_ *command.Env, fs *flag.FlagSet) { flax.MustBind(fs, &callFlags) },
				Run:      runCall,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func runCall(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("missing method argument")
	}
	method := env.Args[0]
	var payload string
	if len(env.Args) > 1 {
		payload = env.Args[1]
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
	if callFlags.Trace {
		logger = logger.Level(zerolog.DebugLevel)
	}

	cfg, err := loadConfig(callFlags.Config)
	if err != nil {
		return err
	}
	exe, args := cfg.Exe, cfg.Args
	if callFlags.Exe != "" {
		exe, args = callFlags.Exe, nil
	}
	if exe == "" {
		return env.Usagef("no child executable (use -exe or a config file)")
	}

	ch, err := syncrpc.Open(exe, args...)
	if err != nil {
		return fmt.Errorf("spawn child: %w", err)
	}
	defer ch.Close()

	if callFlags.Trace {
		ch.LogFrames(func(fi syncrpc.FrameInfo) {
			logger.Debug().Stringer("frame", fi).Msg("frame")
		})
	}
	for name, reply := range cfg.Callbacks {
		ch.RegisterCallback(name, callback.Reply(reply))
	}

	logger.Debug().Str("exe", exe).Str("method", method).Msg("issuing request")
	if callFlags.Binary {
		data, err := ch.RequestBinary(method, []byte(payload))
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}
	rsp, err := ch.Request(method, payload)
	if err != nil {
		return err
	}
	fmt.Println(rsp)
	return nil
}
