// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cli is the main entrypoint for rvkernel.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"
	"gvisor.dev/rvkernel/cmd/rvkernel/cmd"
	"gvisor.dev/rvkernel/pkg/config"
	"gvisor.dev/rvkernel/pkg/log"
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(cmd.Boot), "")
	subcommands.Register(new(cmd.Run), "")
	subcommands.Register(new(cmd.List), "")

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	// Stdout belongs to the console.
	log.SetTarget(newEmitter(conf.LogFormat, os.Stderr))
	log.SetLevel(conf.LogLevel())

	const delimString = `**************** rvkernel ****************`
	log.Infof(delimString)
	log.Infof("%s, %s, PID %d", runtime.Version(), runtime.GOARCH, os.Getpid())
	log.Infof("Args: %v", os.Args)
	if flags := conf.ToFlags(); len(flags) > 0 {
		log.Infof("Config: %v", flags)
	}
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	var status int
	subcmdCode := subcommands.Execute(context.Background(), conf, &status)
	if subcmdCode == subcommands.ExitSuccess {
		log.Infof("Exiting with status: %d", status)
		os.Exit(status & 0xff)
	}
	// Return an error that is unlikely to be used by the application.
	log.Warningf("Failure to execute command, err: %v", subcmdCode)
	os.Exit(128)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Emitter: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	cmd.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}
