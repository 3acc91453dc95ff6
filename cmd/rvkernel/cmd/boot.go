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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
	"gvisor.dev/rvkernel/pkg/config"
	"gvisor.dev/rvkernel/pkg/console"
	"gvisor.dev/rvkernel/pkg/kernel"
	"gvisor.dev/rvkernel/pkg/log"
	"gvisor.dev/rvkernel/pkg/syscalls/rv"
	"gvisor.dev/rvkernel/pkg/userprog"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct{}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the kernel and run the init program until the machine shuts down"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - boots the kernel with --init as the first task.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Boot) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	status := args[1].(*int)
	return boot(ctx, conf, status)
}

// Run implements subcommands.Command for the "run" command.
type Run struct{}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot the kernel with a program as init and exit with its exit code"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <program> - boots the kernel with <program> as the first task.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Run) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := *args[0].(*config.Config)
	conf.Init = f.Arg(0)
	status := args[1].(*int)
	return boot(ctx, &conf, status)
}

// List implements subcommands.Command for the "ls" command.
type List struct{}

// Name implements subcommands.Command.Name.
func (*List) Name() string {
	return "ls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*List) Synopsis() string {
	return "list the programs linked into the kernel"
}

// Usage implements subcommands.Command.Usage.
func (*List) Usage() string {
	return `ls [flags] - boots the kernel to list its programs.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*List) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*List) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := *args[0].(*config.Config)
	conf.Init = userprog.Ls
	status := args[1].(*int)
	return boot(ctx, &conf, status)
}

// boot runs a kernel until it stops and stores the exit code of init in
// status.
func boot(ctx context.Context, conf *config.Config, status *int) subcommands.ExitStatus {
	cons, pump, closeConsole, err := openConsole()
	if err != nil {
		Fatalf("opening console: %v", err)
	}
	defer closeConsole()

	k, err := kernel.New(conf, kernel.Options{
		Console:  cons,
		Loader:   userprog.NewLoader(),
		Syscalls: rv.RV64,
		OnExit: func(pid uint64, code int32) {
			if pid == 1 {
				*status = int(code)
			}
		},
	})
	if err != nil {
		Fatalf("booting kernel: %v", err)
	}
	defer k.Close()
	go func() {
		if err := pump(k.Shutdown); err != nil {
			log.Warningf("console input: %v", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	g.Go(func() error {
		defer cancel()
		return k.Run()
	})
	g.Go(func() error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			log.Infof("Received %v, shutting down", sig)
			k.Shutdown()
		case <-ctx.Done():
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		Fatalf("%v", err)
	}
	log.Infof("%d user instructions executed, %+v", k.Steps(), k.Stats())
	return subcommands.ExitSuccess
}

// openConsole returns the console on the standard streams. If stdin is a
// terminal it is put in raw mode and ^C shuts the kernel down. pump copies
// input into the console until it ends.
func openConsole() (cons console.Console, pump func(interrupt func()) error, closeFn func(), err error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		tty, err := console.OpenTTY()
		if err != nil {
			return nil, nil, nil, err
		}
		return tty, tty.Pump, func() {
			if err := tty.Close(); err != nil {
				log.Warningf("restoring terminal: %v", err)
			}
		}, nil
	}
	s := console.NewStream(os.Stdout)
	pump = func(func()) error {
		if _, err := s.ReadFrom(os.Stdin); err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		return nil
	}
	return s, pump, func() {}, nil
}
