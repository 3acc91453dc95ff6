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

package config

import (
	"flag"
	"fmt"
	"reflect"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	d := Default()

	// Machine flags.
	flagSet.Uint64("memory", d.MemoryMB, "size of RAM in MiB.")
	flagSet.Uint64("clock-freq", d.ClockFreq, "machine timer frequency in Hz.")
	flagSet.Uint64("cycles-per-insn", d.CyclesPerInsn, "timer cycles per instruction.")
	flagSet.Uint64("trap-cycles", d.TrapCycles, "timer cycles charged for each trap.")
	flagSet.Uint64("max-steps", d.MaxSteps, "stop after this many user instructions. 0 means no limit.")

	// Kernel flags.
	flagSet.Uint64("kernel-heap", d.KernelHeapKB, "size of the kernel heap in KiB.")
	flagSet.Uint64("tick-hz", d.TickHz, "timer interrupts per second.")
	flagSet.Uint64("user-stack-pages", d.UserStackPages, "user stack size in pages.")
	flagSet.Uint64("kernel-stack-pages", d.KernelStackPages, "kernel stack size in pages.")
	flagSet.String("init", d.Init, "name of the first user program.")

	// Debugging flags.
	flagSet.Bool("debug", d.Debug, "enable debug logging.")
	flagSet.String("log-format", d.LogFormat, "log format: text (default) or json.")
	flagSet.String("config", "", "TOML file with configuration values. Flags set on the command line take precedence.")
}

// NewFromFlags creates a new Config from the default values, the file named
// by --config and the flags set on the command line.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := Default()
	if fl := flagSet.Lookup("config"); fl != nil && fl.Value.String() != "" {
		if err := conf.LoadFile(fl.Value.String()); err != nil {
			return nil, err
		}
	}

	set := make(map[string]bool)
	flagSet.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if !set[name] {
			continue
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// ToFlags returns a slice of flags that correspond to the given Config. Values
// equal to their default are omitted.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		val := fmt.Sprint(obj.Field(i).Interface())
		if val == fl.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", name, val))
	}
	return rv
}
