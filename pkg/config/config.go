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

// Package config holds the machine and kernel configuration. Values come from
// defaults, an optional TOML file and command line flags, in that order.
package config

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
	"gvisor.dev/rvkernel/pkg/log"
	"gvisor.dev/rvkernel/pkg/sv39"
)

// RAMStart is the physical address where RAM begins.
const RAMStart = 0x80000000

// Config is the kernel and machine configuration.
//
// Fields tagged with "flag" are settable from the command line; fields tagged
// with "toml" are settable from a configuration file.
type Config struct {
	// MemoryMB is the size of RAM in MiB.
	MemoryMB uint64 `flag:"memory" toml:"memory_mb"`

	// KernelHeapKB is the size of the kernel heap arena in KiB.
	KernelHeapKB uint64 `flag:"kernel-heap" toml:"kernel_heap_kb"`

	// ClockFreq is the frequency of the machine timer in Hz.
	ClockFreq uint64 `flag:"clock-freq" toml:"clock_freq"`

	// TickHz is the number of timer interrupts per second.
	TickHz uint64 `flag:"tick-hz" toml:"tick_hz"`

	// CyclesPerInsn is the number of timer cycles each instruction takes.
	CyclesPerInsn uint64 `flag:"cycles-per-insn" toml:"cycles_per_insn"`

	// TrapCycles is the number of timer cycles charged for each trap.
	TrapCycles uint64 `flag:"trap-cycles" toml:"trap_cycles"`

	// UserStackPages is the size of each user stack in pages.
	UserStackPages uint64 `flag:"user-stack-pages" toml:"user_stack_pages"`

	// KernelStackPages is the size of each kernel stack in pages.
	KernelStackPages uint64 `flag:"kernel-stack-pages" toml:"kernel_stack_pages"`

	// MaxSteps bounds the number of user instructions executed. Zero means
	// no bound.
	MaxSteps uint64 `flag:"max-steps" toml:"max_steps"`

	// Init is the name of the first user program.
	Init string `flag:"init" toml:"init"`

	// Debug enables debug logging.
	Debug bool `flag:"debug" toml:"debug"`

	// LogFormat is the log format: text or json.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// ConfigFile is the TOML file values were read from, if any.
	ConfigFile string `flag:"config" toml:"-"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		MemoryMB:         8,
		KernelHeapKB:     1024,
		ClockFreq:        12500000,
		TickHz:           100,
		CyclesPerInsn:    1,
		TrapCycles:       100,
		UserStackPages:   2,
		KernelStackPages: 2,
		Init:             "initproc",
		LogFormat:        "text",
	}
}

// LoadFile overlays the values in the TOML file at path onto c.
func (c *Config) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("reading config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %q: unknown keys %v", path, undecoded)
	}
	c.ConfigFile = path
	return nil
}

// Validate checks that c describes a machine the kernel can boot on.
func (c *Config) Validate() error {
	var errs []error
	if c.MemoryMB == 0 || c.MemoryMB > 1024 {
		errs = append(errs, fmt.Errorf("memory %d MiB out of range [1, 1024]", c.MemoryMB))
	}
	if c.KernelHeapKB*1024%sv39.PageSize != 0 || c.KernelHeapKB == 0 {
		errs = append(errs, fmt.Errorf("kernel heap %d KiB is not a positive multiple of the page size", c.KernelHeapKB))
	}
	if c.KernelHeapKB >= c.MemoryMB*1024 {
		errs = append(errs, fmt.Errorf("kernel heap %d KiB does not fit in %d MiB of memory", c.KernelHeapKB, c.MemoryMB))
	}
	if c.TickHz == 0 || c.ClockFreq < 1000 || c.ClockFreq%1000 != 0 || c.TickHz > c.ClockFreq {
		errs = append(errs, fmt.Errorf("clock %d Hz with %d ticks per second is invalid", c.ClockFreq, c.TickHz))
	}
	if c.UserStackPages == 0 || c.KernelStackPages == 0 {
		errs = append(errs, errors.New("stacks must be at least one page"))
	}
	if c.Init == "" {
		errs = append(errs, errors.New("no init program"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// UserStackSize returns the user stack size in bytes.
func (c *Config) UserStackSize() uint64 {
	return c.UserStackPages * sv39.PageSize
}

// KernelStackSize returns the kernel stack size in bytes.
func (c *Config) KernelStackSize() uint64 {
	return c.KernelStackPages * sv39.PageSize
}

// MemoryEnd returns the end of RAM.
func (c *Config) MemoryEnd() uint64 {
	return RAMStart + c.MemoryMB<<20
}

// LogLevel returns the log level c asks for.
func (c *Config) LogLevel() log.Level {
	if c.Debug {
		return log.Debug
	}
	return log.Info
}
