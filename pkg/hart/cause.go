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

package hart

import "fmt"

// Cause is the value of scause.
type Cause uint64

// interruptBit marks interrupts in scause.
const interruptBit = 1 << 63

// Exception causes.
const (
	InstructionMisaligned Cause = 0
	InstructionFault      Cause = 1
	IllegalInstruction    Cause = 2
	Breakpoint            Cause = 3
	LoadMisaligned        Cause = 4
	LoadFault             Cause = 5
	StoreMisaligned       Cause = 6
	StoreFault            Cause = 7
	UserEnvCall           Cause = 8
	InstructionPageFault  Cause = 12
	LoadPageFault         Cause = 13
	StorePageFault        Cause = 15
)

// SupervisorTimer is the supervisor timer interrupt.
const SupervisorTimer Cause = interruptBit | 5

// Interrupt returns true if c is an interrupt rather than an exception.
func (c Cause) Interrupt() bool {
	return c&interruptBit != 0
}

var causeNames = map[Cause]string{
	InstructionMisaligned: "InstructionMisaligned",
	InstructionFault:      "InstructionFault",
	IllegalInstruction:    "IllegalInstruction",
	Breakpoint:            "Breakpoint",
	LoadMisaligned:        "LoadMisaligned",
	LoadFault:             "LoadFault",
	StoreMisaligned:       "StoreMisaligned",
	StoreFault:            "StoreFault",
	UserEnvCall:           "UserEnvCall",
	InstructionPageFault:  "InstructionPageFault",
	LoadPageFault:         "LoadPageFault",
	StorePageFault:        "StorePageFault",
	SupervisorTimer:       "SupervisorTimer",
}

// String implements fmt.Stringer.String.
func (c Cause) String() string {
	if n, ok := causeNames[c]; ok {
		return n
	}
	if c.Interrupt() {
		return fmt.Sprintf("Interrupt(%d)", uint64(c&^interruptBit))
	}
	return fmt.Sprintf("Exception(%d)", uint64(c))
}
