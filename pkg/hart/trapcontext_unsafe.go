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

import (
	"fmt"
	"unsafe"

	"gvisor.dev/rvkernel/pkg/pgalloc"
	"gvisor.dev/rvkernel/pkg/sv39"
)

// TrapContextSize is the size in bytes of a TrapContext.
const TrapContextSize = unsafe.Sizeof(TrapContext{})

// TrapContextAt returns the trap context stored at the start of physical
// page ppn.
func TrapContextAt(mem *pgalloc.PhysMem, ppn sv39.PhysPageNum) *TrapContext {
	page := mem.Page(ppn)
	return (*TrapContext)(unsafe.Pointer(&page[0]))
}

func init() {
	if TrapContextSize > sv39.PageSize {
		panic(fmt.Sprintf("TrapContext is %d bytes, larger than a page", TrapContextSize))
	}
}
