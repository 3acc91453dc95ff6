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

package kernel

import (
	"fmt"

	"gvisor.dev/rvkernel/pkg/config"
	"gvisor.dev/rvkernel/pkg/mm"
	"gvisor.dev/rvkernel/pkg/sv39"
)

// Kernel image layout. The image is linked at KernelBase, above the region
// RAM reserves for firmware.
const (
	KernelBase = config.RAMStart + 0x200000

	textSize      = 0x10000
	rodataSize    = 0x4000
	dataSize      = 0x4000
	bootStackSize = 0x10000

	// Offsets of kernel entry points within .text.
	trampolineOffset  = 0x1000
	trapHandlerOffset = 0x2000
	trapKernelOffset  = 0x2800
)

// Device register windows.
var mmio = []mm.VARange{
	{Start: 0x100000, End: 0x102000},     // VIRT_TEST
	{Start: 0x2000000, End: 0x2010000},   // CLINT
	{Start: 0x10000000, End: 0x10009000}, // UART0
}

// layout is the kernel image placed in RAM.
type layout struct {
	mm.KernelLayout

	// heap is the kernel heap arena at the end of .bss.
	heap mm.VARange

	// trapHandler is the address the trampoline jumps to after saving user
	// state.
	trapHandler uint64

	// trapFromKernel is the trap vector installed while the kernel runs.
	trapFromKernel uint64
}

func newLayout(conf *config.Config) (*layout, error) {
	text := sv39.VirtAddr(KernelBase)
	rodata := text + textSize
	data := rodata + rodataSize
	bss := data + dataSize
	heapStart := bss + bootStackSize
	ekernel := heapStart + sv39.VirtAddr(conf.KernelHeapKB*1024)
	memEnd := sv39.VirtAddr(conf.MemoryEnd())
	if ekernel.Ceil().Addr() >= memEnd {
		return nil, fmt.Errorf("kernel image ends at %v, past the end of memory %v", ekernel, memEnd)
	}
	return &layout{
		KernelLayout: mm.KernelLayout{
			Text:       mm.VARange{Start: text, End: rodata},
			Rodata:     mm.VARange{Start: rodata, End: data},
			Data:       mm.VARange{Start: data, End: bss},
			BSS:        mm.VARange{Start: bss, End: ekernel},
			MemoryEnd:  memEnd,
			Trampoline: sv39.PhysAddr(text + trampolineOffset).PageNum(),
			MMIO:       mmio,
		},
		heap:           mm.VARange{Start: heapStart, End: ekernel},
		trapHandler:    uint64(text + trapHandlerOffset),
		trapFromKernel: uint64(text + trapKernelOffset),
	}, nil
}

// frames returns the physical pages left for the frame allocator.
func (l *layout) frames() (start, end sv39.PhysPageNum) {
	return sv39.PhysAddr(l.BSS.End).Ceil(), sv39.PhysAddr(l.MemoryEnd).Floor()
}
