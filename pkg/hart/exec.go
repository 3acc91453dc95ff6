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
	"math"
	"math/bits"

	"gvisor.dev/rvkernel/pkg/rvasm"
)

// Instruction fields.
func rd(insn uint32) uint32  { return insn >> 7 & 0x1f }
func rs1(insn uint32) uint32 { return insn >> 15 & 0x1f }
func rs2(insn uint32) uint32 { return insn >> 20 & 0x1f }
func f3(insn uint32) uint32  { return insn >> 12 & 0x7 }
func f7(insn uint32) uint32  { return insn >> 25 }

func immI(insn uint32) uint64 {
	return uint64(int64(int32(insn) >> 20))
}

func immS(insn uint32) uint64 {
	return uint64(int64(int32(insn)>>25<<5 | int32(insn>>7&0x1f)))
}

func immB(insn uint32) uint64 {
	v := int32(insn)>>31<<12 | int32(insn>>7&1)<<11 | int32(insn>>25&0x3f)<<5 | int32(insn>>8&0xf)<<1
	return uint64(int64(v))
}

func immU(insn uint32) uint64 {
	return uint64(int64(int32(insn & 0xfffff000)))
}

func immJ(insn uint32) uint64 {
	v := int32(insn)>>31<<20 | int32(insn>>12&0xff)<<12 | int32(insn>>20&1)<<11 | int32(insn>>21&0x3ff)<<1
	return uint64(int64(v))
}

func sext32(v uint64) uint64 {
	return uint64(int64(int32(v)))
}

func mulhu(a, b uint64) uint64 {
	hi, _ := bits.Mul64(a, b)
	return hi
}

func mulh(a, b int64) int64 {
	hi := int64(mulhu(uint64(a), uint64(b)))
	if a < 0 {
		hi -= b
	}
	if b < 0 {
		hi -= a
	}
	return hi
}

func mulhsu(a int64, b uint64) int64 {
	hi := int64(mulhu(uint64(a), b))
	if a < 0 {
		hi -= int64(b)
	}
	return hi
}

func div(a, b int64) int64 {
	switch {
	case b == 0:
		return -1
	case a == math.MinInt64 && b == -1:
		return a
	}
	return a / b
}

func rem(a, b int64) int64 {
	switch {
	case b == 0:
		return a
	case a == math.MinInt64 && b == -1:
		return 0
	}
	return a % b
}

func divu(a, b uint64) uint64 {
	if b == 0 {
		return math.MaxUint64
	}
	return a / b
}

func remu(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}

func divw(a, b int32) int32 {
	switch {
	case b == 0:
		return -1
	case a == math.MinInt32 && b == -1:
		return a
	}
	return a / b
}

func remw(a, b int32) int32 {
	switch {
	case b == 0:
		return a
	case a == math.MinInt32 && b == -1:
		return 0
	}
	return a % b
}

func divuw(a, b uint32) uint32 {
	if b == 0 {
		return math.MaxUint32
	}
	return a / b
}

func remuw(a, b uint32) uint32 {
	if b == 0 {
		return a
	}
	return a % b
}

// step executes one instruction. If it traps, PC is left at the trapping
// instruction and the cause and trap value are returned.
func (h *Hart) step() (Cause, uint64, bool) {
	pc := h.PC
	insn, cause, ok := h.fetchInsn(pc)
	if !ok {
		return cause, pc, true
	}
	illegal := func() (Cause, uint64, bool) {
		return IllegalInstruction, uint64(insn), true
	}

	x := &h.X
	d, a, b := rd(insn), x[rs1(insn)], x[rs2(insn)]
	next := pc + 4

	switch insn & 0x7f {
	case rvasm.OpLUI:
		x[d] = immU(insn)
	case rvasm.OpAUIPC:
		x[d] = pc + immU(insn)
	case rvasm.OpJAL:
		x[d] = next
		next = pc + immJ(insn)
	case rvasm.OpJALR:
		if f3(insn) != 0 {
			return illegal()
		}
		target := (a + immI(insn)) &^ 1
		x[d] = next
		next = target
	case rvasm.OpBranch:
		var taken bool
		switch f3(insn) {
		case 0:
			taken = a == b
		case 1:
			taken = a != b
		case 4:
			taken = int64(a) < int64(b)
		case 5:
			taken = int64(a) >= int64(b)
		case 6:
			taken = a < b
		case 7:
			taken = a >= b
		default:
			return illegal()
		}
		if taken {
			next = pc + immB(insn)
		}
	case rvasm.OpLoad:
		va := a + immI(insn)
		var size int
		switch f3(insn) {
		case 0, 4:
			size = 1
		case 1, 5:
			size = 2
		case 2, 6:
			size = 4
		case 3:
			size = 8
		default:
			return illegal()
		}
		v, cause, ok := h.loadUint(va, size)
		if !ok {
			return cause, va, true
		}
		switch f3(insn) {
		case 0:
			v = uint64(int64(int8(v)))
		case 1:
			v = uint64(int64(int16(v)))
		case 2:
			v = sext32(v)
		}
		x[d] = v
	case rvasm.OpStore:
		va := a + immS(insn)
		if f3(insn) > 3 {
			return illegal()
		}
		if cause, ok := h.storeUint(va, 1<<f3(insn), b); !ok {
			return cause, va, true
		}
	case rvasm.OpImm:
		imm := immI(insn)
		shamt := imm & 0x3f
		switch f3(insn) {
		case 0:
			x[d] = a + imm
		case 1:
			if imm>>6 != 0 {
				return illegal()
			}
			x[d] = a << shamt
		case 2:
			x[d] = b2u(int64(a) < int64(imm))
		case 3:
			x[d] = b2u(a < imm)
		case 4:
			x[d] = a ^ imm
		case 5:
			switch imm >> 6 & 0x3f {
			case 0:
				x[d] = a >> shamt
			case 0x10:
				x[d] = uint64(int64(a) >> shamt)
			default:
				return illegal()
			}
		case 6:
			x[d] = a | imm
		case 7:
			x[d] = a & imm
		}
	case rvasm.OpImm32:
		imm := immI(insn)
		shamt := imm & 0x1f
		switch {
		case f3(insn) == 0:
			x[d] = sext32(a + imm)
		case f3(insn) == 1 && f7(insn) == 0:
			x[d] = sext32(a << shamt)
		case f3(insn) == 5 && f7(insn) == 0:
			x[d] = sext32(uint64(uint32(a) >> shamt))
		case f3(insn) == 5 && f7(insn) == 0x20:
			x[d] = uint64(int64(int32(a) >> shamt))
		default:
			return illegal()
		}
	case rvasm.OpOp:
		v, ok := op64(f7(insn), f3(insn), a, b)
		if !ok {
			return illegal()
		}
		x[d] = v
	case rvasm.OpOp32:
		v, ok := op32(f7(insn), f3(insn), uint32(a), uint32(b))
		if !ok {
			return illegal()
		}
		x[d] = v
	case rvasm.OpMiscMem:
		// FENCE and FENCE.I order nothing on a single in-order hart.
	case rvasm.OpSystem:
		switch insn {
		case rvasm.InsnECALL:
			return UserEnvCall, 0, true
		case rvasm.InsnEBREAK:
			return Breakpoint, pc, true
		default:
			return illegal()
		}
	default:
		return illegal()
	}
	x[0] = 0
	h.PC = next
	return 0, 0, false
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// op64 executes an OP instruction.
func op64(f7, f3 uint32, a, b uint64) (uint64, bool) {
	sa, sb := int64(a), int64(b)
	switch f7 {
	case 0:
		switch f3 {
		case 0:
			return a + b, true
		case 1:
			return a << (b & 0x3f), true
		case 2:
			return b2u(sa < sb), true
		case 3:
			return b2u(a < b), true
		case 4:
			return a ^ b, true
		case 5:
			return a >> (b & 0x3f), true
		case 6:
			return a | b, true
		case 7:
			return a & b, true
		}
	case 0x20:
		switch f3 {
		case 0:
			return a - b, true
		case 5:
			return uint64(sa >> (b & 0x3f)), true
		}
	case 1:
		switch f3 {
		case 0:
			return a * b, true
		case 1:
			return uint64(mulh(sa, sb)), true
		case 2:
			return uint64(mulhsu(sa, b)), true
		case 3:
			return mulhu(a, b), true
		case 4:
			return uint64(div(sa, sb)), true
		case 5:
			return divu(a, b), true
		case 6:
			return uint64(rem(sa, sb)), true
		case 7:
			return remu(a, b), true
		}
	}
	return 0, false
}

// op32 executes an OP-32 instruction. Results are sign extended.
func op32(f7, f3 uint32, a, b uint32) (uint64, bool) {
	sa, sb := int32(a), int32(b)
	var r uint32
	switch {
	case f7 == 0 && f3 == 0:
		r = a + b
	case f7 == 0x20 && f3 == 0:
		r = a - b
	case f7 == 0 && f3 == 1:
		r = a << (b & 0x1f)
	case f7 == 0 && f3 == 5:
		r = a >> (b & 0x1f)
	case f7 == 0x20 && f3 == 5:
		r = uint32(sa >> (b & 0x1f))
	case f7 == 1 && f3 == 0:
		r = a * b
	case f7 == 1 && f3 == 4:
		r = uint32(divw(sa, sb))
	case f7 == 1 && f3 == 5:
		r = divuw(a, b)
	case f7 == 1 && f3 == 6:
		r = uint32(remw(sa, sb))
	case f7 == 1 && f3 == 7:
		r = remuw(a, b)
	default:
		return 0, false
	}
	return uint64(int64(int32(r))), true
}
