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

package rvasm

import (
	"fmt"
)

// Reg is an integer register.
type Reg uint8

// Integer registers by ABI name.
const (
	Zero Reg = iota
	RA
	SP
	GP
	TP
	T0
	T1
	T2
	S0
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6
)

var regNames = [...]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// String implements fmt.Stringer.String.
func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("x%d", uint8(r))
}

// Major opcodes.
const (
	OpLoad    = 0x03
	OpMiscMem = 0x0f
	OpImm     = 0x13
	OpAUIPC   = 0x17
	OpImm32   = 0x1b
	OpStore   = 0x23
	OpOp      = 0x33
	OpLUI     = 0x37
	OpOp32    = 0x3b
	OpBranch  = 0x63
	OpJALR    = 0x67
	OpJAL     = 0x6f
	OpSystem  = 0x73
)

// Fixed instruction words.
const (
	InsnECALL  = 0x00000073
	InsnEBREAK = 0x00100073
	InsnFENCE  = 0x0ff0000f
)

func rType(op uint32, rd Reg, f3 uint32, rs1, rs2 Reg, f7 uint32) uint32 {
	return f7<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | f3<<12 | uint32(rd)<<7 | op
}

func iType(op uint32, rd Reg, f3 uint32, rs1 Reg, imm int64) uint32 {
	return uint32(imm&0xfff)<<20 | uint32(rs1)<<15 | f3<<12 | uint32(rd)<<7 | op
}

func sType(op uint32, f3 uint32, rs1, rs2 Reg, imm int64) uint32 {
	u := uint32(imm & 0xfff)
	return (u>>5)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | f3<<12 | (u&0x1f)<<7 | op
}

func bType(op uint32, f3 uint32, rs1, rs2 Reg, imm int64) uint32 {
	u := uint32(imm & 0x1fff)
	return (u>>12&1)<<31 | (u>>5&0x3f)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 |
		f3<<12 | (u>>1&0xf)<<8 | (u>>11&1)<<7 | op
}

func uType(op uint32, rd Reg, imm20 int64) uint32 {
	return uint32(imm20&0xfffff)<<12 | uint32(rd)<<7 | op
}

func jType(op uint32, rd Reg, imm int64) uint32 {
	u := uint32(imm & 0x1fffff)
	return (u>>20&1)<<31 | (u>>1&0x3ff)<<21 | (u>>11&1)<<20 | (u>>12&0xff)<<12 | uint32(rd)<<7 | op
}

// fitsSigned returns true if v is representable in a signed field of the
// given width.
func fitsSigned(v int64, bits uint) bool {
	lim := int64(1) << (bits - 1)
	return -lim <= v && v < lim
}

// hiLo splits a 32-bit signed offset into the upper 20 bits for LUI/AUIPC
// and the sign-extended low 12 bits for the following ADDI.
func hiLo(v int64) (hi, lo int64) {
	hi = (v + 0x800) >> 12
	lo = v - hi<<12
	return hi, lo
}
