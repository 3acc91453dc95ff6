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

package pgalloc

import (
	"math/bits"
)

// bitmap tracks which frames are in use. Bit i set means frame i of the pool
// is allocated.
type bitmap struct {
	// numOnes is the number of set bits.
	numOnes uint64

	// size is the number of valid bits.
	size uint64

	// bitBlock holds the bits, 64 per word, least significant first.
	bitBlock []uint64
}

func newBitmap(size uint64) bitmap {
	return bitmap{
		size:     size,
		bitBlock: make([]uint64, (size+63)/64),
	}
}

// firstZero returns the first unset bit at or after start, wrapping around to
// the beginning of the bitmap. It returns false if every bit is set.
func (b *bitmap) firstZero(start uint64) (uint64, bool) {
	if b.numOnes == b.size {
		return 0, false
	}
	if start >= b.size {
		start = 0
	}
	if bit, ok := b.scanZero(start, b.size); ok {
		return bit, true
	}
	return b.scanZero(0, start)
}

// scanZero returns the first unset bit in [begin, end).
func (b *bitmap) scanZero(begin, end uint64) (uint64, bool) {
	i, nbit := begin/64, begin%64
	for ; i*64 < end; i, nbit = i+1, 0 {
		// Mask out the bits below the start of the range in the first
		// block.
		w := b.bitBlock[i] | ((1 << nbit) - 1)
		if w == ^uint64(0) {
			continue
		}
		bit := i*64 + uint64(bits.TrailingZeros64(^w))
		if bit >= end {
			return 0, false
		}
		return bit, true
	}
	return 0, false
}

func (b *bitmap) isSet(i uint64) bool {
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

func (b *bitmap) add(i uint64) {
	blockNum, mask := i/64, uint64(1)<<(i%64)
	oldBlock := b.bitBlock[blockNum]
	newBlock := oldBlock | mask
	if oldBlock != newBlock {
		b.bitBlock[blockNum] = newBlock
		b.numOnes++
	}
}

func (b *bitmap) remove(i uint64) {
	blockNum, mask := i/64, uint64(1)<<(i%64)
	oldBlock := b.bitBlock[blockNum]
	newBlock := oldBlock &^ mask
	if oldBlock != newBlock {
		b.bitBlock[blockNum] = newBlock
		b.numOnes--
	}
}
