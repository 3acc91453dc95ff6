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

// Package sync provides synchronization primitives for kernel state that is
// only ever touched by one logical thread of execution at a time, plus
// aliases of the standard library's.
package sync

import (
	"fmt"
)

// ExclusiveCell holds a value that may be borrowed mutably by at most one
// holder at a time. A second Borrow while the first is outstanding is a
// kernel bug and panics.
//
// The kernel runs a single hart, so there is no contention to wait on: an
// overlapping borrow can only come from re-entrant code that forgot to
// Release before switching tasks or calling back into the owner.
//
// The zero value holds the zero T and is ready to use. An ExclusiveCell must
// not be copied after first use.
type ExclusiveCell[T any] struct {
	value    T
	borrowed bool
}

// NewExclusiveCell returns a cell holding v.
func NewExclusiveCell[T any](v T) *ExclusiveCell[T] {
	return &ExclusiveCell[T]{value: v}
}

// Borrow returns exclusive access to the value. The caller must call Release
// when done.
//
// Precondition: the cell is not borrowed.
func (c *ExclusiveCell[T]) Borrow() *T {
	if c.borrowed {
		panic(fmt.Sprintf("BorrowMutError: %T is already borrowed", c.value))
	}
	c.borrowed = true
	return &c.value
}

// TryBorrow is like Borrow but returns false instead of panicking if the cell
// is already borrowed.
func (c *ExclusiveCell[T]) TryBorrow() (*T, bool) {
	if c.borrowed {
		return nil, false
	}
	c.borrowed = true
	return &c.value, true
}

// Release ends the outstanding borrow.
//
// Precondition: the cell is borrowed.
func (c *ExclusiveCell[T]) Release() {
	if !c.borrowed {
		panic(fmt.Sprintf("release of %T without a borrow", c.value))
	}
	c.borrowed = false
}

// Borrowed returns true if the cell is currently borrowed.
func (c *ExclusiveCell[T]) Borrowed() bool {
	return c.borrowed
}

// With calls fn with exclusive access to the value.
func (c *ExclusiveCell[T]) With(fn func(v *T)) {
	v := c.Borrow()
	defer c.Release()
	fn(v)
}

// Get returns a value computed from the cell's contents under a borrow.
func Get[T, R any](c *ExclusiveCell[T], fn func(v *T) R) R {
	v := c.Borrow()
	defer c.Release()
	return fn(v)
}
