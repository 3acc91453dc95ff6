// Copyright 2018 The gVisor Authors.
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

// Package refs provides reference counting for kernel objects whose lifetime
// is shared between several owners, such as tasks held by the ready queue,
// the processor and their parent.
package refs

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// RefCounter is implemented by reference counted objects.
type RefCounter interface {
	// IncRef takes a reference. The caller must already hold one.
	IncRef()

	// DecRef drops a reference. Types with a destructor implement DecRef
	// themselves by calling AtomicRefCount.DecRefWithDestructor.
	DecRef()

	// TryIncRef takes a reference unless the object is already destroyed.
	TryIncRef() bool

	addWeakRef(*WeakRef)
	dropWeakRef(*WeakRef)
}

// A WeakRefUser is notified when the object behind a weak reference is
// destroyed.
type WeakRefUser interface {
	WeakRefGone()
}

// WeakRef refers to an object without keeping it alive.
type WeakRef struct {
	mu sync.Mutex

	// obj is nil once the object has been destroyed.
	obj  RefCounter
	user WeakRefUser
}

// NewWeakRef returns a weak reference to rc, which the caller must hold a
// reference on. u, if not nil, is notified when rc is destroyed.
func NewWeakRef(rc RefCounter, u WeakRefUser) *WeakRef {
	w := &WeakRef{obj: rc, user: u}
	rc.addWeakRef(w)
	return w
}

func (w *WeakRef) target() RefCounter {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.obj
}

// Get returns the object with a new reference held, or nil if it has been
// destroyed.
func (w *WeakRef) Get() RefCounter {
	rc := w.target()
	if rc == nil || !rc.TryIncRef() {
		return nil
	}
	return rc
}

// Drop releases w. It must not be used afterwards.
func (w *WeakRef) Drop() {
	rc := w.Get()
	if rc == nil {
		// Destroyed, or being destroyed and about to clear w.
		return
	}
	rc.dropWeakRef(w)
	rc.DecRef()
}

func (w *WeakRef) clear() WeakRefUser {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.obj = nil
	return w.user
}

// AtomicRefCount is an embeddable reference count. The zero value holds one
// reference; the destructor runs when the last one is dropped.
type AtomicRefCount struct {
	// refs is the reference count minus one. It is negative once the
	// object is destroyed.
	refs atomic.Int64

	mu   sync.Mutex
	weak []*WeakRef
}

// ReadRefs returns the number of references held. It is only meaningful
// under external synchronization.
func (r *AtomicRefCount) ReadRefs() int64 {
	return r.refs.Load() + 1
}

// IncRef takes a reference.
func (r *AtomicRefCount) IncRef() {
	if v := r.refs.Add(1); v <= 0 {
		panic(fmt.Sprintf("IncRef on a destroyed object (refs %d)", v))
	}
}

// TryIncRef takes a reference unless the count has already reached zero.
func (r *AtomicRefCount) TryIncRef() bool {
	for {
		v := r.refs.Load()
		if v < 0 {
			return false
		}
		if r.refs.CompareAndSwap(v, v+1) {
			return true
		}
	}
}

func (r *AtomicRefCount) addWeakRef(w *WeakRef) {
	r.mu.Lock()
	r.weak = append(r.weak, w)
	r.mu.Unlock()
}

func (r *AtomicRefCount) dropWeakRef(w *WeakRef) {
	r.mu.Lock()
	if i := slices.Index(r.weak, w); i >= 0 {
		r.weak = slices.Delete(r.weak, i, i+1)
	}
	r.mu.Unlock()
}

// DecRefWithDestructor drops a reference and, if it was the last, clears all
// weak references and then calls destroy.
func (r *AtomicRefCount) DecRefWithDestructor(destroy func()) {
	switch v := r.refs.Add(-1); {
	case v < -1:
		panic("DecRef on a destroyed object")
	case v == -1:
		r.mu.Lock()
		weak := r.weak
		r.weak = nil
		r.mu.Unlock()
		for _, w := range weak {
			if u := w.clear(); u != nil {
				u.WeakRefGone()
			}
		}
		if destroy != nil {
			destroy()
		}
	}
}

// DecRef drops a reference without a destructor.
func (r *AtomicRefCount) DecRef() {
	r.DecRefWithDestructor(nil)
}
