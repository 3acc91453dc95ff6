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

// Package loader serves the user programs linked into the kernel image.
//
// Programs are opaque executable images identified by name and by index in
// name order.
package loader

import (
	"errors"
	"fmt"
	"slices"

	"gvisor.dev/rvkernel/pkg/log"
)

// ErrNotFound is returned for an unknown program name.
var ErrNotFound = errors.New("program not found")

// Loader is an immutable set of named program images.
type Loader struct {
	names []string
	data  map[string][]byte
}

// New returns a loader serving progs. The images are not copied.
func New(progs map[string][]byte) *Loader {
	l := &Loader{data: make(map[string][]byte, len(progs))}
	for name, data := range progs {
		l.names = append(l.names, name)
		l.data[name] = data
	}
	slices.Sort(l.names)
	return l
}

// NumApps returns the number of programs.
func (l *Loader) NumApps() int {
	return len(l.names)
}

// AppData returns the image of the i-th program in name order.
//
// Precondition: 0 <= i < NumApps().
func (l *Loader) AppData(i int) []byte {
	if i < 0 || i >= len(l.names) {
		panic(fmt.Sprintf("app %d out of range [0, %d)", i, len(l.names)))
	}
	return l.data[l.names[i]]
}

// AppDataByName returns the image of the named program.
func (l *Loader) AppDataByName(name string) ([]byte, error) {
	data, ok := l.data[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return data, nil
}

// Names returns the program names in order.
func (l *Loader) Names() []string {
	return slices.Clone(l.names)
}

// ListApps logs the program names.
func (l *Loader) ListApps() {
	log.Infof("/**** APPS ****")
	for _, name := range l.names {
		log.Infof("%s", name)
	}
	log.Infof("**************/")
}
