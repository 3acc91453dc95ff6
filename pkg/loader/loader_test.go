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

package loader

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoader(t *testing.T) {
	l := New(map[string][]byte{
		"zeta":  []byte("z"),
		"alpha": []byte("a"),
		"mid":   []byte("m"),
	})
	if got := l.NumApps(); got != 3 {
		t.Fatalf("NumApps() = %d, want 3", got)
	}
	if diff := cmp.Diff([]string{"alpha", "mid", "zeta"}, l.Names()); diff != "" {
		t.Errorf("Names() (-want +got):\n%s", diff)
	}
	for i, want := range []string{"a", "m", "z"} {
		if got := string(l.AppData(i)); got != want {
			t.Errorf("AppData(%d) = %q, want %q", i, got, want)
		}
	}
	data, err := l.AppDataByName("mid")
	if err != nil || string(data) != "m" {
		t.Errorf("AppDataByName(mid) = %q, %v", data, err)
	}
	if _, err := l.AppDataByName("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AppDataByName(missing) = %v, want ErrNotFound", err)
	}

	// Names returns a copy.
	l.Names()[0] = "changed"
	if l.Names()[0] != "alpha" {
		t.Errorf("Names() aliases the loader's state")
	}
	l.ListApps()
}

func TestAppDataOutOfRange(t *testing.T) {
	l := New(nil)
	defer func() {
		if recover() == nil {
			t.Errorf("AppData(0) on an empty loader did not panic")
		}
	}()
	l.AppData(0)
}
