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

package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/time/rate"
)

func TestLevelJSON(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Level
	}{
		{`"warning"`, Warning},
		{`"info"`, Info},
		{`"debug"`, Debug},
		{"0", Warning},
		{"1", Info},
		{"2", Debug},
	} {
		var lv Level
		if err := lv.UnmarshalJSON([]byte(tc.in)); err != nil {
			t.Errorf("UnmarshalJSON(%s): %v", tc.in, err)
			continue
		}
		if lv != tc.want {
			t.Errorf("UnmarshalJSON(%s) = %v, want %v", tc.in, lv, tc.want)
		}
		if b, err := lv.MarshalJSON(); err != nil || strings.Trim(string(b), `"`) != strings.ToLower(tc.want.String()) {
			t.Errorf("MarshalJSON(%v) = %s, %v", lv, b, err)
		}
	}
	var lv Level
	if err := lv.UnmarshalJSON([]byte(`"fatal"`)); err == nil {
		t.Errorf("UnmarshalJSON accepted an unknown level")
	}
}

func TestJSONEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := JSONEmitter{&Writer{Next: &buf}}
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e.Emit(0, Warning, ts, "[kernel] %s in application", "StorePageFault")
	e.Emit(0, Info, ts, "no tag [here] ")

	type entry struct {
		Msg       string `json:"msg"`
		Component string `json:"component"`
		Level     Level  `json:"level"`
		HasCaller bool
	}
	var got []entry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var j jsonLog
		if err := json.Unmarshal([]byte(line), &j); err != nil {
			t.Fatalf("Unmarshal(%q): %v", line, err)
		}
		if !j.Time.Equal(ts) {
			t.Errorf("time = %v, want %v", j.Time, ts)
		}
		got = append(got, entry{j.Msg, j.Component, j.Level, strings.HasPrefix(j.Caller, "json_test.go:")})
	}
	want := []entry{
		{"StorePageFault in application", "kernel", Warning, true},
		{"no tag [here] ", "", Info, true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}
}

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debugf(format string, v ...any)   { r.Infof(format, v...) }
func (r *recordingLogger) Warningf(format string, v ...any) { r.Infof(format, v...) }
func (r *recordingLogger) IsLogging(Level) bool             { return true }

func (r *recordingLogger) Infof(format string, v ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

func TestRateLimitedLoggerReportsDrops(t *testing.T) {
	r := &recordingLogger{}
	l := RateLimitedLogger(r, time.Hour).(*rateLimitedLogger)
	l.Warningf("fault %d", 1)
	l.Warningf("fault %d", 2)
	l.Infof("fault %d", 3)

	// Lift the limit instead of waiting an hour.
	l.limit.SetLimit(rate.Inf)
	l.Warningf("fault %d", 4)
	want := []string{
		"fault 1",
		"fault 4 (2 similar messages suppressed)",
	}
	if diff := cmp.Diff(want, r.lines); diff != "" {
		t.Errorf("logged lines (-want +got):\n%s", diff)
	}
}
