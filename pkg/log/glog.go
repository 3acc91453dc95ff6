// Copyright 2018 Google LLC
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
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// GoogleEmitter is a wrapper that emits logs in a format compatible with
// package github.com/golang/glog.
type GoogleEmitter struct {
	// Emitter is the underlying emitter.
	Emitter
}

// glogTime is the timestamp layout of the header.
const glogTime = "0102 15:04:05.000000"

// pid is used for the threadid component of the header.
var pid = fmt.Sprintf("%7d", os.Getpid())

func levelChar(level Level) byte {
	switch level {
	case Debug:
		return 'D'
	case Info:
		return 'I'
	default:
		return 'W'
	}
}

// Emit emits the message, google-style.
//
// Log lines have this form:
//
//	Lmmdd hh:mm:ss.uuuuuu threadid file:line] msg...
//
// where L is the level (D, I or W), threadid is the space-padded host
// process ID and file:line is the caller.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	b := make([]byte, 0, 64+len(format))
	b = append(b, levelChar(level))
	b = timestamp.AppendFormat(b, glogTime)
	b = append(b, ' ')
	b = append(b, pid...)
	b = append(b, ' ')
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		b = append(b, filepath.Base(file)...)
		b = append(b, ':')
		b = strconv.AppendInt(b, int64(line), 10)
	} else {
		b = append(b, "???:0"...)
	}
	b = append(b, "] "...)
	b = append(b, format...)
	b = append(b, '\n')

	// Pass to the underlying routine.
	g.Emitter.Emit(depth+1, level, timestamp, string(b), args...)
}
