/***************************************************************
 *
 * Copyright (C) 2025, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log/term"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/mediacache/param"
)

// BufferedLogHook holds start-up log entries until the log destination is
// known.
type BufferedLogHook struct {
	mu      sync.Mutex
	entries []*log.Entry
	flushed atomic.Bool
}

var (
	bufferedHook atomic.Pointer[BufferedLogHook]
	flushOnce    sync.Once
	logFHandle   *os.File
)

// ResetLogFlush lets unit tests flush more than once.
func ResetLogFlush() {
	flushOnce = sync.Once{}
	bufferedHook.Store(nil)
}

func NewBufferedLogHook() *BufferedLogHook {
	return &BufferedLogHook{}
}

func (hook *BufferedLogHook) Fire(entry *log.Entry) error {
	if hook.flushed.Load() {
		return nil
	}
	hook.mu.Lock()
	hook.entries = append(hook.entries, entry)
	hook.mu.Unlock()
	return nil
}

func (hook *BufferedLogHook) Levels() []log.Level {
	return log.AllLevels
}

// drain marks the hook flushed and returns what it buffered
func (hook *BufferedLogHook) drain() []*log.Entry {
	hook.mu.Lock()
	defer hook.mu.Unlock()
	hook.flushed.Store(true)
	entries := hook.entries
	hook.entries = nil
	return entries
}

func textFormatter(out io.Writer, toFile bool) *log.TextFormatter {
	return &log.TextFormatter{
		FullTimestamp:          true,
		ForceColors:            !toFile && term.IsTerminal(out),
		DisableColors:          toFile,
		DisableLevelTruncation: true,
	}
}

func openLogFile(location string) (*os.File, error) {
	if dir := filepath.Dir(location); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, errors.Wrap(err, "failed to access/create the log directory")
		}
	}
	f, err := os.OpenFile(location, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open the log file")
	}
	return f, nil
}

// FlushLogs writes the buffered start-up entries to the final destination
// (Logging.LogLocation when pushToFile is set, otherwise stderr) and
// switches to direct logging.
func FlushLogs(pushToFile bool) error {
	var flushErr error
	flushOnce.Do(func() {
		hook := bufferedHook.Load()
		if hook == nil || hook.flushed.Load() {
			return
		}

		var out io.Writer = os.Stderr
		toFile := false
		if location := param.Logging_LogLocation.GetString(); pushToFile && location != "" {
			f, err := openLogFile(location)
			if err != nil {
				flushErr = err
			} else {
				logFHandle = f
				out = f
				toFile = true
				fmt.Fprintf(os.Stderr, "Logging.LogLocation is set to %s. All logs are redirected to the log file.\n", location)
			}
		}
		log.SetOutput(out)
		log.SetFormatter(textFormatter(out, toFile))

		for _, entry := range hook.drain() {
			if formatted, err := entry.String(); err == nil {
				_, _ = io.WriteString(out, formatted)
			}
		}
		log.StandardLogger().ReplaceHooks(make(log.LevelHooks))
		bufferedHook.Store(nil)

		if f, ok := out.(*os.File); ok {
			_ = f.Sync()
		}
	})
	return flushErr
}

// CloseLogger closes the log file, if any.  Tests call it so their temp
// directories can be removed.
func CloseLogger() {
	if logFHandle != nil {
		_ = logFHandle.Close()
		logFHandle = nil
	}
}

// SetupLogBuffering discards direct output and buffers entries until
// FlushLogs runs.
func SetupLogBuffering() {
	log.SetOutput(io.Discard)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, DisableColors: true})

	hook := NewBufferedLogHook()
	if bufferedHook.CompareAndSwap(nil, hook) {
		log.AddHook(hook)
	}
}

// SetLevel parses level and applies it to logrus, keeping the current
// level when the string does not parse.
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	log.SetLevel(parsed)
	return nil
}
