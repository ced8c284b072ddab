// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file whenever it changes and passes each
// successfully decoded configuration to onChange. Invalid files are logged
// and skipped. The watcher stops when ctx is done; the returned channel is
// closed once it has.
//
// Editors often replace a file instead of writing it in place, so the
// directory is watched rather than the file.
func (l *Loader) Watch(ctx context.Context, onChange func(*Config)) (<-chan struct{}, error) {
	file := l.v.ConfigFileUsed()
	if file == "" {
		return nil, errors.New("no config file loaded")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(file)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", file, err)
	}

	done := make(chan struct{})
	target := filepath.Clean(file)
	go func() {
		defer close(done)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				l.reload(ctx, ev, onChange)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.WarnContext(ctx, "config watcher error", "error", err)
			}
		}
	}()
	return done, nil
}

func (l *Loader) reload(ctx context.Context, ev fsnotify.Event, onChange func(*Config)) {
	if err := l.v.ReadInConfig(); err != nil {
		l.logger.WarnContext(ctx, "failed to reload config file", "file", ev.Name, "error", err)
		return
	}
	cfg, err := l.decode()
	if err != nil {
		l.logger.WarnContext(ctx, "ignoring invalid config file", "file", ev.Name, "error", err)
		return
	}
	l.logger.InfoContext(ctx, "config file reloaded", "file", ev.Name, "op", ev.Op.String())
	onChange(cfg)
}
