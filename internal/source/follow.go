// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"context"
	"time"

	"github.com/hpcloud/tail"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// defaultTickInterval is how often a follower wakes up while no new lines
// arrive.
const defaultTickInterval = time.Second

// Follower reads NDJSON records from a file, waiting for new lines once it
// reaches the end of it. Rotated files are reopened.
type Follower struct {
	path         string
	t            *tail.Tail
	idleTimeout  time.Duration
	tickInterval time.Duration
	onTick       HandleTickFunc
	log          *logrus.Entry
}

// NewFollower starts following path. The file must exist.
func NewFollower(path string, idleTimeout, tickInterval time.Duration, onTick HandleTickFunc) (*Follower, error) {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Poll:      true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "following %s", path)
	}
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	return &Follower{
		path:         path,
		t:            t,
		idleTimeout:  idleTimeout,
		tickInterval: tickInterval,
		onTick:       onTick,
		log:          slog.WithField("file", path),
	}, nil
}

// Read calls handle for every record appended to the file. It returns nil
// when ctx is done or the file has been idle for longer than the idle
// timeout, and an error when handle or the tick function fail.
func (f *Follower) Read(ctx context.Context, handle HandleFunc) error {
	ticker := time.NewTicker(f.tickInterval)
	defer ticker.Stop()

	lastActivity := time.Now()
	for {
		select {
		case line, ok := <-f.t.Lines:
			if !ok {
				return errors.Wrapf(f.t.Err(), "following %s", f.path)
			}
			if line == nil {
				continue
			}
			if line.Err != nil {
				f.log.WithError(line.Err).Warn("error reading followed file")
				continue
			}
			lastActivity = time.Now()
			if err := handleLine(ctx, []byte(line.Text), handle); err != nil {
				return err
			}

		case <-ticker.C:
			if f.onTick != nil {
				if err := f.onTick(ctx); err != nil {
					return err
				}
			}
			if f.idleTimeout > 0 && time.Since(lastActivity) > f.idleTimeout {
				f.log.WithField("idle", time.Since(lastActivity).Round(time.Second)).Info("stop following idle file")
				return nil
			}

		case <-ctx.Done():
			return nil
		}
	}
}

// Close stops following the file.
func (f *Follower) Close() error {
	err := f.t.Stop()
	f.t.Cleanup()
	return err
}
