/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package trace exposes runtime/trace tasks and regions of the synchronization jobs.
package trace

import (
	"context"
	"os"
	"runtime/trace"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/vericerti/utils/log"
)

// Task is a runtime trace task.
type Task = trace.Task

// Region is a runtime trace region.
type Region = trace.Region

// NewTask starts a task of taskType, tasks are free while tracing is off.
func NewTask(pctx context.Context, taskType string) (ctx context.Context, task *Task) {
	return trace.NewTask(pctx, taskType)
}

// StartRegion starts a region in the task of ctx.
func StartRegion(ctx context.Context, regionType string) *Region {
	return trace.StartRegion(ctx, regionType)
}

// IsEnabled reports whether an execution trace is being written.
func IsEnabled() bool {
	return trace.IsEnabled()
}

// StartFile writes the execution trace to path until the returned stop is called.
func StartFile(path string) (stop func(), err error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create trace output file failed")
	}
	if err = trace.Start(f); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "start trace failed")
	}
	log.WithField("file", path).Info("execution trace started")
	return func() {
		trace.Stop()
		if err := f.Close(); err != nil {
			log.WithError(err).Error("close trace file failed")
		}
	}, nil
}
