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

package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/CovenantSQL/vericerti/utils/log"
)

var exitSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// WaitForExit returns a channel receiving SIGINT and SIGTERM. Hangup and terminal job
// control signals are ignored so a detached daemon keeps running.
func WaitForExit() <-chan os.Signal {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, exitSignals...)
	signal.Ignore(syscall.SIGHUP, syscall.SIGTTIN, syscall.SIGTTOU)
	return signalCh
}

// ExitContext returns a context cancelled by the first exit signal, used to abort
// startup steps blocked on remote services.
func ExitContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, exitSignals...)
	go func() {
		defer signal.Stop(signalCh)
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig.String()).Warning("exit signal received")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
