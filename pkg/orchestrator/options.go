// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"github.com/sirupsen/logrus"

	"github.com/jamatthews/pgost/pkg/backfill"
)

type Option func(*Orchestrator)

// WithLogger sets the logger used by the orchestrator and its workers.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBackfillBatchSize sets the number of rows copied per backfill batch.
func WithBackfillBatchSize(batchSize int) Option {
	return func(o *Orchestrator) {
		if batchSize > 0 {
			o.backfillBatchSize = batchSize
		}
	}
}

// WithBackfillCallback registers a callback invoked after each backfill batch
// with the running total of copied rows.
func WithBackfillCallback(fn backfill.CallbackFn) Option {
	return func(o *Orchestrator) {
		o.backfillCallbacks = append(o.backfillCallbacks, fn)
	}
}
