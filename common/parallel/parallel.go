// Copyright 2024 furze Project Authors
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

package parallel

import (
	"context"
	"sync"

	"github.com/furze-io/furze/common/util"
	"github.com/juju/errors"
)

const chanSize = 1024

// Parallel schedules and runs tasks in parallel. nJobs is the number of tasks.
// nWorkers is the number of executors. worker receives the executor id and the
// task id. The ctx argument allows callers to cancel outstanding work.
func Parallel(ctx context.Context, nJobs, nWorkers int, worker func(workerId, jobId int) error) error {
	if nWorkers <= 1 {
		for i := 0; i < nJobs; i++ {
			if err := ctx.Err(); err != nil {
				return errors.Trace(err)
			}
			if err := worker(0, i); err != nil {
				return errors.Trace(err)
			}
		}
	} else {
		c := make(chan int, chanSize)
		// producer
		go func() {
			defer close(c)
			for i := 0; i < nJobs; i++ {
				select {
				case <-ctx.Done():
					return
				case c <- i:
				}
			}
		}()
		// consumer
		var wg sync.WaitGroup
		errs := make([]error, nJobs)
		for j := 0; j < nWorkers; j++ {
			// start workers
			workerId := j
			wg.Go(func() {
				defer util.CheckPanic()
				for {
					select {
					case <-ctx.Done():
						return
					case jobId, ok := <-c:
						if !ok {
							return
						}
						if err := ctx.Err(); err != nil {
							errs[jobId] = err
							return
						}
						// run job
						if err := worker(workerId, jobId); err != nil {
							errs[jobId] = err
							return
						}
					}
				}
			})
		}
		wg.Wait()
		// check errors
		for _, err := range errs {
			if err != nil {
				return errors.Trace(err)
			}
		}
		// Workers woken by ctx.Done() exit without recording an error, so a
		// cancelled run may finish with an empty error list.
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// For runs worker once per job. Jobs are distributed over nWorkers executors;
// the caller must make sure concurrent jobs do not write to shared state.
func For(nJobs, nWorkers int, worker func(jobId int)) {
	if nWorkers <= 1 {
		for i := 0; i < nJobs; i++ {
			worker(i)
		}
	} else {
		c := make(chan int, chanSize)
		// producer
		go func() {
			for i := 0; i < nJobs; i++ {
				c <- i
			}
			close(c)
		}()
		// consumer
		var wg sync.WaitGroup
		for j := 0; j < nWorkers; j++ {
			// start workers
			wg.Go(func() {
				defer util.CheckPanic()
				for jobId := range c {
					worker(jobId)
				}
			})
		}
		wg.Wait()
	}
}
