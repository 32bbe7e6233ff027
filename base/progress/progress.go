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

// Package progress traces long-running work through context-chained spans.
// Spans are safe to update from worker goroutines.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

type spanKeyType string

var spanKeyName = spanKeyType(uuid.New().String())

type Status string

const (
	StatusPending  Status = "Pending"
	StatusComplete Status = "Complete"
	StatusRunning  Status = "Running"
	StatusFailed   Status = "Failed"
)

type Span struct {
	name     string
	status   Status
	total    int
	count    atomic.Int64
	err      error
	start    time.Time
	finish   time.Time
	mu       sync.Mutex
	children sync.Map
}

// Start creates a span and attaches it to the context. If the context already
// carries a span, the new span is registered as its child.
func Start(ctx context.Context, name string, total int) (context.Context, *Span) {
	childSpan := &Span{
		name:   name,
		status: StatusRunning,
		total:  total,
		start:  time.Now(),
	}
	if ctx == nil {
		return nil, childSpan
	}
	span, ok := ctx.Value(spanKeyName).(*Span)
	if !ok {
		return context.WithValue(ctx, spanKeyName, childSpan), childSpan
	}
	span.children.Store(name, childSpan)
	return context.WithValue(ctx, spanKeyName, childSpan), childSpan
}

func (s *Span) Add(n int) {
	s.count.Add(int64(n))
}

func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusRunning {
		s.status = StatusComplete
		s.count.Store(int64(s.total))
		s.finish = time.Now()
	}
}

func (s *Span) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusFailed
	s.err = err
	s.finish = time.Now()
}

func (s *Span) Count() int {
	return int(s.count.Load())
}

func (s *Span) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Progress takes a snapshot of the span and its children.
type Progress struct {
	Name       string
	Status     Status
	Error      string
	Count      int
	Total      int
	StartTime  time.Time
	FinishTime time.Time
	Children   []Progress
}

func (s *Span) Progress() Progress {
	s.mu.Lock()
	progress := Progress{
		Name:       s.name,
		Status:     s.status,
		Count:      int(s.count.Load()),
		Total:      s.total,
		StartTime:  s.start,
		FinishTime: s.finish,
	}
	if s.err != nil {
		progress.Error = s.err.Error()
	}
	s.mu.Unlock()
	s.children.Range(func(_, value interface{}) bool {
		progress.Children = append(progress.Children, value.(*Span).Progress())
		return true
	})
	return progress
}
