// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	logBatchSize  = 10
	logFlushEvery = time.Second
)

// logPipeline captures the output lines of one execution and ships them in
// batches: every flush interval or every logBatchSize lines, whichever comes
// first. Indices are dense and monotonic per run; batches preserve order.
type logPipeline struct {
	client *Client
	runID  string

	mu   sync.Mutex
	next int64

	ch   chan LogLine
	done chan struct{}
}

func newLogPipeline(client *Client, runID string) *logPipeline {
	p := &logPipeline{
		client: client,
		runID:  runID,
		ch:     make(chan LogLine, 256),
		done:   make(chan struct{}),
	}
	go p.ship()
	return p
}

// Write appends one line. Blocks only briefly when the channel is full.
func (p *logPipeline) Write(content string) {
	p.mu.Lock()
	line := LogLine{Index: p.next, Timestamp: time.Now().UTC(), Content: content}
	p.next++
	p.mu.Unlock()
	p.ch <- line
}

func (p *logPipeline) ship() {
	defer close(p.done)
	ticker := time.NewTicker(logFlushEvery)
	defer ticker.Stop()
	batch := make([]LogLine, 0, logBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if _, err := p.client.AppendLogs(context.Background(), p.runID, batch); err != nil {
			logrus.Errorf("stage %s: ship %d log line(s): %v", p.runID, len(batch), err)
		}
		batch = batch[:0]
	}
	for {
		select {
		case line, ok := <-p.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, line)
			if len(batch) >= logBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close drains the queue and forces a final flush.
func (p *logPipeline) Close() {
	close(p.ch)
	<-p.done
}
