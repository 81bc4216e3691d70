// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Kickoff creates a root invocation and polls it to a terminal status,
// handing new log lines to onLog as they are stored. It returns the final
// call state; a failed stage is reported in the state, not as an error.
func Kickoff(ctx context.Context, client *Client, newCall *NewCall, onLog func(LogLine)) (*Call, error) {
	id, err := client.CreateCall(ctx, newCall)
	if err != nil {
		return nil, err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0
	sinceIndex := int64(-1)
	drain := func() {
		for {
			logs, hasMore, err := client.GetLogs(ctx, id, sinceIndex, 100)
			if err != nil {
				return
			}
			for _, l := range logs {
				sinceIndex = l.Index
				if onLog != nil {
					onLog(l)
				}
			}
			if !hasMore {
				return
			}
		}
	}
	for {
		call, err := client.GetCall(ctx, id)
		if err != nil {
			return nil, err
		}
		drain()
		if call.Terminal() {
			return call, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}
