// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package main

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestRunJanitor_PurgesImmediatelyAndOnTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		runJanitor(ctx, 10*time.Millisecond, func(context.Context) (int64, error) {
			calls.Add(1)
			return 0, nil
		}, slog.New(slog.DiscardHandler))
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}

func TestRunJanitor_LogsFailuresAndContinues(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf syncBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		runJanitor(ctx, 10*time.Millisecond, func(context.Context) (int64, error) {
			calls.Add(1)
			return 0, oops.Code("AUTH_INTERNAL").Errorf("store unavailable")
		}, logger)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Contains(t, buf.String(), "reset challenge purge failed")
	assert.Contains(t, buf.String(), "AUTH_INTERNAL")
}

func TestRunJanitor_StopsWhenAlreadyCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf syncBuffer
	runJanitor(ctx, time.Hour, func(ctx context.Context) (int64, error) {
		return 0, ctx.Err()
	}, slog.New(slog.NewJSONHandler(&buf, nil)))

	assert.Empty(t, buf.String(), "errors caused by shutdown are not logged")
}

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
