// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadOrCreateDefault_FirstRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	st := s.LoadOrCreateDefault(ctx, "run1", "build")

	assert.Equal(t, 0, st.RetryAttempt)
	assert.Equal(t, 0, st.RevisionEpoch)
	assert.Equal(t, 0, st.EscalationLevel)
	assert.Equal(t, 0, st.Version)
	assert.Nil(t, st.LastFailureReason)
	assert.False(t, st.Terminal())

	// The default row is persisted: a later update finds it.
	ok := s.Update(ctx, "run1", "build", UpdateRequest{IncrementRetry: true})
	assert.True(t, ok)
}

func TestUpdate_EmptyRequestWritesNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.LoadOrCreateDefault(ctx, "run1", "build")
	before := s.TxnCount()

	ok := s.Update(ctx, "run1", "build", UpdateRequest{})

	assert.True(t, ok)
	assert.Equal(t, before, s.TxnCount(), "empty request must not open a transaction")
}

func TestUpdate_MissingRowReturnsFalse(t *testing.T) {
	s := openTestStore(t)

	ok := s.Update(context.Background(), "run1", "ghost", UpdateRequest{IncrementRetry: true})
	assert.False(t, ok)
}

func TestUpdate_IncrementsAndSets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.LoadOrCreateDefault(ctx, "run1", "build")

	reason := "flaky executor"
	ok := s.Update(ctx, "run1", "build", UpdateRequest{
		IncrementRetry:      true,
		IncrementEscalation: true,
		FailureReason:       &reason,
	})
	require.True(t, ok)

	st := s.LoadOrCreateDefault(ctx, "run1", "build")
	assert.Equal(t, 1, st.RetryAttempt)
	assert.Equal(t, 1, st.EscalationLevel)
	assert.Equal(t, 0, st.RevisionEpoch)
	require.NotNil(t, st.LastFailureReason)
	assert.Equal(t, reason, *st.LastFailureReason)
	assert.NotNil(t, st.LastAttemptAt)

	// Explicit sets win over increments.
	five := 5
	ok = s.Update(ctx, "run1", "build", UpdateRequest{
		IncrementRetry: true,
		SetRetry:       &five,
	})
	require.True(t, ok)

	st = s.LoadOrCreateDefault(ctx, "run1", "build")
	assert.Equal(t, 5, st.RetryAttempt)
}

func TestUpdate_VersionStrictlyIncreases(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.LoadOrCreateDefault(ctx, "run1", "build")

	last := 0
	for i := 0; i < 5; i++ {
		require.True(t, s.Update(ctx, "run1", "build", UpdateRequest{IncrementEpoch: true}))
		st := s.LoadOrCreateDefault(ctx, "run1", "build")
		assert.Greater(t, st.Version, last)
		last = st.Version
	}
}

func TestMarkComplete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	before := s.LoadOrCreateDefault(ctx, "run1", "build")

	ok := s.MarkComplete(ctx, "run1", "build")
	require.True(t, ok)

	st := s.LoadOrCreateDefault(ctx, "run1", "build")
	assert.True(t, st.Terminal())
	assert.NotNil(t, st.CompletedAt)
	assert.Nil(t, st.FailedAt)
	assert.Greater(t, st.Version, before.Version)
}

func TestMarkFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Terminal mark creates the row if missing.
	ok := s.MarkFailed(ctx, "run1", "audit", "timeout")
	require.True(t, ok)

	st := s.LoadOrCreateDefault(ctx, "run1", "audit")
	assert.True(t, st.Terminal())
	require.NotNil(t, st.FailedAt)
	require.NotNil(t, st.LastFailureReason)
	assert.Equal(t, "timeout", *st.LastFailureReason)
}

func TestRunsAreIndependent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.LoadOrCreateDefault(ctx, "run1", "build")
	require.True(t, s.Update(ctx, "run1", "build", UpdateRequest{IncrementRetry: true}))

	st := s.LoadOrCreateDefault(ctx, "run2", "build")
	assert.Equal(t, 0, st.RetryAttempt, "run2 must not see run1's counters")
}

func TestConcurrentWritersSamePhase(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.LoadOrCreateDefault(ctx, "run1", "build")

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(ctx, "run1", "build", UpdateRequest{IncrementRetry: true})
		}()
	}
	wg.Wait()

	st := s.LoadOrCreateDefault(ctx, "run1", "build")
	assert.Equal(t, writers, st.RetryAttempt, "row lock must serialize same-phase writers")
	assert.Equal(t, writers, st.Version)
}
