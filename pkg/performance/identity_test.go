// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance_test

import (
	"context"
	"testing"

	"github.com/antimetal/watchdog/pkg/performance"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingResolver struct {
	fakeResolver
	requested [][]uint32
}

func (r *countingResolver) Resolve(ctx context.Context, uids []uint32) (map[uint32]string, error) {
	r.requested = append(r.requested, append([]uint32(nil), uids...))
	return r.fakeResolver.Resolve(ctx, uids)
}

func TestIdentityCache_ResolvesOnlyMissing(t *testing.T) {
	resolver := &countingResolver{fakeResolver: fakeResolver{names: map[uint32]string{
		1000: "com.example.app",
		1001: "",
	}}}
	cache := performance.NewIdentityCache(resolver, logr.Discard())

	require.NoError(t, cache.Refresh(context.Background(), []uint32{1000, 1001, 1002}))
	assert.Equal(t, "com.example.app", cache.Name(1000))
	assert.Equal(t, "1001", cache.Name(1001), "empty names are not cached")
	assert.Equal(t, "1002", cache.Name(1002))
	assert.Equal(t, 1, cache.Len())

	require.NoError(t, cache.Refresh(context.Background(), []uint32{1000, 1002}))
	require.Len(t, resolver.requested, 2)
	assert.Equal(t, []uint32{1002}, resolver.requested[1])

	// Everything cached: the resolver is not called.
	require.NoError(t, cache.Refresh(context.Background(), []uint32{1000}))
	assert.Len(t, resolver.requested, 2)
}

func TestIdentityCache_ResolveFailure(t *testing.T) {
	resolver := &fakeResolver{err: errInjected}
	cache := performance.NewIdentityCache(resolver, logr.Discard())

	err := cache.Refresh(context.Background(), []uint32{10057})
	require.Error(t, err)
	assert.ErrorIs(t, err, performance.ErrIdentityResolve)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, "10057", cache.Name(10057))

	resolver.err = nil
	resolver.names = map[uint32]string{10057: "com.example.music"}
	require.NoError(t, cache.Refresh(context.Background(), []uint32{10057}))
	assert.Equal(t, "com.example.music", cache.Name(10057))
}

func TestIdentityCache_NilResolver(t *testing.T) {
	cache := performance.NewIdentityCache(nil, logr.Discard())
	require.NoError(t, cache.Refresh(context.Background(), []uint32{1, 2}))
	assert.Equal(t, "2", cache.Name(2))
	assert.Zero(t, cache.Len())
}
