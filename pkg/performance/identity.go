// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-logr/logr"
)

// IdentityResolver maps user ids to display names, e.g. package names.
// Ids it cannot name may be left out of the result.
type IdentityResolver interface {
	Resolve(ctx context.Context, uids []uint32) (map[uint32]string, error)
}

// IdentityCache remembers resolved user names for the life of the service.
// Entries are never evicted.
type IdentityCache struct {
	mu       sync.RWMutex
	names    map[uint32]string
	resolver IdentityResolver
	logger   logr.Logger
}

// NewIdentityCache creates a cache backed by resolver. A nil resolver leaves
// every user with its placeholder name.
func NewIdentityCache(resolver IdentityResolver, logger logr.Logger) *IdentityCache {
	return &IdentityCache{
		names:    make(map[uint32]string),
		resolver: resolver,
		logger:   logger.WithName("identity"),
	}
}

// Refresh resolves the ids that are not cached yet. A resolver failure is
// returned wrapped in ErrIdentityResolve but leaves the cache usable; the
// affected ids keep their placeholder names and are retried on the next call.
func (c *IdentityCache) Refresh(ctx context.Context, uids []uint32) error {
	if c.resolver == nil {
		return nil
	}

	missing := c.missing(uids)
	if len(missing) == 0 {
		return nil
	}

	resolved, err := c.resolver.Resolve(ctx, missing)
	if err != nil {
		return fmt.Errorf("%w: %d ids: %w", ErrIdentityResolve, len(missing), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for uid, name := range resolved {
		if name == "" {
			continue
		}
		c.names[uid] = name
	}
	c.logger.V(2).Info("resolved user names", "requested", len(missing), "resolved", len(resolved))
	return nil
}

func (c *IdentityCache) missing(uids []uint32) []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var missing []uint32
	for _, uid := range uids {
		if _, ok := c.names[uid]; !ok {
			missing = append(missing, uid)
		}
	}
	return missing
}

// Name returns the cached name for uid or its placeholder.
func (c *IdentityCache) Name(uid uint32) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if name, ok := c.names[uid]; ok {
		return name
	}
	return PlaceholderName(uid)
}

// Len returns the number of cached names.
func (c *IdentityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}

// PlaceholderName is the name shown for a user that could not be resolved.
func PlaceholderName(uid uint32) string {
	return strconv.FormatUint(uint64(uid), 10)
}
