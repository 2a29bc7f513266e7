// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collectors

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"strconv"

	"github.com/antimetal/watchdog/pkg/performance"
	"github.com/go-logr/logr"
)

var _ performance.IdentityResolver = (*UserResolver)(nil)

// UserResolver names user ids after the local account database.
// Ids without an account are left out so they keep their placeholder names.
type UserResolver struct {
	logger logr.Logger
	lookup func(uid string) (*user.User, error)
}

func NewUserResolver(logger logr.Logger) *UserResolver {
	return &UserResolver{
		logger: logger.WithName("user_resolver"),
		lookup: user.LookupId,
	}
}

func (r *UserResolver) Resolve(ctx context.Context, uids []uint32) (map[uint32]string, error) {
	names := make(map[uint32]string, len(uids))
	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		u, err := r.lookup(strconv.FormatUint(uint64(uid), 10))
		if err != nil {
			var unknown user.UnknownUserIdError
			if errors.As(err, &unknown) {
				r.logger.V(2).Info("no account for uid", "uid", uid)
				continue
			}
			return nil, fmt.Errorf("failed to look up uid %d: %w", uid, err)
		}
		names[uid] = u.Username
	}
	return names, nil
}
