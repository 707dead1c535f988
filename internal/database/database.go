// Package database opens the stores behind the analytics service: the
// synced commerce tables in PostgreSQL, journey events in ClickHouse and
// the report cache in Redis.
package database

import (
	"context"
	"time"
)

// ApplicationName identifies this service's sessions on the database side.
const ApplicationName = "shop-analytics"

// connectTimeout bounds the startup ping of every store.
const connectTimeout = 5 * time.Second

// pingWithin runs ping under a deadline of at most d.
func pingWithin(ctx context.Context, d time.Duration, ping func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return ping(ctx)
}
