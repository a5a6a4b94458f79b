// Package redis provides Redis client utilities for Connectty.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every key and channel Connectty touches
const KeyPrefix = "gravito:connectty:"

// NodeKey holds the latest snapshot of a node
func NodeKey(node string) string { return KeyPrefix + "node:" + node }

// SnapshotChannel carries every snapshot of a node
func SnapshotChannel(node string) string { return KeyPrefix + "snapshots:" + node }

// CommandChannel carries remote commands for a node
func CommandChannel(node string) string { return KeyPrefix + "cmd:" + node }

// ResultChannel carries command results from a node
func ResultChannel(node string) string { return KeyPrefix + "result:" + node }

// ParseRedisURL parses a redis:// or rediss:// URL and returns options
func ParseRedisURL(rawURL string) (*redis.Options, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("empty Redis URL")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	switch u.Scheme {
	case "redis", "rediss":
	default:
		return nil, fmt.Errorf("invalid Redis URL scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid Redis URL: missing host")
	}

	opts := &redis.Options{
		Addr:        u.Host,
		DialTimeout: 5 * time.Second,
	}

	// Default port if not specified
	if u.Port() == "" {
		opts.Addr = u.Hostname() + ":6379"
	}

	// Credentials from URL
	if u.User != nil {
		opts.Username = u.User.Username()
		if pwd, ok := u.User.Password(); ok {
			opts.Password = pwd
		}
	}

	// Database from path (e.g., redis://localhost/1)
	if len(u.Path) > 1 {
		db, err := strconv.Atoi(u.Path[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid Redis database %q", u.Path[1:])
		}
		opts.DB = db
	}

	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{
			ServerName: u.Hostname(),
			MinVersion: tls.VersionTLS12,
		}
	}

	return opts, nil
}

// NewClient creates a new Redis client from URL and checks the connection
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	client, err := NewClientLazy(redisURL)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// NewClientLazy creates a client without testing connection
func NewClientLazy(redisURL string) (*redis.Client, error) {
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}

	return redis.NewClient(opts), nil
}
