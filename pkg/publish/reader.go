package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	rkeys "github.com/gravito-framework/connectty-go/internal/redis"
	"github.com/redis/go-redis/v9"
)

// ErrNodeNotFound is returned when a node has no live report
var ErrNodeNotFound = errors.New("node not found")

// Nodes lists the nodes with a live report, sorted
func Nodes(ctx context.Context, client *redis.Client) ([]string, error) {
	prefix := rkeys.NodeKey("")
	var nodes []string

	iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		nodes = append(nodes, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan nodes: %w", err)
	}

	sort.Strings(nodes)
	return nodes, nil
}

// Get reads the latest report of a node
func Get(ctx context.Context, client *redis.Client, node string) (*Report, error) {
	data, err := client.Get(ctx, rkeys.NodeKey(node)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, node)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read node %s: %w", node, err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode node %s: %w", node, err)
	}
	return &r, nil
}
