package presence

import (
	"context"
	"sort"
	"time"

	"github.com/ideahub/server/cache"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	nodesKey       = "presence:nodes"
	nodeKeyPrefix  = "presence:node:"
	aliveKeyPrefix = "presence:alive:"
)

// Mirror publishes this node's online users to the shared cache so that
// every instance can see the cluster-wide online set. A node whose alive key
// has expired is treated as gone and pruned lazily.
type Mirror struct {
	c      cache.Cache
	nodeID string
	ttl    time.Duration
	logger *zap.Logger
}

func NewMirror(c cache.Cache, nodeID string, ttl time.Duration, logger *zap.Logger) *Mirror {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Mirror{c: c, nodeID: nodeID, ttl: ttl, logger: logger}
}

func (m *Mirror) NodeID() string { return m.nodeID }

func nodeKey(id string) string  { return nodeKeyPrefix + id }
func aliveKey(id string) string { return aliveKeyPrefix + id }

// Join registers the node and marks it alive.
func (m *Mirror) Join(ctx context.Context) error {
	if err := m.c.SAdd(ctx, nodesKey, m.nodeID); err != nil {
		return errors.Wrap(err, "register node")
	}
	return errors.Wrap(m.c.Set(ctx, aliveKey(m.nodeID), time.Now().UTC().Format(time.RFC3339), m.ttl), "refresh alive key")
}

// Leave removes the node and its members from the mirror.
func (m *Mirror) Leave(ctx context.Context) error {
	if err := m.c.SRem(ctx, nodesKey, m.nodeID); err != nil {
		return errors.Wrap(err, "unregister node")
	}
	return errors.Wrap(m.c.Del(ctx, nodeKey(m.nodeID), aliveKey(m.nodeID)), "drop node keys")
}

func (m *Mirror) Add(ctx context.Context, userID string) error {
	return errors.Wrap(m.c.SAdd(ctx, nodeKey(m.nodeID), userID), "mirror add")
}

func (m *Mirror) Remove(ctx context.Context, userID string) error {
	return errors.Wrap(m.c.SRem(ctx, nodeKey(m.nodeID), userID), "mirror remove")
}

// Sync makes this node's set equal to users and refreshes liveness.
func (m *Mirror) Sync(ctx context.Context, users []string) error {
	if err := m.Join(ctx); err != nil {
		return err
	}
	current, err := m.c.SMembers(ctx, nodeKey(m.nodeID))
	if err != nil {
		return errors.Wrap(err, "read node set")
	}
	want := make(map[string]struct{}, len(users))
	for _, u := range users {
		want[u] = struct{}{}
	}
	var stale []string
	for _, u := range current {
		if _, ok := want[u]; !ok {
			stale = append(stale, u)
		}
		delete(want, u)
	}
	missing := make([]string, 0, len(want))
	for u := range want {
		missing = append(missing, u)
	}
	if len(stale) > 0 {
		if err := m.c.SRem(ctx, nodeKey(m.nodeID), stale...); err != nil {
			return errors.Wrap(err, "drop stale members")
		}
	}
	if len(missing) > 0 {
		if err := m.c.SAdd(ctx, nodeKey(m.nodeID), missing...); err != nil {
			return errors.Wrap(err, "add missing members")
		}
	}
	return nil
}

// liveNodes returns the registered nodes whose alive key still exists,
// pruning the rest. This node is always considered live.
func (m *Mirror) liveNodes(ctx context.Context) ([]string, error) {
	nodes, err := m.c.SMembers(ctx, nodesKey)
	if err != nil {
		return nil, errors.Wrap(err, "list nodes")
	}
	live := make([]string, 0, len(nodes))
	seenSelf := false
	for _, n := range nodes {
		if n == m.nodeID {
			seenSelf = true
			live = append(live, n)
			continue
		}
		ok, err := m.c.Exists(ctx, aliveKey(n))
		if err != nil {
			return nil, errors.Wrap(err, "check node liveness")
		}
		if !ok {
			m.logger.Info("pruning dead presence node", zap.String("node_id", n))
			_ = m.c.SRem(ctx, nodesKey, n)
			_ = m.c.Del(ctx, nodeKey(n))
			continue
		}
		live = append(live, n)
	}
	if !seenSelf {
		live = append(live, m.nodeID)
	}
	return live, nil
}

// Members returns the cluster-wide online set, sorted.
func (m *Mirror) Members(ctx context.Context) ([]string, error) {
	nodes, err := m.liveNodes(ctx)
	if err != nil {
		return nil, err
	}
	union := make(map[string]struct{})
	for _, n := range nodes {
		ids, err := m.c.SMembers(ctx, nodeKey(n))
		if err != nil {
			return nil, errors.Wrap(err, "read node set")
		}
		for _, id := range ids {
			union[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(union))
	for id := range union {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// IsOnline reports whether userID is connected to any live node.
func (m *Mirror) IsOnline(ctx context.Context, userID string) (bool, error) {
	nodes, err := m.liveNodes(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range nodes {
		ok, err := m.c.SIsMember(ctx, nodeKey(n), userID)
		if err != nil {
			return false, errors.Wrap(err, "check membership")
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// OnlineElsewhere reports whether userID is connected to a live node other
// than this one.
func (m *Mirror) OnlineElsewhere(ctx context.Context, userID string) (bool, error) {
	nodes, err := m.liveNodes(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range nodes {
		if n == m.nodeID {
			continue
		}
		ok, err := m.c.SIsMember(ctx, nodeKey(n), userID)
		if err != nil {
			return false, errors.Wrap(err, "check membership")
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
