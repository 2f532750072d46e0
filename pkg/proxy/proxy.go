package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"maro/pkg/logger"
)

const (
	defaultMaxRetries  = 15
	defaultRetryDelay  = 5 * time.Second
	defaultSendRetries = 3
	sendRetryDelay     = 500 * time.Millisecond

	// receive waits are chopped into short blocking pops so context
	// cancellation is observed promptly
	maxBlockingPop = time.Second

	heartbeatTTL    = 30 * time.Second
	leaveRetries    = 3
	leaveTimeout    = 2 * time.Second
	leaveRetryDelay = 200 * time.Millisecond
)

// ErrTimeout is returned by Receive when no message arrived in time.
var ErrTimeout = errors.New("proxy: receive timed out")

// Options configures a group communication proxy.
type Options struct {
	GroupName     string
	ComponentType string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ExpectedPeers maps component type to the number of peers that must
	// be registered before Join succeeds, e.g. {"actor": 4}.
	ExpectedPeers map[string]int

	// MaxRetries bounds the discovery polls during Join.
	MaxRetries int
	// RetryDelay is the wait between discovery polls.
	RetryDelay time.Duration
	// SendRetries bounds redelivery attempts for a single peer during
	// Broadcast. Peers that stay unreachable are skipped, not fatal.
	SendRetries int
}

// Proxy connects one component to its training group through Redis.
// Members register themselves in a shared hash and exchange messages
// via per-peer inbox lists.
//
// Join, Leave and the peer snapshot are owned by the goroutine that
// created the proxy. Broadcast and Receive only touch Redis and are
// safe to call from worker goroutines after Join returned.
type Proxy struct {
	opts   Options
	name   string
	client *redis.Client

	// peers by component type, snapshot taken when Join succeeds
	peers map[string][]string

	closeOnce sync.Once
}

// NewProxy creates a proxy and verifies the Redis connection.
func NewProxy(opts Options) (*Proxy, error) {
	if opts.GroupName == "" {
		return nil, fmt.Errorf("group name is required")
	}
	if opts.ComponentType == "" {
		return nil, fmt.Errorf("component type is required")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.SendRetries <= 0 {
		opts.SendRetries = defaultSendRetries
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		Password: opts.RedisPassword,
		DB:       opts.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Proxy{
		opts:   opts,
		name:   fmt.Sprintf("%s_%s", opts.ComponentType, uuid.New().String()[:8]),
		client: client,
		peers:  make(map[string][]string),
	}, nil
}

// Name returns the unique peer name of this component.
func (p *Proxy) Name() string {
	return p.name
}

// Peers returns the names of discovered peers with the given type.
func (p *Proxy) Peers(peerType string) []string {
	return p.peers[peerType]
}

func (p *Proxy) registryKey() string {
	return RegistryKey(p.opts.GroupName)
}

func (p *Proxy) inboxKey(peer string) string {
	return InboxKey(p.opts.GroupName, peer)
}

func (p *Proxy) heartbeatKey(peer string) string {
	return PeerHeartbeatKey(p.opts.GroupName, peer)
}

// Join registers this component with the group and polls the registry
// until every expected peer type reached its quorum. Discovery gives up
// after MaxRetries polls and the caller is expected to treat that as
// fatal for the run.
func (p *Proxy) Join(ctx context.Context) error {
	hostname, _ := os.Hostname()
	record := peerRecord{
		Name:     p.name,
		Type:     p.opts.ComponentType,
		Hostname: hostname,
		JoinedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal peer record: %w", err)
	}
	if err := p.client.HSet(ctx, p.registryKey(), p.name, data).Err(); err != nil {
		return fmt.Errorf("failed to register with group %s: %w", p.opts.GroupName, err)
	}
	if err := p.Heartbeat(ctx); err != nil {
		logger.WarnCtx(ctx, "initial heartbeat failed: %v", err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxRetries; attempt++ {
		peers, err := p.discoverPeers(ctx)
		if err == nil {
			p.peers = peers
			total := 0
			for _, names := range peers {
				total += len(names)
			}
			logger.InfoCtx(ctx, "%s joined group %s, %d peers discovered", p.name, p.opts.GroupName, total)
			return nil
		}
		lastErr = err
		if attempt < p.opts.MaxRetries {
			logger.DebugCtx(ctx, "peer discovery attempt %d/%d: %v", attempt, p.opts.MaxRetries, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.opts.RetryDelay):
			}
		}
	}
	return fmt.Errorf("peer discovery for group %s failed after %d attempts: %w",
		p.opts.GroupName, p.opts.MaxRetries, lastErr)
}

// discoverPeers reads the registry and checks every expected quorum.
func (p *Proxy) discoverPeers(ctx context.Context) (map[string][]string, error) {
	entries, err := p.client.HGetAll(ctx, p.registryKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read peer registry: %w", err)
	}

	byType := make(map[string][]string)
	for name, raw := range entries {
		var rec peerRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			logger.WarnCtx(ctx, "skipping malformed registry entry %s: %v", name, err)
			continue
		}
		if rec.Name == p.name {
			continue
		}
		byType[rec.Type] = append(byType[rec.Type], rec.Name)
	}

	for peerType, want := range p.opts.ExpectedPeers {
		if len(byType[peerType]) < want {
			return nil, fmt.Errorf("have %d/%d peers of type %s", len(byType[peerType]), want, peerType)
		}
	}
	for _, names := range byType {
		sort.Strings(names)
	}
	return byType, nil
}

// Broadcast delivers one message to every discovered peer of the
// expected types. Individual sends are retried; a peer that stays
// unreachable is logged and skipped so one bad actor cannot stall
// the whole group.
func (p *Proxy) Broadcast(ctx context.Context, topic string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for topic %s: %w", topic, err)
	}
	data, err := json.Marshal(Message{Topic: topic, Source: p.name, Payload: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal message for topic %s: %w", topic, err)
	}

	for peerType := range p.opts.ExpectedPeers {
		for _, peer := range p.peers[peerType] {
			if err := p.sendWithRetry(ctx, peer, data); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				logger.WarnCtx(ctx, "failed to deliver %s to %s after %d attempts: %v",
					topic, peer, p.opts.SendRetries, err)
			}
		}
	}
	return nil
}

func (p *Proxy) sendWithRetry(ctx context.Context, peer string, data []byte) error {
	var lastErr error
	for attempt := 1; attempt <= p.opts.SendRetries; attempt++ {
		if err := p.client.LPush(ctx, p.inboxKey(peer), data).Err(); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sendRetryDelay):
			}
			continue
		}
		return nil
	}
	return lastErr
}

// Receive pops one message from this component's inbox, waiting up to
// timeout. Returns ErrTimeout when the inbox stayed empty.
func (p *Proxy) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, ErrTimeout
		}
		if wait > maxBlockingPop {
			wait = maxBlockingPop
		}
		res, err := p.client.BRPop(ctx, wait, p.inboxKey(p.name)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to receive message: %w", err)
		}
		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			return nil, fmt.Errorf("malformed message in inbox: %w", err)
		}
		return &msg, nil
	}
}

// Collect gathers replies on one topic until `want` distinct sources
// answered or the timeout expired. A partial result is returned as-is;
// deciding whether missing peers are fatal is up to the caller.
func (p *Proxy) Collect(ctx context.Context, topic string, want int, timeout time.Duration) (map[string]json.RawMessage, error) {
	results := make(map[string]json.RawMessage)
	deadline := time.Now().Add(timeout)
	for len(results) < want {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		msg, err := p.Receive(ctx, remaining)
		if errors.Is(err, ErrTimeout) {
			break
		}
		if err != nil {
			return results, err
		}
		if msg.Topic != topic {
			logger.DebugCtx(ctx, "dropping %s message from %s while collecting %s", msg.Topic, msg.Source, topic)
			continue
		}
		results[msg.Source] = msg.Payload
	}
	return results, nil
}

// Heartbeat refreshes this component's liveness key. Peers whose key
// expired are reported as dead by LivePeers.
func (p *Proxy) Heartbeat(ctx context.Context) error {
	if err := p.client.Set(ctx, p.heartbeatKey(p.name), time.Now().UTC().Format(time.RFC3339), heartbeatTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh heartbeat: %w", err)
	}
	return nil
}

// LivePeers filters the discovered peers of one type down to those
// with a fresh heartbeat.
func (p *Proxy) LivePeers(ctx context.Context, peerType string) ([]string, error) {
	peers := p.peers[peerType]
	if len(peers) == 0 {
		return nil, nil
	}

	pipe := p.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(peers))
	for i, peer := range peers {
		cmds[i] = pipe.Exists(ctx, p.heartbeatKey(peer))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to check peer heartbeats: %w", err)
	}

	alive := make([]string, 0, len(peers))
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			alive = append(alive, peers[i])
		}
	}
	return alive, nil
}

// Leave removes this component from the registry, drops its inbox and
// closes the connection. Teardown is bounded so a dead Redis cannot
// hang shutdown, and calling Leave twice is safe.
func (p *Proxy) Leave(ctx context.Context) error {
	var lastErr error
	p.closeOnce.Do(func() {
		for attempt := 1; attempt <= leaveRetries; attempt++ {
			// teardown must still complete under an already cancelled
			// caller context, so each attempt gets its own deadline
			opCtx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
			pipe := p.client.Pipeline()
			pipe.HDel(opCtx, p.registryKey(), p.name)
			pipe.Del(opCtx, p.inboxKey(p.name))
			pipe.Del(opCtx, p.heartbeatKey(p.name))
			_, err := pipe.Exec(opCtx)
			cancel()
			if err == nil {
				lastErr = nil
				break
			}
			lastErr = err
			time.Sleep(leaveRetryDelay)
		}
		if lastErr != nil {
			logger.WarnCtx(ctx, "failed to deregister %s cleanly: %v", p.name, lastErr)
		}
		if err := p.client.Close(); err != nil && lastErr == nil {
			lastErr = err
		}
		logger.InfoCtx(ctx, "%s left group %s", p.name, p.opts.GroupName)
	})
	return lastErr
}
