package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"maro/pkg/logger"
)

// PeerInfo is the inspection view of one registered group member.
type PeerInfo struct {
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Hostname string    `json:"hostname,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
	// LastHeartbeat is zero when the peer's liveness key expired.
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
	Alive         bool      `json:"alive"`
}

// RegistryKey names the peer registry hash of a group.
func RegistryKey(group string) string {
	return fmt.Sprintf("group:%s:peers", group)
}

// InboxKey names the message inbox list of one group member.
func InboxKey(group, peer string) string {
	return fmt.Sprintf("group:%s:inbox:%s", group, peer)
}

// PeerHeartbeatKey names the liveness key of one group member.
func PeerHeartbeatKey(group, peer string) string {
	return fmt.Sprintf("group:%s:heartbeat:%s", group, peer)
}

// InspectGroup reads a group's registry without joining it. Malformed
// registry entries are skipped, matching what discovery does.
func InspectGroup(ctx context.Context, client *redis.Client, group string) ([]PeerInfo, error) {
	entries, err := client.HGetAll(ctx, RegistryKey(group)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read peer registry of group %s: %w", group, err)
	}

	peers := make([]PeerInfo, 0, len(entries))
	for name, raw := range entries {
		var rec peerRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			logger.WarnCtx(ctx, "skipping malformed registry entry %s: %v", name, err)
			continue
		}

		info := PeerInfo{
			Name:     rec.Name,
			Type:     rec.Type,
			Hostname: rec.Hostname,
			JoinedAt: rec.JoinedAt,
		}
		if stamp, err := client.Get(ctx, PeerHeartbeatKey(group, rec.Name)).Result(); err == nil {
			info.Alive = true
			if at, perr := time.Parse(time.RFC3339, stamp); perr == nil {
				info.LastHeartbeat = at
			}
		} else if err != redis.Nil {
			return nil, fmt.Errorf("failed to check heartbeat of %s: %w", rec.Name, err)
		}
		peers = append(peers, info)
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].Name < peers[j].Name })
	return peers, nil
}

// PruneDeadPeers drops registry entries of the given type whose
// heartbeat expired and whose join predates the grace window. The
// grace keeps a peer that registered moments ago from being swept
// before its first heartbeat lands. Returns the pruned peer names.
func PruneDeadPeers(ctx context.Context, client *redis.Client, group, peerType string, grace time.Duration) ([]string, error) {
	peers, err := InspectGroup(ctx, client, group)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-grace)
	pruned := make([]string, 0)
	for _, peer := range peers {
		if peer.Type != peerType || peer.Alive {
			continue
		}
		if peer.JoinedAt.After(cutoff) {
			continue
		}

		pipe := client.Pipeline()
		pipe.HDel(ctx, RegistryKey(group), peer.Name)
		pipe.Del(ctx, InboxKey(group, peer.Name))
		if _, err := pipe.Exec(ctx); err != nil {
			return pruned, fmt.Errorf("failed to prune peer %s: %w", peer.Name, err)
		}
		pruned = append(pruned, peer.Name)
		logger.InfoCtx(ctx, "pruned dead %s %s from group %s", peerType, peer.Name, group)
	}
	return pruned, nil
}
