// Package groups resolves the caller's subscribed groups and their URL aliases.
package groups

import (
	"context"
	"strings"
	"sync"

	"github.com/bryan-buckman/groupsfeed/internal/groupsio"
	"github.com/bryan-buckman/groupsfeed/internal/logger"
	"github.com/bryan-buckman/groupsfeed/internal/model"
)

// aliasMarker precedes the alias in a group's canonical URL.
const aliasMarker = "/g/"

// API is the subset of the groups.io client the resolver needs.
type API interface {
	Subscriptions(ctx context.Context) ([]groupsio.Subscription, error)
	Group(ctx context.Context, groupID int64) (*groupsio.GroupInfo, error)
}

// Resolver lists subscriptions and memoizes group aliases for the process
// lifetime. Only aliases read from the group's canonical URL are memoized, so a
// failed detail call is retried on the next cycle.
type Resolver struct {
	api API

	mu      sync.RWMutex
	aliases map[int64]string
}

// NewResolver creates a resolver backed by api.
func NewResolver(api API) *Resolver {
	return &Resolver{
		api:     api,
		aliases: make(map[int64]string),
	}
}

// ListSubscriptions returns the subscribed groups in subscription order.
// A failed call yields an empty slice.
func (r *Resolver) ListSubscriptions(ctx context.Context) []model.Group {
	subs, err := r.api.Subscriptions(ctx)
	if err != nil {
		logger.Warnf("[groups] list subscriptions: %v", err)
		return nil
	}
	groups := make([]model.Group, 0, len(subs))
	for _, s := range subs {
		nice := s.NiceGroupName
		if nice == "" {
			nice = s.GroupName
		}
		groups = append(groups, model.Group{
			ID:              s.GroupID,
			Name:            s.GroupName,
			NiceName:        nice,
			ArchivesVisible: s.Perms.ArchivesVisible,
		})
	}
	logger.Infof("[groups] %d subscribed groups", len(groups))
	return groups
}

// ResolveAlias returns the URL path segment of a group. It falls back to the
// trailing "+" segment of the group name when the detail call or URL parse
// fails.
func (r *Resolver) ResolveAlias(ctx context.Context, g model.Group) string {
	if alias, ok := r.Alias(g.ID); ok {
		return alias
	}

	info, err := r.api.Group(ctx, g.ID)
	if err != nil {
		logger.Warnf("[groups] alias for %s (%d): using name fallback: %v", g.Name, g.ID, err)
		return FallbackAlias(g.Name)
	}
	alias, ok := AliasFromURL(info.GroupURL)
	if !ok {
		logger.Warnf("[groups] alias for %s (%d): no %q in %q, using name fallback", g.Name, g.ID, aliasMarker, info.GroupURL)
		return FallbackAlias(g.Name)
	}

	r.mu.Lock()
	r.aliases[g.ID] = alias
	r.mu.Unlock()
	return alias
}

// Alias returns a memoized alias without calling the API.
func (r *Resolver) Alias(groupID int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alias, ok := r.aliases[groupID]
	return alias, ok
}

// AliasFromURL extracts the segment following "/g/" in a group URL.
func AliasFromURL(groupURL string) (string, bool) {
	i := strings.Index(groupURL, aliasMarker)
	if i < 0 {
		return "", false
	}
	alias := groupURL[i+len(aliasMarker):]
	if j := strings.IndexAny(alias, "/?#"); j >= 0 {
		alias = alias[:j]
	}
	if alias == "" {
		return "", false
	}
	return alias, true
}

// FallbackAlias is the part of a group name after its last "+".
// "parkslopeparents+Advice" becomes "Advice".
func FallbackAlias(groupName string) string {
	return groupName[strings.LastIndex(groupName, "+")+1:]
}
