// Package rss aggregates group topics and renders them as an RSS 2.0 feed.
package rss

import (
	"context"
	"sort"
	"time"

	"github.com/bryan-buckman/groupsfeed/internal/groupsio"
	"github.com/bryan-buckman/groupsfeed/internal/logger"
	"github.com/bryan-buckman/groupsfeed/internal/model"
	"golang.org/x/sync/errgroup"
)

// DefaultTopicsPerGroup is used when a non-positive count is requested.
const DefaultTopicsPerGroup = 10

// TopicSource is the subset of the groups.io client the aggregator needs.
type TopicSource interface {
	Topics(ctx context.Context, groupID int64, limit int) ([]groupsio.Topic, error)
	FirstMessageBody(ctx context.Context, topicID int64) (string, error)
}

// Aggregator fetches recent topics of archive-visible groups and merges them
// into one list ordered by recency.
type Aggregator struct {
	src         TopicSource
	concurrency int
	now         func() time.Time
}

// NewAggregator creates an aggregator. concurrency <= 1 fetches sequentially.
func NewAggregator(src TopicSource, concurrency int) *Aggregator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Aggregator{
		src:         src,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Aggregate returns the merged topic list. A failed group contributes no
// topics and a failed body leaves FullBody empty. The only error returned is
// ctx's.
func (a *Aggregator) Aggregate(ctx context.Context, groups []model.Group, topicsPerGroup int, fetchFullBody bool) ([]model.Topic, error) {
	if topicsPerGroup <= 0 {
		topicsPerGroup = DefaultTopicsPerGroup
	}

	visible := VisibleGroups(groups)
	if len(visible) < len(groups) {
		logger.Infof("[rss] skipping %d groups without archive access", len(groups)-len(visible))
	}

	perGroup := make([][]model.Topic, len(visible))
	err := a.forEach(ctx, len(visible), func(ctx context.Context, i int) {
		perGroup[i] = a.fetchGroup(ctx, visible[i], topicsPerGroup)
	})
	if err != nil {
		return nil, err
	}

	var all []model.Topic
	for _, ts := range perGroup {
		all = append(all, ts...)
	}

	if fetchFullBody && len(all) > 0 {
		logger.Infof("[rss] fetching full content for %d topics", len(all))
		failed := make([]bool, len(all))
		err := a.forEach(ctx, len(all), func(ctx context.Context, i int) {
			body, err := a.src.FirstMessageBody(ctx, all[i].ID)
			if err != nil || body == "" {
				failed[i] = true
				return
			}
			all[i].FullBody = body
		})
		if err != nil {
			return nil, err
		}
		n := 0
		for _, f := range failed {
			if f {
				n++
			}
		}
		if n > 0 {
			logger.Warnf("[rss] %d/%d topics fall back to summary only", n, len(all))
		}
	}

	SortTopics(all, a.now())
	return all, nil
}

func (a *Aggregator) fetchGroup(ctx context.Context, g model.Group, limit int) []model.Topic {
	raw, err := a.src.Topics(ctx, g.ID, limit)
	if err != nil {
		logger.Warnf("[rss] %s: no topics: %v", g.NiceName, err)
		return nil
	}
	topics := make([]model.Topic, 0, len(raw))
	for _, t := range raw {
		topics = append(topics, model.Topic{
			ID:             t.ID,
			Subject:        t.Subject,
			Summary:        t.Summary,
			AuthorName:     t.Name,
			NumMessages:    t.NumMessages,
			HasAttachments: t.HasAttachments,
			UpdatedAt:      t.Updated,
			CreatedAt:      t.Created,
			GroupID:        g.ID,
			GroupName:      g.Name,
		})
	}
	logger.Infof("[rss] %s: %d topics", g.Name, len(topics))
	return topics
}

// forEach runs fn for indexes 0..n-1, sequentially or with a bounded worker
// pool. Each fn writes only its own index, so result order is independent of
// completion order.
func (a *Aggregator) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	if a.concurrency <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				logger.Warnf("[rss] cancelled after %d/%d fetches", i, n)
				return err
			}
			fn(ctx, i)
			if (i+1)%50 == 0 {
				logger.Debugf("[rss] progress: %d/%d", i+1, n)
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(gctx, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// VisibleGroups keeps groups whose archives may be listed, in order.
func VisibleGroups(groups []model.Group) []model.Group {
	visible := make([]model.Group, 0, len(groups))
	for _, g := range groups {
		if g.ArchivesVisible {
			visible = append(visible, g)
		}
	}
	return visible
}

// SortTopics orders topics by ResolveUpdatedTime, newest first. Ties keep
// their input order.
func SortTopics(topics []model.Topic, now time.Time) {
	type keyed struct {
		topic model.Topic
		at    time.Time
	}
	ks := make([]keyed, len(topics))
	for i, t := range topics {
		ks[i] = keyed{topic: t, at: ResolveUpdatedTime(t, now)}
	}
	sort.SliceStable(ks, func(a, b int) bool {
		return ks[a].at.After(ks[b].at)
	})
	for i := range ks {
		topics[i] = ks[i].topic
	}
}
