package rss

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bryan-buckman/groupsfeed/internal/groups"
	"github.com/bryan-buckman/groupsfeed/internal/logger"
	"github.com/bryan-buckman/groupsfeed/internal/model"
	"github.com/google/uuid"
)

// ErrNoGroups means the subscription list was empty or could not be fetched,
// so the cycle produced no document.
var ErrNoGroups = errors.New("rss: no subscribed groups")

// Options control one generation cycle.
type Options struct {
	Meta           model.FeedMeta
	TopicsPerGroup int
	FetchFullBody  bool
	Concurrency    int
}

// Generator runs a full generation cycle: subscriptions, aliases, topics,
// bodies, render and validation.
type Generator struct {
	resolver   *groups.Resolver
	aggregator *Aggregator
	renderer   *Renderer
	opts       Options
	now        func() time.Time
}

// NewGenerator wires a generator around a resolver and a topic source.
func NewGenerator(resolver *groups.Resolver, src TopicSource, opts Options) *Generator {
	return &Generator{
		resolver:   resolver,
		aggregator: NewAggregator(src, opts.Concurrency),
		renderer:   NewRenderer(opts.Meta, resolver),
		opts:       opts,
		now:        time.Now,
	}
}

// Generate runs one cycle and returns a fresh document.
func (g *Generator) Generate(ctx context.Context) (*model.Document, error) {
	id := uuid.NewString()
	start := g.now()
	logger.Infof("[rss] generation %s started", id)

	subs := g.resolver.ListSubscriptions(ctx)
	if len(subs) == 0 {
		return nil, ErrNoGroups
	}

	for _, grp := range VisibleGroups(subs) {
		g.resolver.ResolveAlias(ctx, grp)
	}

	topics, err := g.aggregator.Aggregate(ctx, subs, g.opts.TopicsPerGroup, g.opts.FetchFullBody)
	if err != nil {
		return nil, fmt.Errorf("aggregate topics: %w", err)
	}

	doc, err := g.render(id, topics)
	if err != nil {
		return nil, err
	}
	logger.Infof("[rss] generation %s: %d topics in %s", id, doc.Topics, g.now().Sub(start).Round(time.Millisecond))
	return doc, nil
}

// Empty renders a valid feed with no items.
func (g *Generator) Empty() (*model.Document, error) {
	return g.render(uuid.NewString(), nil)
}

func (g *Generator) render(id string, topics []model.Topic) (*model.Document, error) {
	xmlDoc, err := g.renderer.Render(topics)
	if err != nil {
		return nil, err
	}
	if _, err := Validate(xmlDoc, len(topics)); err != nil {
		return nil, err
	}
	return &model.Document{
		ID:          id,
		XML:         xmlDoc,
		GeneratedAt: g.now(),
		Topics:      len(topics),
	}, nil
}
