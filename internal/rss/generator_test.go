package rss

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bryan-buckman/groupsfeed/internal/groups"
	"github.com/bryan-buckman/groupsfeed/internal/groupsio"
	"github.com/bryan-buckman/groupsfeed/internal/groupsio/groupsiotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func endToEndFixture(t *testing.T) *groupsiotest.Server {
	t.Helper()
	fake := groupsiotest.NewServer()
	t.Cleanup(fake.Close)

	fake.AddGroup(groupsio.Subscription{
		GroupID: 1, GroupName: "psp+Secret", NiceGroupName: "Secret",
		Perms: groupsio.Perms{ArchivesVisible: false},
	}, "https://groups.parkslopeparents.com/g/Secret")
	fake.AddGroup(groupsio.Subscription{
		GroupID: 2, GroupName: "psp+advice-list", NiceGroupName: "Advice",
		Perms: groupsio.Perms{ArchivesVisible: true},
	}, "https://groups.parkslopeparents.com/g/Advice")

	fake.SetTopics(1, groupsio.Topic{ID: 100, Subject: "hidden", Updated: "2030-01-01T00:00:00Z"})
	fake.SetTopics(2,
		groupsio.Topic{ID: 201, Subject: "first", Name: "Al", Updated: "2024-03-01T00:00:00Z", Created: "2024-02-01T00:00:00Z"},
		groupsio.Topic{ID: 202, Subject: "no updated", Name: "Bo", Created: "2024-03-05T00:00:00Z"},
		groupsio.Topic{ID: 203, Subject: "oldest", Name: "Cy", Updated: "2024-01-01T00:00:00Z", Created: "2023-12-01T00:00:00Z"},
	)
	fake.SetBody(201, "<p>full first</p>")
	return fake
}

func newTestGenerator(fake *groupsiotest.Server, fullBody bool) *Generator {
	client := fake.Client()
	return NewGenerator(groups.NewResolver(client), client, Options{
		Meta:           testMeta,
		TopicsPerGroup: 10,
		FetchFullBody:  fullBody,
		Concurrency:    1,
	})
}

func TestGenerate_EndToEnd(t *testing.T) {
	fake := endToEndFixture(t)

	doc, err := newTestGenerator(fake, true).Generate(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, 3, doc.Topics)
	assert.False(t, doc.GeneratedAt.IsZero())

	parsed, err := Validate(doc.XML, 3)
	require.NoError(t, err)
	assert.Equal(t, "[psp+advice-list] no updated", parsed.Items[0].Title)
	assert.Equal(t, "[psp+advice-list] first", parsed.Items[1].Title)
	assert.Equal(t, "[psp+advice-list] oldest", parsed.Items[2].Title)

	assert.Equal(t, "https://groups.parkslopeparents.com/g/Advice/topic/202", parsed.Items[0].Link)
	assert.Contains(t, parsed.Items[1].Description, "<p>full first</p>")
	assert.Contains(t, parsed.Items[0].Description, "Posted by: Bo")

	assert.Equal(t, 1, fake.Calls(groupsio.EndpointTopics), "hidden group is never fetched")
	assert.Equal(t, 1, fake.Calls(groupsio.EndpointGroup), "alias resolved for visible group only")
}

func TestGenerate_AliasFallbackWhenDetailFails(t *testing.T) {
	fake := endToEndFixture(t)
	fake.FailID(groupsio.EndpointGroup, 2)

	doc, err := newTestGenerator(fake, false).Generate(context.Background())
	require.NoError(t, err)

	parsed, err := Validate(doc.XML, 3)
	require.NoError(t, err)
	assert.Equal(t, "https://groups.parkslopeparents.com/g/advice-list/topic/202", parsed.Items[0].Link)
}

func TestGenerate_AliasesMemoizedAcrossCycles(t *testing.T) {
	fake := endToEndFixture(t)
	gen := newTestGenerator(fake, false)

	for i := 0; i < 3; i++ {
		_, err := gen.Generate(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fake.Calls(groupsio.EndpointGroup))
	assert.Equal(t, 3, fake.Calls(groupsio.EndpointSubscriptions))
}

func TestGenerate_NoSubscriptions(t *testing.T) {
	fake := endToEndFixture(t)
	fake.Fail(groupsio.EndpointSubscriptions, true)

	doc, err := newTestGenerator(fake, true).Generate(context.Background())
	assert.ErrorIs(t, err, ErrNoGroups)
	assert.Nil(t, doc)
}

func TestGenerate_AllTopicFetchesFailStillValid(t *testing.T) {
	fake := endToEndFixture(t)
	fake.Fail(groupsio.EndpointTopics, true)

	doc, err := newTestGenerator(fake, true).Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Topics)
	_, err = Validate(doc.XML, 0)
	assert.NoError(t, err)
}

func TestEmpty(t *testing.T) {
	fake := endToEndFixture(t)

	doc, err := newTestGenerator(fake, true).Empty()
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Topics)
	_, err = Validate(doc.XML, 0)
	assert.NoError(t, err)
	assert.Equal(t, 0, fake.Calls(groupsio.EndpointSubscriptions))
}

func TestWriteFile(t *testing.T) {
	fake := endToEndFixture(t)
	doc, err := newTestGenerator(fake, false).Generate(context.Background())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "feed.xml")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	require.NoError(t, WriteFile(path, doc.XML))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, doc.XML, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteFile_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.xml")
	require.NoError(t, os.WriteFile(path, []byte("previous"), 0o644))

	assert.Error(t, WriteFile(path, []byte("<html>not a feed")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(got))
}
