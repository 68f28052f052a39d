package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mangalib-parser/internal/manga"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "topic-a", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "topic-b", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "topic-a", msgs[0].Topic)
	require.Equal(t, "topic-b", msgs[1].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "topic-a", pub.Messages()[0].Topic, "Messages() must return a copy")
}

func TestPublisherRecordsResults(t *testing.T) {
	t.Parallel()

	pub := New()
	result := manga.JobResult{Slug: "berserk", Chapters: []manga.PublishedChapter{{Chapter: "1", Volume: "1"}}}
	require.NoError(t, pub.Send(context.Background(), "http://cb", result))

	got := pub.Results()
	require.Len(t, got, 1)
	require.Equal(t, "http://cb", got[0].CallbackURL)
	require.Equal(t, result, got[0].Result)
}
