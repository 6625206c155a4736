package thread

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/kindwords-service/internal/anonymity"
	"github.com/UkralStul/kindwords-service/internal/content"
	"github.com/UkralStul/kindwords-service/internal/domain"
)

func at(sec int) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}

func fixture() (*domain.Post, []*domain.Comment, map[string][]*domain.Comment) {
	post := &domain.Post{ID: "p1", AuthorID: "author", Text: strings.Repeat("A", 50), CreatedAt: at(0)}
	c1 := "c1"
	comments := []*domain.Comment{
		{ID: "c1", PostID: "p1", AuthorID: "u1", Text: "first", CreatedAt: at(1)},
	}
	replies := map[string][]*domain.Comment{
		"c1": {{ID: "r1", PostID: "p1", ParentID: &c1, AuthorID: "u2", Text: "reply", CreatedAt: at(2)}},
	}
	return post, comments, replies
}

func TestCompose_RepliesShownWhenOpen(t *testing.T) {
	post, comments, replies := fixture()
	vis := Visibility{Open: map[string]bool{"c1": true}}

	th := Compose(post, comments, replies, vis)
	require.Len(t, th.Comments, 1)
	c := th.Comments[0]
	assert.True(t, c.RepliesShown)
	require.Len(t, c.Replies, 1)
	assert.Equal(t, "r1", c.Replies[0].ID)
	assert.Equal(t, anonymity.Label("u2"), c.Replies[0].Author)
}

func TestCompose_RepliesHiddenByDefault(t *testing.T) {
	post, comments, replies := fixture()
	for name, vis := range map[string]Visibility{
		"empty":    {},
		"explicit": {Open: map[string]bool{"c1": false}},
	} {
		t.Run(name, func(t *testing.T) {
			th := Compose(post, comments, replies, vis)
			require.Len(t, th.Comments, 1)
			assert.False(t, th.Comments[0].RepliesShown)
			assert.NotNil(t, th.Comments[0].Replies)
			assert.Empty(t, th.Comments[0].Replies)
		})
	}
}

func TestCompose_MissingRepliesTreatedAsEmpty(t *testing.T) {
	post, comments, _ := fixture()
	th := Compose(post, comments, nil, Visibility{Open: map[string]bool{"c1": true}})
	require.Len(t, th.Comments, 1)
	assert.True(t, th.Comments[0].RepliesShown)
	assert.NotNil(t, th.Comments[0].Replies)
	assert.Empty(t, th.Comments[0].Replies)
}

func TestCompose_NoComments(t *testing.T) {
	post, _, _ := fixture()
	th := Compose(post, nil, nil, Visibility{})
	assert.NotNil(t, th.Comments)
	assert.Empty(t, th.Comments)
	assert.Equal(t, anonymity.Label("author"), th.Post.Author)
	assert.Equal(t, post.Text, th.Post.Body.Shown)
}

func TestCompose_Idempotent(t *testing.T) {
	post, comments, replies := fixture()
	vis := Visibility{Open: map[string]bool{"c1": true}, Expanded: map[string]bool{"p1": true}}
	assert.Equal(t, Compose(post, comments, replies, vis), Compose(post, comments, replies, vis))
}

func TestCompose_PreservesInputOrder(t *testing.T) {
	post, _, _ := fixture()
	comments := []*domain.Comment{
		{ID: "a", AuthorID: "u", Text: "a", CreatedAt: at(1)},
		{ID: "b", AuthorID: "u", Text: "b", CreatedAt: at(1)},
		{ID: "c", AuthorID: "u", Text: "c", CreatedAt: at(3)},
	}
	th := Compose(post, comments, nil, Visibility{})
	ids := make([]string, 0, len(th.Comments))
	for _, c := range th.Comments {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestCompose_ExpandsLongTexts(t *testing.T) {
	post := &domain.Post{ID: "p", AuthorID: "u", Text: strings.Repeat("x", 500)}
	long := strings.TrimSpace(strings.Repeat("w ", 40))
	comments := []*domain.Comment{{ID: "c", AuthorID: "u", Text: long}}

	collapsed := Compose(post, comments, nil, Visibility{})
	assert.True(t, collapsed.Post.Body.Truncated)
	assert.Len(t, collapsed.Post.Body.Shown, 300+len(content.Ellipsis))
	assert.True(t, collapsed.Comments[0].Body.Truncated)

	vis := NewVisibility()
	vis.ToggleExpanded("p")
	vis.ToggleExpanded("c")
	expanded := Compose(post, comments, nil, vis)
	assert.Equal(t, post.Text, expanded.Post.Body.Shown)
	assert.True(t, expanded.Post.Expanded)
	assert.Equal(t, long, expanded.Comments[0].Body.Shown)

	vis.ToggleExpanded("p")
	vis.ToggleExpanded("c")
	assert.Equal(t, collapsed, Compose(post, comments, nil, vis))
}

func TestComposeFeed_AttachesCommentsOnlyToOpenPosts(t *testing.T) {
	posts := []*domain.Post{
		{ID: "p2", AuthorID: "u", Text: "second post", CreatedAt: at(2)},
		{ID: "p1", AuthorID: "u", Text: "first post", CreatedAt: at(1)},
	}
	commentsByPost := map[string][]*domain.Comment{
		"p1": {{ID: "c1", AuthorID: "v", Text: "hi"}},
		"p2": {{ID: "c2", AuthorID: "v", Text: "hello"}},
	}
	feed := ComposeFeed(posts, commentsByPost, nil, Visibility{Open: map[string]bool{"p1": true}})
	require.Len(t, feed, 2)

	assert.Equal(t, "p2", feed[0].Post.ID)
	assert.False(t, feed[0].CommentsShown)
	assert.Empty(t, feed[0].Comments)

	assert.Equal(t, "p1", feed[1].Post.ID)
	assert.True(t, feed[1].CommentsShown)
	require.Len(t, feed[1].Comments, 1)
	assert.Equal(t, "c1", feed[1].Comments[0].ID)
}

func TestComposeReplies(t *testing.T) {
	_, _, replies := fixture()
	long := "c1"
	all := append(replies["c1"], &domain.Comment{ID: "r2", PostID: "p1", ParentID: &long, AuthorID: "u3", Text: strings.Repeat("z", 300), CreatedAt: at(3)})

	out := ComposeReplies(all, Visibility{Expanded: map[string]bool{"r2": true}})
	require.Len(t, out, 2)
	assert.Equal(t, "r1", out[0].ID)
	assert.False(t, out[0].Expanded)
	assert.Equal(t, "r2", out[1].ID)
	assert.True(t, out[1].Expanded)
	assert.Equal(t, strings.Repeat("z", 300), out[1].Body.Shown)

	assert.NotNil(t, ComposeReplies(nil, NewVisibility()))
}

func TestOpenCommentIDs(t *testing.T) {
	_, comments, _ := fixture()
	assert.Empty(t, OpenCommentIDs(comments, Visibility{}))
	assert.Equal(t, []string{"c1"}, OpenCommentIDs(comments, Visibility{Open: map[string]bool{"c1": true}}))
}

func TestVisibility_Toggle(t *testing.T) {
	var vis Visibility
	assert.False(t, vis.IsOpen("c1"))

	vis.ToggleOpen("c1")
	assert.True(t, vis.IsOpen("c1"))
	vis.ToggleOpen("c1")
	assert.False(t, vis.IsOpen("c1"))

	vis.ToggleExpanded("p1")
	assert.True(t, vis.IsExpanded("p1"))
	vis.ToggleExpanded("p1")
	assert.False(t, vis.IsExpanded("p1"))
}

func TestParseVisibility(t *testing.T) {
	q, err := url.ParseQuery("expanded=p1,c2&open=c1&open=p1,%20")
	require.NoError(t, err)

	vis := ParseVisibility(q)
	assert.True(t, vis.IsExpanded("p1"))
	assert.True(t, vis.IsExpanded("c2"))
	assert.True(t, vis.IsOpen("c1"))
	assert.True(t, vis.IsOpen("p1"))
	assert.False(t, vis.IsOpen(""))

	assert.Equal(t, "expanded=c2%2Cp1&open=c1%2Cp1", vis.Encode().Encode())
}
