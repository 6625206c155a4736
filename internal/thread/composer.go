// Package thread собирает пост, его комментарии и ответы в готовую к отображению структуру.
// Все функции чистые: без ввода-вывода и общего изменяемого состояния, поэтому их можно
// вызывать заново на каждый новый снимок данных из хранилища.
package thread

import (
	"time"

	"github.com/UkralStul/kindwords-service/internal/anonymity"
	"github.com/UkralStul/kindwords-service/internal/content"
	"github.com/UkralStul/kindwords-service/internal/domain"
)

// RenderedPost - пост с псевдонимом автора и отображаемым текстом.
type RenderedPost struct {
	ID        string       `json:"id"`
	Author    string       `json:"author"`
	Body      content.Body `json:"body"`
	Expanded  bool         `json:"expanded"`
	CreatedAt time.Time    `json:"createdAt"`
}

// RenderedReply - ответ на комментарий.
type RenderedReply struct {
	ID            string       `json:"id"`
	Author        string       `json:"author"`
	Body          content.Body `json:"body"`
	Expanded      bool         `json:"expanded"`
	ToxicityScore float64      `json:"toxicityScore"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// RenderedComment - комментарий; Replies заполнены, только если RepliesShown.
type RenderedComment struct {
	ID            string          `json:"id"`
	Author        string          `json:"author"`
	Body          content.Body    `json:"body"`
	Expanded      bool            `json:"expanded"`
	ToxicityScore float64         `json:"toxicityScore"`
	CreatedAt     time.Time       `json:"createdAt"`
	RepliesShown  bool            `json:"repliesShown"`
	Replies       []RenderedReply `json:"replies"`
}

// Thread - пост с упорядоченными комментариями.
type Thread struct {
	Post          RenderedPost      `json:"post"`
	CommentsShown bool              `json:"commentsShown"`
	Comments      []RenderedComment `json:"comments"`
}

// ComposePost подписывает пост псевдонимом и отображает текст с заданным лимитом.
func ComposePost(post *domain.Post, limit content.Limit, vis Visibility) RenderedPost {
	expanded := vis.IsExpanded(post.ID)
	return RenderedPost{
		ID:        post.ID,
		Author:    anonymity.Label(post.AuthorID),
		Body:      content.RenderBody(post.Text, limit, expanded),
		Expanded:  expanded,
		CreatedAt: post.CreatedAt,
	}
}

// Compose собирает ветку обсуждения поста. Порядок комментариев и ответов берётся из входных
// данных как есть. Ответы подставляются только для комментариев, у которых vis.IsOpen;
// отсутствующий список ответов считается пустым.
func Compose(post *domain.Post, comments []*domain.Comment, repliesByComment map[string][]*domain.Comment, vis Visibility) Thread {
	return Thread{
		Post:          ComposePost(post, content.PostLimit, vis),
		CommentsShown: true,
		Comments:      composeComments(comments, repliesByComment, vis),
	}
}

// ComposeFeed собирает ленту. Комментарии прикрепляются только к постам с vis.IsOpen(post.ID).
func ComposeFeed(posts []*domain.Post, commentsByPost map[string][]*domain.Comment, repliesByComment map[string][]*domain.Comment, vis Visibility) []Thread {
	feed := make([]Thread, 0, len(posts))
	for _, p := range posts {
		if vis.IsOpen(p.ID) {
			feed = append(feed, Compose(p, commentsByPost[p.ID], repliesByComment, vis))
			continue
		}
		feed = append(feed, Thread{
			Post:     ComposePost(p, content.PostLimit, vis),
			Comments: []RenderedComment{},
		})
	}
	return feed
}

func composeComments(comments []*domain.Comment, repliesByComment map[string][]*domain.Comment, vis Visibility) []RenderedComment {
	out := make([]RenderedComment, 0, len(comments))
	for _, c := range comments {
		expanded := vis.IsExpanded(c.ID)
		rc := RenderedComment{
			ID:            c.ID,
			Author:        anonymity.Label(c.AuthorID),
			Body:          content.RenderBody(c.Text, content.CommentLimit, expanded),
			Expanded:      expanded,
			ToxicityScore: c.ToxicityScore,
			CreatedAt:     c.CreatedAt,
			Replies:       []RenderedReply{},
		}
		if vis.IsOpen(c.ID) {
			rc.RepliesShown = true
			rc.Replies = ComposeReplies(repliesByComment[c.ID], vis)
		}
		out = append(out, rc)
	}
	return out
}

// ComposeReplies отображает ответы на один комментарий в заданном порядке.
func ComposeReplies(replies []*domain.Comment, vis Visibility) []RenderedReply {
	out := make([]RenderedReply, 0, len(replies))
	for _, r := range replies {
		expanded := vis.IsExpanded(r.ID)
		out = append(out, RenderedReply{
			ID:            r.ID,
			Author:        anonymity.Label(r.AuthorID),
			Body:          content.RenderBody(r.Text, content.CommentLimit, expanded),
			Expanded:      expanded,
			ToxicityScore: r.ToxicityScore,
			CreatedAt:     r.CreatedAt,
		})
	}
	return out
}

// OpenCommentIDs возвращает id комментариев, чьи ответы нужно загрузить.
func OpenCommentIDs(comments []*domain.Comment, vis Visibility) []string {
	var ids []string
	for _, c := range comments {
		if vis.IsOpen(c.ID) {
			ids = append(ids, c.ID)
		}
	}
	return ids
}
