package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/UkralStul/kindwords-service/internal/anonymity"
	"github.com/UkralStul/kindwords-service/internal/domain"
	"github.com/UkralStul/kindwords-service/internal/identity"
	"github.com/UkralStul/kindwords-service/internal/service"
	"github.com/UkralStul/kindwords-service/internal/storage"
	"github.com/UkralStul/kindwords-service/internal/thread"
)

// maxBodyBytes ограничивает тело запроса с текстом.
const maxBodyBytes = 64 << 10

type textRequest struct {
	Text string `json:"text"`
}

type signInResponse struct {
	Token  string `json:"token"`
	Author string `json:"author"`
}

// postResponse - созданный пост; автор показан только псевдонимом.
type postResponse struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

type commentResponse struct {
	ID            string  `json:"id"`
	PostID        string  `json:"postId"`
	ParentID      *string `json:"parentId"`
	Author        string  `json:"author"`
	Text          string  `json:"text"`
	ToxicityScore float64 `json:"toxicityScore"`
	CreatedAt     string  `json:"createdAt"`
}

func toPostResponse(p *domain.Post) postResponse {
	return postResponse{
		ID:        p.ID,
		Author:    anonymity.Label(p.AuthorID),
		Text:      p.Text,
		CreatedAt: p.CreatedAt.Format(time.RFC3339Nano),
	}
}

func toCommentResponse(c *domain.Comment) commentResponse {
	return commentResponse{
		ID:            c.ID,
		PostID:        c.PostID,
		ParentID:      c.ParentID,
		Author:        anonymity.Label(c.AuthorID),
		Text:          c.Text,
		ToxicityScore: c.ToxicityScore,
		CreatedAt:     c.CreatedAt.Format(time.RFC3339Nano),
	}
}

func currentUser(r *http.Request) string {
	userID, _ := identity.UserFrom(r.Context())
	return userID
}

func decodeText(w http.ResponseWriter, r *http.Request) (string, *HTTPError) {
	var req textRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", newError(http.StatusRequestEntityTooLarge, ErrInvalidData, "request body is too large")
		}
		return "", newError(http.StatusBadRequest, ErrParsing, "request body must be a JSON object with a text field")
	}
	return req.Text, nil
}

func intParam(r *http.Request, name string) (int, *HTTPError) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, newError(http.StatusBadRequest, ErrInvalidData, name+" must be a non-negative integer")
	}
	return n, nil
}

func pageParams(r *http.Request) (service.Page, *HTTPError) {
	limit, e := intParam(r, "limit")
	if e != nil {
		return service.Page{}, e
	}
	offset, e := intParam(r, "offset")
	if e != nil {
		return service.Page{}, e
	}
	return service.Page{Limit: limit, Offset: offset}, nil
}

func threadParams(r *http.Request) (storage.PaginationArgs, *HTTPError) {
	limit, e := intParam(r, "limit")
	if e != nil {
		return storage.PaginationArgs{}, e
	}
	args := storage.PaginationArgs{Limit: limit}
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		args.Cursor = &cursor
	}
	return args, nil
}

// setNextLink добавляет заголовок Link на следующую страницу комментариев,
// сохраняя видимость и лимит текущего запроса.
func setNextLink(w http.ResponseWriter, r *http.Request, vis thread.Visibility, info service.PageInfo) {
	if !info.HasNextPage || info.EndCursor == nil {
		return
	}
	q := vis.Encode()
	if limit := r.URL.Query().Get("limit"); limit != "" {
		q.Set("limit", limit)
	}
	q.Set("cursor", *info.EndCursor)
	next := url.URL{Path: r.URL.Path, RawQuery: q.Encode()}
	w.Header().Set("Link", "<"+next.String()+`>; rel="next"`)
}

// === Auth ===

func (a *API) signIn(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(a.identityHeader))
	if userID == "" {
		a.fail(w, r, newError(http.StatusUnauthorized, ErrUnauthenticated, "sign-in requires an authenticated identity"))
		return
	}
	token, err := a.sessions.SignIn(r.Context(), userID)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidUser) {
			a.fail(w, r, newError(http.StatusBadRequest, ErrInvalidData, err.Error()))
			return
		}
		a.fail(w, r, errorFor(err))
		return
	}
	writeJSON(w, http.StatusOK, signInResponse{Token: token, Author: anonymity.Label(userID)})
}

func (a *API) signOut(w http.ResponseWriter, r *http.Request) {
	token := identity.BearerToken(r)
	if token == "" {
		a.fail(w, r, errorFor(service.ErrUnauthenticated))
		return
	}
	if err := a.sessions.SignOut(r.Context(), token); err != nil {
		a.fail(w, r, errorFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// === Posts ===

func (a *API) feed(w http.ResponseWriter, r *http.Request) {
	page, e := pageParams(r)
	if e != nil {
		a.fail(w, r, e)
		return
	}
	feed, err := a.svc.Feed(r.Context(), page, thread.ParseVisibility(r.URL.Query()))
	if err != nil {
		a.fail(w, r, errorFor(err))
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (a *API) createPost(w http.ResponseWriter, r *http.Request) {
	text, e := decodeText(w, r)
	if e != nil {
		a.fail(w, r, e)
		return
	}
	post, err := a.svc.CreatePost(r.Context(), currentUser(r), text)
	if err != nil {
		a.fail(w, r, errorFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, toPostResponse(post))
}

func (a *API) thread(w http.ResponseWriter, r *http.Request) {
	args, e := threadParams(r)
	if e != nil {
		a.fail(w, r, e)
		return
	}
	vis := thread.ParseVisibility(r.URL.Query())
	page, err := a.svc.Thread(r.Context(), chi.URLParam(r, "postID"), args, vis)
	if err != nil {
		a.fail(w, r, errorFor(err))
		return
	}
	setNextLink(w, r, vis, page.PageInfo)
	writeJSON(w, http.StatusOK, page)
}

func (a *API) deletePost(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeletePost(r.Context(), currentUser(r), chi.URLParam(r, "postID")); err != nil {
		a.fail(w, r, errorFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) profile(w http.ResponseWriter, r *http.Request) {
	page, e := pageParams(r)
	if e != nil {
		a.fail(w, r, e)
		return
	}
	posts, err := a.svc.Profile(r.Context(), currentUser(r), page, thread.ParseVisibility(r.URL.Query()))
	if err != nil {
		a.fail(w, r, errorFor(err))
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

// === Comments ===

func (a *API) addComment(w http.ResponseWriter, r *http.Request) {
	text, e := decodeText(w, r)
	if e != nil {
		a.fail(w, r, e)
		return
	}
	comment, err := a.svc.AddComment(r.Context(), currentUser(r), chi.URLParam(r, "postID"), text)
	if err != nil {
		a.fail(w, r, errorFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, toCommentResponse(comment))
}

func (a *API) addReply(w http.ResponseWriter, r *http.Request) {
	text, e := decodeText(w, r)
	if e != nil {
		a.fail(w, r, e)
		return
	}
	reply, err := a.svc.AddReply(r.Context(), currentUser(r), chi.URLParam(r, "postID"), chi.URLParam(r, "commentID"), text)
	if err != nil {
		a.fail(w, r, errorFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, toCommentResponse(reply))
}

func (a *API) replies(w http.ResponseWriter, r *http.Request) {
	args, e := threadParams(r)
	if e != nil {
		a.fail(w, r, e)
		return
	}
	vis := thread.ParseVisibility(r.URL.Query())
	page, err := a.svc.Replies(r.Context(), chi.URLParam(r, "postID"), chi.URLParam(r, "commentID"), args, vis)
	if err != nil {
		a.fail(w, r, errorFor(err))
		return
	}
	setNextLink(w, r, vis, page.PageInfo)
	writeJSON(w, http.StatusOK, page)
}

// === Moderation ===

func (a *API) analyze(w http.ResponseWriter, r *http.Request) {
	text, e := decodeText(w, r)
	if e != nil {
		a.fail(w, r, e)
		return
	}
	result, err := a.svc.AnalyzeToxicity(r.Context(), currentUser(r), text)
	if err != nil {
		a.fail(w, r, errorFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}
