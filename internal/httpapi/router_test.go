package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/kindwords-service/internal/anonymity"
	"github.com/UkralStul/kindwords-service/internal/identity"
	"github.com/UkralStul/kindwords-service/internal/live"
	"github.com/UkralStul/kindwords-service/internal/metrics"
	"github.com/UkralStul/kindwords-service/internal/moderation"
	"github.com/UkralStul/kindwords-service/internal/service"
	"github.com/UkralStul/kindwords-service/internal/storage/inmemory"
	"github.com/UkralStul/kindwords-service/internal/thread"
)

const testHeader = "X-Authenticated-User"

type scoreAnalyzer float64

func (s scoreAnalyzer) AnalyzeCommentToxicity(ctx context.Context, text string) moderation.Result {
	return moderation.Result{ToxicityScore: float64(s)}
}

func newTestServer(t *testing.T) *httptest.Server {
	store := inmemory.New()
	m := metrics.New()
	svc := service.New(store, scoreAnalyzer(0.1), live.NewBroker(zerolog.Nop()), m, zerolog.Nop())
	srv := httptest.NewServer(NewRouter(Config{
		Service:        svc,
		Store:          store,
		Sessions:       identity.NewMemorySessions(time.Hour),
		Metrics:        m,
		Logger:         zerolog.Nop(),
		IdentityHeader: testHeader,
		AllowedOrigins: []string{"http://localhost:3000"},
		PingInterval:   time.Second,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, token string, body string, out interface{}) *http.Response {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		require.NoError(t, json.Unmarshal(data, out), string(data))
	}
	return resp
}

func signIn(t *testing.T, srv *httptest.Server, userID string) string {
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/auth/signin", nil)
	require.NoError(t, err)
	req.Header.Set(testHeader, userID)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out signInResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, anonymity.Label(userID), out.Author)
	return out.Token
}

func TestAuth(t *testing.T) {
	srv := newTestServer(t)

	var herr HTTPError
	resp := do(t, srv, http.MethodPost, "/auth/signin", "", "", &herr)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, ErrUnauthenticated, herr.Code)

	token := signIn(t, srv, "alice")
	resp = do(t, srv, http.MethodPost, "/posts", token, `{"text":"Signed in and posting"}`, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/auth/signout", token, "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/posts", token, `{"text":"Signed out and posting"}`, &herr)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, ErrUnauthenticated, herr.Code)
}

func TestPostsAndComments(t *testing.T) {
	srv := newTestServer(t)
	alice := signIn(t, srv, "alice")
	bob := signIn(t, srv, "bob")

	var post postResponse
	resp := do(t, srv, http.MethodPost, "/posts", alice, `{"text":"  Kind words for all  "}`, &post)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Kind words for all", post.Text)
	assert.Equal(t, anonymity.Label("alice"), post.Author)

	var comment commentResponse
	resp = do(t, srv, http.MethodPost, "/posts/"+post.ID+"/comments", bob, `{"text":"lovely"}`, &comment)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, post.ID, comment.PostID)
	assert.Nil(t, comment.ParentID)
	assert.Equal(t, 0.1, comment.ToxicityScore)

	var reply commentResponse
	resp = do(t, srv, http.MethodPost, "/posts/"+post.ID+"/comments/"+comment.ID+"/replies", alice, `{"text":"thank you"}`, &reply)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotNil(t, reply.ParentID)
	assert.Equal(t, comment.ID, *reply.ParentID)

	var herr HTTPError
	resp = do(t, srv, http.MethodPost, "/posts/"+post.ID+"/comments/"+reply.ID+"/replies", bob, `{"text":"nested"}`, &herr)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrInvalidData, herr.Code)

	var page service.ThreadPage
	resp = do(t, srv, http.MethodGet, "/posts/"+post.ID+"?open="+comment.ID, "", "", &page)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, page.Comments, 1)
	assert.True(t, page.Comments[0].RepliesShown)
	require.Len(t, page.Comments[0].Replies, 1)
	assert.Equal(t, "thank you", page.Comments[0].Replies[0].Body.Shown)
	assert.False(t, page.PageInfo.HasNextPage)

	var feed []service.FeedItem
	resp = do(t, srv, http.MethodGet, "/posts?open="+post.ID, "", "", &feed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, feed, 1)
	assert.True(t, feed[0].CommentsShown)
	require.Len(t, feed[0].Comments, 1)
	assert.False(t, feed[0].Comments[0].RepliesShown)
	require.NotNil(t, feed[0].PageInfo)
	assert.False(t, feed[0].PageInfo.HasNextPage)

	var mine []thread.RenderedPost
	resp = do(t, srv, http.MethodGet, "/me/posts", alice, "", &mine)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, mine, 1)
	assert.Equal(t, post.ID, mine[0].ID)
}

func TestReplies(t *testing.T) {
	srv := newTestServer(t)
	alice := signIn(t, srv, "alice")
	bob := signIn(t, srv, "bob")

	var post postResponse
	do(t, srv, http.MethodPost, "/posts", alice, `{"text":"A post with a chatty comment"}`, &post)
	var comment commentResponse
	do(t, srv, http.MethodPost, "/posts/"+post.ID+"/comments", bob, `{"text":"chatty"}`, &comment)
	var ids []string
	for i := 0; i < 3; i++ {
		var reply commentResponse
		resp := do(t, srv, http.MethodPost, "/posts/"+post.ID+"/comments/"+comment.ID+"/replies", alice, `{"text":"reply"}`, &reply)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		ids = append(ids, reply.ID)
	}

	path := "/posts/" + post.ID + "/comments/" + comment.ID + "/replies"
	var first service.RepliesPage
	resp := do(t, srv, http.MethodGet, path+"?limit=2&expanded="+ids[0], "", "", &first)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, first.Replies, 2)
	assert.Equal(t, ids[0], first.Replies[0].ID)
	assert.True(t, first.Replies[0].Expanded)
	assert.True(t, first.PageInfo.HasNextPage)
	require.NotNil(t, first.PageInfo.EndCursor)
	assert.Equal(t, ids[1], *first.PageInfo.EndCursor)
	assert.Equal(t, "<"+path+"?cursor="+ids[1]+"&expanded="+ids[0]+"&limit=2>; rel=\"next\"", resp.Header.Get("Link"))

	var rest service.RepliesPage
	resp = do(t, srv, http.MethodGet, path+"?limit=2&cursor="+ids[1], "", "", &rest)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rest.Replies, 1)
	assert.Equal(t, ids[2], rest.Replies[0].ID)
	assert.False(t, rest.PageInfo.HasNextPage)
	assert.Empty(t, resp.Header.Get("Link"))

	var herr HTTPError
	resp = do(t, srv, http.MethodGet, "/posts/"+post.ID+"/comments/missing/replies", "", "", &herr)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, ErrNotFound, herr.Code)

	resp = do(t, srv, http.MethodGet, "/posts/"+post.ID+"/comments/"+ids[0]+"/replies", "", "", &herr)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrInvalidData, herr.Code)
}

func TestThreadNextLink(t *testing.T) {
	srv := newTestServer(t)
	alice := signIn(t, srv, "alice")

	var post postResponse
	do(t, srv, http.MethodPost, "/posts", alice, `{"text":"A post with two comments"}`, &post)
	var first commentResponse
	do(t, srv, http.MethodPost, "/posts/"+post.ID+"/comments", alice, `{"text":"one"}`, &first)
	do(t, srv, http.MethodPost, "/posts/"+post.ID+"/comments", alice, `{"text":"two"}`, nil)

	var page service.ThreadPage
	resp := do(t, srv, http.MethodGet, "/posts/"+post.ID+"?limit=1", "", "", &page)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, page.PageInfo.HasNextPage)
	assert.Equal(t, "</posts/"+post.ID+"?cursor="+first.ID+"&limit=1>; rel=\"next\"", resp.Header.Get("Link"))
}

func TestErrors(t *testing.T) {
	srv := newTestServer(t)
	alice := signIn(t, srv, "alice")
	bob := signIn(t, srv, "bob")

	var post postResponse
	do(t, srv, http.MethodPost, "/posts", alice, `{"text":"A post to argue about"}`, &post)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		status int
		code   string
	}{
		{"empty post", http.MethodPost, "/posts", alice, `{"text":"   "}`, http.StatusBadRequest, ErrEmptyText},
		{"short post", http.MethodPost, "/posts", alice, `{"text":"too short"}`, http.StatusBadRequest, ErrTooShort},
		{"bad json", http.MethodPost, "/posts", alice, `{"text":`, http.StatusBadRequest, ErrParsing},
		{"anonymous post", http.MethodPost, "/posts", "", `{"text":"Anonymous writer here"}`, http.StatusUnauthorized, ErrUnauthenticated},
		{"empty comment", http.MethodPost, "/posts/" + post.ID + "/comments", bob, `{"text":""}`, http.StatusBadRequest, ErrEmptyText},
		{"missing post", http.MethodGet, "/posts/missing", "", "", http.StatusNotFound, ErrNotFound},
		{"bad limit", http.MethodGet, "/posts?limit=many", "", "", http.StatusBadRequest, ErrInvalidData},
		{"foreign delete", http.MethodDelete, "/posts/" + post.ID, bob, "", http.StatusForbidden, ErrForbidden},
		{"anonymous profile", http.MethodGet, "/me/posts", "", "", http.StatusUnauthorized, ErrUnauthenticated},
		{"anonymous analyze", http.MethodPost, "/moderation/analyze", "", `{"text":"anything"}`, http.StatusUnauthorized, ErrUnauthenticated},
		{"oversized body", http.MethodPost, "/posts", alice, `{"text":"` + strings.Repeat("a", maxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge, ErrInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var herr HTTPError
			resp := do(t, srv, tt.method, tt.path, tt.token, tt.body, &herr)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, herr.Code)
			assert.NotEmpty(t, herr.Message)
		})
	}
}

func TestValidationErrorReturnsInput(t *testing.T) {
	srv := newTestServer(t)
	alice := signIn(t, srv, "alice")

	var herr HTTPError
	do(t, srv, http.MethodPost, "/posts", alice, `{"text":" short "}`, &herr)
	assert.Equal(t, ErrTooShort, herr.Code)
	assert.Equal(t, " short ", herr.Input)
	assert.Equal(t, "text must be at least 10 characters long", herr.Message)
}

func TestDeletePost(t *testing.T) {
	srv := newTestServer(t)
	alice := signIn(t, srv, "alice")

	var post postResponse
	do(t, srv, http.MethodPost, "/posts", alice, `{"text":"Soon to be deleted"}`, &post)

	resp := do(t, srv, http.MethodDelete, "/posts/"+post.ID, alice, "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/posts/"+post.ID, "", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAnalyzeAndOps(t *testing.T) {
	srv := newTestServer(t)
	alice := signIn(t, srv, "alice")

	var res moderation.Result
	resp := do(t, srv, http.MethodPost, "/moderation/analyze", alice, `{"text":"anything"}`, &res)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.1, res.ToxicityScore)

	resp = do(t, srv, http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "kindwords_http_request_duration_seconds")
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestThreadSocket(t *testing.T) {
	srv := newTestServer(t)
	alice := signIn(t, srv, "alice")

	var post postResponse
	do(t, srv, http.MethodPost, "/posts", alice, `{"text":"`+strings.Repeat("x", 400)+`"}`, &post)

	conn := dial(t, srv, "/ws/posts/"+post.ID)

	first := readMessage(t, conn)
	assert.Equal(t, msgSnapshot, first.Type)

	// Новый комментарий приходит новым снимком
	var comment commentResponse
	do(t, srv, http.MethodPost, "/posts/"+post.ID+"/comments", alice, `{"text":"live"}`, &comment)
	msg := readMessage(t, conn)
	require.Equal(t, msgSnapshot, msg.Type)
	assert.Contains(t, mustJSON(t, msg.Data), comment.ID)

	// Переключение видимости действует только на это соединение
	require.NoError(t, conn.WriteJSON(clientAction{Action: actionToggleExpanded, ID: post.ID}))
	msg = readMessage(t, conn)
	var page service.ThreadPage
	require.NoError(t, json.Unmarshal([]byte(mustJSON(t, msg.Data)), &page))
	assert.True(t, page.Post.Expanded)
	assert.Equal(t, strings.Repeat("x", 400), page.Post.Body.Shown)

	// Удаление поста закрывает соединение
	do(t, srv, http.MethodDelete, "/posts/"+post.ID, alice, "", nil)
	msg = readMessage(t, conn)
	assert.Equal(t, msgError, msg.Type)
	assert.Contains(t, mustJSON(t, msg.Data), ErrNotFound)
}

func TestFeedSocket(t *testing.T) {
	srv := newTestServer(t)
	alice := signIn(t, srv, "alice")

	conn := dial(t, srv, "/ws/feed")
	first := readMessage(t, conn)
	assert.Equal(t, msgSnapshot, first.Type)
	assert.Equal(t, "[]", mustJSON(t, first.Data))

	var post postResponse
	do(t, srv, http.MethodPost, "/posts", alice, `{"text":"Fresh from the press"}`, &post)
	msg := readMessage(t, conn)
	assert.Contains(t, mustJSON(t, msg.Data), post.ID)
}

func TestSocketRejectsForeignOrigin(t *testing.T) {
	srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/feed"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func mustJSON(t *testing.T, v interface{}) string {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
