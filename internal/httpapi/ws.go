package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"gopkg.in/tomb.v2"

	"github.com/UkralStul/kindwords-service/internal/live"
	"github.com/UkralStul/kindwords-service/internal/logging"
	"github.com/UkralStul/kindwords-service/internal/service"
	"github.com/UkralStul/kindwords-service/internal/thread"
)

const writeWait = 10 * time.Second

// Типы сообщений сервера
const (
	msgSnapshot = "snapshot"
	msgError    = "error"
)

// Действия клиента
const (
	actionToggleExpanded = "toggleExpanded"
	actionToggleOpen     = "toggleOpen"
)

type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type clientAction struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

// snapshotFunc перечитывает данные и собирает снимок для текущего состояния видимости.
type snapshotFunc func(ctx context.Context, vis thread.Visibility) (interface{}, error)

// errSnapshotGone - снимок больше не существует (пост удалён), соединение закрывается.
var errSnapshotGone = errors.New("snapshot source is gone")

func (a *API) feedSocket(w http.ResponseWriter, r *http.Request) {
	page, e := pageParams(r)
	if e != nil {
		a.fail(w, r, e)
		return
	}
	a.serveSnapshots(w, r, live.FeedTopic, func(ctx context.Context, vis thread.Visibility) (interface{}, error) {
		return a.svc.Feed(ctx, page, vis)
	})
}

func (a *API) threadSocket(w http.ResponseWriter, r *http.Request) {
	args, e := threadParams(r)
	if e != nil {
		a.fail(w, r, e)
		return
	}
	postID := chi.URLParam(r, "postID")
	a.serveSnapshots(w, r, live.PostTopic(postID), func(ctx context.Context, vis thread.Visibility) (interface{}, error) {
		return a.svc.Thread(ctx, postID, args, vis)
	})
}

// serveSnapshots отправляет клиенту свежий снимок при подключении, после каждого
// уведомления брокера и после каждого действия клиента. Состояние видимости живёт
// только в этом соединении.
func (a *API) serveSnapshots(w http.ResponseWriter, r *http.Request, topic string, snapshot snapshotFunc) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		a.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := a.log.With().Str("topic", topic).Logger()
	vis := thread.ParseVisibility(r.URL.Query())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := a.svc.Broker().Subscribe(ctx, topic)
	log.Debug().Int("subscribers", a.svc.Broker().Subscribers(topic)).Msg("websocket connected")
	actions := make(chan clientAction)

	pongWait := 2 * a.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var t tomb.Tomb

	// reader
	t.Go(func() error {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			var action clientAction
			if err := json.Unmarshal(data, &action); err != nil || action.ID == "" {
				log.Debug().Err(err).Msg("ignoring malformed client action")
				continue
			}
			select {
			case actions <- action:
			case <-t.Dying():
				return nil
			}
		}
	})

	// writer
	t.Go(func() error {
		ping := time.NewTicker(a.pingInterval)
		defer ping.Stop()

		send := func() error {
			snap, err := snapshot(ctx, vis)
			if err != nil {
				herr := errorFor(err)
				if werr := a.writeMessage(conn, wsMessage{Type: msgError, Data: herr}); werr != nil {
					return werr
				}
				if errors.Is(err, service.ErrNotFound) {
					return errSnapshotGone
				}
				// Временный сбой: ждём следующего уведомления
				log.Error().Err(err).Msg("failed to build snapshot")
				return nil
			}
			return a.writeMessage(conn, wsMessage{Type: msgSnapshot, Data: snap})
		}

		if err := send(); err != nil {
			return err
		}
		for {
			select {
			case <-t.Dying():
				return nil
			case action := <-actions:
				switch action.Action {
				case actionToggleExpanded:
					vis.ToggleExpanded(action.ID)
				case actionToggleOpen:
					vis.ToggleOpen(action.ID)
				default:
					continue
				}
				if err := send(); err != nil {
					return err
				}
			case _, ok := <-events:
				if !ok {
					return nil
				}
				if err := send(); err != nil {
					return err
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return err
				}
			}
		}
	})

	<-t.Dying()
	// Разблокирует reader
	_ = conn.Close()
	cancel()

	err = t.Wait()
	switch {
	case err == nil, errors.Is(err, errSnapshotGone),
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		log.Debug().Str(logging.REQUEST, middleware.GetReqID(r.Context())).Msg("websocket closed")
	default:
		log.Debug().Err(err).Str(logging.REQUEST, middleware.GetReqID(r.Context())).Msg("websocket closed with error")
	}
}

func (a *API) writeMessage(conn *websocket.Conn, msg wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
