package eventbus

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades r to a websocket and streams channel's Events to it
// as JSON, one message per Event, until the client disconnects or the
// request context is canceled. channel is resolved by the caller
// (pkg/api) from the request's query/path before calling ServeWS, so
// this package stays free of HTTP routing concerns.
//
// Grounded on the teacher's legacyProvLoginQR in
// cmd/mautrix-telegram/legacyprovisioning.go: upgrade, drain incoming
// messages in a goroutine purely so SetCloseHandler fires, write JSON
// frames from the other side until the connection closes.
func (b *Bus) ServeWS(channel string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := zerolog.Ctx(r.Context()).With().Str("eventbus_channel", channel).Logger()

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Err(err).Msg("failed to upgrade connection to websocket")
			return
		}
		defer ws.Close()

		stream, unsubscribe := b.Subscribe(channel)
		defer unsubscribe()

		closed := make(chan struct{})
		ws.SetCloseHandler(func(code int, text string) error {
			close(closed)
			return nil
		})
		go func() {
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					select {
					case <-closed:
					default:
						close(closed)
					}
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case ev, ok := <-stream:
				if !ok {
					return
				}
				if err := ws.WriteJSON(ev); err != nil {
					log.Debug().Err(err).Msg("failed to write event to websocket, closing")
					return
				}
			}
		}
	}
}
