package websocket

import (
	"context"
	"net/http"
	"time"

	"drawdeck/realtime"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// socketSession adapts a Socket.IO socket to the sync core's Session.
type socketSession struct {
	socket *socketio.Socket
}

func (s socketSession) ID() string {
	return string(s.socket.Id())
}

func (s socketSession) Emit(event string, args ...any) error {
	return s.socket.Emit(event, args...)
}

// SetupSocketIO wires the collaborative channel: every client event is
// decoded into an engine intent; malformed frames are logged and
// dropped without touching the engine.
func SetupSocketIO(engine *realtime.Engine) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		session := socketSession{socket: socket}
		log := logrus.WithField("session_id", session.ID())
		log.Info("Session connected")

		socket.On("join-room", func(datas ...any) {
			payload, ok := payloadOf(datas)
			if !ok {
				log.Debug("Dropping join-room with malformed payload")
				return
			}
			boardID := stringField(payload, "boardId")
			if boardID == "" {
				log.Debug("Dropping join-room without board id")
				return
			}
			displayName := stringField(payload, "username")
			if displayName == "" {
				displayName = session.ID()
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := engine.Join(ctx, session, boardID, displayName); err != nil {
				log.WithField("board_id", boardID).WithError(err).Warn("Join refused")
			}
		})

		socket.On(string(realtime.IntentShapeCreate), func(datas ...any) {
			payload, ok := payloadOf(datas)
			if !ok {
				log.Debug("Dropping shape-create with malformed payload")
				return
			}
			engine.HandleIntent(session, realtime.Intent{
				Type:    realtime.IntentShapeCreate,
				BoardID: stringField(payload, "boardId"),
				Shape:   mapField(payload, "shape"),
			})
		})

		socket.On(string(realtime.IntentShapeUpdate), func(datas ...any) {
			payload, ok := payloadOf(datas)
			if !ok {
				log.Debug("Dropping shape-update with malformed payload")
				return
			}
			engine.HandleIntent(session, realtime.Intent{
				Type:    realtime.IntentShapeUpdate,
				BoardID: stringField(payload, "boardId"),
				ShapeID: stringField(payload, "shapeId"),
				Props:   mapField(payload, "props"),
			})
		})

		socket.On(string(realtime.IntentShapeDelete), func(datas ...any) {
			payload, ok := payloadOf(datas)
			if !ok {
				log.Debug("Dropping shape-delete with malformed payload")
				return
			}
			engine.HandleIntent(session, realtime.Intent{
				Type:    realtime.IntentShapeDelete,
				BoardID: stringField(payload, "boardId"),
				ShapeID: stringField(payload, "shapeId"),
			})
		})

		socket.On(string(realtime.IntentBoardRename), func(datas ...any) {
			payload, ok := payloadOf(datas)
			if !ok {
				log.Debug("Dropping board-rename with malformed payload")
				return
			}
			engine.HandleIntent(session, realtime.Intent{
				Type:    realtime.IntentBoardRename,
				BoardID: stringField(payload, "boardId"),
				Name:    stringField(payload, "name"),
			})
		})

		socket.On("disconnecting", func(datas ...any) {
			engine.Leave(session)
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})

	return srv
}

// HandleStatus reports live room occupancy.
func HandleStatus(engine *realtime.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]any{
			"rooms": engine.Registry().Counts(),
		})
	}
}

func payloadOf(datas []any) (map[string]any, bool) {
	if len(datas) == 0 {
		return nil, false
	}
	payload, ok := datas[0].(map[string]any)
	return payload, ok
}

func stringField(payload map[string]any, key string) string {
	value, _ := payload[key].(string)
	return value
}

func mapField(payload map[string]any, key string) map[string]any {
	value, _ := payload[key].(map[string]any)
	return value
}
