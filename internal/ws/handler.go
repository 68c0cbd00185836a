// Package ws bridges one websocket connection to a relay room.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/anifight-draft/internal/hub"
	"github.com/DoyleJ11/anifight-draft/internal/lobby"
	wire "github.com/DoyleJ11/anifight-draft/internal/types"
	"github.com/DoyleJ11/anifight-draft/pkg/types"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	// ReadTimeout should cover a few ping intervals; clients answer pings.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// OriginPatterns loosens the same-origin check, e.g. "localhost:*".
	OriginPatterns []string
}

func Handler(h *hub.Hub, logger *zap.Logger, opts Options) http.HandlerFunc {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	logger = logger.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		token := r.URL.Query().Get("client")
		if token == "" {
			token = uuid.NewString()
		}

		lb, err := ensureLobby(r.Context(), h, code)
		if err != nil {
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}
		if lb == nil {
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			logger.Debug("accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()
		log := logger.With(zap.String("room", code), zap.String("client", token))

		out := make(chan []byte, 32)
		joined := make(chan lobby.JoinResult, 1)
		select {
		case lb.Inbox() <- lobby.Join{Token: token, Outbox: out, Reply: joined}:
		case <-lb.Done():
			conn.Close(websocket.StatusGoingAway, "room closed")
			return
		}
		var res lobby.JoinResult
		select {
		case res = <-joined:
		case <-lb.Done():
			conn.Close(websocket.StatusGoingAway, "room closed")
			return
		}
		if res.Err != nil {
			writeError(r.Context(), conn, res.Err.Error(), opts.WriteTimeout)
			conn.Close(websocket.StatusPolicyViolation, res.Err.Error())
			return
		}
		role := res.Role
		log.Info("joined", zap.String("role", string(role)))
		defer func() {
			select {
			case lb.Inbox() <- lobby.Leave{Role: role, Outbox: out}:
			case <-lb.Done():
			}
		}()

		// Writer: the room closes out when it drops or replaces this seat.
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			defer cancel()
			for payload := range out {
				wctx, wcancel := context.WithTimeout(ctx, opts.WriteTimeout)
				err := conn.Write(wctx, websocket.MessageText, payload)
				wcancel()
				if err != nil {
					log.Debug("write failed", zap.Error(err))
					return
				}
			}
			conn.Close(websocket.StatusNormalClosure, "seat closed")
		}()

		for {
			rctx, rcancel := context.WithTimeout(ctx, opts.ReadTimeout)
			_, data, err := conn.Read(rctx)
			rcancel()
			if err != nil {
				switch {
				case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
					websocket.CloseStatus(err) == websocket.StatusGoingAway,
					errors.Is(err, context.Canceled):
				default:
					log.Info("connection lost", zap.Error(err))
				}
				return
			}

			var cm wire.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(ctx, conn, "Invalid JSON", opts.WriteTimeout)
				continue
			}
			select {
			case lb.Inbox() <- lobby.FromClient{Role: role, Msg: cm}:
			case <-lb.Done():
				return
			}
		}
	}
}

var errHubStopped = errors.New("hub stopped")

func ensureLobby(ctx context.Context, h *hub.Hub, code string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	select {
	case h.Inbox() <- hub.EnsureLobby{Code: code, Reply: reply}:
	case <-h.Done():
		return nil, errHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case lb := <-reply:
		return lb, nil
	case <-h.Done():
		return nil, errHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, message string, timeout time.Duration) {
	payload, _ := json.Marshal(wire.ServerMessage{Type: types.MsgError, Message: message})
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}
