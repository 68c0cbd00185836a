package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/DoyleJ11/anifight-draft/internal/catalog"
	"github.com/DoyleJ11/anifight-draft/internal/hub"
	"github.com/DoyleJ11/anifight-draft/internal/lobby"
	"github.com/DoyleJ11/anifight-draft/internal/score"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const codeAttempts = 8

var errCodeSpace = errors.New("could not find a free room code")

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// CreateRoom reserves a fresh room code and starts its relay room.
func CreateRoom(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := freeCode(h)
		if err != nil {
			logger.Error("room code", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to generate code")
			return
		}

		reply := make(chan *lobby.Lobby, 1)
		h.Inbox() <- hub.EnsureLobby{Code: code, Reply: reply}
		if <-reply == nil {
			writeError(w, http.StatusInternalServerError, "failed to create room")
			return
		}
		writeJSON(w, http.StatusCreated, struct {
			Code string `json:"code"`
		}{Code: code})
	}
}

func freeCode(h *hub.Hub) (string, error) {
	for range codeAttempts {
		c, err := GenerateCode()
		if err != nil {
			return "", err
		}
		reply := make(chan *lobby.Lobby, 1)
		h.Inbox() <- hub.GetLobby{Code: c, Reply: reply}
		if <-reply == nil {
			return c, nil
		}
	}
	return "", errCodeSpace
}

// Score recomputes a final result from committed teams.
func Score(cat catalog.Catalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req score.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		ctx := r.Context()
		t, err := cat.Template(ctx, req.TemplateID)
		if err != nil {
			writeCatalogError(w, logger, err)
			return
		}
		chars, err := cat.Characters(ctx, req.CharacterIDs())
		if err != nil {
			writeCatalogError(w, logger, err)
			return
		}
		res, err := score.Evaluate(req, t, chars, nil)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func Template(cat catalog.Catalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid template id")
			return
		}
		t, err := cat.Template(r.Context(), id)
		if err != nil {
			writeCatalogError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

// Rooms lists the codes of rooms that are still running.
func Rooms(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []string, 1)
		h.Inbox() <- hub.ListLobbies{Reply: reply}
		select {
		case codes := <-reply:
			writeJSON(w, http.StatusOK, struct {
				Rooms []string `json:"rooms"`
			}{Rooms: codes})
		case <-time.After(2 * time.Second):
			writeError(w, http.StatusServiceUnavailable, "hub busy")
		}
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeCatalogError(w http.ResponseWriter, logger *zap.Logger, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	logger.Error("catalog", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "catalog unavailable")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: message})
}
