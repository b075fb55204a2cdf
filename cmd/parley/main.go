package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/parleybot/parley/internal/channel"
	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/llm"
	"github.com/parleybot/parley/internal/logger"
	"github.com/parleybot/parley/internal/store"
	"github.com/parleybot/parley/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.L.Error("failed to open store", "path", cfg.Store.Path, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	client := llm.New(cfg.LLM)

	registry := tools.NewRegistry()
	registry.Discover(context.Background(), cfg.MCPServers)

	mux := http.NewServeMux()
	mux.Handle("GET /ws", channel.NewHandler(st, client, registry, cfg.LLM))
	registerConversationRoutes(mux, st)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.L.Info("starting server", "address", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.L.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// registerConversationRoutes exposes the conversation CRUD surface used by
// clients around the chat channel itself.
func registerConversationRoutes(mux *http.ServeMux, st *store.Store) {
	mux.HandleFunc("POST /api/conversations", func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}
		conv, err := st.CreateConversation(r.Context(), owner)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	})

	mux.HandleFunc("GET /api/conversations", func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}
		list, err := st.ListConversations(r.Context(), owner)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		if list == nil {
			list = []store.Conversation{}
		}
		writeJSON(w, http.StatusOK, list)
	})

	mux.HandleFunc("GET /api/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ownerID(w, r); !ok {
			return
		}
		msgs, err := st.ListMessages(r.Context(), r.PathValue("id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		if msgs == nil {
			msgs = []store.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	})

	mux.HandleFunc("PATCH /api/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ownerID(w, r); !ok {
			return
		}
		var body struct {
			Title  *string `json:"title"`
			Pinned *bool   `json:"pinned"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
		id := r.PathValue("id")
		if body.Title != nil {
			if err := st.RenameConversation(r.Context(), id, *body.Title); err != nil {
				httpError(w, http.StatusInternalServerError, err)
				return
			}
		}
		if body.Pinned != nil {
			if err := st.SetPinned(r.Context(), id, *body.Pinned); err != nil {
				httpError(w, http.StatusInternalServerError, err)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("DELETE /api/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ownerID(w, r); !ok {
			return
		}
		if err := st.DeleteConversation(r.Context(), r.PathValue("id")); err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := r.Header.Get(channel.OwnerHeader)
	if owner == "" {
		http.Error(w, "missing "+channel.OwnerHeader+" header", http.StatusBadRequest)
		return "", false
	}
	return owner, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("response encode failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, status int, err error) {
	logger.L.Error("request failed", "error", err)
	http.Error(w, err.Error(), status)
}
