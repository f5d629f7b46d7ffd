package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// historyFallbackTimeFormat accepts zone-less cutoffs, interpreted as UTC.
const historyFallbackTimeFormat = "2006-01-02T15:04:05.999999999"

type messagesResponse struct {
	List     []MessagePayload `json:"list"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
}

// registerChatAPI mounts the read-only HTTP query surface next to the
// websocket transport.
func registerChatAPI(mux *http.ServeMux, coord *coordinator) {
	mux.HandleFunc("/api/chat/online-users", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, coord.onlineRoster())
	})

	mux.HandleFunc("/api/chat/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		query := r.URL.Query()
		page := parsePositiveInt(query.Get("page"), 1)
		pageSize := parsePositiveInt(query.Get("pageSize"), defaultHistoryLimit)
		if pageSize > maxHistoryLimit {
			pageSize = maxHistoryLimit
		}

		var before *time.Time
		if raw := strings.TrimSpace(query.Get("before")); raw != "" {
			cutoff, err := parseHistoryCutoff(raw)
			if err != nil {
				http.Error(w, "invalid before timestamp", http.StatusBadRequest)
				return
			}
			before = &cutoff
		}

		list, err := coord.history(r.Context(), before, pageSize)
		if err != nil {
			log.Printf("chat: list message history failed: %v", err)
			http.Error(w, "could not load message history", http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []MessagePayload{}
		}

		writeJSON(w, messagesResponse{
			List:     list,
			Total:    coord.totalMessageCount(r.Context()),
			Page:     page,
			PageSize: pageSize,
		})
	})
}

func parseHistoryCutoff(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(historyFallbackTimeFormat, raw, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func parsePositiveInt(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("chat: write response failed: %v", err)
	}
}
