package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

const defaultPageSize = 20

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// pageParams turns the page and limit query parameters into a limit/offset
// pair. Page numbering starts at 1; bad or missing values fall back.
func pageParams(query url.Values) (limit, offset int) {
	page := parseInt(query.Get("page"), 1)
	limit = parseInt(query.Get("limit"), defaultPageSize)
	return limit, (page - 1) * limit
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
