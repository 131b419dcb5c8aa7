package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/spideyz0r/clipdav/pkg/history"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

type pageResponse struct {
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
	Items    []history.RecordView `json:"items"`
}

type statsResponse struct {
	TotalRecords int64            `json:"total_records"`
	ByType       map[string]int64 `json:"by_type"`
	LatestSync   *string          `json:"latest_sync"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", history.DefaultPage)
	if err != nil || page < 1 {
		writeDetail(w, http.StatusBadRequest, "page must be a number of at least 1")
		return
	}
	pageSize, err := queryInt(r, "page_size", history.DefaultPageSize)
	if err != nil || pageSize < 1 {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("page_size must be a number between 1 and %d", history.MaxPageSize))
		return
	}

	filters := history.Filters{
		Kind:   r.URL.Query().Get("type"),
		Search: r.URL.Query().Get("search"),
		Start:  firstQuery(r, "start_date", "start"),
		End:    firstQuery(r, "end_date", "end"),
	}
	if v := r.URL.Query().Get("favorited"); v != "" {
		fav, err := strconv.ParseBool(v)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "favorited must be true or false")
			return
		}
		filters.Favorited = &fav
	}

	res, err := s.history.List(r.Context(), filters, page, pageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pageResponse{
		Total:    res.Total,
		Page:     res.Page,
		PageSize: res.PageSize,
		Items:    history.NewViews(res.Items, s.history.Location()),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid id")
		return
	}

	rec, err := s.history.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, history.NewView(rec, s.history.Location()))
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid id")
		return
	}

	p, err := s.history.GetPayload(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer p.Content.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": p.Name}))
	http.ServeContent(w, r, p.Name, p.ModTime, p.Content)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.history.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := statsResponse{
		TotalRecords: st.TotalRecords,
		ByType:       make(map[string]int64, len(st.ByType)),
	}
	for kind, n := range st.ByType {
		resp.ByType[string(kind)] = n
	}
	if st.LatestSync != nil {
		v := st.LatestSync.In(s.history.Location()).Format(history.TimeLayout)
		resp.LatestSync = &v
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"webdav_url":   fmt.Sprintf("%s://%s%s", scheme, r.Host, s.dav.Prefix()),
		"storage_path": s.paths.DataDir,
		"history_path": s.paths.HistoryDir,
		"db_path":      s.paths.Database,
	})
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid id")
		return
	}

	fav, err := s.history.ToggleFavorite(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "favorited": fav})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := s.history.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Record deleted successfully"})
}

func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	ids, err := decodeIDs(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := s.history.BatchDelete(r.Context(), ids)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":       fmt.Sprintf("Successfully deleted %d records", n),
		"deleted_count": n,
	})
}

// decodeIDs accepts a bare JSON array of ids or an object {"ids": [...]}.
func decodeIDs(body io.Reader) ([]int64, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid request body")
	}

	var ids []int64
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			IDs []int64 `json:"ids"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("ids must be a list of integers")
		}
		ids = wrapped.IDs
	} else if err := json.Unmarshal(trimmed, &ids); err != nil {
		return nil, fmt.Errorf("ids must be a list of integers")
	}

	return ids, nil
}
