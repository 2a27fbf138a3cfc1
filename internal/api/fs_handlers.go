package api

import (
	"encoding/json"
	"io"
	"net/http"
	"path"
)

// maxUploadBytes bounds multipart uploads.
const maxUploadBytes = 100 << 20

type filePathRequest struct {
	Path       string `json:"path"`
	ShowHidden bool   `json:"show_hidden"`
}

// fileRequest accepts the path from either the JSON body (POST) or the
// query string (GET).
func fileRequest(r *http.Request) (filePathRequest, error) {
	var req filePathRequest
	if r.Method == http.MethodGet {
		req.Path = r.URL.Query().Get("path")
		req.ShowHidden = r.URL.Query().Get("show_hidden") == "true"
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	req, err := fileRequest(r)
	if err != nil {
		writeValidationError(w, r, "invalid json: "+err.Error())
		return
	}
	if req.Path == "" {
		writeValidationError(w, r, "path is required")
		return
	}

	owner := ownerFrom(r.Context())
	content, err := s.caps.ReadFile(r.Context(), r.PathValue("id"), owner, req.Path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path, "content": content})
}

type writeFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Mode    string `json:"mode"`
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	var req writeFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, r, "invalid json: "+err.Error())
		return
	}
	if req.Path == "" {
		writeValidationError(w, r, "path is required")
		return
	}
	if req.Mode == "" {
		req.Mode = "w"
	}
	if req.Mode != "w" && req.Mode != "a" {
		writeValidationError(w, r, `mode must be "w" or "a"`)
		return
	}

	owner := ownerFrom(r.Context())
	result, err := s.caps.WriteFile(r.Context(), r.PathValue("id"), owner, req.Path, req.Content, req.Mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListDir(w http.ResponseWriter, r *http.Request) {
	req, err := fileRequest(r)
	if err != nil {
		writeValidationError(w, r, "invalid json: "+err.Error())
		return
	}
	if req.Path == "" {
		req.Path = "."
	}

	owner := ownerFrom(r.Context())
	entries, err := s.caps.ListDir(r.Context(), r.PathValue("id"), owner, req.Path, req.ShowHidden)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": req.Path, "files": entries})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	req, err := fileRequest(r)
	if err != nil {
		writeValidationError(w, r, "invalid json: "+err.Error())
		return
	}
	if req.Path == "" {
		writeValidationError(w, r, "path is required")
		return
	}

	owner := ownerFrom(r.Context())
	if err := s.caps.DeleteFile(r.Context(), r.PathValue("id"), owner, req.Path); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "path": req.Path})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeValidationError(w, r, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeValidationError(w, r, "file part is required")
		return
	}
	defer file.Close()

	targetPath := r.FormValue("path")
	if targetPath == "" {
		targetPath = path.Base(header.Filename)
	}
	if targetPath == "" || targetPath == "." {
		writeValidationError(w, r, "path is required")
		return
	}

	owner := ownerFrom(r.Context())
	result, err := s.caps.Upload(r.Context(), r.PathValue("id"), owner, targetPath, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "uploaded",
		"path":   result.FilePath,
		"size":   result.Size,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	filePath := r.URL.Query().Get("path")
	if filePath == "" {
		writeValidationError(w, r, "path is required")
		return
	}

	owner := ownerFrom(r.Context())
	rc, err := s.caps.Download(r.Context(), r.PathValue("id"), owner, filePath)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(filePath)+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("streaming download", "path", filePath, "error", err)
	}
}
