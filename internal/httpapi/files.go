package httpapi

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const maxFileResponseBytes = 1 << 20

type fileEntry struct {
	Name  string    `json:"name"`
	IsDir bool      `json:"is_dir"`
	Size  int64     `json:"size"`
	MTime time.Time `json:"mtime"`
}

// handleFiles serves the read-only file browser. A directory path returns
// its listing, a file path returns its contents. Everything is confined
// to the configured workspace root.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimSpace(r.URL.Query().Get("path"))
	target, err := s.workspacePath(rel)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_path", err.Error())
		return
	}

	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			respondError(w, http.StatusNotFound, "path_not_found", "no such file or directory")
			return
		}
		respondError(w, http.StatusInternalServerError, "stat_failed", err.Error())
		return
	}

	if info.IsDir() {
		entries, err := os.ReadDir(target)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "read_dir_failed", err.Error())
			return
		}
		listing := make([]fileEntry, 0, len(entries))
		for _, entry := range entries {
			fi, err := entry.Info()
			if err != nil {
				continue
			}
			listing = append(listing, fileEntry{
				Name:  entry.Name(),
				IsDir: entry.IsDir(),
				Size:  fi.Size(),
				MTime: fi.ModTime(),
			})
		}
		sort.Slice(listing, func(i, j int) bool { return listing[i].Name < listing[j].Name })
		respondJSON(w, http.StatusOK, map[string]any{
			"path":    rel,
			"is_dir":  true,
			"entries": listing,
		})
		return
	}

	if info.Size() > maxFileResponseBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the browser size limit")
		return
	}
	raw, err := os.ReadFile(target)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "read_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"path":    rel,
		"is_dir":  false,
		"size":    info.Size(),
		"content": string(raw),
	})
}

// handleFileContent is the file-only variant: directories are an error.
func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimSpace(r.URL.Query().Get("path"))
	target, err := s.workspacePath(rel)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_path", err.Error())
		return
	}

	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			respondError(w, http.StatusNotFound, "path_not_found", "no such file")
			return
		}
		respondError(w, http.StatusInternalServerError, "stat_failed", err.Error())
		return
	}
	if info.IsDir() {
		respondError(w, http.StatusBadRequest, "not_a_file", "path is a directory")
		return
	}
	if info.Size() > maxFileResponseBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the browser size limit")
		return
	}
	raw, err := os.ReadFile(target)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "read_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"path":    rel,
		"size":    info.Size(),
		"content": string(raw),
	})
}

// workspacePath maps a request path onto the workspace root, rejecting
// absolute paths and traversal.
func (s *Server) workspacePath(rel string) (string, error) {
	if rel == "" {
		rel = "."
	}
	if filepath.IsAbs(rel) {
		return "", errPathEscapes
	}
	root, err := filepath.Abs(s.cfg.WorkspaceRoot)
	if err != nil {
		return "", err
	}
	target := filepath.Join(root, filepath.Clean(rel))
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", errPathEscapes
	}
	return target, nil
}

var errPathEscapes = errors.New("path escapes the workspace root")
