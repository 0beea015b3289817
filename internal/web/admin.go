package web

import (
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/blare-bot/blare/internal/catalog"
	"github.com/blare-bot/blare/internal/discord"
	"github.com/blare-bot/blare/internal/state"
)

func (s *Server) handleCategoriesList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": s.store.Categories()})
}

func (s *Server) handleCategoryCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  string  `json:"name"`
		Color string  `json:"color"`
		Sort  float64 `json:"sort"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	c := state.Category{ID: uuid.NewString(), Name: body.Name, Color: body.Color, Sort: body.Sort}
	s.store.AddCategory(c)
	slog.Info("category created", "id", c.ID, "name", c.Name)
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleCategoryUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Name  *string  `json:"name"`
		Color *string  `json:"color"`
		Sort  *float64 `json:"sort"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	ok := s.store.UpdateCategory(id, func(c *state.Category) {
		if body.Name != nil && strings.TrimSpace(*body.Name) != "" {
			c.Name = strings.TrimSpace(*body.Name)
		}
		if body.Color != nil {
			c.Color = *body.Color
		}
		if body.Sort != nil {
			c.Sort = *body.Sort
		}
	})
	if !ok {
		writeError(w, http.StatusNotFound, "unknown category")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleCategoryDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.store.DeleteCategory(id) {
		writeError(w, http.StatusNotFound, "unknown category")
		return
	}
	slog.Info("category deleted", "id", id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleCategoriesAssign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Files  []string `json:"files"`
		Add    []string `json:"add"`
		Remove []string `json:"remove"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.Files) == 0 {
		writeError(w, http.StatusBadRequest, "files is required")
		return
	}
	updated := s.store.AssignCategories(body.Files, body.Add, body.Remove)
	writeJSON(w, http.StatusOK, map[string]any{"fileCategories": updated})
}

func (s *Server) handleBadgesAssign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Files  []string `json:"files"`
		Add    []string `json:"add"`
		Remove []string `json:"remove"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.Files) == 0 {
		writeError(w, http.StatusBadRequest, "files is required")
		return
	}
	updated := s.store.AssignBadges(body.Files, body.Add, body.Remove)
	writeJSON(w, http.StatusOK, map[string]any{"fileBadges": updated})
}

func (s *Server) handleBadgesClear(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Files []string `json:"files"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.Files) == 0 {
		writeError(w, http.StatusBadRequest, "files is required")
		return
	}
	updated := s.store.ClearBadges(body.Files)
	writeJSON(w, http.StatusOK, map[string]any{"fileBadges": updated})
}

// handleSoundsDelete removes clips from disk. Deletions are best-effort per
// file; the response lists what was deleted and what failed.
func (s *Server) handleSoundsDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Files []string `json:"files"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.Files) == 0 {
		writeError(w, http.StatusBadRequest, "files is required")
		return
	}

	var deleted []string
	failed := map[string]string{}
	for _, f := range body.Files {
		if !validClipKey(f) || !s.lib.Exists(f) {
			failed[f] = "not found"
			continue
		}
		if err := os.Remove(s.lib.AbsPath(f)); err != nil {
			failed[f] = err.Error()
			continue
		}
		deleted = append(deleted, f)
	}
	slog.Info("clips deleted", "count", len(deleted), "failed", len(failed))
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "failed": failed})
}

// handleSoundsRename renames a clip within its folder. The new name is
// sanitized and keeps the original extension when none is given.
func (s *Server) handleSoundsRename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if !validClipKey(body.From) || !s.lib.Exists(body.From) {
		writeError(w, http.StatusNotFound, "clip not found")
		return
	}
	if strings.TrimSpace(body.To) == "" {
		writeError(w, http.StatusBadRequest, "to is required")
		return
	}

	name := discord.SanitizeFileName(body.To)
	if path.Ext(name) == "" {
		name += path.Ext(body.From)
	}
	if !catalog.IsAllowed(name) {
		writeError(w, http.StatusBadRequest, "new name must keep an mp3 or wav extension")
		return
	}

	toRel := name
	if folder := path.Dir(body.From); folder != "." {
		toRel = folder + "/" + name
	}
	if s.lib.Exists(toRel) {
		writeError(w, http.StatusConflict, "a clip with that name already exists")
		return
	}

	if err := os.Rename(s.lib.AbsPath(body.From), s.lib.AbsPath(toRel)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Info("clip renamed", "from", body.From, "to", toRel)
	writeJSON(w, http.StatusOK, map[string]string{"from": body.From, "to": toRel})
}

// validClipKey rejects keys that could escape the sounds directory.
func validClipKey(key string) bool {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return false
	}
	return !strings.Contains(key, "\\")
}
