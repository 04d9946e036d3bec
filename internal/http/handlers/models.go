package handlers

import (
	"net/http"
	"sort"

	"genbot/internal/domain"
)

func (a *App) ListModels(w http.ResponseWriter, r *http.Request) {
	models := append([]domain.ModelSpec(nil), a.Catalog.List()...)
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	a.json(w, http.StatusOK, map[string]any{"items": models})
}
