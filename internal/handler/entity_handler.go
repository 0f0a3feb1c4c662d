package handler

import (
	"net/http"

	"github.com/hitoshi/recall/internal/entity"
)

// resolveRequest はエンティティ正規化のリクエストボディ。
type resolveRequest struct {
	Mention string `json:"mention"`
}

// resolveResponse はエンティティ正規化のレスポンス。
type resolveResponse struct {
	Mention   string `json:"mention"`
	Canonical string `json:"canonical"`
	UserID    string `json:"user_id"`
}

// ResolveEntity は表記を正規形に変換して返す。ストアには触れない。
// POST /api/entity/resolve
func ResolveEntity(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, resolveResponse{
		Mention:   req.Mention,
		Canonical: entity.Canonicalize(req.Mention),
		UserID:    user.ID,
	})
}
