package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"wisdomchat/pkg/api/handlers"
)

// NewRouter builds the authenticated /v1 API surface. Probes, metrics,
// docs and uploads are mounted by the app next to this router.
func NewRouter(d *handlers.Deps) http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	handlers.RegisterChats(v1, d)
	handlers.RegisterMessages(v1, d)
	handlers.RegisterBlocks(v1, d)
	handlers.RegisterFiles(v1, d)
	handlers.RegisterWS(v1, d)

	return r
}
