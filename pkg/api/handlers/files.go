package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"wisdomchat/pkg/logger"
	"wisdomchat/pkg/utils"
)

// RegisterFiles registers the attachment upload route. Stored files are
// served separately from /uploads/.
func RegisterFiles(r *mux.Router, d *Deps) {
	r.HandleFunc("/files", d.uploadFile).Methods(http.MethodPost)
}

// uploadFile handles multipart uploads. The attachment record returned
// here is what clients embed in a subsequent send.
func (d *Deps) uploadFile(w http.ResponseWriter, r *http.Request) {
	if d.Files == nil {
		utils.JSONError(w, http.StatusServiceUnavailable, "uploads not configured")
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "multipart field 'file' required")
		return
	}
	defer f.Close()

	att, err := d.Files.Save(hdr.Filename, f)
	if err != nil {
		logger.Warn("upload_failed", "file", hdr.Filename, "error", err)
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.JSONWrite(w, http.StatusCreated, att)
}
