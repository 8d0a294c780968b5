package httpapi

import (
	"net/http"
	"os"

	"github.com/vtmuxd/vtmuxd/internal/apierr"
)

// handleRecording handles GET /api/sessions/{id}/recording (spec §6):
// streams the session's asciinema-v2-compatible transcript. http.
// ServeContent handles Range requests and conditional GETs so a client can
// resume a large download.
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	path, err := s.reg.RecordingPath(id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeAPIError(w, apierr.New(apierr.NotFound, "no recording for session %s", id))
		} else {
			writeAPIError(w, apierr.Wrap(apierr.IoError, err))
		}
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		writeAPIError(w, apierr.Wrap(apierr.IoError, err))
		return
	}

	w.Header().Set("Content-Type", "application/x-asciicast")
	http.ServeContent(w, r, id+".cast", stat.ModTime(), f)
}
