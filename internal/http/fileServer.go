package http

import (
	"io"
	"log"
	"net/http"

	"mechat/internal/api"
	"mechat/internal/filestore"
)

// NewImageHandler serves uploaded pictures by their public id.
func NewImageHandler(files filestore.FileStore, meta api.FileMetadataStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := meta.GetFileMetadata(r.PathValue("id"))
		if err != nil {
			http.NotFound(w, r)
			return
		}

		rc, err := files.Get(m.Hash)
		if err != nil {
			log.Printf("picture %s is missing from the file store: %v", m.ID, err)
			http.NotFound(w, r)
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", m.MimeType)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		// Content is addressed by hash and never changes.
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		if _, err := io.Copy(w, rc); err != nil {
			log.Printf("failed to send picture %s: %v", m.ID, err)
		}
	}
}
