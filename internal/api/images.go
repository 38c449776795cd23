package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"mechat/internal/storage"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const (
	MaxPicSize = 5 << 20
	// filetype needs at most this many bytes to recognize a format
	sniffLen = 261
)

// ImagePath is where an uploaded picture is served from.
func ImagePath(id string) string {
	return "/api/images/" + id
}

func (a *API) UploadPicHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxPicSize+64<<10)
	if err := r.ParseMultipartForm(MaxPicSize); err != nil {
		writeError(w, http.StatusBadRequest, "Picture is too large or the form is malformed")
		return
	}

	file, header, err := r.FormFile("pic")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing pic file")
		return
	}
	defer file.Close()

	if header.Size > MaxPicSize {
		writeError(w, http.StatusBadRequest, "Picture is too large")
		return
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		writeError(w, http.StatusBadRequest, "Failed to read picture")
		return
	}
	head = head[:n]
	if !filetype.IsImage(head) {
		writeError(w, http.StatusBadRequest, "File is not a supported image")
		return
	}
	kind, err := filetype.Match(head)
	if err != nil {
		writeError(w, http.StatusBadRequest, "File is not a supported image")
		return
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		writeErr(w, err)
		return
	}
	hash, err := a.files.Save(file)
	if err != nil {
		writeErr(w, err)
		return
	}

	userID := UserID(r.Context())
	meta := storage.FileMetadata{
		ID:        uuid.NewString(),
		Hash:      hash,
		MimeType:  kind.MIME.Value,
		Size:      header.Size,
		CreatedAt: time.Now().Unix(),
		UserID:    userID,
	}
	if err := a.meta.UpsertFileMetadata(meta); err != nil {
		writeErr(w, err)
		return
	}

	user, err := a.auth.SetPic(userID, ImagePath(meta.ID))
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := a.meta.ReplaceUserFiles(userID, meta.ID); err != nil {
		log.Printf("failed to forget previous pictures of user %s: %v", userID, err)
	}
	log.Printf("user %s uploaded picture %s (%s, %d bytes)", userID, meta.ID, meta.MimeType, meta.Size)
	writeJSON(w, http.StatusOK, user)
}
