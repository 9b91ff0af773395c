package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/privmsg/relay/crypto/primitives"
	"github.com/privmsg/relay/relayerr"
	"github.com/privmsg/relay/storage"
)

type fileUploadResponse struct {
	FileID    string    `json:"file_id"`
	UploadURL *string   `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleFileUpload accepts a multipart upload ("file" and
// "encryption_key_hash" parts), enforces the configured max file size, and
// hands the payload bytes to the blob store while recording its metadata.
func (d Deps) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r)

	maxBytes := int64(d.Config.LimitsMaxFileSizeMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20) // a little slack for multipart boundary overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, relayerr.New(relayerr.CodeBadRequest, "malformed multipart body"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, relayerr.New(relayerr.CodeBadRequest, "missing file part"))
		return
	}
	defer file.Close()
	keyHash := r.FormValue("encryption_key_hash")
	if keyHash == "" {
		writeError(w, relayerr.New(relayerr.CodeBadRequest, "missing encryption_key_hash part"))
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeIoError, "failed to read upload", err))
		return
	}
	if int64(len(data)) > maxBytes {
		writeError(w, relayerr.New(relayerr.CodeFileTooLarge, fmt.Sprintf("file exceeds %d MB limit", d.Config.LimitsMaxFileSizeMB)))
		return
	}

	fileID, err := primitives.GenerateFileID()
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeInternal, "failed to generate file id", err))
		return
	}
	if err := d.Blobs.Write(fileID, data); err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeIoError, "failed to store file", err))
		return
	}

	now := time.Now().UTC()
	rec := storage.FileRecord{
		FileID:            fileID,
		UploaderID:        auth.UserID,
		FileName:          header.Filename,
		FileSize:          int64(len(data)),
		MimeType:          header.Header.Get("Content-Type"),
		EncryptionKeyHash: keyHash,
		CreatedAt:         now,
		ExpiresAt:         now.Add(d.Config.MaxFileAge()),
	}
	if err := d.Store.CreateFileMetadata(rec); err != nil {
		_ = d.Blobs.Delete(fileID)
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to store file metadata", err))
		return
	}
	d.Observer.FileUploaded(rec.FileSize)

	writeJSON(w, http.StatusOK, fileUploadResponse{FileID: fileID, UploadURL: nil, ExpiresAt: rec.ExpiresAt})
}

func (d Deps) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("id")
	rec, err := d.Store.GetFileMetadata(fileID)
	if errors.Is(err, storage.ErrFileNotFound) {
		writeError(w, relayerr.New(relayerr.CodeNotFound, "file not found"))
		return
	}
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to load file metadata", err))
		return
	}
	data, err := d.Blobs.Read(fileID)
	if err != nil {
		writeError(w, relayerr.Wrap(relayerr.CodeIoError, "failed to read file", err))
		return
	}
	if err := d.Store.IncrementDownloadCount(fileID); err != nil {
		d.Logger.Error("increment download count", "error", err, "file_id", fileID)
	}
	d.Observer.FileDownloaded()

	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("X-Encryption-Key-Hash", rec.EncryptionKeyHash)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (d Deps) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r)
	fileID := r.PathValue("id")
	err := d.Store.DeleteFileMetadata(fileID, auth.UserID)
	switch {
	case errors.Is(err, storage.ErrFileNotFound):
		writeError(w, relayerr.New(relayerr.CodeNotFound, "file not found"))
		return
	case errors.Is(err, storage.ErrNotUploader):
		writeError(w, relayerr.New(relayerr.CodeForbidden, "only the uploader may delete this file"))
		return
	case err != nil:
		writeError(w, relayerr.Wrap(relayerr.CodeDatabaseError, "failed to delete file", err))
		return
	}
	if err := d.Blobs.Delete(fileID); err != nil {
		d.Logger.Error("delete file blob", "error", err, "file_id", fileID)
	}
	w.WriteHeader(http.StatusNoContent)
}
