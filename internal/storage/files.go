package storage

import (
	"errors"
	"fmt"

	"mechat/internal/models"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// FileMetadata describes an uploaded profile picture. ID is the public
// handle, Hash locates the bytes in the file store. Several uploads may
// share one hash.
type FileMetadata struct {
	ID        string `msgpack:"id"`
	Hash      string `msgpack:"hash"`
	MimeType  string `msgpack:"mimeType"`
	Size      int64  `msgpack:"size"`
	CreatedAt int64  `msgpack:"createdAt"`
	UserID    string `msgpack:"userId"`
}

func (f *FileMetadata) Key() []byte {
	return []byte(f.ID)
}

func (f *FileMetadata) MarshalBinary() (data []byte, err error) {
	type alias FileMetadata
	return msgpack.Marshal((*alias)(f))
}

func (f *FileMetadata) UnmarshalBinary(data []byte) error {
	type alias FileMetadata
	return msgpack.Unmarshal(data, (*alias)(f))
}

func (s *BboltStorage) UpsertFileMetadata(meta FileMetadata) error {
	if meta.ID == "" || meta.Hash == "" {
		return fmt.Errorf("%w: file id and hash are required", models.ErrInvalidInput)
	}
	data, err := meta.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal file metadata: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFiles).Put(meta.Key(), data)
	})
}

func (s *BboltStorage) GetFileMetadata(id string) (FileMetadata, error) {
	var meta FileMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("file %s: %w", id, models.ErrNotFound)
		}
		return meta.UnmarshalBinary(data)
	})
	return meta, err
}

// ListFileMetadata returns the uploads of one user in key order.
func (s *BboltStorage) ListFileMetadata(userID string) ([]FileMetadata, error) {
	var files []FileMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
			var meta FileMetadata
			if err := meta.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("file %s: %w", k, err)
			}
			if meta.UserID == userID {
				files = append(files, meta)
			}
			return nil
		})
	})
	return files, err
}

// DeleteFileMetadata forgets an upload. The bytes stay in the file store
// since other uploads may share the hash.
func (s *BboltStorage) DeleteFileMetadata(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("file %s: %w", id, models.ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

// ReplaceUserFiles deletes every upload of userID except keepID.
func (s *BboltStorage) ReplaceUserFiles(userID, keepID string) error {
	files, err := s.ListFileMetadata(userID)
	if err != nil {
		return err
	}
	var errs []error
	for _, f := range files {
		if f.ID == keepID {
			continue
		}
		if err := s.DeleteFileMetadata(f.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
