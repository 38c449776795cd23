package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"mechat/internal/models"
)

func newTestStorage(t *testing.T) *BboltStorage {
	t.Helper()
	store, err := NewBboltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStorage(t *testing.T) {
	store := newTestStorage(t)

	t.Run("Users", func(t *testing.T) {
		alice := DBUser{ID: "u1", Name: "Alice", Email: "Alice@Example.com", PasswordHash: "hash"}
		if err := store.CreateUser(alice); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}

		// Same email with different case must collide.
		err := store.CreateUser(DBUser{ID: "u9", Name: "Other", Email: "alice@example.com"})
		if !errors.Is(err, models.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}

		got, err := store.GetUserByEmail(" alice@EXAMPLE.com")
		if err != nil {
			t.Fatalf("GetUserByEmail failed: %v", err)
		}
		if got.ID != "u1" || got.PasswordHash != "hash" {
			t.Errorf("unexpected user: %+v", got)
		}

		if err := store.CreateUser(DBUser{ID: "u2", Name: "Bob", Email: "bob@example.com"}); err != nil {
			t.Fatalf("CreateUser bob failed: %v", err)
		}

		users, err := store.ListUsers()
		if err != nil {
			t.Fatalf("ListUsers failed: %v", err)
		}
		if len(users) != 2 || users[0].Name != "Alice" {
			t.Errorf("expected 2 users sorted by name, got %+v", users)
		}

		bob := users[1]
		bob.Pic = "/api/images/p1"
		bob.Email = "changed@example.com"
		if err := store.UpdateUser(bob); err != nil {
			t.Fatalf("UpdateUser failed: %v", err)
		}
		bob, _ = store.GetUser("u2")
		if bob.Pic != "/api/images/p1" || bob.Email != "bob@example.com" {
			t.Errorf("unexpected updated user: %+v", bob)
		}

		if _, err := store.GetUser("missing"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Chats", func(t *testing.T) {
		if err := store.UpsertChat(DBChat{ID: "c1", Name: "sender", UserIDs: []string{"u1", "u2"}, UpdatedAt: 1}); err != nil {
			t.Fatalf("UpsertChat failed: %v", err)
		}
		if err := store.UpsertChat(DBChat{ID: "c2", Name: "Group", IsGroup: true, UserIDs: []string{"u1", "u2", "u3"}, AdminID: "u1", UpdatedAt: 2}); err != nil {
			t.Fatalf("UpsertChat failed: %v", err)
		}
		if err := store.UpsertChat(DBChat{ID: "c3", UserIDs: []string{"u2", "u3"}, UpdatedAt: 3}); err != nil {
			t.Fatalf("UpsertChat failed: %v", err)
		}

		chats, err := store.ListChats("u1")
		if err != nil {
			t.Fatalf("ListChats failed: %v", err)
		}
		if len(chats) != 2 {
			t.Fatalf("expected 2 chats for u1, got %d", len(chats))
		}
		if chats[0].ID != "c2" {
			t.Errorf("expected most recent chat first, got %s", chats[0].ID)
		}
	})

	t.Run("Messages", func(t *testing.T) {
		now := time.Now().UnixNano()
		m1, err := store.CreateMessage(DBMessage{ID: "m1", ChatID: "c1", SenderID: "u1", Content: "hello", CreatedAt: now})
		if err != nil {
			t.Fatalf("CreateMessage 1 failed: %v", err)
		}
		m2, err := store.CreateMessage(DBMessage{ID: "m2", ChatID: "c1", SenderID: "u2", Content: "world", CreatedAt: now + 10})
		if err != nil {
			t.Fatalf("CreateMessage 2 failed: %v", err)
		}
		if m2.Seq <= m1.Seq {
			t.Errorf("expected increasing sequence, got %d then %d", m1.Seq, m2.Seq)
		}

		msgs, err := store.ListMessages("c1")
		if err != nil {
			t.Fatalf("ListMessages failed: %v", err)
		}
		if len(msgs) != 2 || msgs[0].Content != "hello" || msgs[1].Content != "world" {
			t.Errorf("unexpected history: %+v", msgs)
		}

		empty, err := store.ListMessages("c2")
		if err != nil || len(empty) != 0 {
			t.Errorf("expected empty history, got %v, %v", empty, err)
		}

		if _, err := store.CreateMessage(DBMessage{ID: "m3", ChatID: "nope"}); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown chat, got %v", err)
		}

		got, err := store.GetMessage("m2")
		if err != nil {
			t.Fatalf("GetMessage failed: %v", err)
		}
		if got.SenderID != "u2" {
			t.Errorf("unexpected message: %+v", got)
		}
	})

	t.Run("LatestMessage", func(t *testing.T) {
		if err := store.SetLatestMessage("c1", "m2"); err != nil {
			t.Fatalf("SetLatestMessage failed: %v", err)
		}
		chat, err := store.GetChat("c1")
		if err != nil {
			t.Fatalf("GetChat failed: %v", err)
		}
		if chat.LatestMessageID != "m2" {
			t.Errorf("expected latest m2, got %s", chat.LatestMessageID)
		}

		// c1 now has the newest activity.
		chats, _ := store.ListChats("u1")
		if chats[0].ID != "c1" {
			t.Errorf("expected c1 first after new message, got %s", chats[0].ID)
		}

		if err := store.SetLatestMessage("c2", "m1"); !errors.Is(err, models.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for foreign message, got %v", err)
		}
	})

	t.Run("Files", func(t *testing.T) {
		meta := FileMetadata{ID: "f1", Hash: "abc", MimeType: "image/png", Size: 3, UserID: "u1"}
		if err := store.UpsertFileMetadata(meta); err != nil {
			t.Fatalf("UpsertFileMetadata failed: %v", err)
		}
		got, err := store.GetFileMetadata("f1")
		if err != nil {
			t.Fatalf("GetFileMetadata failed: %v", err)
		}
		if got != meta {
			t.Errorf("expected %+v, got %+v", meta, got)
		}
		if _, err := store.GetFileMetadata("f2"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := store.UpsertFileMetadata(FileMetadata{ID: "f3"}); !errors.Is(err, models.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput without hash, got %v", err)
		}

		// A newer picture replaces the older ones of the same user only.
		for _, m := range []FileMetadata{
			{ID: "f2", Hash: "abc", UserID: "u1"},
			{ID: "f4", Hash: "def", UserID: "u2"},
		} {
			if err := store.UpsertFileMetadata(m); err != nil {
				t.Fatalf("UpsertFileMetadata failed: %v", err)
			}
		}
		if err := store.ReplaceUserFiles("u1", "f2"); err != nil {
			t.Fatalf("ReplaceUserFiles failed: %v", err)
		}
		files, err := store.ListFileMetadata("u1")
		if err != nil {
			t.Fatalf("ListFileMetadata failed: %v", err)
		}
		if len(files) != 1 || files[0].ID != "f2" {
			t.Errorf("expected only f2 for u1, got %+v", files)
		}
		if _, err := store.GetFileMetadata("f4"); err != nil {
			t.Errorf("other users' files must stay, got %v", err)
		}
		if err := store.DeleteFileMetadata("f1"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound for a deleted file, got %v", err)
		}
	})
}
