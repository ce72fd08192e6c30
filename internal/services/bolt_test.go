package services_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MegaGrindStone/bfchat/internal/models"
	"github.com/MegaGrindStone/bfchat/internal/services"
)

func newBoltDB(t *testing.T) services.BoltDB {
	t.Helper()

	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("NewBoltDB() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBoltDBHistoryOrder(t *testing.T) {
	db := newBoltDB(t)
	ctx := context.Background()

	// More than ten entries so that a lexical key order would show up as a bug.
	var want []models.Message
	for i := range 12 {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msg := models.Message{Role: role, Content: string(rune('a' + i))}
		want = append(want, msg)
		if err := db.AddMessage(ctx, "s1", msg); err != nil {
			t.Fatalf("AddMessage() error = %v", err)
		}
	}

	got, err := db.History(ctx, "s1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestBoltDBHistoryUnknownSession(t *testing.T) {
	db := newBoltDB(t)

	got, err := db.History(context.Background(), "missing")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("History() = %#v, want empty non-nil slice", got)
	}
}

func TestBoltDBClearFileContexts(t *testing.T) {
	db := newBoltDB(t)
	ctx := context.Background()

	if err := db.AddMessage(ctx, "s1", models.Message{Role: models.RoleUser, Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	notice := models.Message{Role: models.RoleSystem, Content: "📎 a.txt uploaded and added to context."}
	fc := models.FileContext{SessionID: "s1", Filename: "a.txt", Content: "alpha"}
	if err := db.AddFileContext(ctx, fc, notice); err != nil {
		t.Fatalf("AddFileContext() error = %v", err)
	}
	if err := db.AddMessage(ctx, "s1", models.Message{Role: models.RoleAssistant, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := db.AddFileContext(ctx, models.FileContext{SessionID: "s2", Filename: "b.txt"}, notice); err != nil {
		t.Fatal(err)
	}

	files, err := db.FileContexts(ctx, "s1")
	if err != nil {
		t.Fatalf("FileContexts() error = %v", err)
	}
	if len(files) != 1 || files[0].Filename != "a.txt" || files[0].ID == "" {
		t.Fatalf("FileContexts() = %+v, want one a.txt entry with an id", files)
	}

	if err := db.ClearFileContexts(ctx, "s1"); err != nil {
		t.Fatalf("ClearFileContexts() error = %v", err)
	}

	files, err = db.FileContexts(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("FileContexts() after clear = %+v, want none", files)
	}

	history, err := db.History(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	want := []models.Message{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi"},
	}
	if len(history) != len(want) {
		t.Fatalf("History() after clear = %+v, want %+v", history, want)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, history[i], want[i])
		}
	}

	other, err := db.FileContexts(ctx, "s2")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 1 {
		t.Errorf("other session files = %+v, want untouched", other)
	}
}

func TestBoltDBClearWithoutFiles(t *testing.T) {
	db := newBoltDB(t)

	if err := db.ClearFileContexts(context.Background(), "nothing"); err != nil {
		t.Errorf("ClearFileContexts() error = %v, want nil", err)
	}
}

func TestBoltDBPruneSessions(t *testing.T) {
	db := newBoltDB(t)
	ctx := context.Background()

	msg := models.Message{Role: models.RoleUser, Content: "hi"}
	if err := db.AddMessage(ctx, "old", msg); err != nil {
		t.Fatal(err)
	}
	fc := models.FileContext{SessionID: "old", Filename: "a.txt", Content: "a"}
	if err := db.AddFileContext(ctx, fc, models.Message{Role: models.RoleSystem, Content: "📎 a.txt uploaded"}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(5 * time.Millisecond)

	if err := db.AddMessage(ctx, "fresh", msg); err != nil {
		t.Fatal(err)
	}

	sessions, err := db.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sessions) != 2 || !sessions["old"].Before(cutoff) || sessions["fresh"].Before(cutoff) {
		t.Fatalf("Sessions() = %v, want old before and fresh after %v", sessions, cutoff)
	}

	n, err := db.PruneSessions(ctx, cutoff)
	if err != nil {
		t.Fatalf("PruneSessions() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PruneSessions() = %d, want 1", n)
	}

	if history, _ := db.History(ctx, "old"); len(history) != 0 {
		t.Errorf("History(old) = %+v, want empty", history)
	}
	if files, _ := db.FileContexts(ctx, "old"); len(files) != 0 {
		t.Errorf("FileContexts(old) = %+v, want empty", files)
	}
	if history, _ := db.History(ctx, "fresh"); len(history) != 1 {
		t.Errorf("History(fresh) = %+v, want the message kept", history)
	}

	sessions, err = db.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if _, ok := sessions["old"]; ok || len(sessions) != 1 {
		t.Errorf("Sessions() after prune = %v, want only fresh", sessions)
	}
}

func TestBoltKV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.db")
	kv, err := services.NewBoltKV(path)
	if err != nil {
		t.Fatalf("NewBoltKV() error = %v", err)
	}

	if _, ok, err := kv.Get("bf_session_id"); err != nil || ok {
		t.Fatalf("Get() on empty store = ok %v, err %v; want absent", ok, err)
	}
	if err := kv.Set("bf_session_id", "s1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatal(err)
	}

	// Values survive reopening the file.
	kv, err = services.NewBoltKV(path)
	if err != nil {
		t.Fatal(err)
	}
	defer kv.Close()

	v, ok, err := kv.Get("bf_session_id")
	if err != nil || !ok || v != "s1" {
		t.Fatalf("Get() = %q, %v, %v; want s1, true, nil", v, ok, err)
	}

	if err := kv.Delete("bf_session_id"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := kv.Get("bf_session_id"); ok {
		t.Error("Get() after Delete() should report absent")
	}
	if err := kv.Delete("bf_session_id"); err != nil {
		t.Errorf("Delete() of absent key error = %v", err)
	}
}
