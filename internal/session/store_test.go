package session

import (
	"testing"

	"github.com/nexushub/toolhub/internal/convo"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestCreateLoadSave(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Create("claude-test", "be helpful", 1024)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	record, err := store.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if record.Model != "claude-test" || len(record.Messages) != 0 {
		t.Fatalf("unexpected record: %+v", record)
	}

	messages := []convo.Message{convo.UserMessage("hello there")}
	if err := store.Save(id, messages); err != nil {
		t.Fatalf("Save: %v", err)
	}

	record, err = store.Load(id)
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}
	if len(record.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(record.Messages))
	}
	if record.Name != "hello there" {
		t.Fatalf("expected derived name, got %q", record.Name)
	}
}

func TestSaveTruncatesDerivedNameTo30Chars(t *testing.T) {
	store := newTestStore(t)
	id, err := store.Create("m", "s", 100)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	long := "this sentence is well over thirty characters long"
	if err := store.Save(id, []convo.Message{convo.UserMessage(long)}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	record, err := store.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := long[:30]
	if record.Name != want {
		t.Fatalf("got name %q, want %q", record.Name, want)
	}
}

func TestSaveTruncatesToMaxMessages(t *testing.T) {
	store := newTestStore(t)
	id, err := store.Create("m", "s", 100)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	messages := make([]convo.Message, MaxMessages+50)
	for i := range messages {
		messages[i] = convo.UserMessage("msg")
	}
	if err := store.Save(id, messages); err != nil {
		t.Fatalf("Save: %v", err)
	}

	record, err := store.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(record.Messages) != MaxMessages {
		t.Fatalf("got %d messages, want %d", len(record.Messages), MaxMessages)
	}
}

func TestDeleteAndNotFound(t *testing.T) {
	store := newTestStore(t)
	id, _ := store.Create("m", "s", 100)

	if err := store.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(id); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestClearHistoryKeepsHeader(t *testing.T) {
	store := newTestStore(t)
	id, _ := store.Create("model-x", "sys", 50)
	_ = store.Save(id, []convo.Message{convo.UserMessage("hi")})

	if err := store.ClearHistory(id); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	record, err := store.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(record.Messages) != 0 {
		t.Fatalf("expected empty transcript, got %d messages", len(record.Messages))
	}
	if record.Model != "model-x" {
		t.Fatalf("expected header preserved, got model=%q", record.Model)
	}
}

func TestDeleteAllAndListAll(t *testing.T) {
	store := newTestStore(t)
	id1, _ := store.Create("m", "s", 10)
	id2, _ := store.Create("m", "s", 10)

	list, err := store.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d entries, want 2", len(list))
	}

	if err := store.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if store.Exists(id1) || store.Exists(id2) {
		t.Fatalf("expected both sessions removed")
	}
}

func TestInvalidID(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Load("../escape"); err != ErrInvalidID {
		t.Fatalf("got %v, want ErrInvalidID", err)
	}
}
