// Package session implements the durable, file-per-session transcript
// store: one JSON file per session under a configured directory, atomic
// writes, and a bounded message history. Grounded on
// internal/pairing.Store's read/write-temp-then-rename pattern, generalized
// from a channel-keyed store to a session-id-keyed one.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexushub/toolhub/internal/convo"
)

// MaxMessages is the transcript length a session is truncated to on save,
// keeping only the most recent entries.
const MaxMessages = 1000

// Record is the on-disk shape of a session: header fields plus the message
// transcript, matching the Python prototype's sessions.py JSON layout.
type Record struct {
	SessionID string         `json:"session_id"`
	Name      string         `json:"name"`
	Model     string         `json:"model"`
	System    string         `json:"system"`
	MaxTokens int            `json:"max_tokens"`
	CreatedAt time.Time      `json:"created_at"`
	Messages  []convo.Message `json:"messages"`
}

// Metadata is the summary shape returned by ListAll.
type Metadata struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	Model        string    `json:"model"`
	System       string    `json:"system"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

// defaultNamePrefix is used to name a session until its first user message
// lets us derive a friendlier name.
const defaultNamePrefix = "Agent-"

// Store is a file-per-session durable store. Every mutating operation on a
// given session id is serialized through that session's own RWMutex, so
// concurrent Save calls for the same id cannot interleave their
// read-modify-write cycles.
type Store struct {
	dir    string
	logger *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.RWMutex
}

// New constructs a Store rooted at dir, creating it if necessary.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: create directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With("component", "session.Store"),
		locks:  make(map[string]*sync.RWMutex),
	}, nil
}

func (s *Store) lockFor(id string) *sync.RWMutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.RWMutex{}
		s.locks[id] = lock
	}
	return lock
}

func validID(id string) bool {
	if id == "" {
		return false
	}
	return !strings.ContainsAny(id, "/\\.")
}

func (s *Store) path(id string) (string, error) {
	if !validID(id) {
		return "", ErrInvalidID
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// Create initializes a new session and returns its id.
func (s *Store) Create(model, system string, maxTokens int) (string, error) {
	id := uuid.New().String()
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	record := &Record{
		SessionID: id,
		Name:      defaultNamePrefix + id[:4],
		Model:     model,
		System:    system,
		MaxTokens: maxTokens,
		CreatedAt: time.Now().UTC(),
		Messages:  []convo.Message{},
	}
	if err := s.write(id, record); err != nil {
		return "", err
	}
	return id, nil
}

// Load reads a session's full record, including its transcript.
func (s *Store) Load(id string) (*Record, error) {
	lock := s.lockFor(id)
	lock.RLock()
	defer lock.RUnlock()
	return s.read(id)
}

// Save persists conv's current message transcript into the session's
// record, truncating to the most recent MaxMessages entries, and
// auto-deriving a friendlier session name from the first user message if
// the session still carries its default name.
func (s *Store) Save(id string, messages []convo.Message) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.read(id)
	if err != nil {
		return err
	}

	if len(messages) > MaxMessages {
		messages = messages[len(messages)-MaxMessages:]
	}
	record.Messages = messages

	if strings.HasPrefix(record.Name, defaultNamePrefix) {
		if name := firstUserText(messages); name != "" {
			record.Name = truncateName(name)
		}
	}

	return s.write(id, record)
}

// Get returns a session's header metadata plus message count without the
// caller needing the full Record type.
func (s *Store) Get(id string) (*Metadata, error) {
	lock := s.lockFor(id)
	lock.RLock()
	defer lock.RUnlock()

	record, err := s.read(id)
	if err != nil {
		return nil, err
	}
	return recordMetadata(record), nil
}

// ListAll returns metadata for every session on disk, sorted by id.
func (s *Store) ListAll() ([]*Metadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)

	out := make([]*Metadata, 0, len(ids))
	for _, id := range ids {
		lock := s.lockFor(id)
		lock.RLock()
		record, err := s.read(id)
		lock.RUnlock()
		if err != nil {
			s.logger.Warn("skipping unreadable session file", "session_id", id, "error", err)
			continue
		}
		out = append(out, recordMetadata(record))
	}
	return out, nil
}

// Delete removes a single session's file.
func (s *Store) Delete(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return &StorageError{Op: "delete", ID: id, Err: err}
	}
	return nil
}

// DeleteAll removes every session file in the store.
func (s *Store) DeleteAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("session: delete all: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if err := s.Delete(id); err != nil && err != ErrNotFound {
			return err
		}
	}
	return nil
}

// ClearHistory truncates a session's transcript to empty while keeping its
// header fields (model/system/name/created_at) intact.
func (s *Store) ClearHistory(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.read(id)
	if err != nil {
		return err
	}
	record.Messages = []convo.Message{}
	return s.write(id, record)
}

// Exists reports whether a session file is present.
func (s *Store) Exists(id string) bool {
	path, err := s.path(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (s *Store) read(id string) (*Record, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "read", ID: id, Err: err}
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, &StorageError{Op: "unmarshal", ID: id, Err: err}
	}
	return &record, nil
}

func (s *Store) write(id string, record *Record) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return &StorageError{Op: "marshal", ID: id, Err: err}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return &StorageError{Op: "write", ID: id, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &StorageError{Op: "rename", ID: id, Err: err}
	}
	return nil
}

func recordMetadata(r *Record) *Metadata {
	return &Metadata{
		SessionID:    r.SessionID,
		Name:         r.Name,
		Model:        r.Model,
		System:       r.System,
		CreatedAt:    r.CreatedAt,
		MessageCount: len(r.Messages),
	}
}

func firstUserText(messages []convo.Message) string {
	for _, msg := range messages {
		if msg.Role == convo.RoleUser && msg.Content.IsString() {
			return *msg.Content.Text
		}
	}
	return ""
}

func truncateName(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	const maxLen = 30
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen]
}
