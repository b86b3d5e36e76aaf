package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound indicates no session exists under the given id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoResult indicates the session has no classification result yet.
	ErrNoResult = errors.New("no classification result for session")

	// ErrImageExists indicates the session already holds its single image.
	ErrImageExists = errors.New("only one image allowed per session")
)

// SessionResult is the canonical persisted classification outcome. Later
// runs for the same session replace it entirely, never merge.
type SessionResult struct {
	AcneType       string    `json:"acne_type"`
	Confidence     float32   `json:"confidence"`
	Recommendation string    `json:"recommendation"`
	ClassifiedAt   time.Time `json:"classified_at"`
}

// Session is a user-scoped container holding at most one image and at most
// one classification result.
type Session struct {
	UID         string         `json:"uid"`
	SessionID   string         `json:"session_id"`
	SessionName string         `json:"session_name"`
	ImageURL    string         `json:"image_url,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Result      *SessionResult `json:"result,omitempty"`
}

// Store persists sessions and their classification results in BadgerDB.
// Every mutation runs in a single Badger update transaction, so writes to
// one session key are atomic with respect to concurrent reads and writes.
type Store struct {
	db *badger.DB
}

func Open(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func sessionKey(sessionID string) []byte {
	return []byte("session:" + sessionID)
}

func userKey(uid, sessionID string) []byte {
	return []byte("user:" + uid + ":" + sessionID)
}

// CreateSession creates a named session for a user and returns it.
func (s *Store) CreateSession(uid, sessionName string) (Session, error) {
	sess := Session{
		UID:         uid,
		SessionID:   uuid.NewString(),
		SessionName: sessionName,
		CreatedAt:   time.Now().UTC(),
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := writeSession(txn, sess); err != nil {
			return err
		}
		return txn.Set(userKey(uid, sess.SessionID), []byte(sess.SessionID))
	})
	if err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// GetSession returns the session under the given id.
func (s *Store) GetSession(sessionID string) (Session, error) {
	var sess Session
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		sess, err = readSession(txn, sessionID)
		return err
	})
	return sess, err
}

// ListSessions returns all sessions belonging to a user, in key order.
func (s *Store) ListSessions(uid string) ([]Session, error) {
	var sessions []Session
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte("user:" + uid + ":")
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var sessionID string
			if err := it.Item().Value(func(v []byte) error {
				sessionID = string(v)
				return nil
			}); err != nil {
				return err
			}
			sess, err := readSession(txn, sessionID)
			if err != nil {
				return err
			}
			sessions = append(sessions, sess)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session and its listing entry.
func (s *Store) DeleteSession(sessionID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		sess, err := readSession(txn, sessionID)
		if err != nil {
			return err
		}
		if err := txn.Delete(sessionKey(sessionID)); err != nil {
			return err
		}
		return txn.Delete(userKey(sess.UID, sessionID))
	})
}

// AttachImage registers the session's single image. The attach is scoped to
// the owning user: another user's session looks identical to a missing one.
// A second attach fails with ErrImageExists.
func (s *Store) AttachImage(uid, sessionID, imageURL string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		sess, err := readSession(txn, sessionID)
		if err != nil {
			return err
		}
		if sess.UID != uid {
			return ErrSessionNotFound
		}
		if sess.ImageURL != "" {
			return ErrImageExists
		}
		sess.ImageURL = imageURL
		return writeSession(txn, sess)
	})
}

// UpsertResult replaces the session's classification result (last write
// wins). Fails with ErrSessionNotFound if the session does not exist.
func (s *Store) UpsertResult(sessionID string, result SessionResult) error {
	return s.db.Update(func(txn *badger.Txn) error {
		sess, err := readSession(txn, sessionID)
		if err != nil {
			return err
		}
		sess.Result = &result
		return writeSession(txn, sess)
	})
}

// GetLatestResult returns the session's current result. A read issued after
// a successful UpsertResult observes the new value.
func (s *Store) GetLatestResult(sessionID string) (SessionResult, error) {
	var result SessionResult
	err := s.db.View(func(txn *badger.Txn) error {
		sess, err := readSession(txn, sessionID)
		if err != nil {
			return err
		}
		if sess.Result == nil {
			return ErrNoResult
		}
		result = *sess.Result
		return nil
	})
	return result, err
}

func readSession(txn *badger.Txn, sessionID string) (Session, error) {
	item, err := txn.Get(sessionKey(sessionID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}

	var sess Session
	if err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &sess)
	}); err != nil {
		return Session{}, fmt.Errorf("failed to decode session: %w", err)
	}
	return sess, nil
}

func writeSession(txn *badger.Txn, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return txn.Set(sessionKey(sess.SessionID), raw)
}
