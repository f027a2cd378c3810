// Package storage keeps the records of finished sessions on disk.
// Records are encrypted at rest using NaCl secretbox.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/MrCodeEU/facecheck/pkg/facematch"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/session"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32

	recordsDir = "sessions"
)

// SessionRecord is the persisted outcome of one session. The captured image
// is never stored.
type SessionRecord struct {
	ID         string              `json:"id"`
	Mode       string              `json:"mode"`
	Status     session.Status      `json:"status"`
	Reason     session.Reason      `json:"reason,omitempty"`
	Score      float64             `json:"score"`
	AIVerified bool                `json:"ai_verified"`
	FaceMatch  *facematch.Decision `json:"face_match,omitempty"`
	Ticks      int                 `json:"ticks"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Metadata   map[string]string   `json:"metadata,omitempty"`
}

// NewRecord builds the record of a finished session.
func NewRecord(res *session.Result, mode string) SessionRecord {
	rec := SessionRecord{
		ID:         res.SessionID,
		Mode:       mode,
		Status:     res.Status,
		FaceMatch:  res.FaceMatch,
		Ticks:      res.Ticks,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Failure != nil {
		rec.Reason = res.Failure.Reason
	}
	if res.Capture != nil {
		rec.Score = res.Capture.LivenessScore
		rec.AIVerified = res.Capture.AIVerified
	}
	return rec
}

// ErrRecordNotFound is returned when no record exists for an id.
var ErrRecordNotFound = errors.New("session record not found")

// ErrInvalidID is returned for ids that are not session ids.
var ErrInvalidID = errors.New("invalid session id")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// FileStorage stores one file per session record.
type FileStorage struct {
	dataDir           string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewFileStorage creates a new FileStorage instance.
func NewFileStorage(dataDir string, encryptionEnabled bool) (*FileStorage, error) {
	fs := &FileStorage{
		dataDir:           dataDir,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		fs.encryptionKey = deriveKey()
	}

	if err := os.MkdirAll(filepath.Join(dataDir, recordsDir), 0700); err != nil {
		return nil, fmt.Errorf("failed to create records directory: %w", err)
	}

	return fs, nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the encrypted records to this specific machine.
func deriveKey() [KeySize]byte {
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("facecheck-v1-salt")

	return sha256.Sum256([]byte(identity.String()))
}

func (fs *FileStorage) recordPath(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	filename := id + ".json"
	if fs.encryptionEnabled {
		filename = id + ".enc"
	}
	return filepath.Join(fs.dataDir, recordsDir, filename), nil
}

// Save writes a record, replacing any earlier record with the same id.
func (fs *FileStorage) Save(rec SessionRecord) error {
	path, err := fs.recordPath(rec.ID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt record: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	logging.Debugf("Saved session record: %s", rec.ID)
	return nil
}

// Load reads the record with the given id.
func (fs *FileStorage) Load(id string) (*SessionRecord, error) {
	path, err := fs.recordPath(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt record: %w", err)
		}
	}

	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// Delete removes a record.
func (fs *FileStorage) Delete(id string) error {
	path, err := fs.recordPath(id)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("failed to delete record: %w", err)
	}

	logging.Infof("Deleted session record: %s", id)
	return nil
}

// List returns the ids of all stored records, oldest file first.
func (fs *FileStorage) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(fs.dataDir, recordsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	ext := ".json"
	if fs.encryptionEnabled {
		ext = ".enc"
	}

	type item struct {
		id  string
		mod time.Time
	}
	var items []item
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, item{strings.TrimSuffix(entry.Name(), ext), info.ModTime()})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].mod.Before(items[j].mod) })

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.id)
	}
	return ids, nil
}

// Exists checks if a record is stored.
func (fs *FileStorage) Exists(id string) bool {
	path, err := fs.recordPath(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// encrypt encrypts data using NaCl secretbox.
func (fs *FileStorage) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &fs.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (fs *FileStorage) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
