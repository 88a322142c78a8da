package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	apperrors "chanlun-engine/internal/errors"
	"chanlun-engine/internal/models"
)

// fileDocument is the on-disk layout: one record per instrument code.
type fileDocument struct {
	States map[string]*models.ChanState `json:"states"`
}

// FileStore keeps every instrument's state in one JSON document. Writes go
// to a temporary file that is renamed over the target. Serialisation is
// per process; separate processes sharing a file should use sqlite.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a FileStore at path, creating the parent directory.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, apperrors.NewStoreError(BackendFile, "open", "", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Backend() string { return BackendFile }

// Path returns the document location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) read() (*fileDocument, error) {
	doc := &fileDocument{States: make(map[string]*models.ChanState)}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	if doc.States == nil {
		doc.States = make(map[string]*models.ChanState)
	}
	return doc, nil
}

func (s *FileStore) write(doc *fileDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

func (s *FileStore) Load(ctx context.Context, code string) (*models.ChanState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, apperrors.NewStoreError(BackendFile, "load", code, err)
	}
	if st, ok := doc.States[code]; ok && st != nil {
		return st.Clone(), nil
	}
	return models.NewChanState(code), nil
}

func (s *FileStore) Update(ctx context.Context, code string, fn func(*models.ChanState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return apperrors.NewStoreError(BackendFile, "load", code, err)
	}
	current, ok := doc.States[code]
	if !ok || current == nil {
		current = models.NewChanState(code)
	}
	next, err := runUpdate(code, current, fn)
	if err != nil {
		return err
	}
	doc.States[code] = next
	if err := s.write(doc); err != nil {
		return apperrors.NewStoreError(BackendFile, "save", code, err)
	}
	return nil
}

func (s *FileStore) Save(ctx context.Context, state *models.ChanState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return apperrors.NewStoreError(BackendFile, "load", state.Code, err)
	}
	doc.States[state.Code] = state.Clone()
	if err := s.write(doc); err != nil {
		return apperrors.NewStoreError(BackendFile, "save", state.Code, err)
	}
	return nil
}

func (s *FileStore) Codes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, apperrors.NewStoreError(BackendFile, "codes", "", err)
	}
	codes := make([]string, 0, len(doc.States))
	for code := range doc.States {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

func (s *FileStore) Close() error { return nil }
