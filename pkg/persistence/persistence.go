// Package persistence stores small named state blobs (strategy runtime
// snapshots) across restarts.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// Service creates stores addressed by prefix/id/tag.
type Service interface {
	NewStore(prefix, id, tag string) Store
}

// Store saves and loads one JSON-encoded value.
type Store interface {
	Save(data any) error
	Load(data any) error
}

// ErrNotExists is returned by Load when nothing was saved under the key.
var ErrNotExists = fmt.Errorf("persistence: data not exists")

// JSONFileService persists each store as one JSON file under baseDir.
type JSONFileService struct {
	baseDir string
}

func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{baseDir: baseDir}
}

func (s *JSONFileService) NewStore(prefix, id, tag string) Store {
	return &jsonFileStore{
		service: s,
		key:     fmt.Sprintf("%s:%s:%s", prefix, id, tag),
	}
}

type jsonFileStore struct {
	service *JSONFileService
	key     string
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (s *jsonFileStore) filePath() string {
	safe := keySanitizer.ReplaceAllString(s.key, "_")
	return filepath.Join(s.service.baseDir, safe+".json")
}

func (s *jsonFileStore) Save(data any) error {
	if err := os.MkdirAll(s.service.baseDir, 0o755); err != nil {
		return err
	}
	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath(), buf, 0o644)
}

func (s *jsonFileStore) Load(data any) error {
	buf, err := os.ReadFile(s.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return err
	}
	return json.Unmarshal(buf, data)
}
