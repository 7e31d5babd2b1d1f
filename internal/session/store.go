package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// UsageStore 持久化免费用量计数，唯一的跨重启状态
type UsageStore interface {
	Load() (int, error)
	Save(count int) error
}

type usageRecord struct {
	UsageCount int `json:"usageCount"`
}

// FileStore 把计数存在单个JSON文件里
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (int, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	var rec usageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, err
	}
	return rec.UsageCount, nil
}

func (s *FileStore) Save(count int) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(usageRecord{UsageCount: count})
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// MemStore 内存计数，测试用
type MemStore struct {
	mu    sync.Mutex
	count int
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Load() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, nil
}

func (s *MemStore) Save(count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = count
	return nil
}
