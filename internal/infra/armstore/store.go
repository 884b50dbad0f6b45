// Package armstore persists bandit arm statistics as a JSON document.
package armstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"conductor/internal/domain/selector"
	"conductor/internal/infra/filestore"
	jsonx "conductor/internal/shared/json"
)

const fileVersion = 1

type document struct {
	Version   int            `json:"version"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Arms      []selector.Arm `json:"arms"`
}

// FileStore implements selector.Store on a single JSON file written atomically.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStore returns a store at path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: filestore.ResolvePath(path, ""), now: time.Now}
}

// Path returns the resolved file path.
func (s *FileStore) Path() string { return s.path }

// Load reads all arms. A missing file yields an empty map.
func (s *FileStore) Load() (map[string]selector.Arm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := filestore.ReadFileOrEmpty(s.path)
	if err != nil {
		return nil, fmt.Errorf("read arm state: %w", err)
	}
	arms := make(map[string]selector.Arm)
	if len(data) == 0 {
		return arms, nil
	}
	var doc document
	if err := jsonx.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode arm state %s: %w", s.path, err)
	}
	for _, arm := range doc.Arms {
		if arm.ID == "" {
			continue
		}
		arms[arm.ID] = arm
	}
	return arms, nil
}

// Save replaces the file with the given arms, sorted by id.
func (s *FileStore) Save(arms map[string]selector.Arm) error {
	list := make([]selector.Arm, 0, len(arms))
	for _, arm := range arms {
		list = append(list, arm)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := filestore.MarshalJSONIndent(document{Version: fileVersion, UpdatedAt: s.now().UTC(), Arms: list})
	if err != nil {
		return fmt.Errorf("encode arm state: %w", err)
	}
	if err := filestore.AtomicWrite(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write arm state: %w", err)
	}
	return nil
}

var _ selector.Store = (*FileStore)(nil)
