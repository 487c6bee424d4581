package transport

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-memory Transport, used by tests that want a storage
// backend without touching the filesystem.
type Memory struct {
	mu    *sync.Mutex
	files map[string][]byte
	root  string
}

// NewMemory returns an empty in-memory transport.
func NewMemory() *Memory {
	return &Memory{mu: &sync.Mutex{}, files: make(map[string][]byte)}
}

func (m *Memory) key(p string) string {
	return path.Join(m.root, p)
}

func (m *Memory) CreateDir(_ context.Context, _ string) error {
	// Directories are implicit in the flat key space.
	return nil
}

func (m *Memory) List(_ context.Context, dir string) ([]DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := m.key(dir)
	if prefix != "" {
		prefix += "/"
	}
	seen := map[string]bool{}
	var out []DirEntry
	found := false
	for k := range m.files {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		found = true
		rest := k[len(prefix):]
		if rest == "" {
			continue
		}
		name := rest
		isDir := false
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name = rest[:i]
			isDir = true
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, DirEntry{Name: name, IsDir: isDir})
	}
	if !found {
		return nil, fmt.Errorf("list %q: %w", dir, fs.ErrNotExist)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Exists(_ context.Context, p string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(p)
	if _, ok := m.files[k]; ok {
		return true, nil
	}
	prefix := k + "/"
	for existing := range m.files {
		if strings.HasPrefix(existing, prefix) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ReadAll(_ context.Context, p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[m.key(p)]
	if !ok {
		return nil, fmt.Errorf("read %q: %w", p, fs.ErrNotExist)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) WriteFileAtomic(_ context.Context, p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.files[m.key(p)] = cp
	return nil
}

func (m *Memory) Delete(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(p)
	if _, ok := m.files[k]; !ok {
		return fmt.Errorf("delete %q: %w", p, fs.ErrNotExist)
	}
	delete(m.files, k)
	return nil
}

func (m *Memory) RemoveDirAll(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(p)
	delete(m.files, k)
	prefix := k + "/"
	for existing := range m.files {
		if strings.HasPrefix(existing, prefix) {
			delete(m.files, existing)
		}
	}
	return nil
}

func (m *Memory) Sub(p string) Transport {
	return &Memory{mu: m.mu, files: m.files, root: m.key(p)}
}
