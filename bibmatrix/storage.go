package bibmatrix

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/miku/authorkit/bibref"
	"github.com/segmentio/encoding/json"
)

// Storage persists matrix snapshots by name. Open must return an error
// matching fs.ErrNotExist if there is no snapshot under a name.
type Storage interface {
	Create(name string) (io.WriteCloser, error)
	Open(name string) (io.ReadCloser, error)
	Remove(name string) error
}

// aborter is implemented by writers that can discard a partial write.
type aborter interface {
	Abort() error
}

// document is the snapshot layout; only non empty slots are written.
type document struct {
	Name    string          `json:"name"`
	Bibs    []bibref.Record `json:"bibs"`
	Entries []entry         `json:"entries"`
}

type entry struct {
	K int   `json:"k"`
	V Value `json:"v"`
}

// Store writes a zstd compressed snapshot of the matrix.
func (m *Matrix) Store(s Storage) (err error) {
	w, err := s.Create(m.Name)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if a, ok := w.(aborter); ok {
				_ = a.Abort()
			}
		}
	}()
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	doc := document{Name: m.Name, Bibs: m.bibs}
	for k, v := range m.slots {
		if v.Kind != Empty {
			doc.Entries = append(doc.Entries, entry{K: k, V: v})
		}
	}
	if err := json.NewEncoder(enc).Encode(doc); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return w.Close()
}

// Load replaces the matrix content with the persisted snapshot. It returns
// false and no error if there is no snapshot.
func (m *Matrix) Load(s Storage) (bool, error) {
	r, err := s.Open(m.Name)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer r.Close()
	dec, err := zstd.NewReader(r)
	if err != nil {
		return false, err
	}
	defer dec.Close()
	var doc document
	if err := json.NewDecoder(dec).Decode(&doc); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorrupt, m.Name, err)
	}
	index := make(map[bibref.Record]int, len(doc.Bibs))
	for i, b := range doc.Bibs {
		index[b] = i
	}
	if len(index) != len(doc.Bibs) {
		return false, fmt.Errorf("%w: %s: duplicate signatures", ErrCorrupt, m.Name)
	}
	slots := make([]Value, Slots(len(doc.Bibs)))
	for _, e := range doc.Entries {
		if e.K < 0 || e.K >= len(slots) {
			return false, fmt.Errorf("%w: %s: slot %d out of range", ErrCorrupt, m.Name, e.K)
		}
		slots[e.K] = e.V
	}
	m.bibs, m.index, m.slots = doc.Bibs, index, slots
	return true, nil
}

// Destroy removes the persisted snapshot, if any.
func (m *Matrix) Destroy(s Storage) error {
	err := s.Remove(m.Name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// FileStore keeps one file per matrix name in a directory.
type FileStore struct {
	Dir string
}

func (s *FileStore) path(name string) string {
	name = strings.NewReplacer("/", "_", string(os.PathSeparator), "_").Replace(name)
	return filepath.Join(s.Dir, name+".json.zst")
}

// Create returns a writer that only becomes visible under the name on Close.
func (s *FileStore) Create(name string) (io.WriteCloser, error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return nil, err
	}
	dst := s.path(name)
	f, err := os.CreateTemp(s.Dir, filepath.Base(dst)+".tmp-*")
	if err != nil {
		return nil, err
	}
	return &atomicFile{File: f, dst: dst}, nil
}

func (s *FileStore) Open(name string) (io.ReadCloser, error) {
	return os.Open(s.path(name))
}

func (s *FileStore) Remove(name string) error {
	return os.Remove(s.path(name))
}

// atomicFile renames a temporary file into place on Close.
type atomicFile struct {
	*os.File
	dst string
}

func (f *atomicFile) Close() error {
	if err := f.File.Close(); err != nil {
		os.Remove(f.File.Name())
		return err
	}
	return os.Rename(f.File.Name(), f.dst)
}

func (f *atomicFile) Abort() error {
	f.File.Close()
	return os.Remove(f.File.Name())
}
