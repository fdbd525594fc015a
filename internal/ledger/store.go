package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/docledger/docledger/internal/model"
)

// Store is an ordered, append-only collection of ledger rows.
type Store interface {
	// Append adds rows after the existing ones in a single write.
	Append(rows []model.Row) error
	// ReadAll returns every row in insertion order.
	ReadAll() ([]model.Row, error)
	// Overwrite replaces the whole ledger. It is the only way to remove rows.
	Overwrite(rows []model.Row) error
}

// Dir is the workspace subdirectory holding ledger files.
const Dir = "ledgers"

// FileStore is a Store backed by a CSV file.
type FileStore struct {
	path string
}

// NewFileStore returns a store for the CSV file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the location of the ledger file.
func (s *FileStore) Path() string {
	return s.path
}

// Init creates the ledger file with its header if it does not exist.
func (s *FileStore) Init() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat ledger %s: %w", s.path, err)
	}
	return s.Overwrite(nil)
}

// Append writes rows to the end of the ledger, creating the file and header
// on first use. The rows go out in one write call.
func (s *FileStore) Append(rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating ledger dir: %w", err)
	}

	isNew := false
	if info, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		isNew = true
	} else if err != nil {
		return fmt.Errorf("stat ledger %s: %w", s.path, err)
	} else if info.Size() == 0 {
		isNew = true
	}

	data, err := EncodeRows(rows, isNew)
	if err != nil {
		return fmt.Errorf("encoding rows: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("appending rows: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing ledger: %w", err)
	}
	return nil
}

// ReadAll returns all rows. A missing ledger reads as empty.
func (s *FileStore) ReadAll() ([]model.Row, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", s.path, err)
	}
	defer f.Close()

	rows, err := ReadRows(f)
	if err != nil {
		return nil, fmt.Errorf("reading ledger %s: %w", s.path, err)
	}
	return rows, nil
}

// Overwrite replaces the ledger with rows. The new content is written to a
// temporary file and renamed into place.
func (s *FileStore) Overwrite(rows []model.Row) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating ledger dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteRows(tmp, rows); err != nil {
		tmp.Close()
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp ledger: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}

// Ledgers resolves the store for each direction inside a workspace.
type Ledgers struct {
	root   string
	stores map[model.Direction]*FileStore
}

// Open returns the ledgers of the workspace at root.
func Open(root string) *Ledgers {
	l := &Ledgers{root: root, stores: make(map[model.Direction]*FileStore)}
	for _, d := range model.Directions {
		l.stores[d] = NewFileStore(Path(root, d))
	}
	return l
}

// Path returns the ledger file for a direction.
func Path(root string, d model.Direction) string {
	return filepath.Join(root, Dir, string(d)+".csv")
}

// Store returns the store for direction d.
func (l *Ledgers) Store(d model.Direction) Store {
	return l.File(d)
}

// File returns the file-backed store for direction d.
func (l *Ledgers) File(d model.Direction) *FileStore {
	s, ok := l.stores[d]
	if !ok {
		s = NewFileStore(Path(l.root, d))
		l.stores[d] = s
	}
	return s
}

// Init creates every ledger file with its header.
func (l *Ledgers) Init() error {
	for _, d := range model.Directions {
		if err := l.File(d).Init(); err != nil {
			return err
		}
	}
	return nil
}
