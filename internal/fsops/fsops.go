package fsops

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FS is an abstract filesystem used across the app and tests.
type FS interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	Stat(name string) (fs.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error

	Join(elem ...string) string
	Dir(name string) string
	Clean(name string) string
}

// ---------- OS-backed implementation ----------

type OS struct{}

func NewOS() OS { return OS{} }

func (OS) ReadFile(name string) ([]byte, error) { return os.ReadFile(filepath.Clean(name)) }
func (OS) WriteFile(name string, b []byte, p os.FileMode) error {
	return os.WriteFile(filepath.Clean(name), b, p)
}
func (OS) Stat(name string) (fs.FileInfo, error)     { return os.Stat(filepath.Clean(name)) }
func (OS) MkdirAll(path string, p os.FileMode) error { return os.MkdirAll(filepath.Clean(path), p) }
func (OS) Join(elem ...string) string                { return filepath.Join(elem...) }
func (OS) Dir(name string) string                    { return filepath.Dir(name) }
func (OS) Clean(name string) string                  { return filepath.Clean(name) }

// ---------- In-memory implementation (for tests/integration) ----------

type Mem struct{ Fs afero.Fs }

func NewMem() Mem { return Mem{Fs: afero.NewMemMapFs()} }

func (m Mem) ReadFile(name string) ([]byte, error) { return afero.ReadFile(m.Fs, filepath.Clean(name)) }
func (m Mem) WriteFile(name string, b []byte, p os.FileMode) error {
	return afero.WriteFile(m.Fs, filepath.Clean(name), b, p)
}
func (m Mem) Stat(name string) (fs.FileInfo, error) { return m.Fs.Stat(filepath.Clean(name)) }
func (m Mem) MkdirAll(path string, p os.FileMode) error {
	return m.Fs.MkdirAll(filepath.Clean(path), p)
}
func (Mem) Join(elem ...string) string { return filepath.Join(elem...) }
func (Mem) Dir(name string) string     { return filepath.Dir(name) }
func (Mem) Clean(name string) string   { return filepath.Clean(name) }

// ---------- High-level façade used by the CLI layer ----------

// Ops writes run artifacts for the CLI layer; substitute documents are read
// through the FS directly because their parsers take raw bytes.
type Ops struct{ FS FS }

func NewOps(fs FS) Ops { return Ops{FS: fs} }

// WriteJSON writes a pretty-printed JSON document, creating parent
// directories as needed. Files end with a trailing newline.
func (o Ops) WriteJSON(path string, value any) error {
	rendered, marshalErr := json.MarshalIndent(value, "", "    ")
	if marshalErr != nil {
		return marshalErr
	}
	if err := o.FS.MkdirAll(o.FS.Dir(path), 0o755); err != nil {
		return err
	}
	return o.FS.WriteFile(path, append(rendered, '\n'), 0o644)
}

// WriteBytes writes a raw file, creating parent directories as needed.
func (o Ops) WriteBytes(path string, content []byte) error {
	if err := o.FS.MkdirAll(o.FS.Dir(path), 0o755); err != nil {
		return err
	}
	return o.FS.WriteFile(path, content, 0o644)
}
