package prompt

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	appLog "daybrief/internal/log"
)

// Key names a system prompt.
type Key string

const (
	Summarizer  Key = "summarizer"
	AddEvent    Key = "add_event"
	UpdateEvent Key = "update_event"
	CancelEvent Key = "cancel_event"
	Feedback    Key = "feedback"
)

// ErrNotFound is returned when a store has no text for a key.
var ErrNotFound = errors.New("prompt not found")

// extensions are tried in order when resolving a key to a file.
var extensions = []string{".md", ".txt"}

// Store resolves prompt keys to UTF-8 text.
type Store interface {
	Load(key Key) (string, error)
}

//go:embed defaults/*.md
var embedded embed.FS

// FSStore reads prompts from a file system, one file per key.
type FSStore struct {
	fsys fs.FS
	name string
}

// Embedded returns the store compiled into the binary.
func Embedded() *FSStore {
	sub, err := fs.Sub(embedded, "defaults")
	if err != nil {
		// The embed pattern above guarantees the directory exists.
		panic(err)
	}
	return &FSStore{fsys: sub, name: "embedded"}
}

// Dir returns a store reading <dir>/<key>.md or <dir>/<key>.txt.
func Dir(dir string) *FSStore {
	return &FSStore{fsys: os.DirFS(dir), name: dir}
}

// Load returns the prompt text for key.
func (s *FSStore) Load(key Key) (string, error) {
	if key == "" || strings.ContainsAny(string(key), `/\`) || strings.Contains(string(key), "..") {
		return "", fmt.Errorf("prompt %q: invalid key", key)
	}
	for _, ext := range extensions {
		data, err := fs.ReadFile(s.fsys, string(key)+ext)
		if err == nil {
			text := strings.TrimSpace(string(data))
			if text == "" {
				return "", fmt.Errorf("prompt %q in %s: file is empty", key, s.name)
			}
			return text, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("prompt %q in %s: %w", key, s.name, err)
		}
	}
	return "", fmt.Errorf("prompt %q in %s: %w", key, s.name, ErrNotFound)
}

// Layered tries each store in order and returns the first hit. It lets a
// prompts directory override only some of the embedded defaults.
type Layered []Store

func (l Layered) Load(key Key) (string, error) {
	var lastErr error = fmt.Errorf("prompt %q: %w", key, ErrNotFound)
	for _, s := range l {
		text, err := s.Load(key)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// FromConfig builds the store used by the CLI: dir overrides (if set) on top
// of the embedded defaults.
func FromConfig(dir string) Store {
	if dir == "" {
		return Embedded()
	}
	abs, err := filepath.Abs(dir)
	if err == nil {
		dir = abs
	}
	appLog.Info("using prompt directory", "dir", dir)
	return Layered{Dir(dir), Embedded()}
}
