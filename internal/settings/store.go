// Package settings reads and edits the env file behind the admin settings
// screen. Edits are versioned and only reach the running process after a
// restart reloads the configuration.
package settings

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// VersionKey holds the settings version inside the env file.
const VersionKey = "SETTINGS_VERSION"

const mask = "****"

var ErrUnknownKey = errors.New("setting cannot be edited")

// Snapshot is the masked view of the env file.
type Snapshot struct {
	Settings map[string]string `json:"settings"`
	Version  int               `json:"version"`
}

type Store struct {
	mu      sync.Mutex
	path    string
	allowed map[string]bool
}

// New returns a Store over the env file at path that exposes and accepts only
// the given keys.
func New(path string, keys []string) *Store {
	allowed := make(map[string]bool, len(keys))
	for _, k := range keys {
		allowed[k] = true
	}
	return &Store{path: path, allowed: allowed}
}

func (s *Store) Path() string { return s.path }

// Keys returns the editable keys, sorted.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.allowed))
	for k := range s.allowed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) read() (map[string]string, error) {
	env, err := godotenv.Read(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	return env, nil
}

func version(env map[string]string) int {
	v, err := strconv.Atoi(env[VersionKey])
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// Read returns the editable settings currently in the file, secrets masked.
func (s *Store) Read() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(s.allowed))
	for k, v := range env {
		if !s.allowed[k] {
			continue
		}
		if Secret(k) {
			v = Mask(v)
		}
		out[k] = v
	}
	return &Snapshot{Settings: out, Version: version(env)}, nil
}

// Update merges changes into the file and returns the new version. Any key
// outside the editable set rejects the whole update. Secret values still
// carrying the mask are ignored. The previous file is kept next to it as
// <path>.<old version>.
func (s *Store) Update(changes map[string]string) (int, error) {
	var err error
	for k := range changes {
		if !s.allowed[k] {
			err = multierr.Append(err, fmt.Errorf("%w: %s", ErrUnknownKey, k))
		}
	}
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.read()
	if err != nil {
		return 0, err
	}
	current := version(env)
	if err := s.backup(current); err != nil {
		return 0, err
	}

	for k, v := range changes {
		v = strings.TrimSpace(v)
		// A masked value sent back unchanged keeps the stored secret.
		if Secret(k) && strings.HasSuffix(v, mask) {
			continue
		}
		env[k] = v
	}
	next := current + 1
	env[VersionKey] = strconv.Itoa(next)

	if err := godotenv.Write(env, s.path); err != nil {
		return 0, fmt.Errorf("writing %s: %w", s.path, err)
	}
	return next, nil
}

func (s *Store) backup(ver int) (err error) {
	src, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.path, err)
	}
	defer src.Close()

	name := s.path + "." + strconv.Itoa(ver)
	dst, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating backup %s: %w", name, err)
	}
	defer func() { err = multierr.Append(err, dst.Close()) }()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copying backup %s: %w", name, err)
	}
	return nil
}

// Secret reports whether the value of key must not be shown in clear.
func Secret(key string) bool {
	return strings.HasSuffix(key, "_KEY") ||
		strings.HasSuffix(key, "_SECRET") ||
		strings.HasSuffix(key, "PASSWORD") ||
		key == "DATABASE_URL"
}

// Mask keeps the first four characters of v. Values that short are hidden
// entirely.
func Mask(v string) string {
	r := []rune(v)
	if len(r) <= 4 {
		return mask
	}
	return string(r[:4]) + mask
}
