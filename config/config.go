// Package config handles the persisted, plaintext relays file (§6
// "Persisted state") and the fsnotify-based watch over the nsec and relays
// files that backs --exit-on-file-change; the nsec file itself is loaded
// and saved by the identity package. File-existence and
// directory-creation helpers are adapted from the teacher's
// utils/apputil.EnsureDir/FileExists.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"orly.dev/noxy/chk"
	"orly.dev/noxy/log"
	"orly.dev/noxy/relay"
)

// EnsureDir creates fileName's parent directory tree if it doesn't exist.
func EnsureDir(fileName string) error {
	dirName := filepath.Dir(fileName)
	if _, err := os.Stat(dirName); os.IsNotExist(err) {
		if err = os.MkdirAll(dirName, 0o700); chk.E(err) {
			return fmt.Errorf("create directory %s: %w", dirName, err)
		}
	}
	return nil
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadRelays reads whitespace-separated relay URLs from path, ignoring
// blank lines, per §6's relays-file format.
func LoadRelays(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open relays file: %w", err)
	}
	defer f.Close()

	var relays []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		for _, field := range strings.Fields(scanner.Text()) {
			if field != "" {
				relays = append(relays, field)
			}
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("read relays file: %w", err)
	}
	return relay.NormalizeURLs(relays), nil
}

// SaveRelays writes relays, one per line, creating parent directories as
// needed.
func SaveRelays(path string, relays []string) error {
	if err := EnsureDir(path); err != nil {
		return err
	}
	var b strings.Builder
	for _, r := range relays {
		b.WriteString(r)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write relays file: %w", err)
	}
	return nil
}

// ResolveRelays implements §6's `--relays-file` precedence rule: if the
// file exists and is non-empty, it overrides the CLI-supplied relays; else
// it is created from them.
func ResolveRelays(relaysFile string, cliRelays []string) ([]string, error) {
	cliRelays = relay.NormalizeURLs(cliRelays)
	if relaysFile == "" {
		return cliRelays, nil
	}
	if FileExists(relaysFile) {
		fromFile, err := LoadRelays(relaysFile)
		if err != nil {
			return nil, err
		}
		if len(fromFile) > 0 {
			return fromFile, nil
		}
	}
	if err := SaveRelays(relaysFile, cliRelays); err != nil {
		return nil, err
	}
	return cliRelays, nil
}

// Watcher watches the nsec and relays files (when non-empty) and signals on
// Changed when either is modified, backing --exit-on-file-change.
type Watcher struct {
	fsw     *fsnotify.Watcher
	Changed chan string
}

// NewWatcher starts watching any of the given non-empty, existing paths.
func NewWatcher(paths ...string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	w := &Watcher{fsw: fsw, Changed: make(chan string, 1)}
	for _, p := range paths {
		if p == "" || !FileExists(p) {
			continue
		}
		if err = fsw.Add(p); chk.E(err) {
			log.W.F("failed to watch %s: %v", p, err)
			continue
		}
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				select {
				case w.Changed <- ev.Name:
				default:
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.W.F("file watcher error: %v", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }
