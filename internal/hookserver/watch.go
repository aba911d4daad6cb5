package hookserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
)

// SessionFileWatcher tails the assistant's own transcript file so a
// resumable session id can be recovered even if the hook POST that would
// normally carry a SessionIDRotated event never arrives (relay offline,
// hook server unreachable, child killed before flushing the hook).
type SessionFileWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	onID    func(sessionID string)
}

func NewSessionFileWatcher(path string, onID func(sessionID string)) (*SessionFileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	return &SessionFileWatcher{path: path, watcher: w, onID: onID}, nil
}

// Run blocks, dispatching onID on every write until Close is called.
func (w *SessionFileWatcher) Run() {
	for event := range w.watcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			continue
		}
		if id, ok := lastSessionIDInFile(w.path); ok {
			w.onID(id)
		}
	}
}

func (w *SessionFileWatcher) Close() error { return w.watcher.Close() }

type transcriptLine struct {
	SessionID string `json:"session_id"`
}

// lastSessionIDInFile scans a JSONL transcript for the last line carrying
// a session_id field — the flavor CLIs append one line per turn.
func lastSessionIDInFile(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.SessionID != "" {
			last = line.SessionID
		}
	}
	if last == "" {
		return "", false
	}
	return last, true
}
