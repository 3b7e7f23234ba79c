/*
 * Copyright (C) 2026 Simone Pezzano
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package lmchat

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const recordExtension = ".yaml"
const newSessionName = "untitled"

// SessionManager owns the durable session records and the process-wide active-session
// slot. Records live in a directory, one YAML file per session, and are replaced
// atomically on every save. Loading the same name twice yields the same in-memory
// instance, so block edits and an in-flight generation always address the same
// session.
type SessionManager struct {
	dir      string
	defaults Settings
	sessions *SafeMap[string, *Session]
	mu       sync.Mutex
	active   *Session
}

// NewSessionManager creates a session manager rooted at dir, creating the directory if
// needed. A leading ~ expands to the user's home directory.
func NewSessionManager(dir string, defaults Settings) (*SessionManager, error) {
	dir, err := expandHome(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &SessionManager{
		dir:      dir,
		defaults: defaults,
		sessions: NewSafeMap[string, *Session](),
	}, nil
}

// Dir returns the directory the records live in.
func (m *SessionManager) Dir() string {
	return m.dir
}

// Defaults returns the default settings new sessions start with.
func (m *SessionManager) Defaults() Settings {
	return m.defaults
}

// List returns the sorted names of all known sessions.
func (m *SessionManager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	names := lo.FilterMap(entries, func(entry os.DirEntry, _ int) (string, bool) {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExtension) {
			return "", false
		}
		return strings.TrimSuffix(entry.Name(), recordExtension), true
	})
	sort.Strings(names)
	return names, nil
}

// Load returns the session with the given name, materializing it from its durable
// record on first access.
func (m *SessionManager) Load(name string) (*Session, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions.Load(name); ok {
		return session, nil
	}
	data, err := os.ReadFile(m.recordPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, NotFoundError{Name: name}
	}
	if err != nil {
		return nil, err
	}
	session := &Session{manager: m}
	if err := yaml.Unmarshal(data, session); err != nil {
		return nil, err
	}
	session.name = name
	// hand-edited or legacy records may miss keys: fill them with the defaults
	// instead of materializing a session that cannot answer
	if len(session.Participants) == 0 {
		session.Participants = []string{defaultUserName, defaultBotName}
	}
	if (session.Settings == Settings{}) {
		session.Settings = m.defaults
	}
	m.sessions.Store(name, session)
	return session, nil
}

// New creates a fresh session with a unique name, the default participants and the
// default settings. The session becomes durable on its first mutation.
func (m *SessionManager) New() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newSession()
}

// newSession creates and caches a fresh session. The caller must hold m.mu.
func (m *SessionManager) newSession() *Session {
	name := newSessionName
	for i := 2; m.exists(name); i++ {
		name = fmt.Sprintf("%s-%d", newSessionName, i)
	}
	session := &Session{
		FixedPrompt:  "",
		Participants: []string{defaultUserName, defaultBotName},
		Settings:     m.defaults,
		Blocks:       make([]Block, 0),
		name:         name,
		manager:      m,
	}
	m.sessions.Store(name, session)
	return session
}

// Rename relinks the durable record of oldName to newName. Renaming onto an existing
// session is a conflict and leaves both sessions untouched.
func (m *SessionManager) Rename(oldName string, newName string) error {
	if err := checkName(newName); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exists(newName) {
		return ConflictError{Name: newName}
	}
	session, cached := m.sessions.Load(oldName)
	if _, err := os.Stat(m.recordPath(oldName)); err == nil {
		if err := os.Rename(m.recordPath(oldName), m.recordPath(newName)); err != nil {
			return err
		}
	} else if !cached {
		return NotFoundError{Name: oldName}
	}
	if cached {
		m.sessions.Delete(oldName)
		session.setName(newName)
		m.sessions.Store(newName, session)
	}
	return nil
}

// Delete removes the durable record. Deleting a session that does not exist is not an
// error. Deleting the active session puts a fresh session in its place; a generation
// already bound to the deleted session still finishes against it and recreates the
// record on its final save.
func (m *SessionManager) Delete(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions.Delete(name)
	if err := os.Remove(m.recordPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if m.active != nil && m.active.Name() == name {
		m.active = m.newSession()
	}
	return nil
}

// Active returns the currently selected session.
func (m *SessionManager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// SetActive atomically replaces the active session. The previous session is dropped
// wholesale, never merged.
func (m *SessionManager) SetActive(session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = session
}

// Open loads the named session and makes it the active one.
func (m *SessionManager) Open(name string) (*Session, error) {
	session, err := m.Load(name)
	if err != nil {
		return nil, err
	}
	m.SetActive(session)
	return session, nil
}

// OpenInitial selects the most recently modified session, or a fresh one when no
// records exist yet.
func (m *SessionManager) OpenInitial() (*Session, error) {
	names, err := m.List()
	if err != nil {
		return nil, err
	}
	latest := ""
	var latestTime time.Time
	for _, name := range names {
		info, err := os.Stat(m.recordPath(name))
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestTime) {
			latest = name
			latestTime = info.ModTime()
		}
	}
	if latest == "" {
		session := m.New()
		m.SetActive(session)
		return session, nil
	}
	return m.Open(latest)
}

// Populate returns a read-only snapshot of the active session plus the list of known
// session names.
func (m *SessionManager) Populate() (Snapshot, error) {
	session := m.Active()
	if session == nil {
		return Snapshot{}, errors.New("no active session")
	}
	snap, err := session.Snapshot()
	if err != nil {
		return snap, err
	}
	snap.Sessions, err = m.List()
	return snap, err
}

// writeRecord atomically replaces the record for name: the data is written to a
// temporary file in the same directory and then renamed over the final path, so a
// crash mid-write never leaves a half-written record behind.
func (m *SessionManager) writeRecord(name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(m.dir, name+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), m.recordPath(name))
}

// exists reports whether name is taken, either by a durable record or by a loaded
// session that has not been saved yet. The caller must hold m.mu.
func (m *SessionManager) exists(name string) bool {
	if _, ok := m.sessions.Load(name); ok {
		return true
	}
	_, err := os.Stat(m.recordPath(name))
	return err == nil
}

func (m *SessionManager) recordPath(name string) string {
	return filepath.Join(m.dir, name+recordExtension)
}

// checkName rejects session names that would escape the sessions directory.
func checkName(name string) error {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return ValidationError{Reason: fmt.Sprintf("invalid session name %q", name)}
	}
	return nil
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(dir string) (string, error) {
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return dir, nil
}
