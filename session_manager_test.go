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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestManager(t *testing.T) *SessionManager {
	manager, err := NewSessionManager(t.TempDir(), DefaultSettings(2048))
	assert.NoError(t, err)
	return manager
}

func TestSessionManager_New(t *testing.T) {
	manager := newTestManager(t)
	session := manager.New()
	assert.Equal(t, "untitled", session.Name())
	assert.Equal(t, []string{"User", "Assistant"}, session.Participants)
	assert.Equal(t, manager.Defaults(), session.CurrentSettings())

	// a fresh session is not durable until its first mutation
	names, err := manager.List()
	assert.NoError(t, err)
	assert.Empty(t, names)

	_, err = session.AppendBlock(session.User(), "hello")
	assert.NoError(t, err)
	names, err = manager.List()
	assert.NoError(t, err)
	assert.Equal(t, []string{"untitled"}, names)
}

func TestSessionManager_NewUniqueNames(t *testing.T) {
	manager := newTestManager(t)
	assert.Equal(t, "untitled", manager.New().Name())
	assert.Equal(t, "untitled-2", manager.New().Name())
	assert.Equal(t, "untitled-3", manager.New().Name())
}

func TestSessionManager_SaveAndLoad(t *testing.T) {
	manager := newTestManager(t)
	session := manager.New()
	assert.NoError(t, session.SetFixedPrompt("fixed"))
	_, err := session.AppendBlock("User", "hello")
	assert.NoError(t, err)

	// a second manager on the same directory sees the durable record
	other, err := NewSessionManager(manager.Dir(), DefaultSettings(2048))
	assert.NoError(t, err)
	loaded, err := other.Load("untitled")
	assert.NoError(t, err)
	assert.Equal(t, "untitled", loaded.Name())
	assert.Equal(t, "fixed", loaded.FixedPrompt)
	assert.Equal(t, session.Participants, loaded.Participants)
	assert.Equal(t, session.CurrentSettings(), loaded.CurrentSettings())
	assert.Equal(t, session.Blocks, loaded.Blocks)
}

func TestSessionManager_LoadSameInstance(t *testing.T) {
	manager := newTestManager(t)
	session := manager.New()
	_, err := session.AppendBlock("User", "hello")
	assert.NoError(t, err)

	first, err := manager.Load("untitled")
	assert.NoError(t, err)
	second, err := manager.Load("untitled")
	assert.NoError(t, err)
	assert.Same(t, first, second)
}

func TestSessionManager_LoadNotFound(t *testing.T) {
	manager := newTestManager(t)
	_, err := manager.Load("missing")
	assert.IsType(t, NotFoundError{}, err)
}

func TestSessionManager_LoadInvalidName(t *testing.T) {
	manager := newTestManager(t)
	for _, name := range []string{"", "..", "../escape", `foo/bar`, `foo\bar`} {
		_, err := manager.Load(name)
		assert.IsType(t, ValidationError{}, err, name)
	}
}

func TestSessionManager_LoadLegacyRecord(t *testing.T) {
	manager := newTestManager(t)
	// a hand-edited record carrying only part of the keys
	record := "fixedPrompt: old prompt\nblocks:\n  - author: User\n    text: hello\n"
	assert.NoError(t, os.WriteFile(filepath.Join(manager.Dir(), "legacy.yaml"), []byte(record), 0o644))

	session, err := manager.Load("legacy")
	assert.NoError(t, err)
	// missing participants and settings fall back to the defaults
	assert.Equal(t, "User", session.User())
	assert.Equal(t, "Assistant", session.Bot())
	assert.Equal(t, manager.Defaults(), session.CurrentSettings())
	assert.Equal(t, "old prompt", session.FixedPrompt)
	assert.Equal(t, "old prompt\nUser: hello\nAssistant:", session.PromptContext())
}

func TestSessionManager_Rename(t *testing.T) {
	manager := newTestManager(t)
	session := manager.New()
	_, err := session.AppendBlock("User", "hello")
	assert.NoError(t, err)

	assert.NoError(t, manager.Rename("untitled", "my chat"))
	assert.Equal(t, "my chat", session.Name())
	names, err := manager.List()
	assert.NoError(t, err)
	assert.Equal(t, []string{"my chat"}, names)

	// subsequent saves go to the new record
	_, err = session.AppendBlock("Assistant", "hi")
	assert.NoError(t, err)
	loaded, err := manager.Load("my chat")
	assert.NoError(t, err)
	assert.Same(t, session, loaded)
}

func TestSessionManager_RenameConflict(t *testing.T) {
	manager := newTestManager(t)
	first := manager.New()
	_, err := first.AppendBlock("User", "first")
	assert.NoError(t, err)
	second := manager.New()
	_, err = second.AppendBlock("User", "second")
	assert.NoError(t, err)

	err = manager.Rename("untitled", "untitled-2")
	assert.IsType(t, ConflictError{}, err)
	// both sessions are left untouched
	assert.Equal(t, "untitled", first.Name())
	assert.Equal(t, "untitled-2", second.Name())
	names, err := manager.List()
	assert.NoError(t, err)
	assert.Equal(t, []string{"untitled", "untitled-2"}, names)
}

func TestSessionManager_RenameNotFound(t *testing.T) {
	manager := newTestManager(t)
	err := manager.Rename("missing", "anything")
	assert.IsType(t, NotFoundError{}, err)
}

func TestSessionManager_Delete(t *testing.T) {
	manager := newTestManager(t)
	session := manager.New()
	_, err := session.AppendBlock("User", "hello")
	assert.NoError(t, err)

	assert.NoError(t, manager.Delete("untitled"))
	names, err := manager.List()
	assert.NoError(t, err)
	assert.Empty(t, names)

	// deleting a missing session is not an error
	assert.NoError(t, manager.Delete("untitled"))
}

func TestSessionManager_DeleteActive(t *testing.T) {
	manager := newTestManager(t)
	session, err := manager.OpenInitial()
	assert.NoError(t, err)
	_, err = session.AppendBlock("User", "hello")
	assert.NoError(t, err)

	assert.NoError(t, manager.Delete("untitled"))
	// the deleted session is no longer the active one
	active := manager.Active()
	assert.NotSame(t, session, active)
	assert.Empty(t, active.Blocks)
	names, err := manager.List()
	assert.NoError(t, err)
	assert.Empty(t, names)
}

func TestSessionManager_AtomicSave(t *testing.T) {
	manager := newTestManager(t)
	session := manager.New()
	for i := 0; i < 20; i++ {
		_, err := session.AppendBlock("User", "message")
		assert.NoError(t, err)
	}
	// repeated saves never leave temporary files behind
	entries, err := os.ReadDir(manager.Dir())
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "untitled.yaml", entries[0].Name())
}

func TestSessionManager_OpenInitialFresh(t *testing.T) {
	manager := newTestManager(t)
	session, err := manager.OpenInitial()
	assert.NoError(t, err)
	assert.Equal(t, "untitled", session.Name())
	assert.Same(t, session, manager.Active())
}

func TestSessionManager_OpenInitialMostRecent(t *testing.T) {
	manager := newTestManager(t)
	older := manager.New()
	_, err := older.AppendBlock("User", "older")
	assert.NoError(t, err)
	newer := manager.New()
	_, err = newer.AppendBlock("User", "newer")
	assert.NoError(t, err)
	// push the second record's mtime clearly past the first
	past := time.Now().Add(-time.Hour)
	assert.NoError(t, os.Chtimes(filepath.Join(manager.Dir(), "untitled.yaml"), past, past))

	session, err := manager.OpenInitial()
	assert.NoError(t, err)
	assert.Equal(t, "untitled-2", session.Name())
	assert.Same(t, session, manager.Active())
}

func TestSessionManager_Populate(t *testing.T) {
	manager := newTestManager(t)
	session := manager.New()
	manager.SetActive(session)
	_, err := session.AppendBlock("User", "hello")
	assert.NoError(t, err)
	other := manager.New()
	_, err = other.AppendBlock("User", "other")
	assert.NoError(t, err)

	snap, err := manager.Populate()
	assert.NoError(t, err)
	assert.Equal(t, "untitled", snap.Name)
	assert.Equal(t, []Block{{Author: "User", Text: "hello"}}, snap.Blocks)
	assert.Equal(t, []string{"untitled", "untitled-2"}, snap.Sessions)
}

func TestSessionManager_SetActiveReplacesWholesale(t *testing.T) {
	manager := newTestManager(t)
	first := manager.New()
	manager.SetActive(first)
	_, err := first.AppendBlock("User", "hello")
	assert.NoError(t, err)

	second := manager.New()
	manager.SetActive(second)
	assert.Same(t, second, manager.Active())
	assert.Empty(t, manager.Active().Blocks)
}
