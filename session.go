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
	"strings"
	"sync"

	"github.com/jinzhu/copier"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// default participants of a fresh session. The first participant is the human, the
// last one is the bot.
const defaultUserName = "User"
const defaultBotName = "Assistant"

// Block is one authored utterance in a session's ordered history. Blocks are addressed
// by their position: deleting a block shifts all subsequent indexes down by one.
type Block struct {
	Author string `json:"author" yaml:"author"`
	Text   string `json:"text" yaml:"text"`
}

// Session is a named conversation: an ordered block history, its participants, a fixed
// prompt prepended to every generation context, and the sampling settings used to
// respond. Every mutation is atomic with respect to the in-memory state and is
// followed by a save of the durable record.
type Session struct {
	FixedPrompt  string   `json:"fixed_prompt" yaml:"fixedPrompt"`
	Participants []string `json:"participants" yaml:"participants"`
	Settings     Settings `json:"settings" yaml:"settings"`
	Blocks       []Block  `json:"blocks" yaml:"blocks"`

	name    string
	mu      sync.Mutex
	manager *SessionManager
}

// Snapshot is a read-only copy of the full session state, plus the list of known
// session names, used to populate the UI when it loads.
type Snapshot struct {
	Name         string   `json:"name"`
	FixedPrompt  string   `json:"fixed_prompt"`
	Participants []string `json:"participants"`
	Settings     Settings `json:"settings"`
	Blocks       []Block  `json:"blocks"`
	Sessions     []string `json:"sessions"`
}

// Name returns the session's current name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// setName changes the in-memory name. The durable record, if any, is relinked by the
// SessionManager.
func (s *Session) setName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// User returns the human participant.
func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Participants[0]
}

// Bot returns the bot participant.
func (s *Session) Bot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Participants[len(s.Participants)-1]
}

// CurrentSettings returns a copy of the sampling settings.
func (s *Session) CurrentSettings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Settings
}

// AppendBlock inserts a new block at the end of the history and returns its index.
func (s *Session) AppendBlock(author string, text string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Blocks = append(s.Blocks, Block{Author: author, Text: text})
	return len(s.Blocks) - 1, s.save()
}

// EditBlock replaces the text of the block at the given index, preserving its author
// and position.
func (s *Session) EditBlock(index int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.Blocks) {
		return OutOfRangeError{Index: index, Length: len(s.Blocks)}
	}
	s.Blocks[index].Text = text
	return s.save()
}

// DeleteBlock removes the block at the given index. The indexes of all subsequent
// blocks shift down by one.
func (s *Session) DeleteBlock(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.Blocks) {
		return OutOfRangeError{Index: index, Length: len(s.Blocks)}
	}
	s.Blocks = append(s.Blocks[:index], s.Blocks[index+1:]...)
	return s.save()
}

// SetFixedPrompt replaces the fixed prompt.
func (s *Session) SetFixedPrompt(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FixedPrompt = text
	return s.save()
}

// SetSettings replaces the sampling settings wholesale. The Coordinator copies the
// settings before a generation starts, so a replacement never affects a generation
// already in flight.
func (s *Session) SetSettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Settings = settings
	return s.save()
}

// SetParticipants replaces the participant set. Blank names are dropped and duplicates
// removed, preserving order. Changing participants does not retroactively relabel
// existing blocks.
func (s *Session) SetParticipants(participants []string) error {
	participants = lo.Uniq(lo.Filter(participants, func(p string, _ int) bool {
		return strings.TrimSpace(p) != ""
	}))
	if len(participants) < 2 {
		return ValidationError{Reason: "at least two participants are required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Participants = participants
	return s.save()
}

// PromptContext builds the generation context: the fixed prompt, the block history
// serialized as "<participant>: <text>" lines, and a cue for the bot's next turn.
func (s *Session) PromptContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sb strings.Builder
	if s.FixedPrompt != "" {
		sb.WriteString(s.FixedPrompt)
		sb.WriteString("\n")
	}
	for _, block := range s.Blocks {
		sb.WriteString(block.Author)
		sb.WriteString(": ")
		sb.WriteString(block.Text)
		sb.WriteString("\n")
	}
	sb.WriteString(s.Participants[len(s.Participants)-1])
	sb.WriteString(":")
	return sb.String()
}

// Snapshot produces a deep, read-only copy of the session state. Mutating the copy
// never affects the session. The Sessions field is left for the SessionManager to
// fill in.
func (s *Session) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{}
	if err := copier.CopyWithOption(&snap, s, copier.Option{DeepCopy: true}); err != nil {
		return snap, err
	}
	snap.Name = s.name
	return snap, nil
}

// Save persists the session to its durable record.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// save writes the session through its manager. The caller must hold s.mu. Sessions
// created detached (tests) have no manager and live in memory only.
func (s *Session) save() error {
	if s.manager == nil {
		return nil
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return s.manager.writeRecord(s.name, data)
}
