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

package log

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const GenericEventType EventType = "generic"
const StartEventType EventType = "start"
const ChunkEventType EventType = "chunk"
const EndEventType EventType = "end"
const ErrorEventType EventType = "error"

type EventComponent string

const CoordinatorComponent EventComponent = "coordinator"
const SessionComponent EventComponent = "session"
const GeneratorComponent EventComponent = "generator"
const ServerComponent EventComponent = "server"

type ChannelLevel string

const DebugChannelLevel ChannelLevel = "debug"
const InfoChannelLevel ChannelLevel = "info"

// Event is one message of a generation stream: a start marker, an incremental text
// chunk, a terminal end or error, or a generic log line.
type Event struct {
	Level     string         `json:"level"`
	Component EventComponent `json:"component"`
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Time      time.Time      `json:"time"`
	Message   string         `json:"message,omitempty"`
	Session   *string        `json:"session,omitempty"`
	Content   *string        `json:"content,omitempty"`
	Err       *EventError    `json:"error,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
}

type EventError struct {
	Message string
}

func (e EventError) Error() string {
	return e.Message
}

func (e EventError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Message)
}

func NewEvent(eType EventType, component EventComponent) Event {
	return Event{
		Component: component,
		Type:      eType,
		Time:      time.Now(),
		ID:        uuid.NewString(),
	}
}

func (e Event) WithMessage(message string) Event {
	e.Message = message
	return e
}

func (e Event) WithSession(session string) Event {
	e.Session = &session
	return e
}

func (e Event) WithContent(content string) Event {
	e.Content = &content
	return e
}

func (e Event) WithErr(err error) Event {
	e.Err = &EventError{Message: err.Error()}
	return e
}

func (e Event) WithArgs(args map[string]any) Event {
	e.Args = args
	return e
}

func (e Event) WithArg(key string, value any) Event {
	if e.Args == nil {
		e.Args = make(map[string]any)
	}
	e.Args[key] = value
	return e
}

func (e Event) ToArray() []any {
	result := make([]any, 0)
	v := reflect.ValueOf(e)
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldName := strings.ToLower(field.Name)

		// Skip fields which make no sense in the logging context
		if slices.Contains([]string{"args", "level", "message", "id", "time"}, fieldName) {
			continue
		}
		fieldValue := v.Field(i)
		if (fieldValue.Kind() == reflect.Pointer && !fieldValue.IsNil()) || fieldValue.Kind() != reflect.Pointer {
			var val any
			if fieldValue.Kind() == reflect.Pointer {
				val = fieldValue.Elem().Interface()
			} else {
				val = fieldValue.Interface()
			}
			result = append(result, fieldName, val)
		}
	}
	// Append Args map entries
	for k, val := range e.Args {
		result = append(result, k, val)
	}

	return result
}

// StreamerLogger mirrors every event to a slog logger and fans it out to a channel a
// consumer can stream from. Log events are dropped when the channel is full; chunk
// events go through Stream, which blocks instead, because losing generated text is
// not acceptable.
type StreamerLogger struct {
	mu              sync.RWMutex
	progressChannel chan Event
	logger          *slog.Logger
	channelLevel    ChannelLevel
}

func NewStreamerLogger(logger *slog.Logger, channel chan Event, channelLevel ChannelLevel) *StreamerLogger {
	return &StreamerLogger{
		logger:          logger,
		progressChannel: channel,
		channelLevel:    channelLevel,
	}
}

func (l *StreamerLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.progressChannel != nil {
		close(l.progressChannel)
		l.progressChannel = nil
	}
}

func (l *StreamerLogger) Channel() chan Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.progressChannel
}

func (l *StreamerLogger) Debug(event Event) {
	event.Level = "debug"
	l.logger.Debug(event.Message, event.ToArray()...)
	if l.channelLevel == DebugChannelLevel {
		l.Send(event)
	}
}

func (l *StreamerLogger) Info(event Event) {
	event.Level = "info"
	l.logger.Info(event.Message, event.ToArray()...)
	l.Send(event)
}

func (l *StreamerLogger) Warn(event Event) {
	event.Level = "warn"
	l.logger.Warn(event.Message, event.ToArray()...)
	l.Send(event)
}

func (l *StreamerLogger) Err(event Event) {
	event.Level = "err"
	l.logger.Error(event.Message, event.ToArray()...)
	l.Send(event)
}

// Send delivers the event to the channel if there's room, dropping it otherwise.
func (l *StreamerLogger) Send(event Event) {
	if ch := l.Channel(); ch != nil {
		select {
		case ch <- event:
		default:
			l.logger.Warn("streamer logger channel full, dropping event")
		}
	}
}

// Stream delivers the event to the channel, blocking until the consumer takes it or
// the context is done.
func (l *StreamerLogger) Stream(ctx context.Context, event Event) error {
	ch := l.Channel()
	if ch == nil {
		return nil
	}
	event.Level = "info"
	select {
	case ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
