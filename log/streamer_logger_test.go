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
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestStreamerLogger_Info(t *testing.T) {
	ch := make(chan Event, 1)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	streamerLogger := NewStreamerLogger(logger, ch, InfoChannelLevel)

	event := NewEvent(GenericEventType, ServerComponent).WithMessage("test info")
	streamerLogger.Info(event)

	select {
	case receivedEvent := <-ch:
		if receivedEvent.Message != "test info" {
			t.Errorf("Expected message 'test info', got '%s'", receivedEvent.Message)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timed out waiting for event")
	}
}

func TestStreamerLogger_DebugWithInfoLevel(t *testing.T) {
	ch := make(chan Event, 1)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	streamerLogger := NewStreamerLogger(logger, ch, InfoChannelLevel)

	event := NewEvent(GenericEventType, ServerComponent).WithMessage("test debug with info level")
	streamerLogger.Debug(event)

	select {
	case <-ch:
		t.Error("Received unexpected event on channel for debug message with info level")
	case <-time.After(100 * time.Millisecond):
		// Expected behavior
	}
}

func TestStreamerLogger_FullChannel(t *testing.T) {
	ch := make(chan Event, 1)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	streamerLogger := NewStreamerLogger(logger, ch, InfoChannelLevel)

	// Fill the channel
	streamerLogger.Info(NewEvent(GenericEventType, ServerComponent).WithMessage("first"))

	// Try to send another event, should not block
	go func() {
		streamerLogger.Info(NewEvent(GenericEventType, ServerComponent).WithMessage("second"))
	}()

	select {
	case <-time.After(100 * time.Millisecond):
		// Good, didn't block
	}

	// Make sure only the first event is there
	receivedEvent := <-ch
	if receivedEvent.Message != "first" {
		t.Errorf("Expected message 'first', got '%s'", receivedEvent.Message)
	}

	select {
	case <-ch:
		t.Error("Received unexpected second event on channel")
	case <-time.After(100 * time.Millisecond):
		// Expected behavior
	}
}

func TestStreamerLogger_StreamBlocksUntilConsumed(t *testing.T) {
	ch := make(chan Event)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	streamerLogger := NewStreamerLogger(logger, ch, InfoChannelLevel)

	done := make(chan error, 1)
	go func() {
		done <- streamerLogger.Stream(context.Background(), NewEvent(ChunkEventType, CoordinatorComponent).WithContent("hello"))
	}()

	select {
	case <-done:
		t.Error("Stream returned before the event was consumed")
	case <-time.After(100 * time.Millisecond):
		// Expected behavior, still blocked
	}

	receivedEvent := <-ch
	if receivedEvent.Content == nil || *receivedEvent.Content != "hello" {
		t.Errorf("Expected content 'hello', got '%v'", receivedEvent.Content)
	}
	if err := <-done; err != nil {
		t.Errorf("Expected no error, got '%v'", err)
	}
}

func TestStreamerLogger_StreamCancelled(t *testing.T) {
	ch := make(chan Event)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	streamerLogger := NewStreamerLogger(logger, ch, InfoChannelLevel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := streamerLogger.Stream(ctx, NewEvent(ChunkEventType, CoordinatorComponent).WithContent("dropped")); err == nil {
		t.Error("Expected an error when streaming with a cancelled context")
	}
}

func TestStreamerLogger_Close(t *testing.T) {
	ch := make(chan Event, 1)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	streamerLogger := NewStreamerLogger(logger, ch, InfoChannelLevel)

	streamerLogger.Close()

	if streamerLogger.Channel() != nil {
		t.Error("Channel should be nil after Close")
	}

	// Test that sending to a closed channel does not panic
	event := NewEvent(GenericEventType, ServerComponent).WithMessage("test after close")
	streamerLogger.Info(event)
}

func TestStreamerLogger_CloseWhileReading(t *testing.T) {
	ch := make(chan Event, 4)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	streamerLogger := NewStreamerLogger(logger, ch, InfoChannelLevel)

	// a reader polling the channel while another goroutine closes it
	done := make(chan struct{})
	go func() {
		defer close(done)
		for streamerLogger.Channel() != nil {
			select {
			case <-streamerLogger.Channel():
			default:
			}
		}
	}()
	streamerLogger.Info(NewEvent(GenericEventType, ServerComponent).WithMessage("racing"))
	streamerLogger.Close()

	select {
	case <-done:
		// Expected behavior
	case <-time.After(1 * time.Second):
		t.Error("Timed out waiting for the reader to observe the close")
	}
}
