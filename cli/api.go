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

package main

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/theirish81/lmchat"
	"github.com/theirish81/lmchat/log"
)

// how many stream events can be buffered between the coordinator and the SSE writer
const streamBufferSize = 16

// api wires the HTTP surface to the session manager and the generation coordinator.
// Every non-generation operation addresses the active session; the generation
// endpoints go through the coordinator, which serializes them against the engine.
type api struct {
	manager     *lmchat.SessionManager
	coordinator *lmchat.Coordinator
	log         *slog.Logger
}

func (a *api) register(e *echo.Echo) {
	e.GET("/api/populate", a.populate)
	e.POST("/api/append_block", a.appendBlock)
	e.POST("/api/edit_block", a.editBlock)
	e.POST("/api/delete_block", a.deleteBlock)
	e.POST("/api/rename_session", a.renameSession)
	e.POST("/api/delete_session", a.deleteSession)
	e.POST("/api/set_fixed_prompt", a.setFixedPrompt)
	e.POST("/api/set_gen_settings", a.setGenSettings)
	e.POST("/api/set_session", a.setSession)
	e.POST("/api/set_participants", a.setParticipants)
	e.POST("/api/userinput", a.userInput)
	e.POST("/api/infer_precise", a.inferPrecise)
}

type appendBlockRequest struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

type editBlockRequest struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type deleteBlockRequest struct {
	Index int `json:"index"`
}

type renameSessionRequest struct {
	Old string `json:"old"`
	New string `json:"new"`
}

type deleteSessionRequest struct {
	Name string `json:"name"`
}

type setFixedPromptRequest struct {
	Text string `json:"text"`
}

type setSessionRequest struct {
	SessionName string `json:"session_name"`
}

type setParticipantsRequest struct {
	Participants []string `json:"participants"`
}

type userInputRequest struct {
	UserInput string `json:"user_input"`
}

type inferPreciseRequest struct {
	Prompt string `json:"prompt"`
	lmchat.Overrides
}

func ackOK(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"result": "ok"})
}

func (a *api) populate(c echo.Context) error {
	snap, err := a.manager.Populate()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (a *api) appendBlock(c echo.Context) error {
	req := appendBlockRequest{}
	if err := c.Bind(&req); err != nil {
		return err
	}
	index, err := a.manager.Active().AppendBlock(req.Author, req.Text)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"result": "ok", "index": index})
}

func (a *api) editBlock(c echo.Context) error {
	req := editBlockRequest{}
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := a.manager.Active().EditBlock(req.Index, req.Text); err != nil {
		return err
	}
	return ackOK(c)
}

func (a *api) deleteBlock(c echo.Context) error {
	req := deleteBlockRequest{}
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := a.manager.Active().DeleteBlock(req.Index); err != nil {
		return err
	}
	return ackOK(c)
}

// renameSession reports a collision or a missing session as a soft failure, so the UI
// can tell the user without treating it as an error.
func (a *api) renameSession(c echo.Context) error {
	req := renameSessionRequest{}
	if err := c.Bind(&req); err != nil {
		return err
	}
	err := a.manager.Rename(req.Old, req.New)
	var conflict lmchat.ConflictError
	var notFound lmchat.NotFoundError
	if errors.As(err, &conflict) || errors.As(err, &notFound) {
		return c.JSON(http.StatusOK, echo.Map{"result": "fail"})
	}
	if err != nil {
		return err
	}
	return ackOK(c)
}

func (a *api) deleteSession(c echo.Context) error {
	req := deleteSessionRequest{}
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := a.manager.Delete(req.Name); err != nil {
		return err
	}
	return ackOK(c)
}

func (a *api) setFixedPrompt(c echo.Context) error {
	req := setFixedPromptRequest{}
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := a.manager.Active().SetFixedPrompt(req.Text); err != nil {
		return err
	}
	return ackOK(c)
}

// setGenSettings replaces the active session's settings wholesale. Omitted fields
// fall back to the defaults, not to the previous values.
func (a *api) setGenSettings(c echo.Context) error {
	overrides := lmchat.Overrides{}
	if err := c.Bind(&overrides); err != nil {
		return err
	}
	settings := a.manager.Defaults().Apply(overrides)
	if err := a.manager.Active().SetSettings(settings); err != nil {
		return err
	}
	return ackOK(c)
}

// setSession atomically replaces the active session. The name "." asks for a fresh
// session.
func (a *api) setSession(c echo.Context) error {
	req := setSessionRequest{}
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.SessionName == "." {
		a.manager.SetActive(a.manager.New())
		return ackOK(c)
	}
	if _, err := a.manager.Open(req.SessionName); err != nil {
		return err
	}
	return ackOK(c)
}

func (a *api) setParticipants(c echo.Context) error {
	req := setParticipantsRequest{}
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := a.manager.Active().SetParticipants(req.Participants); err != nil {
		return err
	}
	return ackOK(c)
}

// userInput handles one conversational turn. The response is a stream of chunk
// events, flushed as the engine emits them, terminated by an end or error event. The
// turn is bound to the session that is active when the request arrives.
func (a *api) userInput(c echo.Context) error {
	req := userInputRequest{}
	if err := c.Bind(&req); err != nil {
		return err
	}
	session := a.manager.Active()
	streamLog := log.NewStreamerLogger(a.log, make(chan log.Event, streamBufferSize), log.InfoChannelLevel)
	streamer := NewStreamer(c, streamLog)
	streamer.Start()
	err := a.coordinator.RespondMulti(c.Request().Context(), session, req.UserInput, streamLog)
	final := log.NewEvent(log.EndEventType, log.CoordinatorComponent).WithSession(session.Name())
	if err != nil {
		a.log.Error("chat generation failed", "session", session.Name(), "err", err)
		final = log.NewEvent(log.ErrorEventType, log.CoordinatorComponent).WithSession(session.Name()).WithErr(err)
	}
	return streamer.Finish(final)
}

// inferPrecise runs a one-shot generation against a raw prompt and returns the whole
// output at once.
func (a *api) inferPrecise(c echo.Context) error {
	req := inferPreciseRequest{}
	if err := c.Bind(&req); err != nil {
		return err
	}
	out, err := a.coordinator.InferPrecise(c.Request().Context(), req.Prompt, req.Overrides)
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, out)
}
