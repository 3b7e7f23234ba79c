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
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/theirish81/lmchat"
)

const readinessAttempts = 30
const defaultSessionsDir = "~/lmchat_sessions"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the chat web server",
	Long: `
Run the chat web server. The generation engine must be reachable before the server starts accepting requests: the
command probes it and keeps retrying until the model answers. Sessions are stored in the sessions directory, one file
per session.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := slog.Default()
		if debug {
			log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			}))
		}
		generator, err := initGenerator()
		if err != nil {
			cmd.PrintErrln(err)
			return
		}
		if ready, ok := generator.(interface {
			WaitReady(ctx context.Context, attempts int) error
		}); ok {
			log.Info("waiting for the generation engine")
			if err := ready.WaitReady(cmd.Context(), readinessAttempts); err != nil {
				cmd.PrintErrln(err)
				return
			}
		}
		manager, err := lmchat.NewSessionManager(resolveSessionsDir(sessionsDir, cfg.SessionsDir), lmchat.DefaultSettings(generator.ContextLength()))
		if err != nil {
			cmd.PrintErrln(err)
			return
		}
		session, err := manager.OpenInitial()
		if err != nil {
			cmd.PrintErrln(err)
			return
		}
		log.Info("sessions ready", "dir", manager.Dir(), "active", session.Name())
		coordinator := lmchat.NewCoordinator(generator, lmchat.WithLogger(log))

		e := echo.New()
		addRequestLoggerMiddleware(e, log)
		e.HideBanner = true
		e.HTTPErrorHandler = errorHandler
		a := &api{manager: manager, coordinator: coordinator, log: log}
		a.register(e)
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
			cmd.PrintErrln(err)
		}
	},
}

func init() {
	serveCmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	serveCmd.Flags().IntVarP(&port, "port", "p", 5000, "port to listen on")
	serveCmd.Flags().StringVarP(&sessionsDir, "sessions-dir", "", "", "directory where sessions are stored (default \"~/lmchat_sessions\")")
}

// resolveSessionsDir picks the sessions directory: the --sessions-dir flag wins over
// the SESSIONS_DIR setting, which wins over the default.
func resolveSessionsDir(flagValue string, cfgValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if cfgValue != "" {
		return cfgValue
	}
	return defaultSessionsDir
}

// errorHandler maps the library's error taxonomy to HTTP status codes.
var errorHandler = func(err error, c echo.Context) {
	status := http.StatusInternalServerError
	switch e := err.(type) {
	case *echo.HTTPError:
		status = e.Code
	case lmchat.NotFoundError:
		status = http.StatusNotFound
	case lmchat.ConflictError:
		status = http.StatusConflict
	case lmchat.OutOfRangeError:
		status = http.StatusBadRequest
	case lmchat.ValidationError:
		status = http.StatusBadRequest
	case lmchat.GenerationError:
		status = http.StatusBadGateway
	}
	_ = c.JSON(status, echo.Map{"error": err.Error()})
}

// addRequestLoggerMiddleware adds a middleware that logs each request.
func addRequestLoggerMiddleware(e *echo.Echo, log *slog.Logger) {
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		HandleError: true, // forwards error to the global error handler, so it can decide appropriate status code
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error == nil {
				log.LogAttrs(context.Background(), slog.LevelInfo, "REQUEST",
					slog.String("uri", v.URI),
					slog.Int("status", v.Status),
				)
			} else {
				log.LogAttrs(context.Background(), slog.LevelError, "REQUEST_ERROR",
					slog.String("uri", v.URI),
					slog.Int("status", v.Status),
					slog.String("err", v.Error.Error()),
				)
			}
			return nil
		},
	}))
}
