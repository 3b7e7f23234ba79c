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
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	port        int
	debug       bool
	sessionsDir string
)

var rootCmd = cobra.Command{
	Use:   filepath.Base(os.Args[0]),
	Short: "a single-user web chat for a local text-generation engine",
	Long: `
Lmchat is a single-user chat front end for a locally running text-generation engine. Conversations are stored as named,
resumable sessions, and all generation requests are serialized against the one engine the process talks to.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
