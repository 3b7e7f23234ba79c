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

	"github.com/theirish81/lmchat"
	"github.com/theirish81/lmchat/ollama"
)

// initGenerator builds the generation engine from the configuration.
func initGenerator() (lmchat.Generator, error) {
	switch cfg.guessEngine() {
	case engineOllama:
		config := ollama.DefaultConfig()
		if cfg.Model != "" {
			config.Model = cfg.Model
		}
		if cfg.ContextLength > 0 {
			config.ContextLength = cfg.ContextLength
		}
		return ollama.NewGenerator(cfg.OllamaBaseURL, config), nil
	}
	return nil, errors.New("no generation engine configured, please set OLLAMA_BASE_URL and MODEL")
}
