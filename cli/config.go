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

import "strings"

// supported generation engines
const (
	engineOllama = "ollama"
)

type Config struct {
	Engine        string `mapstructure:"ENGINE" yaml:"ENGINE"`
	OllamaBaseURL string `mapstructure:"OLLAMA_BASE_URL" yaml:"OLLAMA_BASE_URL"`
	Model         string `mapstructure:"MODEL" yaml:"MODEL"`
	ContextLength int    `mapstructure:"CONTEXT_LENGTH" yaml:"CONTEXT_LENGTH"`
	SessionsDir   string `mapstructure:"SESSIONS_DIR" yaml:"SESSIONS_DIR"`
}

// guessEngine tries to guess the generation engine based on the configuration.
func (c Config) guessEngine() string {
	switch strings.ToLower(c.Engine) {
	case engineOllama:
		return engineOllama
	}
	if c.OllamaBaseURL != "" && c.Model != "" {
		return engineOllama
	}
	return ""
}

var cfg = Config{}
