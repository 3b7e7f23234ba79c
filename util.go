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
	"context"
	"time"

	"github.com/avast/retry-go/v5"
)

// Ptr returns a pointer to the given value.
func Ptr[T any](t T) *T { return &t }

// Retry runs the callback up to attempts times with a fixed delay between attempts.
func Retry(ctx context.Context, attempts int, callback func() error) error {
	return retry.New(retry.Attempts(uint(attempts)), retry.Delay(time.Second*2), retry.Context(ctx)).Do(callback)
}
