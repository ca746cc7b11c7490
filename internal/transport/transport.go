// SPDX-License-Identifier: MIT

// Package transport defines the outbound message contract. The chat
// protocol itself lives outside the core; the core only needs a way to
// push text to a user and learn whether delivery succeeded.
package transport

import "context"

// Sender delivers one outbound message to a user.
type Sender interface {
	Send(ctx context.Context, userID int64, text string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, userID int64, text string) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, userID int64, text string) error {
	return f(ctx, userID, text)
}
