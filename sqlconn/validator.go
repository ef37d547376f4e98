package sqlconn

import (
	"context"
	"database/sql/driver"
	"encoding/base64"
	"fmt"
)

// Validator decides whether a pooled connection is still fit to hand
// out. A nil Config.Validator selects DefaultValidator.
type Validator interface {
	Validate(ctx context.Context, conn driver.Conn) bool
}

// ValidatorFunc adapts a plain function to Validator.
type ValidatorFunc func(ctx context.Context, conn driver.Conn) bool

func (f ValidatorFunc) Validate(ctx context.Context, conn driver.Conn) bool { return f(ctx, conn) }

// defaultValidator pings the connection when the driver supports it,
// and otherwise assumes it is still open. database/sql/driver has no
// IsClosed() query, so Ping is the closest available signal.
type defaultValidator struct{}

func (defaultValidator) Validate(ctx context.Context, conn driver.Conn) bool {
	if pinger, ok := conn.(driver.Pinger); ok {
		return pinger.Ping(ctx) == nil
	}
	return true
}

// DefaultValidator is the validator used when Config.Validator is nil.
var DefaultValidator Validator = defaultValidator{}

// AutoCommitValidator approximates the JDBC "attempt setAutoCommit(true)
// and report whether it succeeded" validator: it opens and immediately
// rolls back a transaction, treating a clean round trip as proof the
// connection is healthy.
type AutoCommitValidator struct{}

func (AutoCommitValidator) Validate(ctx context.Context, conn driver.Conn) bool {
	tx, err := conn.Begin()
	if err != nil {
		return false
	}
	return tx.Rollback() == nil
}

// PasswordDecoder decodes an at-rest-encoded password before it is used
// to open a connection.
type PasswordDecoder interface {
	Decode(encoded string) (string, error)
}

// PasswordDecoderFunc adapts a plain function to PasswordDecoder.
type PasswordDecoderFunc func(string) (string, error)

func (f PasswordDecoderFunc) Decode(encoded string) (string, error) { return f(encoded) }

// Base64Decoder decodes a standard-base64-encoded at-rest password.
// It is the one concrete PasswordDecoder this module ships; anything
// more elaborate is wired in by the embedding application through the
// PasswordDecoder interface.
type Base64Decoder struct{}

func (Base64Decoder) Decode(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("sqlconn: base64 decode password: %w", err)
	}
	return string(raw), nil
}
