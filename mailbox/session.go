package mailbox

import (
	"context"

	"github.com/google/uuid"
)

// Session identifies the protocol session on whose behalf an operation runs.
type Session struct {
	ID   string
	User string
}

func NewSession(user string) *Session {
	return &Session{ID: uuid.NewString(), User: user}
}

type sessionKeyType struct{}

var sessionKeyVal sessionKeyType

func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionKeyVal, session)
}

func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionKeyVal).(*Session)

	return session, ok && session != nil
}
