package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxAgentID ctxKey = iota
	ctxRole
)

var ErrNoIdentity = errors.New("auth: identity not in context")

func WithIdentity(ctx context.Context, agentID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxAgentID, agentID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func AgentID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxAgentID).(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoIdentity
}

func Role(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxRole).(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoIdentity
}
