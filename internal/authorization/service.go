package authorization

import (
	"context"
	"errors"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

// Service answers "may this actor do this action on this object".
// Actors are "system", "token:<id>", or "user:<profile id>".
type Service interface {
	Authorize(ctx context.Context, actor string, object string, action string) error
}
