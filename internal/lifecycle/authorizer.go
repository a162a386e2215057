package lifecycle

import (
	"context"

	"livesession/pkg/types"
)

// OwnerAuthorizer lets only the session's own teacher issue lifecycle commands
type OwnerAuthorizer struct{}

// AuthorizeTeacher implements interfaces.Authorizer
func (OwnerAuthorizer) AuthorizeTeacher(ctx context.Context, session *types.Session, callerID string) error {
	if session == nil || callerID == "" || session.TeacherID != callerID {
		return ErrUnauthorized
	}
	return nil
}
