package auth_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-service"
)

func TestAssignRolesHandler(t *testing.T) {
	f := newCommandFixture(t)
	ctx := context.Background()
	admin := seedUser(t, f.repo, "admin@example.com", auth.RoleAdmin)
	user := seedUser(t, f.repo, "jane@example.com", auth.RoleUser)

	handler := auth.NewAssignRolesHandler(f.repo, f.opts...)
	updated, err := handler.Execute(ctx, auth.AssignRolesMessage{
		Actor:  admin,
		UserID: user.ID,
		Roles:  []string{"Manager", "analyst", "manager"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"analyst", "manager"}, updated.Roles().Strings())

	roles, err := f.repo.Roles().UserRoles(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"analyst", "manager"}, roles.Strings())

	require.Len(t, f.sink.events, 1)
	event := f.sink.events[0]
	assert.Equal(t, auth.ActivityEventRolesChanged, event.EventType)
	assert.Equal(t, admin.ID.String(), event.Actor.ID)
	assert.Equal(t, user.ID.String(), event.UserID)

	updated, err = handler.Execute(ctx, auth.AssignRolesMessage{Actor: admin, UserID: user.ID})
	require.NoError(t, err)
	assert.Empty(t, updated.Roles())
}

func TestAssignRolesHandler_Rejects(t *testing.T) {
	f := newCommandFixture(t)
	admin := seedUser(t, f.repo, "admin@example.com", auth.RoleAdmin)
	user := seedUser(t, f.repo, "jane@example.com", auth.RoleManager)
	superuser := &auth.User{ID: uuid.New(), IsSuperuser: true}

	handler := auth.NewAssignRolesHandler(f.repo, f.opts...)

	tests := []struct {
		name   string
		msg    auth.AssignRolesMessage
		target error
		status int
	}{
		{"no actor", auth.AssignRolesMessage{UserID: user.ID, Roles: []string{"user"}}, auth.ErrForbidden, 403},
		{"not admin", auth.AssignRolesMessage{Actor: user, UserID: user.ID, Roles: []string{"admin"}}, auth.ErrForbidden, 403},
		{"unknown role", auth.AssignRolesMessage{Actor: admin, UserID: user.ID, Roles: []string{"wizard"}}, auth.ErrValidation, 400},
		{"unknown user", auth.AssignRolesMessage{Actor: admin, UserID: uuid.New(), Roles: []string{"user"}}, auth.ErrUserNotFound, 404},
		{"superuser on unknown user", auth.AssignRolesMessage{Actor: superuser, UserID: uuid.New()}, auth.ErrUserNotFound, 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := handler.Execute(context.Background(), tt.msg)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, tt.status, auth.HTTPStatus(err))
		})
	}

	roles, err := f.repo.Roles().UserRoles(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"manager"}, roles.Strings())
	assert.Empty(t, f.sink.events)
}

func TestSetUserActiveHandler(t *testing.T) {
	f := newCommandFixture(t)
	ctx := context.Background()
	admin := seedUser(t, f.repo, "admin@example.com", auth.RoleAdmin)
	user := seedUser(t, f.repo, "jane@example.com")

	handler := auth.NewSetUserActiveHandler(f.repo, f.opts...)

	updated, err := handler.Execute(ctx, auth.SetUserActiveMessage{Actor: admin, UserID: user.ID, IsActive: false})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	stored, err := f.repo.Users().FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	require.Len(t, f.sink.events, 1)
	assert.Equal(t, auth.ActivityEventUserStatusChanged, f.sink.events[0].EventType)
	assert.Equal(t, false, f.sink.events[0].Metadata["to_active"])

	// unchanged status is not recorded
	_, err = handler.Execute(ctx, auth.SetUserActiveMessage{Actor: admin, UserID: user.ID, IsActive: false})
	require.NoError(t, err)
	assert.Len(t, f.sink.events, 1)

	_, err = handler.Execute(ctx, auth.SetUserActiveMessage{Actor: user, UserID: admin.ID, IsActive: false})
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = handler.Execute(ctx, auth.SetUserActiveMessage{Actor: admin, UserID: uuid.New(), IsActive: true})
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}
