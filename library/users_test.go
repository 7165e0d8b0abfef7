package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	u, err := db.RegisterUser(ctx, Registration{Username: "alice", Password: "hunter22", RealName: " Alice A "})
	require.NoError(t, err)
	assert.Equal(t, RolePatron, u.Role)
	assert.Equal(t, "Alice A", u.RealName)
	assert.NotEqual(t, "hunter22", u.PasswordHash)

	got, err := db.Authenticate(ctx, "alice", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = db.Authenticate(ctx, "alice", "wrong-password")
	assert.Equal(t, CodePermission, CodeOf(err))
	_, err = db.Authenticate(ctx, "nobody", "hunter22")
	assert.Equal(t, CodePermission, CodeOf(err))

	_, err = db.RegisterUser(ctx, Registration{Username: "alice", Password: "another1"})
	assert.Equal(t, CodeConflict, CodeOf(err))
}

func TestRegisterValidation(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   Registration
	}{
		{"short username", Registration{Username: "al", Password: "hunter22"}},
		{"symbols in username", Registration{Username: "al ice", Password: "hunter22"}},
		{"short password", Registration{Username: "alice", Password: "123"}},
		{"unknown role", Registration{Username: "alice", Password: "hunter22", Role: "admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.RegisterUser(ctx, tt.in)
			assert.Equal(t, CodeValidation, CodeOf(err))
		})
	}
}

func TestLibrarianBootstrap(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	first, err := db.RegisterUser(ctx, Registration{Username: "libby", Password: "secret123", Role: RoleLibrarian})
	require.NoError(t, err)
	assert.Equal(t, RoleLibrarian, first.Role)

	_, err = db.RegisterUser(ctx, Registration{Username: "second", Password: "secret123", Role: RoleLibrarian})
	assert.Equal(t, CodePermission, CodeOf(err))

	n, err := db.CountLibrarians(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSetUserRole(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	pat := mustUser(t, db, "pat", RolePatron)

	_, err := db.SetUserRole(ctx, pat, pat.ID, RoleLibrarian)
	assert.Equal(t, CodePermission, CodeOf(err))

	_, err = db.SetUserRole(ctx, lib, lib.ID, RolePatron)
	assert.Equal(t, CodeValidation, CodeOf(err), "last librarian")

	promoted, err := db.SetUserRole(ctx, lib, pat.ID, RoleLibrarian)
	require.NoError(t, err)
	assert.Equal(t, RoleLibrarian, promoted.Role)

	role, err := db.Role(ctx, pat.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleLibrarian, role)

	_, err = db.Role(ctx, 999)
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestResetPassword(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	lib := mustUser(t, db, "libby", RoleLibrarian)
	pat := mustUser(t, db, "pat", RolePatron)
	other := mustUser(t, db, "other", RolePatron)

	err := db.ResetPassword(ctx, other, pat.ID, "newpass1")
	assert.Equal(t, CodePermission, CodeOf(err))
	err = db.ResetPassword(ctx, pat, pat.ID, "123")
	assert.Equal(t, CodeValidation, CodeOf(err))

	require.NoError(t, db.ResetPassword(ctx, pat, pat.ID, "newpass1"))
	_, err = db.Authenticate(ctx, "pat", "newpass1")
	require.NoError(t, err)

	require.NoError(t, db.ResetPassword(ctx, lib, pat.ID, "fromlib1"))
	_, err = db.Authenticate(ctx, "pat", "fromlib1")
	require.NoError(t, err)

	err = db.ResetPassword(ctx, lib, 999, "whatever1")
	assert.Equal(t, CodeNotFound, CodeOf(err))
}
