package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crazyscot/disorder/internal/auth"
)

func TestParsePasswdRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "passwd", `
# comment
user alice
password "hunter two"
rights read,play,pause

user bob
password swordfish
rights read,play,admin
`)
	users, err := ParsePasswd(path)
	require.NoError(t, err)
	require.Len(t, users, 2)

	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "hunter two", users[0].PasswordHash)
	assert.True(t, users[0].Rights.Has(auth.Pause))

	assert.Equal(t, "bob", users[1].Username)
	assert.True(t, users[1].Rights.Has(auth.Admin))
}

func TestParsePasswdRejectsOrphanDirective(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "passwd", "password nouser\n")
	_, err := ParsePasswd(path)
	assert.Error(t, err)
}
