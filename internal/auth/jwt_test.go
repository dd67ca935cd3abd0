package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	tokens, err := Issue("stu-1", RoleStudent, "presence-test", "key", time.Minute, time.Hour)
	require.NoError(t, err)

	claims, err := Parse(tokens.AccessToken, "key", "presence-test")
	require.NoError(t, err)
	assert.Equal(t, "stu-1", claims.Subject)
	assert.Equal(t, RoleStudent, claims.Role)
}

func TestParseRejections(t *testing.T) {
	tokens, err := Issue("stu-1", RoleStudent, "presence-test", "key", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(tokens.AccessToken, "wrong-key", "presence-test")
	assert.Error(t, err)

	_, err = Parse(tokens.AccessToken, "key", "other-issuer")
	assert.Error(t, err)

	expired, err := Issue("stu-1", RoleStudent, "presence-test", "key", -time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = Parse(expired.AccessToken, "key", "presence-test")
	assert.Error(t, err)
}
