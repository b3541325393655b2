package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

func TestSubject(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		subject  string
		expected bool
	}{
		{
			name:     "no subject",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "empty subject",
			ctx:      WithSubject(context.Background(), ""),
			expected: false,
		},
		{
			name:     "subject set",
			ctx:      WithSubject(context.Background(), "ops"),
			subject:  "ops",
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			subject, ok := Subject(tc.ctx)
			assert.Equal(t, tc.expected, ok)
			assert.Equal(t, tc.subject, subject)
		})
	}
}

func TestIssueToken(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		token, err := IssueToken(testSigningKey, "ops", time.Hour)
		require.NoError(t, err)

		subject, err := verifyToken(testSigningKey, token)
		assert.NoError(t, err)
		assert.Equal(t, "ops", subject)
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := IssueToken(nil, "ops", time.Hour)
		assert.Error(t, err)
	})

	t.Run("empty subject", func(t *testing.T) {
		_, err := IssueToken(testSigningKey, "", time.Hour)
		assert.Error(t, err)
	})
}

func Test_verifyToken(t *testing.T) {
	expired, err := IssueToken(testSigningKey, "ops", -time.Minute)
	require.NoError(t, err)

	otherKey, err := IssueToken([]byte("other-key"), "ops", time.Hour)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSigningKey)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.StandardClaims{
		Subject:   "ops",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tcases := []struct {
		name  string
		token string
	}{
		{name: "expired", token: expired},
		{name: "wrong key", token: otherKey},
		{name: "missing subject", token: noSubject},
		{name: "none algorithm", token: unsigned},
		{name: "garbage", token: "not-a-token"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			subject, err := verifyToken(testSigningKey, tc.token)
			assert.Error(t, err)
			assert.Empty(t, subject)
		})
	}
}

func Test_tokenFromRequest(t *testing.T) {
	tcases := []struct {
		name    string
		header  string
		cookie  *http.Cookie
		token   string
		wantErr bool
	}{
		{
			name:   "bearer header",
			header: "Bearer abc",
			token:  "abc",
		},
		{
			name:   "cookie",
			cookie: &http.Cookie{Name: tokenCookieKey, Value: "def"},
			token:  "def",
		},
		{
			name:   "header wins over cookie",
			header: "Bearer abc",
			cookie: &http.Cookie{Name: tokenCookieKey, Value: "def"},
			token:  "abc",
		},
		{
			name:    "basic auth header",
			header:  "Basic dXNlcjpwYXNz",
			wantErr: true,
		},
		{
			name:    "empty bearer",
			header:  "Bearer ",
			wantErr: true,
		},
		{
			name:    "nothing",
			wantErr: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != nil {
				req.AddCookie(tc.cookie)
			}

			token, err := tokenFromRequest(req)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.token, token)
		})
	}
}
