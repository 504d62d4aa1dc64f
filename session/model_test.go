package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRecord_AccessValid(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		tok  *TokenRecord
		want bool
	}{
		{"nil record", nil, false},
		{"no access token", &TokenRecord{AccessExpiresAt: now.Add(time.Hour)}, false},
		{"no expiry", &TokenRecord{AccessToken: "a"}, false},
		{"expired", &TokenRecord{AccessToken: "a", AccessExpiresAt: now.Add(-time.Second)}, false},
		{"inside margin", &TokenRecord{AccessToken: "a", AccessExpiresAt: now.Add(59 * time.Second)}, false},
		{"outside margin", &TokenRecord{AccessToken: "a", AccessExpiresAt: now.Add(61 * time.Second)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tok.AccessValid(now, refreshMargin))
		})
	}
}

func TestScopeList_Unmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"list", `["user.read","achievements.read"]`, []string{"user.read", "achievements.read"}},
		{"space separated", `"user.read  achievements.read"`, []string{"user.read", "achievements.read"}},
		{"duplicates", `["user.read","user.read"]`, []string{"user.read"}},
		{"empty string", `""`, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got scopeList
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, []string(got))
		})
	}

	var bad scopeList
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	orig := sampleSnapshot()
	c := orig.Clone()
	require.Equal(t, orig, c)

	c.Identity.DisplayName = "mallory"
	c.Token.Scopes[0] = "admin"
	c.DeviceCode.ShortCode = "ZZZ"
	c.Achievements[0].Identifier = "OTHER"

	assert.Equal(t, "alice", orig.Identity.DisplayName)
	assert.Equal(t, ScopeUserRead, orig.Token.Scopes[0])
	assert.Equal(t, "ABCD-1234", orig.DeviceCode.ShortCode)
	assert.Equal(t, "FIRST_WIN", orig.Achievements[0].Identifier)
}

func TestDeviceCodeRequest_DeviceAuth(t *testing.T) {
	exp := time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)
	dc := &DeviceCodeRequest{
		ShortCode:       "ABCD",
		DeviceRef:       "ref",
		ExpiresAt:       exp,
		Interval:        7,
		VerificationURL: "https://example.test/link",
	}
	da := dc.DeviceAuth()
	assert.Equal(t, "ABCD", da.UserCode)
	assert.Equal(t, "ref", da.DeviceCode)
	assert.Equal(t, int64(7), da.Interval)
	assert.Equal(t, exp, da.Expiry)
	assert.Equal(t, 7*time.Second, dc.PollInterval())
	assert.True(t, dc.Expired(exp.Add(time.Nanosecond)))
	assert.False(t, dc.Expired(exp))
}
