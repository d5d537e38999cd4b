package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexuschat/nexus/internal/validate"
)

func TestUsername(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr string
	}{
		{name: "valid", value: "alice", wantErr: ""},
		{name: "empty", value: "", wantErr: validate.ErrEmpty},
		{name: "too long", value: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", wantErr: validate.ErrTooLong},
		{name: "whitespace", value: "al ice", wantErr: validate.ErrWhitespace},
		{name: "control chars", value: "al\x07ice", wantErr: validate.ErrControlChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Username(tt.value, 32)
			if tt.wantErr == "" {
				assert.Nil(t, err)
				return
			}
			require := assert.New(t)
			require.NotNil(err)
			require.Equal(tt.wantErr, err.Kind)
		})
	}
}

func TestNicknameCollidesWithUsername(t *testing.T) {
	opts := validate.NicknameOpts{
		Max:               32,
		ExistingUsernames: map[string]bool{"bob": true},
		OwnUsername:       "alice",
	}

	err := validate.Nickname("bob", opts)
	assert.NotNil(t, err)

	opts.OwnUsername = "bob"
	err = validate.Nickname("bob", opts)
	assert.Nil(t, err)
}

func TestMessageRules(t *testing.T) {
	assert.Nil(t, validate.Message("hello there", 1024))
	assert.NotNil(t, validate.Message("", 1024))
	assert.NotNil(t, validate.Message("line one\nline two", 1024))
}

func TestChannelName(t *testing.T) {
	assert.Nil(t, validate.ChannelName("#nexus", 64))
	assert.NotNil(t, validate.ChannelName("nexus", 64))
	assert.NotNil(t, validate.ChannelName("#", 64))
	assert.NotNil(t, validate.ChannelName("#ne xus", 64))
}

func TestImage(t *testing.T) {
	// 1x1 transparent PNG, base64-encoded.
	png := "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII="
	assert.Nil(t, validate.Image(png, 512*1024))
	assert.NotNil(t, validate.Image("not-a-data-uri", 512*1024))
	assert.NotNil(t, validate.Image("data:image/gif;base64,AAAA", 512*1024))
}

func TestParseVersion(t *testing.T) {
	v, err := validate.ParseVersion("2.4.1")
	assert.Nil(t, err)
	assert.Equal(t, validate.Version{Major: 2, Minor: 4, Patch: 1}, v)

	_, err = validate.ParseVersion("2.4")
	assert.NotNil(t, err)
}

func TestDuration(t *testing.T) {
	d, permanent, err := validate.Duration("0")
	assert.Nil(t, err)
	assert.True(t, permanent)
	assert.Equal(t, int64(0), int64(d))

	d, permanent, err = validate.Duration("10m")
	assert.Nil(t, err)
	assert.False(t, permanent)
	assert.Equal(t, int64(600), int64(d.Seconds()))

	_, _, err = validate.Duration("bogus")
	assert.NotNil(t, err)
}

func TestBanTarget(t *testing.T) {
	kind, err := validate.BanTarget("203.0.113.7")
	assert.Nil(t, err)
	assert.Equal(t, validate.BanTargetIP, kind)

	kind, err = validate.BanTarget("203.0.113.0/24")
	assert.Nil(t, err)
	assert.Equal(t, validate.BanTargetCIDR, kind)

	kind, err = validate.BanTarget("troublemaker")
	assert.Nil(t, err)
	assert.Equal(t, validate.BanTargetNickname, kind)
}
