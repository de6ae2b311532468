package auth

import (
	"context"
	"testing"

	"quote-aggregator/src/helpers"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNetwork struct {
	body    string
	err     error
	payload interface{}
}

func (f *fakeNetwork) PostJSON(_ context.Context, _ string, payload interface{}, _ map[string]string) ([]byte, error) {
	f.payload = payload
	return []byte(f.body), f.err
}

func TestHTTPValidator(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		err     error
		wantErr bool
	}{
		{name: "valid", body: `{"valid":true,"userId":"u1","organizationId":"acme"}`},
		{name: "valid without echo", body: `{"valid":true}`},
		{name: "rejected", body: `{"valid":false,"reason":"expired"}`, wantErr: true},
		{name: "other user", body: `{"valid":true,"userId":"u2"}`, wantErr: true},
		{name: "other org", body: `{"valid":true,"organizationId":"globex"}`, wantErr: true},
		{name: "garbage", body: `<html>`, wantErr: true},
		{name: "unreachable", err: helpers.NewTransientError("connection lost", nil), wantErr: true},
		{name: "forbidden", err: helpers.NewAuthenticationError("upstream status 403", nil), wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			net := &fakeNetwork{body: tc.body, err: tc.err}
			v := NewHTTPValidator("http://sessions/validate", net, logger.NewNop("auth"))

			p, err := v.ValidateSession(context.Background(), "u1", "acme")
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, helpers.IsAuthentication(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.MPrincipal{UserID: "u1", OrganizationID: "acme"}, p)
			assert.Equal(t, sessionRequest{UserID: "u1", OrganizationID: "acme"}, net.payload)
		})
	}
}

func TestNewSessionValidator(t *testing.T) {
	v, err := NewSessionValidator(models.MAuthConfig{Mode: "static"}, nil, logger.NewNop("auth"))
	require.NoError(t, err)
	assert.IsType(t, &StaticValidator{}, v)

	_, err = NewSessionValidator(models.MAuthConfig{Mode: "http"}, nil, logger.NewNop("auth"))
	assert.Error(t, err)

	_, err = NewSessionValidator(models.MAuthConfig{Mode: "ldap"}, nil, logger.NewNop("auth"))
	assert.Error(t, err)
}
