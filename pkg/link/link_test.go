package link

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSigner(t *testing.T, at time.Time) *Signer {
	t.Helper()
	s, err := NewSigner([]byte("0123456789abcdef"))
	require.NoError(t, err)
	s.now = func() time.Time { return at }
	return s
}

func TestSignVerifyRoundtrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := testSigner(t, now)

	claims := Claims{
		TenantID:     "acme",
		DeploymentID: "9b478816-5f9e-4afe-a6e4-b7c33dcf36cb",
		DeviceID:     "device-1",
		DeviceType:   "rpi4",
		ArtifactID:   "166a6cb3-2bbc-4fb0-a7f3-c561584b7762",
	}

	uri, expire, err := s.Sign("https://deployments.local/api/devices/v1/deployments/download", claims, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expire)

	u, err := url.Parse(uri)
	require.NoError(t, err)

	got, err := s.Verify(u)
	require.NoError(t, err)
	assert.Equal(t, claims, got)
}

func TestSignVerifyIdempotentClaims(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := testSigner(t, now)
	claims := Claims{TenantID: "acme", DeploymentID: "d-1", DeviceID: "dev-1", DeviceType: "rpi4", ArtifactID: "a-1"}

	first, _, err := s.Sign("https://deployments.local/download", claims, time.Hour)
	require.NoError(t, err)
	second, _, err := s.Sign("https://deployments.local/download", claims, time.Hour)
	require.NoError(t, err)

	// Same instant, same claims: byte-identical links.
	assert.Equal(t, first, second)
}

func TestVerifyTamperMatrix(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := testSigner(t, now)

	claims := Claims{
		TenantID:     "acme",
		DeploymentID: "9b478816-5f9e-4afe-a6e4-b7c33dcf36cb",
		DeviceID:     "device-1",
		DeviceType:   "rpi4",
		ArtifactID:   "166a6cb3-2bbc-4fb0-a7f3-c561584b7762",
	}
	uri, _, err := s.Sign("https://deployments.local/download", claims, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(q url.Values)
		wantErr error
	}{
		{
			name:    "tampered tenant",
			mutate:  func(q url.Values) { q.Set(ParamTenantID, "evil") },
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "tampered deployment id",
			mutate:  func(q url.Values) { q.Set(ParamDeploymentID, "00000000-0000-0000-0000-000000000000") },
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "tampered device id",
			mutate:  func(q url.Values) { q.Set(ParamDeviceID, "other-device") },
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "tampered device type",
			mutate:  func(q url.Values) { q.Set(ParamDeviceType, "rpi5") },
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "tampered signature",
			mutate:  func(q url.Values) { q.Set(ParamSignature, "AAAA"+q.Get(ParamSignature)[4:]) },
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "extended expiry",
			mutate:  func(q url.Values) { q.Set(ParamExpire, now.Add(48*time.Hour).Format(time.RFC3339)) },
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "missing signature",
			mutate:  func(q url.Values) { q.Del(ParamSignature) },
			wantErr: ErrMissingSignature,
		},
		{
			name:    "missing expire",
			mutate:  func(q url.Values) { q.Del(ParamExpire) },
			wantErr: ErrMissingExpire,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(uri)
			require.NoError(t, err)

			q := u.Query()
			tt.mutate(q)
			u.RawQuery = q.Encode()

			_, err = s.Verify(u)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifyExpired(t *testing.T) {
	signedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := testSigner(t, signedAt)

	uri, _, err := s.Sign("https://deployments.local/download", Claims{TenantID: "acme"}, time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(uri)
	require.NoError(t, err)

	s.now = func() time.Time { return signedAt.Add(2 * time.Minute) }
	_, err = s.Verify(u)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyBadExpireFormat(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := testSigner(t, now)

	uri, _, err := s.Sign("https://deployments.local/download", Claims{TenantID: "acme"}, time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(uri)
	require.NoError(t, err)
	q := u.Query()
	q.Set(ParamExpire, "not-a-timestamp")
	u.RawQuery = q.Encode()

	_, err = s.Verify(u)
	assert.ErrorIs(t, err, ErrBadExpire)
}
