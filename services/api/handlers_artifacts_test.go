package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendersoftware/deployments/pkg/link"
	"github.com/mendersoftware/deployments/services/deployments"
)

func (f *fakeApp) UploadArtifact(ctx context.Context, tenantID string, up *deployments.ArtifactUpload) (*deployments.Artifact, error) {
	return f.uploadArtifact(ctx, tenantID, up)
}

func (f *fakeApp) GenerateArtifact(ctx context.Context, tenantID string, gen *deployments.ArtifactGenerate) (*deployments.Artifact, error) {
	return f.generateArtifact(ctx, tenantID, gen)
}

func (f *fakeApp) AbortDeployment(ctx context.Context, tenantID string, id uuid.UUID) error {
	return f.abortDeployment(ctx, tenantID, id)
}

func newManagementTestServer(t *testing.T, app *fakeApp) *httptest.Server {
	t.Helper()

	signer, err := link.NewSigner([]byte("api-test-secret"))
	require.NoError(t, err)

	a, err := New(app, signer, Config{}, prometheus.NewRegistry())
	require.NoError(t, err)
	routes, err := a.Routes()
	require.NoError(t, err)

	srv := httptest.NewServer(routes)
	t.Cleanup(srv.Close)
	return srv
}

// bearerToken builds an unverified management token the way the gateway
// issues them.
func bearerToken(t *testing.T, tenant string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":           "user-1",
		"mender.tenant": tenant,
		"exp":           time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("gateway-secret"))
	require.NoError(t, err)
	return "Bearer " + signed
}

// uploadBody builds a multipart artifact upload with fields in order.
func uploadBody(t *testing.T, fields [][2]string, fileField string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, f := range fields {
		require.NoError(t, w.WriteField(f[0], f[1]))
	}
	if fileField != "" {
		fw, err := w.CreateFormFile(fileField, "artifact.mender")
		require.NoError(t, err)
		_, err = fw.Write(payload)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestUploadArtifactEndpoint(t *testing.T) {
	var gotTenant string
	var gotUpload *deployments.ArtifactUpload
	artifactID := uuid.New()

	app := &fakeApp{
		uploadArtifact: func(_ context.Context, tenantID string, up *deployments.ArtifactUpload) (*deployments.Artifact, error) {
			gotTenant = tenantID
			gotUpload = up
			// Drain the stream the way the real engine does.
			_, err := io.Copy(io.Discard, up.Data)
			require.NoError(t, err)
			return &deployments.Artifact{ID: artifactID, Name: "release-v1"}, nil
		},
	}
	srv := newManagementTestServer(t, app)

	payload := []byte("artifact bytes")
	body, contentType := uploadBody(t, [][2]string{
		{"description", "first release"},
		{"size", fmt.Sprint(len(payload))},
	}, "artifact", payload)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/management/v1/deployments/artifacts", body)
	require.NoError(t, err)
	req.Header.Set("Authorization", bearerToken(t, "acme"))
	req.Header.Set("Content-Type", contentType)

	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()

	assert.Equal(t, http.StatusCreated, rsp.StatusCode)
	assert.Contains(t, rsp.Header.Get("Location"), artifactID.String())
	assert.Equal(t, "acme", gotTenant)
	require.NotNil(t, gotUpload)
	assert.Equal(t, "first release", gotUpload.Description)
	assert.Equal(t, int64(len(payload)), gotUpload.Size)

	var artifact deployments.Artifact
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&artifact))
	assert.Equal(t, artifactID, artifact.ID)
}

func TestUploadArtifactEndpointRejected(t *testing.T) {
	app := &fakeApp{
		uploadArtifact: func(_ context.Context, _ string, up *deployments.ArtifactUpload) (*deployments.Artifact, error) {
			_, _ = io.Copy(io.Discard, up.Data)
			return nil, fmt.Errorf("%w: payload is not a valid artifact", deployments.ErrInvalidArtifact)
		},
	}
	srv := newManagementTestServer(t, app)

	payload := []byte("not an artifact")
	body, contentType := uploadBody(t, [][2]string{
		{"size", fmt.Sprint(len(payload))},
	}, "artifact", payload)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/management/v1/deployments/artifacts", body)
	require.NoError(t, err)
	req.Header.Set("Authorization", bearerToken(t, "acme"))
	req.Header.Set("Content-Type", contentType)

	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
}

func TestUploadArtifactEndpointSizeAfterFile(t *testing.T) {
	called := false
	app := &fakeApp{
		uploadArtifact: func(context.Context, string, *deployments.ArtifactUpload) (*deployments.Artifact, error) {
			called = true
			return nil, nil
		},
	}
	srv := newManagementTestServer(t, app)

	// The artifact part arrives before the size field.
	body, contentType := uploadBody(t, nil, "artifact", []byte("artifact bytes"))

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/management/v1/deployments/artifacts", body)
	require.NoError(t, err)
	req.Header.Set("Authorization", bearerToken(t, "acme"))
	req.Header.Set("Content-Type", contentType)

	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
	assert.False(t, called)
}

func TestGenerateArtifactEndpoint(t *testing.T) {
	var gotGen *deployments.ArtifactGenerate
	artifactID := uuid.New()

	app := &fakeApp{
		generateArtifact: func(_ context.Context, _ string, gen *deployments.ArtifactGenerate) (*deployments.Artifact, error) {
			gotGen = gen
			_, _ = io.Copy(io.Discard, gen.Data)
			return &deployments.Artifact{ID: artifactID, Name: gen.Name}, nil
		},
	}
	srv := newManagementTestServer(t, app)

	raw := []byte("raw payload")
	body, contentType := uploadBody(t, [][2]string{
		{"name", "gen-release"},
		{"description", "generated"},
		{"device_types_compatible", "beaglebone, raspberrypi4"},
		{"type", "single-file"},
		{"args", "--dest-dir /opt"},
		{"size", fmt.Sprint(len(raw))},
	}, "file", raw)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/management/v1/deployments/artifacts/generate", body)
	require.NoError(t, err)
	req.Header.Set("Authorization", bearerToken(t, "acme"))
	req.Header.Set("Content-Type", contentType)

	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()

	assert.Equal(t, http.StatusCreated, rsp.StatusCode)
	assert.Contains(t, rsp.Header.Get("Location"), "/artifacts/"+artifactID.String())
	require.NotNil(t, gotGen)
	assert.Equal(t, "gen-release", gotGen.Name)
	assert.Equal(t, []string{"beaglebone", "raspberrypi4"}, gotGen.DeviceTypes)
	assert.Equal(t, "single-file", gotGen.Type)
	assert.Equal(t, int64(len(raw)), gotGen.Size)
}

func TestAbortRejectsUnknownFields(t *testing.T) {
	aborted := false
	app := &fakeApp{
		abortDeployment: func(context.Context, string, uuid.UUID) error {
			aborted = true
			return nil
		},
	}
	srv := newManagementTestServer(t, app)

	target := srv.URL + "/api/management/v1/deployments/deployments/" + uuid.NewString() + "/status"

	put := func(body string) int {
		req, err := http.NewRequest(http.MethodPut, target, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", bearerToken(t, "acme"))
		req.Header.Set("Content-Type", "application/json")
		rsp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer rsp.Body.Close()
		return rsp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, put(`{"status":"aborted","force":true}`))
	assert.False(t, aborted)

	assert.Equal(t, http.StatusNoContent, put(`{"status":"aborted"}`))
	assert.True(t, aborted)
}
