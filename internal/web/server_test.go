package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product-script-studio/internal/gemini"
	"product-script-studio/internal/metrics"
	"product-script-studio/internal/photo"
	"product-script-studio/internal/pipeline"
	"product-script-studio/internal/removebg"
	"product-script-studio/internal/session"
)

type fakeProvider struct {
	models []gemini.Model
	text   string
	err    error
	ctxErr error
}

func (p *fakeProvider) ListModels(context.Context, string) ([]gemini.Model, error) {
	return p.models, nil
}

func (p *fakeProvider) GenerateContent(ctx context.Context, _, _, _ string, _ gemini.ImageInput) (string, error) {
	p.ctxErr = ctx.Err()
	return p.text, p.err
}

type fakeRemover struct {
	err      error
	onRemove func()
}

func (r *fakeRemover) Remove(_ context.Context, _ string, data []byte) (*photo.Processed, error) {
	if r.onRemove != nil {
		r.onRemove()
	}
	if r.err != nil {
		return nil, r.err
	}
	return photo.DecodeProcessed(data)
}

type testClient struct {
	t    *testing.T
	base string
	http *http.Client
}

func newTestServer(t *testing.T, provider *fakeProvider, remover *fakeRemover) *testClient {
	t.Helper()

	svc := pipeline.New(pipeline.Options{
		Provider: provider,
		Remover:  remover,
		Sessions: session.NewStore(session.Options{}),
	})
	srv, err := New(Options{Pipeline: svc, MaxUploadBytes: 1 << 20})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testClient{t: t, base: ts.URL, http: &http.Client{Jar: jar}}
}

func (c *testClient) do(method, path, contentType string, body io.Reader) (*http.Response, []byte) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, body)
	require.NoError(c.t, err)
	if contentType != "" {
		req.Header.Set("content-type", contentType)
	}
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, data
}

func (c *testClient) postJSON(path string, v any) (*http.Response, []byte) {
	raw, err := json.Marshal(v)
	require.NoError(c.t, err)
	return c.do(http.MethodPost, path, "application/json", bytes.NewReader(raw))
}

func (c *testClient) generate(image []byte, filename, mimeType, model string) (*http.Response, []byte) {
	body, contentType := generateForm(c.t, image, filename, mimeType, model)
	return c.do(http.MethodPost, "/api/generate", contentType, body)
}

func generateForm(t *testing.T, image []byte, filename, mimeType, model string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if image != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
		h.Set("Content-Type", mimeType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("model", model))
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func (c *testClient) setup() {
	c.t.Helper()
	resp, _ := c.postJSON("/api/credentials", credentialsRequest{GeminiKey: "g", RemoveBGKey: "r"})
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	resp, _ = c.do(http.MethodPost, "/api/models/refresh", "", nil)
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 6, 6))
	img.Set(2, 2, color.NRGBA{G: 180, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func models() []gemini.Model {
	return []gemini.Model{
		{Name: "models/gemini-pro", SupportedMethods: []string{gemini.MethodGenerateContent}},
		{Name: "models/gemini-1.5-flash", SupportedMethods: []string{gemini.MethodGenerateContent}},
		{Name: "models/embedding-001", SupportedMethods: []string{"embedContent"}},
	}
}

const analysisText = "Product: Acme Widget\nUsers: office workers\nPain: tired\nSolution: rests you"

func TestIndexAndHealth(t *testing.T) {
	c := newTestServer(t, &fakeProvider{}, &fakeRemover{})

	resp, body := c.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Product Script Studio")

	resp, body = c.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Register()
	c := newTestServer(t, &fakeProvider{models: models()}, &fakeRemover{})
	c.setup()

	resp, body := c.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "studio_pipeline_model_refresh_total")
}

func TestStateIssuesSessionCookie(t *testing.T) {
	c := newTestServer(t, &fakeProvider{}, &fakeRemover{})

	resp, body := c.do(http.MethodGet, "/api/state", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sid string
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookie {
			sid = ck.Value
		}
	}
	assert.Len(t, sid, 36)

	state := decode[stateResponse](t, body)
	assert.False(t, state.HasCredentials)
	assert.Equal(t, []string{}, state.Models)
	assert.False(t, state.CanGenerate)
}

func TestCredentialsValidation(t *testing.T) {
	c := newTestServer(t, &fakeProvider{}, &fakeRemover{})

	resp, body := c.postJSON("/api/credentials", credentialsRequest{GeminiKey: "g"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "both API keys")

	resp, body = c.postJSON("/api/credentials", credentialsRequest{GeminiKey: "g", RemoveBGKey: "r"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[stateResponse](t, body).HasCredentials)

	resp, _ = c.do(http.MethodPost, "/api/credentials", "application/json", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRefreshModels(t *testing.T) {
	c := newTestServer(t, &fakeProvider{models: models()}, &fakeRemover{})

	resp, _ := c.do(http.MethodPost, "/api/models/refresh", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	c.setup()
	_, body := c.do(http.MethodGet, "/api/state", "", nil)
	state := decode[stateResponse](t, body)
	assert.Equal(t, []string{"models/gemini-pro", "models/gemini-1.5-flash"}, state.Models)
	assert.Equal(t, "models/gemini-1.5-flash", state.SelectedModel)
	assert.True(t, state.CanGenerate)
}

func TestRefreshModelsEmptyDirectory(t *testing.T) {
	c := newTestServer(t, &fakeProvider{}, &fakeRemover{})
	resp, _ := c.postJSON("/api/credentials", credentialsRequest{GeminiKey: "g", RemoveBGKey: "r"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := c.do(http.MethodPost, "/api/models/refresh", "", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "model list")
}

func TestSelectModel(t *testing.T) {
	c := newTestServer(t, &fakeProvider{models: models()}, &fakeRemover{})

	resp, _ := c.postJSON("/api/model", modelRequest{Model: "models/gemini-pro"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	c.setup()
	resp, body := c.postJSON("/api/model", modelRequest{Model: "models/gemini-pro"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "models/gemini-pro", decode[stateResponse](t, body).SelectedModel)

	resp, _ = c.postJSON("/api/model", modelRequest{Model: "models/unknown"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateSuccess(t *testing.T) {
	c := newTestServer(t, &fakeProvider{models: models(), text: analysisText}, &fakeRemover{})
	c.setup()

	resp, body := c.generate(testPNG(t), "lamp.png", "image/png", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[generateResponse](t, body)
	assert.Equal(t, "models/gemini-1.5-flash", out.Model)
	assert.True(t, out.Removal.OK)
	assert.Equal(t, "success", out.Removal.Status)
	assert.True(t, out.Analysis.OK)
	require.NotNil(t, out.State.Analysis)
	assert.Equal(t, "Acme Widget", out.State.Analysis.Name)
	require.Len(t, out.State.Scripts, 4)
	assert.Contains(t, out.State.Scripts[0].Text, "frustrated by tired")
	assert.True(t, out.State.HasImage)

	resp, img := c.do(http.MethodGet, "/api/processed.png", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("content-type"))
	assert.Contains(t, resp.Header.Get("content-disposition"), `filename="lock.png"`)
	_, err := png.Decode(bytes.NewReader(img))
	assert.NoError(t, err)

	resp, text := c.do(http.MethodGet, "/api/scripts.txt", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(text), "Acme Widget")
}

func TestGenerateStageFailures(t *testing.T) {
	provider := &fakeProvider{
		models: models(),
		err:    &gemini.APIError{StatusCode: 429, Status: "429 Too Many Requests", Body: "RESOURCE_EXHAUSTED"},
	}
	c := newTestServer(t, provider, &fakeRemover{err: &removebg.StatusError{Code: 403}})
	c.setup()

	resp, body := c.generate(testPNG(t), "lamp.png", "image/png", "models/gemini-pro")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[generateResponse](t, body)
	assert.False(t, out.Removal.OK)
	assert.Equal(t, "error code 403", out.Removal.Status)
	assert.False(t, out.Analysis.OK)
	assert.True(t, out.Analysis.RateLimited)
	assert.Equal(t, pipeline.CooldownMessage, out.Analysis.Cooldown)
	assert.Nil(t, out.State.Analysis)

	resp, _ = c.do(http.MethodGet, "/api/processed.png", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = c.do(http.MethodGet, "/api/scripts.txt", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGenerateOutlivesClientDisconnect(t *testing.T) {
	reqCtx, disconnect := context.WithCancel(context.Background())
	defer disconnect()

	provider := &fakeProvider{models: models(), text: analysisText}
	svc := pipeline.New(pipeline.Options{
		Provider: provider,
		Remover:  &fakeRemover{onRemove: disconnect},
		Sessions: session.NewStore(session.Options{}),
	})
	sid := uuid.NewString()
	require.NoError(t, svc.SetCredentials(sid, session.Credentials{GeminiKey: "g", RemoveBGKey: "r"}))
	_, err := svc.RefreshModels(context.Background(), sid)
	require.NoError(t, err)

	srv, err := New(Options{Pipeline: svc})
	require.NoError(t, err)

	body, contentType := generateForm(t, testPNG(t), "lamp.png", "image/png", "")
	req := httptest.NewRequest(http.MethodPost, "/api/generate", body).WithContext(reqCtx)
	req.Header.Set("content-type", contentType)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: sid})
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Error(t, reqCtx.Err())
	assert.NoError(t, provider.ctxErr)
	assert.True(t, decode[generateResponse](t, rec.Body.Bytes()).Analysis.OK)
}

func TestGeneratePreconditions(t *testing.T) {
	c := newTestServer(t, &fakeProvider{models: models(), text: analysisText}, &fakeRemover{})

	resp, _ := c.generate(testPNG(t), "lamp.png", "image/png", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no credentials")

	resp, _ = c.postJSON("/api/credentials", credentialsRequest{GeminiKey: "g", RemoveBGKey: "r"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = c.generate(testPNG(t), "lamp.png", "image/png", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "no models")

	resp, _ = c.do(http.MethodPost, "/api/models/refresh", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = c.generate(nil, "", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no image")

	resp, _ = c.generate([]byte("GIF89a not really"), "anim.gif", "image/gif", "")
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp, _ = c.generate(testPNG(t), "lamp.png", "image/png", "models/other")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown model")
}

func TestSessionsAreIsolated(t *testing.T) {
	provider := &fakeProvider{models: models(), text: analysisText}
	a := newTestServer(t, provider, &fakeRemover{})
	a.setup()

	other := &testClient{t: t, base: a.base, http: &http.Client{}}
	_, body := other.do(http.MethodGet, "/api/state", "", nil)
	assert.False(t, decode[stateResponse](t, body).HasCredentials)
}

func TestReset(t *testing.T) {
	c := newTestServer(t, &fakeProvider{models: models(), text: analysisText}, &fakeRemover{})
	c.setup()

	resp, body := c.do(http.MethodPost, "/api/reset", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[stateResponse](t, body)
	assert.False(t, state.HasCredentials)
	assert.Empty(t, state.Models)
}

func TestUnknownAPIRoute(t *testing.T) {
	c := newTestServer(t, &fakeProvider{}, &fakeRemover{})

	resp, _ := c.do(http.MethodGet, "/api/generate", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = c.do(http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
