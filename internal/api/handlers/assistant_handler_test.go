package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/mfiguera/lexbot-be/internal/services"
	"github.com/stretchr/testify/require"
)

func (f *fixture) loginAs(t *testing.T, username string) {
	t.Helper()
	resp := f.register(t, username, "secret1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	resp = f.login(t, username, "secret1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestAskRequiresAuth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.DefaultClient.Post(f.server.URL+"/api/v1/assistant/ask", "application/json", bytes.NewBufferString(`{"prompt":"hola"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestAskReturnsAnswer(t *testing.T) {
	f := newFixture(t)
	f.loginAs(t, "alice")
	f.assistant.answer = services.Answer{Result: "la ley dice que sí", File: "thread_1_run_1.docx"}

	resp := f.postJSON(t, "/api/v1/assistant/ask", map[string]string{"prompt": "¿es legal?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var answer services.Answer
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&answer))
	resp.Body.Close()
	require.Equal(t, "la ley dice que sí", answer.Result)
	require.Equal(t, "thread_1_run_1.docx", answer.File)
	require.Equal(t, "¿es legal?", f.assistant.lastPrompt)
	require.NotEmpty(t, f.assistant.lastUserID)
}

func TestAskMultipartWithFile(t *testing.T) {
	f := newFixture(t)
	f.loginAs(t, "alice")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("prompt", "revisa el contrato"))
	part, err := mw.CreateFormFile("file", "contrato.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := f.client.Post(f.server.URL+"/api/v1/assistant/ask", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	require.Equal(t, "revisa el contrato", f.assistant.lastPrompt)
	require.Equal(t, []byte("%PDF-1.4"), f.assistant.lastUploadData)
}

func TestAskErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"empty prompt", services.ErrEmptyPrompt, http.StatusBadRequest},
		{"timeout", services.ErrRunTimeout, http.StatusGatewayTimeout},
		{"run failed", services.ErrRunFailed, http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.loginAs(t, "alice")
			f.assistant.err = tc.err

			resp := f.postJSON(t, "/api/v1/assistant/ask", map[string]string{"prompt": "x"})
			require.Equal(t, tc.want, resp.StatusCode)
			resp.Body.Close()
		})
	}
}

func TestDownloadArtifact(t *testing.T) {
	f := newFixture(t)
	f.loginAs(t, "alice")

	require.NoError(t, f.files.Save("thread_1_run_1.docx", []byte("generated")))

	resp, err := f.client.Get(f.server.URL + "/api/v1/files/thread_1_run_1.docx")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Disposition"), "thread_1_run_1.docx")
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, []byte("generated"), data)
}

func TestDownloadMissingArtifact(t *testing.T) {
	f := newFixture(t)
	f.loginAs(t, "alice")

	resp, err := f.client.Get(f.server.URL + "/api/v1/files/thread_x_run_x.docx")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
