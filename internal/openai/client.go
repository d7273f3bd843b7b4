// Package openai is a minimal client for the OpenAI Assistants API (v2),
// covering the thread/message/run/file operations this service consumes.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"time"
)

// Run statuses reported by the API.
const (
	RunStatusQueued         = "queued"
	RunStatusInProgress     = "in_progress"
	RunStatusCompleted      = "completed"
	RunStatusFailed         = "failed"
	RunStatusCancelled      = "cancelled"
	RunStatusExpired        = "expired"
	RunStatusRequiresAction = "requires_action"
)

// TerminalRunStatus reports whether a run status is final.
func TerminalRunStatus(status string) bool {
	switch status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired:
		return true
	}
	return false
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai: status %d: %s", e.Status, e.Message)
}

// Client wraps the Assistants REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client. baseURL is normally
// "https://api.openai.com/v1"; tests point it at a local server.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Message is a single message in a thread, newest first in listings.
type Message struct {
	ID      string           `json:"id"`
	Role    string           `json:"role"`
	Content []messageContent `json:"content"`
}

type messageContent struct {
	Type string `json:"type"`
	Text *struct {
		Value       string `json:"value"`
		Annotations []struct {
			Type         string `json:"type"`
			Text         string `json:"text"`
			FileCitation *struct {
				FileID string `json:"file_id"`
			} `json:"file_citation"`
			FilePath *struct {
				FileID string `json:"file_id"`
			} `json:"file_path"`
		} `json:"annotations"`
	} `json:"text"`
}

// Text returns the first text content of the message.
func (m Message) Text() string {
	for _, c := range m.Content {
		if c.Type == "text" && c.Text != nil {
			return c.Text.Value
		}
	}
	return ""
}

// Annotation is a marker the assistant embedded in message text, referencing
// either a cited source file or a generated file.
type Annotation struct {
	// Text is the literal marker as it appears in the message text.
	Text string
	// FileCitationID is set for file_citation annotations.
	FileCitationID string
	// FilePathID is set for file_path annotations.
	FilePathID string
}

// Annotations returns the markers embedded in the message text, in order.
func (m Message) Annotations() []Annotation {
	var out []Annotation
	for _, c := range m.Content {
		if c.Type != "text" || c.Text == nil {
			continue
		}
		for _, a := range c.Text.Annotations {
			ann := Annotation{Text: a.Text}
			if a.FileCitation != nil {
				ann.FileCitationID = a.FileCitation.FileID
			}
			if a.FilePath != nil {
				ann.FilePathID = a.FilePath.FileID
			}
			out = append(out, ann)
		}
	}
	return out
}

// GeneratedFile returns the file ID and file extension of the first
// file-path annotation, if the assistant attached a generated file to the
// message. The extension is derived from the annotated sandbox path.
func (m Message) GeneratedFile() (fileID, ext string) {
	for _, c := range m.Content {
		if c.Type != "text" || c.Text == nil {
			continue
		}
		for _, a := range c.Text.Annotations {
			if a.FilePath != nil {
				return a.FilePath.FileID, path.Ext(a.Text)
			}
		}
	}
	return "", ""
}

type threadMessage struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type attachment struct {
	FileID string `json:"file_id"`
	Tools  []tool `json:"tools"`
}

type tool struct {
	Type string `json:"type"`
}

func attachmentsFor(fileIDs []string) []attachment {
	var out []attachment
	for _, id := range fileIDs {
		out = append(out, attachment{FileID: id, Tools: []tool{{Type: "file_search"}}})
	}
	return out
}

// CreateThread starts a new remote conversation thread seeded with a first
// user message. When vectorStoreID is non-empty, the thread is given access
// to that vector store for file search.
func (c *Client) CreateThread(ctx context.Context, firstMessage, vectorStoreID string, fileIDs []string) (string, error) {
	body := map[string]interface{}{
		"messages": []threadMessage{{Role: "user", Content: firstMessage, Attachments: attachmentsFor(fileIDs)}},
	}
	if vectorStoreID != "" {
		body["tool_resources"] = map[string]interface{}{
			"file_search": map[string]interface{}{
				"vector_store_ids": []string{vectorStoreID},
			},
		}
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/threads", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// CreateMessage appends a user message to an existing thread.
func (c *Client) CreateMessage(ctx context.Context, threadID, content string, fileIDs []string) error {
	body := threadMessage{Role: "user", Content: content, Attachments: attachmentsFor(fileIDs)}
	return c.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/messages", body, nil)
}

// CreateRun starts a run of the assistant against a thread.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID, instructions string) (string, error) {
	body := map[string]interface{}{
		"assistant_id": assistantID,
	}
	if instructions != "" {
		body["additional_instructions"] = instructions
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/runs", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// GetRun retrieves the current status of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// ListMessages lists the messages of a thread, newest first.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	var resp struct {
		Data []Message `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/threads/"+threadID+"/messages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// UploadFile uploads a file for use by the assistant and returns its ID.
func (c *Client) UploadFile(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", err
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// GetFile retrieves a file's metadata and returns its original filename.
func (c *Client) GetFile(ctx context.Context, fileID string) (string, error) {
	var resp struct {
		Filename string `json:"filename"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/files/"+fileID, nil, &resp); err != nil {
		return "", err
	}
	return resp.Filename, nil
}

// GetFileContent downloads the raw bytes of a file.
func (c *Client) GetFileContent(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, err
	}
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiErrorFrom(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiErrorFrom(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
}

func apiErrorFrom(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var errBody struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil {
		apiErr.Message = errBody.Error.Message
	}
	return apiErr
}
