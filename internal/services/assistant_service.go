package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mfiguera/lexbot-be/internal/cache"
	"github.com/mfiguera/lexbot-be/internal/filestore"
	"github.com/mfiguera/lexbot-be/internal/openai"
	"github.com/rs/zerolog/log"
)

var (
	// ErrEmptyPrompt is returned when a request carries no prompt text.
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrRunFailed is returned when a remote run ends in a non-completed
	// terminal status.
	ErrRunFailed = errors.New("assistant run failed")
	// ErrRunTimeout is returned when a run does not reach a terminal status
	// within the configured maximum wait. Distinct from ErrRunFailed so
	// callers can map it to a different response.
	ErrRunTimeout = errors.New("assistant run timed out")
)

// AssistantClient is the remote conversation service consumed by the
// AssistantService. *openai.Client satisfies it.
type AssistantClient interface {
	CreateThread(ctx context.Context, firstMessage, vectorStoreID string, fileIDs []string) (string, error)
	CreateMessage(ctx context.Context, threadID, content string, fileIDs []string) error
	CreateRun(ctx context.Context, threadID, assistantID, instructions string) (string, error)
	GetRun(ctx context.Context, threadID, runID string) (string, error)
	ListMessages(ctx context.Context, threadID string) ([]openai.Message, error)
	UploadFile(ctx context.Context, filename string, r io.Reader) (string, error)
	GetFile(ctx context.Context, fileID string) (string, error)
	GetFileContent(ctx context.Context, fileID string) ([]byte, error)
}

// Upload is an optional file accompanying a prompt.
type Upload struct {
	Filename string
	Reader   io.Reader
}

// Answer is the outcome of a completed run. Annotation markers in the raw
// assistant text are rewritten to [n] indexes; Citations lists the source
// filename behind each citation index.
type Answer struct {
	Result    string   `json:"result"`
	Citations []string `json:"citations,omitempty"`
	// File names a stored artifact when the assistant generated one.
	File string `json:"file,omitempty"`
}

// AssistantServiceProvider defines the interface for the assistant service.
type AssistantServiceProvider interface {
	Ask(ctx context.Context, userID, prompt string, upload *Upload) (Answer, error)
	AskStream(ctx context.Context, userID, prompt string, upload *Upload, onStatus func(status string)) (Answer, error)
}

// AssistantOptions configures an AssistantService.
type AssistantOptions struct {
	AssistantID   string
	VectorStoreID string
	// Instructions are passed as additional instructions on every run.
	Instructions string
	ThreadTTL    time.Duration
	PollInterval time.Duration
	MaxWait      time.Duration
}

// AssistantService proxies prompts to the remote assistant. It keeps one
// conversation thread per user: the first prompt creates a remote thread and
// caches its handle, later prompts within the TTL append to the same thread.
// The TTL is counted from thread creation and is not extended by reuse, so a
// conversation is retired a fixed time after its first message and the next
// prompt starts a fresh one.
type AssistantService struct {
	client  AssistantClient
	files   *filestore.Store
	threads *cache.Cache[string]
	opts    AssistantOptions
}

// NewAssistantService creates a new AssistantService.
func NewAssistantService(client AssistantClient, files *filestore.Store, opts AssistantOptions) *AssistantService {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 2 * time.Minute
	}
	return &AssistantService{
		client:  client,
		files:   files,
		threads: cache.New[string](opts.ThreadTTL),
		opts:    opts,
	}
}

// Threads exposes the thread cache. Tests only.
func (s *AssistantService) Threads() *cache.Cache[string] {
	return s.threads
}

// Ask submits a prompt (and optional file) on behalf of a user and blocks
// until the run completes, times out, or fails.
func (s *AssistantService) Ask(ctx context.Context, userID, prompt string, upload *Upload) (Answer, error) {
	return s.AskStream(ctx, userID, prompt, upload, nil)
}

// AskStream is Ask with a status callback: onStatus is invoked for each run
// status observed while polling, before the final answer is returned.
func (s *AssistantService) AskStream(ctx context.Context, userID, prompt string, upload *Upload, onStatus func(status string)) (Answer, error) {
	if strings.TrimSpace(prompt) == "" {
		return Answer{}, ErrEmptyPrompt
	}

	var fileIDs []string
	if upload != nil {
		fileID, err := s.client.UploadFile(ctx, upload.Filename, upload.Reader)
		if err != nil {
			return Answer{}, fmt.Errorf("uploading file: %w", err)
		}
		fileIDs = append(fileIDs, fileID)
	}

	threadID, err := s.threadFor(ctx, userID, prompt, fileIDs)
	if err != nil {
		return Answer{}, err
	}

	runID, err := s.client.CreateRun(ctx, threadID, s.opts.AssistantID, s.opts.Instructions)
	if err != nil {
		return Answer{}, fmt.Errorf("starting run on thread %s: %w", threadID, err)
	}

	status, err := s.waitForRun(ctx, threadID, runID, onStatus)
	if err != nil {
		return Answer{}, err
	}
	if status != openai.RunStatusCompleted {
		log.Error().Str("thread_id", threadID).Str("run_id", runID).Str("status", status).Msg("Assistant run ended abnormally")
		return Answer{}, fmt.Errorf("%w: status %s", ErrRunFailed, status)
	}

	return s.collectAnswer(ctx, threadID, runID)
}

// threadFor returns the remote thread handle for a user, creating a thread
// seeded with the prompt on first use and appending the prompt to the cached
// thread otherwise.
func (s *AssistantService) threadFor(ctx context.Context, userID, prompt string, fileIDs []string) (string, error) {
	if threadID, ok := s.threads.Get(userID); ok {
		log.Debug().Str("user_id", userID).Str("thread_id", threadID).Msg("Reusing cached thread")
		if err := s.client.CreateMessage(ctx, threadID, prompt, fileIDs); err != nil {
			return "", fmt.Errorf("appending to thread %s: %w", threadID, err)
		}
		return threadID, nil
	}

	threadID, err := s.client.CreateThread(ctx, prompt, s.opts.VectorStoreID, fileIDs)
	if err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}
	s.threads.Set(userID, threadID)
	log.Info().Str("user_id", userID).Str("thread_id", threadID).Msg("Created new thread")
	return threadID, nil
}

const maxPollDelay = 10 * time.Second

// waitForRun polls the run until it reaches a terminal status, backing off
// exponentially. The total wait is bounded by MaxWait.
func (s *AssistantService) waitForRun(ctx context.Context, threadID, runID string, onStatus func(status string)) (string, error) {
	deadline := time.Now().Add(s.opts.MaxWait)
	delay := s.opts.PollInterval
	lastStatus := ""

	for {
		status, err := s.client.GetRun(ctx, threadID, runID)
		if err != nil {
			return "", fmt.Errorf("polling run %s: %w", runID, err)
		}
		if status != lastStatus {
			lastStatus = status
			if onStatus != nil {
				onStatus(status)
			}
		}
		if openai.TerminalRunStatus(status) {
			return status, nil
		}
		if !time.Now().Add(delay).Before(deadline) {
			log.Error().Str("thread_id", threadID).Str("run_id", runID).Str("status", status).Msg("Gave up waiting for run")
			return "", ErrRunTimeout
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxPollDelay {
			delay = maxPollDelay
		}
	}
}

// collectAnswer reads the newest assistant message and, when it references a
// generated file, stores the file bytes locally under a name derived from the
// thread and run IDs.
func (s *AssistantService) collectAnswer(ctx context.Context, threadID, runID string) (Answer, error) {
	messages, err := s.client.ListMessages(ctx, threadID)
	if err != nil {
		return Answer{}, fmt.Errorf("listing messages of thread %s: %w", threadID, err)
	}

	var answer Answer
	for _, msg := range messages {
		if msg.Role != "assistant" {
			continue
		}
		answer.Result = msg.Text()

		// Rewrite each annotation marker to a [n] index and resolve cited
		// file IDs to their filenames.
		for i, ann := range msg.Annotations() {
			if ann.Text != "" {
				answer.Result = strings.Replace(answer.Result, ann.Text, fmt.Sprintf("[%d]", i), 1)
			}
			if ann.FileCitationID == "" {
				continue
			}
			filename, err := s.client.GetFile(ctx, ann.FileCitationID)
			if err != nil {
				return Answer{}, fmt.Errorf("resolving citation %s: %w", ann.FileCitationID, err)
			}
			answer.Citations = append(answer.Citations, fmt.Sprintf("[%d] %s", i, filename))
		}

		if fileID, ext := msg.GeneratedFile(); fileID != "" {
			data, err := s.client.GetFileContent(ctx, fileID)
			if err != nil {
				return Answer{}, fmt.Errorf("fetching generated file %s: %w", fileID, err)
			}
			name := filestore.ArtifactName(threadID, runID, ext)
			if err := s.files.Save(name, data); err != nil {
				return Answer{}, fmt.Errorf("saving artifact %s: %w", name, err)
			}
			answer.File = name
		}
		break
	}
	return answer, nil
}
