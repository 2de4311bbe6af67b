// Package artifact persists chat manifests in a remote artifact-manager
// service over HTTP. Each user owns a workspace holding one collection of
// chats; a chat is a child artifact keyed by its session id.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ariachat/internal/domain"
)

const (
	defaultServicePath = "public/services/artifact-manager"
	readRetries        = 3
	maxErrorBody       = 4096
)

// Options configures a Store.
type Options struct {
	BaseURL     string // e.g. https://hypha.aicell.io
	ServicePath string // artifact-manager service path under BaseURL
	Token       string
	UserID      string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Store is a domain.ChatStore backed by the artifact-manager HTTP API.
type Store struct {
	endpoint  string
	token     string
	userID    string
	workspace string
	client    *http.Client
	logger    *slog.Logger

	// retryUnit scales the backoff between read retries.
	retryUnit time.Duration
}

var _ domain.ChatStore = (*Store)(nil)

// New creates a remote chat store for opts.UserID.
func New(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ServicePath == "" {
		opts.ServicePath = defaultServicePath
	}
	return &Store{
		endpoint:  strings.TrimRight(opts.BaseURL, "/") + "/" + strings.Trim(opts.ServicePath, "/"),
		token:     opts.Token,
		userID:    opts.UserID,
		workspace: domain.WorkspaceFor(opts.UserID),
		client:    NewHTTPClient(opts.Timeout),
		logger:    opts.Logger.With("component", "artifact-store"),
		retryUnit: time.Second,
	}
}

func (s *Store) collectionID() string {
	return s.workspace + "/" + domain.CollectionAlias
}

type createRequest struct {
	Workspace   string             `json:"workspace,omitempty"`
	ParentID    string             `json:"parent_id,omitempty"`
	Alias       string             `json:"alias"`
	Type        string             `json:"type"`
	Manifest    any                `json:"manifest"`
	Permissions domain.Permissions `json:"permissions,omitempty"`
}

type editRequest struct {
	ArtifactID  string             `json:"artifact_id"`
	Manifest    domain.Manifest    `json:"manifest"`
	Permissions domain.Permissions `json:"permissions,omitempty"`
}

type idRequest struct {
	ArtifactID  string `json:"artifact_id"`
	DeleteFiles bool   `json:"delete_files,omitempty"`
}

type artifactRecord struct {
	ID       string          `json:"id"`
	Manifest domain.Manifest `json:"manifest"`
}

// EnsureCollection creates the chat collection in the user's workspace. An
// existing collection is not an error.
func (s *Store) EnsureCollection(ctx context.Context) error {
	req := createRequest{
		Workspace: s.workspace,
		Alias:     domain.CollectionAlias,
		Type:      "collection",
		Manifest: map[string]string{
			"name":        "Aria Agents Chat History",
			"description": "A collection used to store previous chat sessions with the Aria Agents chatbot",
		},
		Permissions: domain.Permissions{"@": "rw+"},
	}
	err := s.call(ctx, "create", req, nil, 0)
	if isStatus(err, http.StatusConflict) {
		s.logger.Debug("chat collection exists", "collection", s.collectionID())
		return nil
	}
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collectionID(), err)
	}
	s.logger.Info("created chat collection", "collection", s.collectionID())
	return nil
}

// Save creates the chat artifact; when the alias already exists the manifest is
// edited in place and committed.
func (s *Store) Save(ctx context.Context, m domain.Manifest, perms domain.Permissions) error {
	err := s.call(ctx, "create", createRequest{
		ParentID:    s.collectionID(),
		Alias:       m.ID,
		Type:        domain.ManifestType,
		Manifest:    m,
		Permissions: perms,
	}, nil, 0)
	if err == nil {
		return nil
	}
	if !isStatus(err, http.StatusConflict) {
		return fmt.Errorf("create chat %s: %w", m.ID, err)
	}

	id := s.workspace + "/" + m.ID
	if err := s.call(ctx, "edit", editRequest{ArtifactID: id, Manifest: m, Permissions: perms}, nil, 0); err != nil {
		return fmt.Errorf("edit chat %s: %w", m.ID, err)
	}
	if err := s.call(ctx, "commit", idRequest{ArtifactID: id}, nil, 0); err != nil {
		return fmt.Errorf("commit chat %s: %w", m.ID, err)
	}
	return nil
}

// List returns every chat manifest in the collection.
func (s *Store) List(ctx context.Context) ([]domain.Manifest, error) {
	var records []artifactRecord
	req := struct {
		ParentID string `json:"parent_id"`
	}{s.collectionID()}
	if err := s.call(ctx, "list_children", req, &records, readRetries); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	out := make([]domain.Manifest, 0, len(records))
	for _, r := range records {
		out = append(out, r.Manifest)
	}
	return out, nil
}

// Read fetches one chat. userID selects the owning workspace; it may differ
// from the store's user for shared chats.
func (s *Store) Read(ctx context.Context, userID, chatID string) (*domain.Manifest, error) {
	if userID == "" {
		userID = s.userID
	}
	var rec artifactRecord
	err := s.call(ctx, "read", idRequest{ArtifactID: domain.ChatAlias(userID, chatID)}, &rec, readRetries)
	if isStatus(err, http.StatusNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read chat %s: %w", chatID, err)
	}
	return &rec.Manifest, nil
}

// Delete removes a chat and its files.
func (s *Store) Delete(ctx context.Context, chatID string) error {
	err := s.call(ctx, "delete", idRequest{ArtifactID: s.workspace + "/" + chatID, DeleteFiles: true}, nil, 0)
	if isStatus(err, http.StatusNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete chat %s: %w", chatID, err)
	}
	return nil
}

// call POSTs body to a service function and decodes the JSON answer into out.
func (s *Store) call(ctx context.Context, fn string, body, out any, retries int) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", fn, err)
	}

	url := s.endpoint + "/" + fn
	build := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}
		return req, nil
	}

	start := time.Now()
	resp, err := doWithRetry(ctx, s.client, retries, s.retryUnit, build, s.logger)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	s.logger.Debug("artifact call", "fn", fn, "status", resp.StatusCode, "duration", time.Since(start))

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", fn, err)
	}
	return nil
}

func isStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
