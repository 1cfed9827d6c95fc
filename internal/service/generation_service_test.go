package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classbridge/classbridge-api/internal/dto"
	"github.com/classbridge/classbridge-api/internal/models"
)

type fakeGenerationRepo struct {
	mu          sync.Mutex
	assignments map[string]*models.Assignment
	updated     []*models.Assignment
}

func (f *fakeGenerationRepo) FindByID(_ context.Context, id string) (*models.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	assignment, ok := f.assignments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *assignment
	return &copied, nil
}

func (f *fakeGenerationRepo) Update(_ context.Context, assignment *models.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *assignment
	f.assignments[assignment.ID] = &copied
	f.updated = append(f.updated, &copied)
	return nil
}

func newGenerationServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req generationAPIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Messages)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(generationAPIResponse{
			Choices: []struct {
				Message generationMessage `json:"message"`
			}{
				{Message: generationMessage{Role: "assistant", Content: content}},
			},
		})
	}))
}

func TestGenerationServiceStoresGeneratedContent(t *testing.T) {
	server := newGenerationServer(t, "Write a two page essay on photosynthesis.", http.StatusOK)
	defer server.Close()

	repo := &fakeGenerationRepo{assignments: map[string]*models.Assignment{
		"a1": {ID: "a1", CourseID: "c1", Title: "Essay"},
	}}
	svc := NewGenerationService(repo, GenerationConfig{
		Enabled: true,
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
	}, nil)

	resp, err := svc.Generate(context.Background(), "a1", dto.GenerationRequest{Instruction: "essay prompt about photosynthesis", Tone: "encouraging"})
	require.NoError(t, err)
	assert.Equal(t, "a1", resp.AssignmentID)
	assert.Equal(t, "Write a two page essay on photosynthesis.", resp.Content)

	require.Len(t, repo.updated, 1)
	require.NotNil(t, repo.updated[0].TextContent)
	assert.Equal(t, resp.Content, *repo.updated[0].TextContent)
	assert.Equal(t, models.AssignmentTypeText, repo.updated[0].Type)
}

func TestGenerationServiceDisabled(t *testing.T) {
	repo := &fakeGenerationRepo{assignments: map[string]*models.Assignment{}}
	svc := NewGenerationService(repo, GenerationConfig{Enabled: false}, nil)

	_, err := svc.Generate(context.Background(), "a1", dto.GenerationRequest{Instruction: "anything"})
	assert.Error(t, err)
}

func TestGenerationServiceRequiresInstruction(t *testing.T) {
	repo := &fakeGenerationRepo{assignments: map[string]*models.Assignment{}}
	svc := NewGenerationService(repo, GenerationConfig{Enabled: true, BaseURL: "http://unused"}, nil)

	_, err := svc.Generate(context.Background(), "a1", dto.GenerationRequest{Instruction: "   "})
	assert.Error(t, err)
}

func TestGenerationServiceUnknownAssignment(t *testing.T) {
	server := newGenerationServer(t, "unused", http.StatusOK)
	defer server.Close()

	repo := &fakeGenerationRepo{assignments: map[string]*models.Assignment{}}
	svc := NewGenerationService(repo, GenerationConfig{Enabled: true, BaseURL: server.URL, APIKey: "test-key"}, nil)

	_, err := svc.Generate(context.Background(), "missing", dto.GenerationRequest{Instruction: "prompt"})
	assert.Error(t, err)
}

func TestGenerationServiceUpstreamRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	repo := &fakeGenerationRepo{assignments: map[string]*models.Assignment{
		"a1": {ID: "a1", CourseID: "c1", Title: "Essay"},
	}}
	svc := NewGenerationService(repo, GenerationConfig{Enabled: true, BaseURL: server.URL, APIKey: "test-key"}, nil)

	_, err := svc.Generate(context.Background(), "a1", dto.GenerationRequest{Instruction: "prompt"})
	assert.Error(t, err)
	assert.Empty(t, repo.updated)
}

func TestGenerationServiceEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(generationAPIResponse{})
	}))
	defer server.Close()

	repo := &fakeGenerationRepo{assignments: map[string]*models.Assignment{
		"a1": {ID: "a1", CourseID: "c1", Title: "Essay"},
	}}
	svc := NewGenerationService(repo, GenerationConfig{Enabled: true, BaseURL: server.URL, APIKey: "test-key"}, nil)

	_, err := svc.Generate(context.Background(), "a1", dto.GenerationRequest{Instruction: "prompt"})
	assert.Error(t, err)
}
