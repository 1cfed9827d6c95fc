package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/classbridge/classbridge-api/internal/dto"
	"github.com/classbridge/classbridge-api/internal/models"
	appErrors "github.com/classbridge/classbridge-api/pkg/errors"
)

type generationAssignmentRepo interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	Update(ctx context.Context, assignment *models.Assignment) error
}

// GenerationConfig configures the text generation client.
type GenerationConfig struct {
	Enabled bool
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// GenerationService produces assignment content through an external
// text-generation API and stores the result on the assignment.
type GenerationService struct {
	repo   generationAssignmentRepo
	client *resty.Client
	cfg    GenerationConfig
	logger *zap.Logger
}

type generationAPIRequest struct {
	Model    string              `json:"model"`
	Messages []generationMessage `json:"messages"`
}

type generationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generationAPIResponse struct {
	Choices []struct {
		Message generationMessage `json:"message"`
	} `json:"choices"`
}

// NewGenerationService constructs GenerationService.
func NewGenerationService(repo generationAssignmentRepo, cfg GenerationConfig, logger *zap.Logger) *GenerationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)
	return &GenerationService{repo: repo, client: client, cfg: cfg, logger: logger}
}

// Generate requests content for an assignment and persists it as the
// assignment's text content.
func (s *GenerationService) Generate(ctx context.Context, assignmentID string, req dto.GenerationRequest) (*dto.GenerationResponse, error) {
	if !s.cfg.Enabled {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "content generation disabled")
	}
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "instruction required")
	}

	assignment, err := s.repo.FindByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}

	prompt := req.Instruction
	if req.Tone != "" {
		prompt = fmt.Sprintf("%s\n\nTone: %s", prompt, req.Tone)
	}

	var apiResp generationAPIResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+s.cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetBody(generationAPIRequest{
			Model: s.cfg.Model,
			Messages: []generationMessage{
				{Role: "system", Content: "You write clear coursework descriptions for teachers."},
				{Role: "user", Content: prompt},
			},
		}).
		SetResult(&apiResp).
		Post("/v1/chat/completions")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "generation request failed")
	}
	if resp.StatusCode() >= 400 {
		s.logger.Warn("generation api rejected request", zap.Int("status", resp.StatusCode()), zap.String("body", resp.String()))
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "generation api rejected request")
	}
	if len(apiResp.Choices) == 0 || strings.TrimSpace(apiResp.Choices[0].Message.Content) == "" {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "generation api returned no content")
	}

	content := strings.TrimSpace(apiResp.Choices[0].Message.Content)
	assignment.TextContent = &content
	if assignment.Type == "" {
		assignment.Type = models.AssignmentTypeText
	}
	if err := s.repo.Update(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store generated content")
	}

	return &dto.GenerationResponse{
		AssignmentID: assignmentID,
		Content:      content,
		Model:        s.cfg.Model,
	}, nil
}
