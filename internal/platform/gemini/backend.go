package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/config"
	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/generation"
	"google.golang.org/genai"
)

// batchClient is the subset of genai.Batches the backend uses.
type batchClient interface {
	Create(ctx context.Context, model string, src *genai.BatchJobSource, config *genai.CreateBatchJobConfig) (*genai.BatchJob, error)
	Get(ctx context.Context, name string, config *genai.GetBatchJobConfig) (*genai.BatchJob, error)
}

// Backend submits batches as Gemini batch jobs. Each configured model is a
// separate backend, so a cheaper model can serve as the fallback.
type Backend struct {
	name    string
	cfg     config.ModelConfig
	batches batchClient
	prompts *Prompts
	sink    ArtifactSink
	logger  *slog.Logger
}

var _ generation.Backend = (*Backend)(nil)

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}
	return client, nil
}

// NewBackend creates a Backend for cfg.Model on client.
func NewBackend(client *genai.Client, cfg config.ModelConfig, sink ArtifactSink, logger *slog.Logger) (*Backend, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client cannot be nil", generation.ErrInvalidConfig)
	}
	return newBackend(client.Batches, cfg, sink, logger)
}

func newBackend(batches batchClient, cfg config.ModelConfig, sink ArtifactSink, logger *slog.Logger) (*Backend, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: artifact sink cannot be nil", generation.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	prompts, err := LoadPrompts()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrInvalidConfig, err)
	}

	name := "gemini:" + cfg.Model
	return &Backend{
		name:    name,
		cfg:     cfg,
		batches: batches,
		prompts: prompts,
		sink:    sink,
		logger:  logger.With("component", "gemini_backend", "backend", name),
	}, nil
}

// Name implements generation.Backend.
func (b *Backend) Name() string { return b.name }

// EstimateCost charges the flat per-request rate, doubled for HD renders.
func (b *Backend) EstimateCost(requests []*domain.QueuedRequest) float64 {
	var units float64
	for _, req := range requests {
		units += costUnits(req.Payload)
	}
	return units * b.cfg.CostPerRequest
}

func costUnits(p domain.Payload) float64 {
	if r, ok := p.(*domain.TryOnRenderPayload); ok && r.EffectiveQuality() == domain.RenderQualityHD {
		return 2
	}
	return 1
}

// Submit implements generation.Backend.
func (b *Backend) Submit(
	ctx context.Context,
	batch *domain.Batch,
	requests []*domain.QueuedRequest,
) (generation.Handle, error) {
	inlined := make([]*genai.InlinedRequest, 0, len(requests))
	members := make([]uuid.UUID, 0, len(requests))
	for _, req := range requests {
		contents, err := b.prompts.Contents(req.Payload)
		if err != nil {
			return generation.Handle{}, fmt.Errorf("%w: request %s: %w",
				generation.ErrPermanentFailure, req.ID, err)
		}
		inlined = append(inlined, &genai.InlinedRequest{Contents: contents})
		members = append(members, req.ID)
	}

	job, err := b.batches.Create(ctx, b.cfg.Model,
		&genai.BatchJobSource{InlinedRequests: inlined},
		&genai.CreateBatchJobConfig{DisplayName: "garmax-" + batch.ID.String()})
	if err != nil {
		b.logger.ErrorContext(ctx, "batch job creation failed",
			"batch_id", batch.ID,
			"requests", len(requests),
			"error", err)
		return generation.Handle{}, classifyError(err)
	}
	if job == nil || job.Name == "" {
		return generation.Handle{}, fmt.Errorf("%w: %w: batch job has no name",
			generation.ErrPermanentFailure, generation.ErrInvalidResponse)
	}

	b.logger.InfoContext(ctx, "batch job created",
		"batch_id", batch.ID,
		"job", job.Name,
		"requests", len(requests))
	return generation.Handle{Backend: b.name, ID: job.Name, MemberIDs: members}, nil
}

// PollStatus implements generation.Backend. The Batches API does not report
// per-item progress, so CompletedCount only moves when the job finishes.
func (b *Backend) PollStatus(ctx context.Context, handle generation.Handle) (*generation.PollResult, error) {
	job, err := b.batches.Get(ctx, handle.ID, nil)
	if err != nil {
		return nil, classifyError(err)
	}

	result := &generation.PollResult{TotalCount: len(handle.MemberIDs)}
	switch job.State {
	case genai.JobStateSucceeded:
		result.Status = generation.JobStatusCompleted
		result.Results = b.collectResults(ctx, handle, job)
		result.CompletedCount = len(result.Results)
	case genai.JobStateFailed, genai.JobStateCancelled, genai.JobStateExpired:
		result.Status = generation.JobStatusFailed
		result.ErrorMessage = fmt.Sprintf("batch job %s", jobStateName(job.State))
		if job.Error != nil && job.Error.Message != "" {
			result.ErrorMessage = job.Error.Message
		}
	case genai.JobStateRunning, genai.JobStateCancelling:
		result.Status = generation.JobStatusProcessing
	default:
		result.Status = generation.JobStatusPending
	}
	return result, nil
}

func jobStateName(s genai.JobState) string {
	switch s {
	case genai.JobStateCancelled:
		return "cancelled"
	case genai.JobStateExpired:
		return "expired"
	default:
		return "failed"
	}
}

func (b *Backend) collectResults(ctx context.Context, handle generation.Handle, job *genai.BatchJob) []domain.ItemResult {
	if job.Dest == nil {
		b.logger.WarnContext(ctx, "succeeded batch job has no destination", "job", handle.ID)
		return nil
	}
	responses := job.Dest.InlinedResponses
	if len(responses) != len(handle.MemberIDs) {
		b.logger.WarnContext(ctx, "batch job response count mismatch",
			"job", handle.ID,
			"expected", len(handle.MemberIDs),
			"received", len(responses))
	}

	results := make([]domain.ItemResult, 0, len(handle.MemberIDs))
	for i, id := range handle.MemberIDs {
		if i >= len(responses) {
			break
		}
		results = append(results, b.itemResult(ctx, id, responses[i]))
	}
	return results
}

func (b *Backend) itemResult(ctx context.Context, requestID uuid.UUID, resp *genai.InlinedResponse) domain.ItemResult {
	item := domain.ItemResult{RequestID: requestID}
	if resp == nil {
		item.Error = generation.ErrInvalidResponse.Error()
		return item
	}
	if resp.Error != nil {
		item.Error = resp.Error.Message
		if item.Error == "" {
			item.Error = "generation failed"
		}
		return item
	}

	r := resp.Response
	if r == nil {
		item.Error = generation.ErrInvalidResponse.Error()
		return item
	}
	item.Cost = b.responseCost(r)

	ref, err := b.storeArtifact(ctx, requestID, r)
	if err != nil {
		item.Error = err.Error()
		return item
	}
	item.ResultReference = ref
	return item
}

func (b *Backend) storeArtifact(ctx context.Context, requestID uuid.UUID, r *genai.GenerateContentResponse) (string, error) {
	if len(r.Candidates) == 0 || r.Candidates[0] == nil || r.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}
	cand := r.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", generation.ErrContentBlocked
	}
	for _, part := range cand.Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		ref, err := b.sink.Put(ctx, requestID, part.InlineData.MIMEType, part.InlineData.Data)
		if err != nil {
			b.logger.ErrorContext(ctx, "failed to store artifact",
				"request_id", requestID,
				"error", err)
			return "", errors.New("failed to store artifact")
		}
		return ref, nil
	}
	return "", ErrNoArtifact
}

// responseCost prices r by token usage when both usage and a token rate are
// known, and by the flat per-request rate otherwise.
func (b *Backend) responseCost(r *genai.GenerateContentResponse) float64 {
	if u := r.UsageMetadata; u != nil && u.TotalTokenCount > 0 && b.cfg.CostPerMillionTokens > 0 {
		return float64(u.TotalTokenCount) * b.cfg.CostPerMillionTokens / 1e6
	}
	return b.cfg.CostPerRequest
}
