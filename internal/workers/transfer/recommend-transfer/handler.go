// internal/workers/transfer/recommend-transfer/handler.go
package recommendtransfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "transfer-advisor/internal/common/errors"
	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/pipeline"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "recommend-transfer"
)

var (
	ErrInvalidInput = errors.New("INVALID_INPUT")
)

// Processor is satisfied by *pipeline.Pipeline.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) pipeline.Response
}

type Handler struct {
	config     *Config
	processor  Processor
	logger     logger.Logger
	errHandler *apperrors.ErrorHandler
}

func NewHandler(config *Config, processor Processor, log logger.Logger) *Handler {
	if config == nil {
		config = LoadConfig()
	}
	return &Handler{
		config:     config,
		processor:  processor,
		logger:     log.WithFields(map[string]interface{}{"taskType": TaskType}),
		errHandler: apperrors.NewErrorHandler(log),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := parseInput(job.Variables)
	if err != nil {
		h.errHandler.HandleJobError(ctx, client, job, apperrors.NewInvalidInputError(err.Error()))
		return err
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.errHandler.HandleJobError(ctx, client, job, apperrors.NewInvalidInputError(err.Error()))
		return err
	}

	return h.completeJob(client, job, output)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if strings.TrimSpace(input.ClinicalText) == "" {
		return nil, fmt.Errorf("%w: clinicalText is required", ErrInvalidInput)
	}

	resp := h.processor.Process(ctx, input.toRequest())
	rec := resp.FinalRecommendation

	h.logger.Info("transfer recommendation ready", map[string]interface{}{
		"requestId":        resp.RequestID,
		"campusId":         rec.RecommendedCampusID,
		"careLevel":        rec.RecommendedLevelOfCare,
		"confidence":       rec.ConfidenceScore,
		"success":          resp.Success,
		"needsHumanReview": rec.NeedsHumanReview,
	})

	return &Output{
		RequestID:        resp.RequestID,
		Recommendation:   rec,
		Success:          resp.Success,
		NeedsHumanReview: rec.NeedsHumanReview,
		ErrorMessage:     resp.ErrorMessage,
		Stages:           resp.Stages,
	}, nil
}

func parseInput(variables string) (*Input, error) {
	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, fmt.Errorf("parse input: %v", err)
	}
	return &input, nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) error {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	return nil
}
