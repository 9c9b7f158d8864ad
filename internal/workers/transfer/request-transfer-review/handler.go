// internal/workers/transfer/request-transfer-review/handler.go
package requesttransferreview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "transfer-advisor/internal/common/errors"
	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/models"
	"transfer-advisor/internal/review"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "request-transfer-review"
)

var (
	ErrInvalidInput = errors.New("INVALID_INPUT")
)

// Notifier is satisfied by *review.Notifier.
type Notifier interface {
	Notify(ctx context.Context, req models.ReviewRequest) ([]models.ReviewDelivery, error)
}

type Handler struct {
	config     *Config
	notifier   Notifier
	logger     logger.Logger
	errHandler *apperrors.ErrorHandler
}

// NewHandler accepts a nil notifier; jobs then complete with status
// "disabled".
func NewHandler(config *Config, notifier Notifier, log logger.Logger) *Handler {
	if config == nil {
		config = LoadConfig()
	}
	return &Handler{
		config:     config,
		notifier:   notifier,
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

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.errHandler.HandleJobError(ctx, client, job, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err)))
		return err
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.errHandler.HandleJobError(ctx, client, job, toStandardError(err))
		return err
	}

	return h.completeJob(client, job, output)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	rec := input.Recommendation
	if rec.TransferRequestID == "" && rec.RecommendedCampusID == "" {
		return nil, fmt.Errorf("%w: recommendation is required", ErrInvalidInput)
	}
	for _, r := range input.Reasons {
		rec.FlagForReview(r)
	}
	if input.RequestedBy != "" {
		rec.FlagForReview("requested by " + input.RequestedBy)
	}

	req := review.BuildRequest(rec)
	sentAt := time.Now().UTC().Format(time.RFC3339)

	if h.notifier == nil {
		h.logger.Warn("review notifications disabled", map[string]interface{}{
			"transferRequestId": rec.TransferRequestID,
		})
		return &Output{ReviewID: req.ID, Status: review.StatusDisabled, Deliveries: []models.ReviewDelivery{}, SentAt: sentAt}, nil
	}

	deliveries, err := h.notifier.Notify(ctx, req)
	if err != nil {
		return nil, err
	}

	return &Output{
		ReviewID:   req.ID,
		Status:     overallStatus(deliveries),
		Deliveries: deliveries,
		SentAt:     sentAt,
	}, nil
}

func toStandardError(err error) *apperrors.StandardError {
	if errors.Is(err, review.ErrNotificationSendFailed) {
		return apperrors.NewNotificationSendFailedError("review", err)
	}
	return apperrors.NewInvalidInputError(err.Error())
}

func overallStatus(deliveries []models.ReviewDelivery) string {
	status := review.StatusDisabled
	for _, d := range deliveries {
		switch d.Status {
		case review.StatusSent:
			return review.StatusSent
		case review.StatusFailed:
			status = review.StatusFailed
		}
	}
	return status
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
