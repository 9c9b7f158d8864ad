// internal/common/camunda/validate.go
package camunda

import (
	"context"
	"strings"

	apperrors "transfer-advisor/internal/common/errors"
	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// ValidatingHandler rejects jobs whose variables do not satisfy the input
// schema before the wrapped handler sees them.
type ValidatingHandler struct {
	next       JobHandler
	schema     *validation.Schema
	log        logger.Logger
	errHandler *apperrors.ErrorHandler
}

// WithInputSchema wraps next. A nil schema returns next unchanged.
func WithInputSchema(next JobHandler, schema *validation.Schema, log logger.Logger) JobHandler {
	if schema == nil {
		return next
	}
	return &ValidatingHandler{
		next:       next,
		schema:     schema,
		log:        logger.Component(log, "input-validation"),
		errHandler: apperrors.NewErrorHandler(log),
	}
}

func (h *ValidatingHandler) Handle(client worker.JobClient, job entities.Job) error {
	vars, err := job.GetVariablesAsMap()
	if err != nil {
		h.errHandler.HandleJobError(context.Background(), client, job, apperrors.NewInvalidInputError(err.Error()))
		return err
	}

	if err := h.check(job.Key, vars); err != nil {
		h.errHandler.HandleJobError(context.Background(), client, job, err)
		return err
	}
	return h.next.Handle(client, job)
}

func (h *ValidatingHandler) check(jobKey int64, vars map[string]interface{}) error {
	result := h.schema.Validate(vars)
	if result.Valid {
		return nil
	}
	msgs := result.GetErrorMessages()
	h.log.Warn("job variables rejected", map[string]interface{}{
		"job_key": jobKey,
		"schema":  h.schema.Name(),
		"errors":  msgs,
	})
	return apperrors.NewInvalidInputError(strings.Join(msgs, "; "))
}
