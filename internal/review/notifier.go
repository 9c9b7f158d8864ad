// Package review notifies the transfer center when a recommendation needs a
// human to look at it.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	awsclients "transfer-advisor/internal/common/aws"
	"transfer-advisor/internal/common/config"
	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/common/metrics"
	"transfer-advisor/internal/models"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
)

var ErrNotificationSendFailed = errors.New("NOTIFICATION_SEND_FAILED")

const (
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusDisabled = "disabled"
)

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Options struct {
	TopicARN  string
	FromEmail string
	ToEmails  []string
}

// Notifier publishes review requests to SNS and emails them through SES.
// Either client may be nil, which disables that channel.
type Notifier struct {
	opts Options
	sns  SNSService
	ses  SESService
	log  logger.Logger
}

func NewNotifier(opts Options, snsClient SNSService, sesClient SESService, log logger.Logger) *Notifier {
	return &Notifier{
		opts: opts,
		sns:  snsClient,
		ses:  sesClient,
		log:  logger.Component(log, "review-notifier"),
	}
}

// NewFromConfig builds AWS-backed clients for the enabled channels. It
// returns nil when no channel is enabled.
func NewFromConfig(ctx context.Context, cfg config.NotificationConfig, log logger.Logger) (*Notifier, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	opts := Options{
		TopicARN:  cfg.SNS.TopicARN,
		FromEmail: cfg.SES.FromEmail,
		ToEmails:  cfg.SES.ToEmails,
	}

	var (
		snsClient SNSService
		sesClient SESService
	)
	if cfg.SNS.Enabled {
		c, err := awsclients.NewSNSClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("create sns client: %w", err)
		}
		snsClient = c
	}
	if cfg.SES.Enabled {
		c, err := awsclients.NewSESClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("create ses client: %w", err)
		}
		sesClient = c
	}
	return NewNotifier(opts, snsClient, sesClient, log), nil
}

// BuildRequest turns a flagged recommendation into a review request.
func BuildRequest(rec models.Recommendation) models.ReviewRequest {
	reasons := append([]string(nil), rec.ReviewReasons...)
	if len(reasons) == 0 {
		reasons = []string{"manual review requested"}
	}
	return models.ReviewRequest{
		ID:                uuid.New().String(),
		TransferRequestID: rec.TransferRequestID,
		CampusID:          rec.RecommendedCampusID,
		CampusName:        rec.RecommendedCampusName,
		CareLevel:         rec.RecommendedLevelOfCare,
		ConfidenceScore:   rec.ConfidenceScore,
		Reasons:           reasons,
		Summary:           rec.Reason,
		CreatedAt:         time.Now().UTC().Format(time.RFC3339),
	}
}

// Notify sends req on every configured channel. It fails only when every
// attempted channel failed.
func (n *Notifier) Notify(ctx context.Context, req models.ReviewRequest) ([]models.ReviewDelivery, error) {
	subject := fmt.Sprintf("Transfer review: %s to %s (%s)", req.TransferRequestID, req.CampusID, req.CareLevel)
	body := renderBody(req)
	reason := "other"
	if len(req.Reasons) > 0 {
		reason = req.Reasons[0]
	}

	deliveries := []models.ReviewDelivery{
		n.publish(ctx, req, subject),
		n.email(ctx, subject, body),
	}

	attempted, failed := 0, 0
	for _, d := range deliveries {
		metrics.ReviewRequests.WithLabelValues(reason, d.Status).Inc()
		switch d.Status {
		case StatusSent:
			attempted++
		case StatusFailed:
			attempted++
			failed++
		}
	}

	n.log.Info("review request dispatched", map[string]interface{}{
		"review_id":           req.ID,
		"transfer_request_id": req.TransferRequestID,
		"attempted":           attempted,
		"failed":              failed,
	})

	if attempted > 0 && attempted == failed {
		return deliveries, fmt.Errorf("%w: all %d channels failed", ErrNotificationSendFailed, failed)
	}
	return deliveries, nil
}

func (n *Notifier) publish(ctx context.Context, req models.ReviewRequest, subject string) models.ReviewDelivery {
	d := models.ReviewDelivery{Channel: "sns", Status: StatusDisabled}
	if n.sns == nil || n.opts.TopicARN == "" {
		return d
	}

	payload, err := json.Marshal(req)
	if err != nil {
		d.Status, d.Error = StatusFailed, err.Error()
		return d
	}
	attrs := map[string]string{
		"campus_id":  req.CampusID,
		"care_level": req.CareLevel,
	}
	// SNS subjects are limited to 100 characters.
	out, err := n.sns.Publish(ctx, awsclients.TopicMessage(n.opts.TopicARN, truncate(subject, 100), string(payload), attrs))
	if err != nil {
		n.log.Error("sns publish failed", map[string]interface{}{"error": err.Error()})
		d.Status, d.Error = StatusFailed, err.Error()
		return d
	}
	d.Status = StatusSent
	if out != nil && out.MessageId != nil {
		d.MessageID = *out.MessageId
	}
	return d
}

func (n *Notifier) email(ctx context.Context, subject, body string) models.ReviewDelivery {
	d := models.ReviewDelivery{Channel: "ses", Status: StatusDisabled}
	if n.ses == nil || n.opts.FromEmail == "" || len(n.opts.ToEmails) == 0 {
		return d
	}

	out, err := n.ses.SendEmail(ctx, awsclients.TextEmail(n.opts.FromEmail, n.opts.ToEmails, subject, body))
	if err != nil {
		n.log.Error("ses send failed", map[string]interface{}{"error": err.Error()})
		d.Status, d.Error = StatusFailed, err.Error()
		return d
	}
	d.Status = StatusSent
	if out != nil && out.MessageId != nil {
		d.MessageID = *out.MessageId
	}
	return d
}

func renderBody(req models.ReviewRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transfer request: %s\n", req.TransferRequestID)
	fmt.Fprintf(&b, "Recommended campus: %s (%s)\n", req.CampusName, req.CampusID)
	fmt.Fprintf(&b, "Level of care: %s\n", req.CareLevel)
	fmt.Fprintf(&b, "Confidence: %.0f\n\n", req.ConfidenceScore)
	b.WriteString("Review reasons:\n")
	for _, r := range req.Reasons {
		fmt.Fprintf(&b, "  - %s\n", r)
	}
	if req.Summary != "" {
		fmt.Fprintf(&b, "\nReasoning: %s\n", req.Summary)
	}
	return b.String()
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
