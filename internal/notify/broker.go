// Package notify tells brokers that a match is waiting for their review and
// tells members how a review ended.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	awsclients "matching-workers/internal/common/aws"
	"matching-workers/internal/common/config"
	"matching-workers/internal/common/logger"
	"matching-workers/internal/common/metrics"
	"matching-workers/internal/matching"
)

const (
	EventPendingReview = "match.pending_review"
	EventApproved      = "match.approved"
	EventRejected      = "match.rejected"
)

// PendingReview is the SNS message body for a record awaiting review.
type PendingReview struct {
	Event         string  `json:"event"`
	TenantID      string  `json:"tenantId"`
	RecordID      string  `json:"recordId"`
	SubjectID     string  `json:"subjectId"`
	CandidateID   string  `json:"candidateId"`
	CandidateKind string  `json:"candidateKind"`
	Score         float64 `json:"score"`
	MatchType     string  `json:"matchType,omitempty"`
	ReviewURL     string  `json:"reviewUrl,omitempty"`
}

// DecisionNotice is the SNS message body for a reviewed record. Hot is set
// on approvals that reach the tenant's hot-match threshold.
type DecisionNotice struct {
	Event         string  `json:"event"`
	TenantID      string  `json:"tenantId"`
	RecordID      string  `json:"recordId"`
	SubjectID     string  `json:"subjectId"`
	CandidateID   string  `json:"candidateId"`
	CandidateKind string  `json:"candidateKind"`
	Score         float64 `json:"score"`
	Hot           bool    `json:"hot"`
	ReviewerID    string  `json:"reviewerId,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

// BrokerNotifier fans a pending record out to the broker SNS topic and,
// optionally, to a fixed list of reviewer email addresses via SES. Review
// outcomes go to the member topic.
type BrokerNotifier struct {
	sns     awsclients.SNSPublisher
	ses     awsclients.SESSender
	cfg     config.NotificationConfig
	configs matching.ConfigProvider
	logger  logger.Logger
}

// NewBrokerNotifier accepts nil clients for disabled channels. A nil
// configs falls back to the default hot-match threshold.
func NewBrokerNotifier(cfg config.NotificationConfig, configs matching.ConfigProvider, snsClient awsclients.SNSPublisher, sesClient awsclients.SESSender, log logger.Logger) *BrokerNotifier {
	return &BrokerNotifier{
		sns:     snsClient,
		ses:     sesClient,
		cfg:     cfg,
		configs: configs,
		logger:  log.WithFields(map[string]interface{}{"component": "broker-notifier"}),
	}
}

var _ matching.Notifier = (*BrokerNotifier)(nil)

func (n *BrokerNotifier) NotifyPending(ctx context.Context, rec *matching.MatchRecord) error {
	if !n.cfg.Enabled {
		return nil
	}
	msg := PendingReview{
		Event:         EventPendingReview,
		TenantID:      rec.TenantID,
		RecordID:      rec.ID,
		SubjectID:     rec.SubjectID,
		CandidateID:   rec.CandidateID,
		CandidateKind: string(rec.CandidateKind),
		Score:         rec.Score,
		MatchType:     string(rec.MatchType),
		ReviewURL:     n.reviewURL(rec.ID),
	}

	var errs []error
	if n.snsEnabled() {
		errs = append(errs, n.track(msg.Event, "sns",
			n.publish(ctx, n.cfg.SNS.TopicARN, "Match awaiting review", msg.Event, msg.TenantID, msg)))
	}
	if n.emailEnabled() {
		errs = append(errs, n.track(msg.Event, "email", n.email(ctx, msg)))
	}
	return errors.Join(errs...)
}

// NotifyDecision tells the subject that a match was approved or rejected.
// Hot approvals are also mailed to the broker recipients.
func (n *BrokerNotifier) NotifyDecision(ctx context.Context, rec *matching.MatchRecord) error {
	if !n.cfg.Enabled {
		return nil
	}
	msg := DecisionNotice{
		Event:         EventRejected,
		TenantID:      rec.TenantID,
		RecordID:      rec.ID,
		SubjectID:     rec.SubjectID,
		CandidateID:   rec.CandidateID,
		CandidateKind: string(rec.CandidateKind),
		Score:         rec.Score,
		ReviewerID:    rec.ReviewerID,
		Notes:         rec.ReviewNotes,
	}
	if rec.Visible() {
		msg.Event = EventApproved
		msg.Hot = n.isHot(ctx, rec)
	}

	var errs []error
	if n.snsEnabled() {
		subject := "Your match was not confirmed"
		if msg.Event == EventApproved {
			subject = "You have a new match"
		}
		errs = append(errs, n.track(msg.Event, "sns", n.publish(ctx, n.memberTopic(), subject, msg.Event, msg.TenantID, msg)))
	}
	if msg.Hot && n.emailEnabled() {
		errs = append(errs, n.track(msg.Event, "email", n.hotEmail(ctx, msg)))
	}
	return errors.Join(errs...)
}

func (n *BrokerNotifier) isHot(ctx context.Context, rec *matching.MatchRecord) bool {
	cfg := matching.DefaultWeightConfig()
	if n.configs != nil {
		current, err := n.configs.Current(ctx, rec.TenantID)
		if err != nil {
			n.logger.Warn("weight config unavailable, using default hot threshold", map[string]interface{}{
				"tenantId": rec.TenantID,
				"error":    err.Error(),
			})
		} else {
			cfg = current
		}
	}
	return matching.IsHot(rec.Score, cfg)
}

func (n *BrokerNotifier) snsEnabled() bool { return n.cfg.SNS.Enabled && n.sns != nil }

func (n *BrokerNotifier) emailEnabled() bool {
	return n.cfg.Email.Enabled && n.ses != nil && len(n.cfg.Email.Recipients) > 0
}

func (n *BrokerNotifier) memberTopic() string {
	if n.cfg.SNS.MemberTopicARN != "" {
		return n.cfg.SNS.MemberTopicARN
	}
	return n.cfg.SNS.TopicARN
}

func (n *BrokerNotifier) publish(ctx context.Context, topic, subject, event, tenantID string, msg interface{}) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	_, err = n.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topic),
		Message:  aws.String(string(body)),
		Subject:  aws.String(subject),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"event":    {DataType: aws.String("String"), StringValue: aws.String(event)},
			"tenantId": {DataType: aws.String("String"), StringValue: aws.String(tenantID)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

func (n *BrokerNotifier) hotEmail(ctx context.Context, msg DecisionNotice) error {
	var b strings.Builder
	fmt.Fprintf(&b, "A hot %s match scored %.1f was approved.\n\n", msg.CandidateKind, msg.Score)
	fmt.Fprintf(&b, "Tenant: %s\nSubject: %s\nCandidate: %s\nRecord: %s\n", msg.TenantID, msg.SubjectID, msg.CandidateID, msg.RecordID)
	if link := n.reviewURL(msg.RecordID); link != "" {
		fmt.Fprintf(&b, "\nDetails: %s\n", link)
	}
	return n.send(ctx, fmt.Sprintf("Hot match approved (%.0f)", msg.Score), b.String())
}

func (n *BrokerNotifier) email(ctx context.Context, msg PendingReview) error {
	var b strings.Builder
	fmt.Fprintf(&b, "A %s match scored %.1f is waiting for review.\n\n", msg.CandidateKind, msg.Score)
	fmt.Fprintf(&b, "Tenant: %s\nSubject: %s\nCandidate: %s\nRecord: %s\n", msg.TenantID, msg.SubjectID, msg.CandidateID, msg.RecordID)
	if msg.ReviewURL != "" {
		fmt.Fprintf(&b, "\nReview: %s\n", msg.ReviewURL)
	}

	return n.send(ctx, fmt.Sprintf("Match awaiting review (%.0f)", msg.Score), b.String())
}

func (n *BrokerNotifier) send(ctx context.Context, subject, body string) error {
	_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{ToAddresses: n.cfg.Email.Recipients},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body:    &sestypes.Body{Text: &sestypes.Content{Data: aws.String(body)}},
		},
		Source: aws.String(n.cfg.Email.FromEmail),
	})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (n *BrokerNotifier) track(event, channel string, err error) error {
	status := "sent"
	if err != nil {
		status = "failed"
		n.logger.Warn("match notification failed", map[string]interface{}{
			"event":   event,
			"channel": channel,
			"error":   err.Error(),
		})
	}
	metrics.BrokerNotifications.WithLabelValues(event, channel, status).Inc()
	return err
}

func (n *BrokerNotifier) reviewURL(recordID string) string {
	if n.cfg.ReviewURL == "" {
		return ""
	}
	return strings.TrimRight(n.cfg.ReviewURL, "/") + "/" + recordID
}
