package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matching-workers/internal/common/config"
	"matching-workers/internal/common/logger"
	"matching-workers/internal/matching"
)

// ==========================
// Mock AWS Services
// ==========================

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	calls       []*sns.PublishInput
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls = append(m.calls, params)
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, params, optFns...)
	}
	return &sns.PublishOutput{}, nil
}

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	calls         []*ses.SendEmailInput
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.calls = append(m.calls, params)
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, params, optFns...)
	}
	return &ses.SendEmailOutput{}, nil
}

func notificationConfig() config.NotificationConfig {
	var cfg config.NotificationConfig
	cfg.Enabled = true
	cfg.SNS.Enabled = true
	cfg.SNS.TopicARN = "arn:aws:sns:us-east-1:123:brokers"
	cfg.SNS.MemberTopicARN = "arn:aws:sns:us-east-1:123:members"
	cfg.Email.Enabled = true
	cfg.Email.FromEmail = "matching@example.com"
	cfg.Email.Recipients = []string{"broker@example.com"}
	cfg.ReviewURL = "https://admin.example.com/matches/"
	return cfg
}

func pendingRecord() *matching.MatchRecord {
	return &matching.MatchRecord{
		ID: "rec-1", TenantID: "tenant-1", SubjectID: "alice", CandidateID: "bob",
		CandidateKind: matching.KindMember, Score: 91.5, MatchType: matching.MatchMutual,
		ApprovalState: matching.StatePending,
	}
}

// ==========================
// Tests
// ==========================

func TestBrokerNotifier_SendsBothChannels(t *testing.T) {
	snsMock := &MockSNSService{}
	sesMock := &MockSESService{}
	n := NewBrokerNotifier(notificationConfig(), nil, snsMock, sesMock, logger.NewTestLogger(t))

	require.NoError(t, n.NotifyPending(context.Background(), pendingRecord()))

	require.Len(t, snsMock.calls, 1)
	in := snsMock.calls[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:123:brokers", *in.TopicArn)
	assert.Equal(t, "tenant-1", *in.MessageAttributes["tenantId"].StringValue)

	var msg PendingReview
	require.NoError(t, json.Unmarshal([]byte(*in.Message), &msg))
	assert.Equal(t, EventPendingReview, msg.Event)
	assert.Equal(t, "rec-1", msg.RecordID)
	assert.Equal(t, "https://admin.example.com/matches/rec-1", msg.ReviewURL)
	assert.InDelta(t, 91.5, msg.Score, 1e-9)

	require.Len(t, sesMock.calls, 1)
	email := sesMock.calls[0]
	assert.Equal(t, []string{"broker@example.com"}, email.Destination.ToAddresses)
	assert.Equal(t, "matching@example.com", *email.Source)
	assert.Contains(t, *email.Message.Body.Text.Data, "Candidate: bob")
}

func TestBrokerNotifier_Disabled(t *testing.T) {
	cfg := notificationConfig()
	cfg.Enabled = false
	snsMock := &MockSNSService{}
	n := NewBrokerNotifier(cfg, nil, snsMock, nil, logger.NewTestLogger(t))

	require.NoError(t, n.NotifyPending(context.Background(), pendingRecord()))
	assert.Empty(t, snsMock.calls)
}

func TestBrokerNotifier_ChannelFailureStillTriesOthers(t *testing.T) {
	snsMock := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	sesMock := &MockSESService{}
	n := NewBrokerNotifier(notificationConfig(), nil, snsMock, sesMock, logger.NewTestLogger(t))

	err := n.NotifyPending(context.Background(), pendingRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Len(t, sesMock.calls, 1)
}

func TestBrokerNotifier_NoRecipientsSkipsEmail(t *testing.T) {
	cfg := notificationConfig()
	cfg.Email.Recipients = nil
	sesMock := &MockSESService{}
	n := NewBrokerNotifier(cfg, nil, &MockSNSService{}, sesMock, logger.NewTestLogger(t))

	require.NoError(t, n.NotifyPending(context.Background(), pendingRecord()))
	assert.Empty(t, sesMock.calls)
}

// ==========================
// Decisions
// ==========================

func decidedRecord(state matching.ApprovalState, score float64) *matching.MatchRecord {
	rec := pendingRecord()
	rec.ApprovalState = state
	rec.Score = score
	rec.ReviewerID = "broker-7"
	rec.ReviewNotes = "checked references"
	return rec
}

func TestBrokerNotifier_NotifyDecision(t *testing.T) {
	tests := []struct {
		name      string
		state     matching.ApprovalState
		score     float64
		wantEvent string
		wantHot   bool
		wantEmail int
	}{
		{name: "hot approval", state: matching.StateApproved, score: 91.5, wantEvent: EventApproved, wantHot: true, wantEmail: 1},
		{name: "ordinary approval", state: matching.StateApproved, score: 65, wantEvent: EventApproved},
		{name: "threshold is inclusive", state: matching.StateApproved, score: 80, wantEvent: EventApproved, wantHot: true, wantEmail: 1},
		{name: "rejection is never hot", state: matching.StateRejected, score: 95, wantEvent: EventRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snsMock := &MockSNSService{}
			sesMock := &MockSESService{}
			n := NewBrokerNotifier(notificationConfig(), nil, snsMock, sesMock, logger.NewTestLogger(t))

			require.NoError(t, n.NotifyDecision(context.Background(), decidedRecord(tt.state, tt.score)))

			require.Len(t, snsMock.calls, 1)
			in := snsMock.calls[0]
			assert.Equal(t, "arn:aws:sns:us-east-1:123:members", *in.TopicArn)
			assert.Equal(t, tt.wantEvent, *in.MessageAttributes["event"].StringValue)

			var msg DecisionNotice
			require.NoError(t, json.Unmarshal([]byte(*in.Message), &msg))
			assert.Equal(t, tt.wantEvent, msg.Event)
			assert.Equal(t, "alice", msg.SubjectID)
			assert.Equal(t, tt.wantHot, msg.Hot)
			assert.Equal(t, "checked references", msg.Notes)

			require.Len(t, sesMock.calls, tt.wantEmail)
			if tt.wantEmail > 0 {
				assert.Contains(t, *sesMock.calls[0].Message.Subject.Data, "Hot match approved")
			}
		})
	}
}

func TestBrokerNotifier_NotifyDecisionUsesTenantThreshold(t *testing.T) {
	strict := matching.DefaultWeightConfig()
	strict.HotThreshold = 95
	configs := matching.NewMemoryConfigStore(strict)
	snsMock := &MockSNSService{}
	sesMock := &MockSESService{}
	n := NewBrokerNotifier(notificationConfig(), configs, snsMock, sesMock, logger.NewTestLogger(t))

	require.NoError(t, n.NotifyDecision(context.Background(), decidedRecord(matching.StateApproved, 91.5)))

	var msg DecisionNotice
	require.Len(t, snsMock.calls, 1)
	require.NoError(t, json.Unmarshal([]byte(*snsMock.calls[0].Message), &msg))
	assert.False(t, msg.Hot)
	assert.Empty(t, sesMock.calls)
}

func TestBrokerNotifier_NotifyDecisionFallsBackToBrokerTopic(t *testing.T) {
	cfg := notificationConfig()
	cfg.SNS.MemberTopicARN = ""
	snsMock := &MockSNSService{}
	n := NewBrokerNotifier(cfg, nil, snsMock, nil, logger.NewTestLogger(t))

	require.NoError(t, n.NotifyDecision(context.Background(), decidedRecord(matching.StateRejected, 50)))
	require.Len(t, snsMock.calls, 1)
	assert.Equal(t, "arn:aws:sns:us-east-1:123:brokers", *snsMock.calls[0].TopicArn)
}
