package telemetry

import (
	"context"
	"fmt"
	"time"

	storemodel "quantx/internal/store/model"

	"github.com/google/uuid"
)

// IssueJob 记录一次信号首发。
type IssueJob struct {
	Issue storemodel.SignalIssue
}

func (j IssueJob) Apply(ctx context.Context, store Store) error {
	return store.InsertSignalIssue(ctx, j.Issue)
}

func (j IssueJob) Describe() string {
	return fmt.Sprintf("signal issue %s", j.Issue.SignalID)
}

// OutcomeJob 结算一条已发信号。
type OutcomeJob struct {
	SignalID string
	Outcome  string
}

func (j OutcomeJob) Apply(ctx context.Context, store Store) error {
	affected, err := store.UpdateOutcome(ctx, j.SignalID, j.Outcome)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("no pending row for signal %s", j.SignalID)
	}
	return nil
}

func (j OutcomeJob) Describe() string {
	return fmt.Sprintf("outcome %s=%s", j.SignalID, j.Outcome)
}

// SessionJob 记录一次授权会话画像。
type SessionJob struct {
	Session storemodel.Session
}

// NewSessionJob 生成带 ID 和时间戳的会话记录。
func NewSessionJob(key, device, ip, timezone string, payload []byte) SessionJob {
	return SessionJob{Session: storemodel.Session{
		ID:        uuid.NewString(),
		Key:       key,
		DeviceID:  device,
		IPAddress: ip,
		Timezone:  timezone,
		Payload:   payload,
		CreatedAt: time.Now(),
	}}
}

func (j SessionJob) Apply(ctx context.Context, store Store) error {
	return store.InsertSession(ctx, j.Session)
}

func (j SessionJob) Describe() string {
	return fmt.Sprintf("session %s", j.Session.ID)
}

// TouchJob 为一次放行的访问补记使用统计。
type TouchJob struct {
	Key string
	At  time.Time
}

func (j TouchJob) Apply(ctx context.Context, store Store) error {
	at := j.At
	if at.IsZero() {
		at = time.Now()
	}
	return store.TouchLicense(ctx, j.Key, at)
}

func (j TouchJob) Describe() string {
	return fmt.Sprintf("license touch %s", j.Key)
}

// ConnectivityJob 上报一条服务心跳。
type ConnectivityJob struct {
	Record storemodel.Connectivity
}

func (j ConnectivityJob) Apply(ctx context.Context, store Store) error {
	return store.UpsertConnectivity(ctx, j.Record)
}

func (j ConnectivityJob) Describe() string {
	return fmt.Sprintf("connectivity %s=%s", j.Record.Service, j.Record.Status)
}
