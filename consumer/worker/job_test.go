package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"github.com/tnqbao/gau-rollup-orchestrator/handler"
	"github.com/tnqbao/gau-rollup-orchestrator/infra"
	"github.com/tnqbao/gau-rollup-orchestrator/infra/produce"
	"github.com/tnqbao/gau-rollup-orchestrator/repository"
	"github.com/tnqbao/gau-rollup-orchestrator/repository/mock"
)

type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type fakePublisher struct {
	mu      sync.Mutex
	signals []uuid.UUID
}

func (p *fakePublisher) PublishJobSignal(ctx context.Context, jobID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, jobID)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.signals)
}

type stubHandler struct {
	jobType entity.JobType
	outcome handler.Outcome
	calls   int
}

func (h *stubHandler) Type() entity.JobType { return h.jobType }

func (h *stubHandler) Process(ctx context.Context, job *entity.Job) handler.Outcome {
	h.calls++
	return h.outcome
}

func (h *stubHandler) Verify(ctx context.Context, job *entity.Job) (handler.VerifyState, error) {
	return handler.VerifyPending, nil
}

func (h *stubHandler) MaxAttempts() int { return 3 }

func newTestConsumer(ledger repository.JobLedger, stub *stubHandler) (*JobConsumer, *fakePublisher) {
	registry := handler.NewRegistry()
	registry.Register(stub)
	pub := &fakePublisher{}
	return &JobConsumer{
		ledger:         ledger,
		registry:       registry,
		publisher:      pub,
		logger:         infra.NewStdoutLogger(),
		workers:        1,
		handlerTimeout: time.Second,
	}, pub
}

func queuedJob(t *testing.T, ledger *mock.Ledger) *entity.Job {
	t.Helper()
	job := &entity.Job{
		ID:          uuid.New(),
		Type:        entity.JobTypeProofGeneration,
		Status:      entity.JobStatusQueued,
		InternalID:  "batch-1",
		MaxAttempts: 3,
	}
	require.NoError(t, ledger.Create(context.Background(), job))
	return job
}

func signalFor(t *testing.T, jobID uuid.UUID) (amqp.Delivery, *fakeAcknowledger) {
	t.Helper()
	body, err := json.Marshal(produce.JobSignalMessage{JobID: jobID.String(), Timestamp: time.Now().Unix()})
	require.NoError(t, err)
	ack := &fakeAcknowledger{}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body}, ack
}

func TestHandleSignalCompletesJob(t *testing.T) {
	ledger := mock.NewLedger()
	stub := &stubHandler{jobType: entity.JobTypeProofGeneration, outcome: handler.Done(map[string]interface{}{handler.MetaProofRef: "proof://batch-1/1"})}
	consumer, _ := newTestConsumer(ledger, stub)
	job := queuedJob(t, ledger)
	msg, ack := signalFor(t, job.ID)

	consumer.handleSignal(context.Background(), msg)

	final, err := ledger.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCompleted, final.Status)
	assert.Equal(t, 1, final.AttemptCount)
	assert.Equal(t, "proof://batch-1/1", final.MetadataString(handler.MetaProofRef))
	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, 1, ack.acks)
	assert.Equal(t,
		[]entity.JobStatus{entity.JobStatusQueued, entity.JobStatusProcessing, entity.JobStatusCompleted},
		ledger.History(job.ID))
}

func TestHandleSignalAwaitingExternal(t *testing.T) {
	ledger := mock.NewLedger()
	stub := &stubHandler{jobType: entity.JobTypeProofGeneration, outcome: handler.AwaitingExternal(nil, "handle-1")}
	consumer, _ := newTestConsumer(ledger, stub)
	job := queuedJob(t, ledger)
	msg, ack := signalFor(t, job.ID)

	consumer.handleSignal(context.Background(), msg)

	final, err := ledger.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusPendingVerification, final.Status)
	assert.Equal(t, "handle-1", final.ExternalID)
	assert.Equal(t, 1, ack.acks)
}

func TestHandleSignalNonQueuedJobDiscards(t *testing.T) {
	ledger := mock.NewLedger()
	stub := &stubHandler{jobType: entity.JobTypeProofGeneration, outcome: handler.Done(nil)}
	consumer, _ := newTestConsumer(ledger, stub)

	job := &entity.Job{
		ID:          uuid.New(),
		Type:        entity.JobTypeProofGeneration,
		Status:      entity.JobStatusCompleted,
		InternalID:  "batch-1",
		MaxAttempts: 3,
	}
	require.NoError(t, ledger.Create(context.Background(), job))
	msg, ack := signalFor(t, job.ID)

	// A redelivered signal for an already finished job carries no work.
	consumer.handleSignal(context.Background(), msg)

	assert.Equal(t, 0, stub.calls)
	assert.Equal(t, 1, ack.acks)
	assert.Equal(t, 0, ack.nacks)
}

func TestHandleSignalUnknownJobDiscards(t *testing.T) {
	ledger := mock.NewLedger()
	stub := &stubHandler{jobType: entity.JobTypeProofGeneration, outcome: handler.Done(nil)}
	consumer, _ := newTestConsumer(ledger, stub)
	msg, ack := signalFor(t, uuid.New())

	consumer.handleSignal(context.Background(), msg)

	assert.Equal(t, 0, stub.calls)
	assert.Equal(t, 1, ack.acks)
}

func TestHandleSignalMalformedBodyDropsMessage(t *testing.T) {
	ledger := mock.NewLedger()
	stub := &stubHandler{jobType: entity.JobTypeProofGeneration, outcome: handler.Done(nil)}
	consumer, _ := newTestConsumer(ledger, stub)

	ack := &fakeAcknowledger{}
	msg := amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("not json")}

	consumer.handleSignal(context.Background(), msg)

	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeue, "poison messages must not requeue")
}

// conflictLedger simulates losing the lease race: every UpdateStatus call
// reports a version conflict.
type conflictLedger struct {
	*mock.Ledger
}

func (l *conflictLedger) UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int, status entity.JobStatus, fields map[string]interface{}) (*entity.Job, error) {
	return nil, repository.ErrVersionConflict
}

func TestHandleSignalLostClaimRaceDiscards(t *testing.T) {
	inner := mock.NewLedger()
	stub := &stubHandler{jobType: entity.JobTypeProofGeneration, outcome: handler.Done(nil)}
	consumer, _ := newTestConsumer(&conflictLedger{inner}, stub)
	job := queuedJob(t, inner)
	msg, ack := signalFor(t, job.ID)

	consumer.handleSignal(context.Background(), msg)

	assert.Equal(t, 0, stub.calls)
	assert.Equal(t, 1, ack.acks)
}

func TestApplyOutcomeRetryRequeues(t *testing.T) {
	ledger := mock.NewLedger()
	stub := &stubHandler{jobType: entity.JobTypeProofGeneration, outcome: handler.Retry("prover unavailable")}
	consumer, pub := newTestConsumer(ledger, stub)
	job := queuedJob(t, ledger)
	msg, ack := signalFor(t, job.ID)

	consumer.handleSignal(context.Background(), msg)

	final, err := ledger.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusQueued, final.Status)
	assert.Equal(t, 1, final.AttemptCount)
	assert.Equal(t, 1, pub.count(), "retry republishes the work signal")
	assert.Equal(t, 1, ack.acks)
}

func TestApplyOutcomeRetryExhaustsAttempts(t *testing.T) {
	ledger := mock.NewLedger()
	stub := &stubHandler{jobType: entity.JobTypeProofGeneration, outcome: handler.Retry("prover unavailable")}
	consumer, pub := newTestConsumer(ledger, stub)

	job := &entity.Job{
		ID:           uuid.New(),
		Type:         entity.JobTypeProofGeneration,
		Status:       entity.JobStatusQueued,
		InternalID:   "batch-1",
		AttemptCount: 2,
		MaxAttempts:  3,
	}
	require.NoError(t, ledger.Create(context.Background(), job))
	msg, ack := signalFor(t, job.ID)

	// The claim makes this attempt number 3 of 3, so the retry cannot requeue.
	consumer.handleSignal(context.Background(), msg)

	final, err := ledger.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusFailed, final.Status)
	assert.Equal(t, 3, final.AttemptCount)
	assert.Contains(t, final.FailureReason, "attempts exhausted")
	assert.Equal(t, 0, pub.count())
	assert.Equal(t, 1, ack.acks)
}

func TestApplyOutcomeFatalFailsImmediately(t *testing.T) {
	ledger := mock.NewLedger()
	stub := &stubHandler{jobType: entity.JobTypeProofGeneration, outcome: handler.Fatal("bad payload")}
	consumer, pub := newTestConsumer(ledger, stub)
	job := queuedJob(t, ledger)
	msg, ack := signalFor(t, job.ID)

	consumer.handleSignal(context.Background(), msg)

	final, err := ledger.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusFailed, final.Status)
	assert.Equal(t, "bad payload", final.FailureReason)
	assert.Equal(t, 0, pub.count())
	assert.Equal(t, 1, ack.acks)
}

func TestApplyOutcomeMergesMetadata(t *testing.T) {
	ledger := mock.NewLedger()
	stub := &stubHandler{
		jobType: entity.JobTypeProofGeneration,
		outcome: handler.Done(map[string]interface{}{handler.MetaProofRef: "proof://batch-1/1"}),
	}
	consumer, _ := newTestConsumer(ledger, stub)

	job := &entity.Job{
		ID:          uuid.New(),
		Type:        entity.JobTypeProofGeneration,
		Status:      entity.JobStatusQueued,
		InternalID:  "batch-1",
		Metadata:    map[string]interface{}{handler.MetaStateRoot: "0xroot"},
		MaxAttempts: 3,
	}
	require.NoError(t, ledger.Create(context.Background(), job))
	msg, _ := signalFor(t, job.ID)

	consumer.handleSignal(context.Background(), msg)

	final, err := ledger.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xroot", final.MetadataString(handler.MetaStateRoot), "existing metadata survives")
	assert.Equal(t, "proof://batch-1/1", final.MetadataString(handler.MetaProofRef))
}
