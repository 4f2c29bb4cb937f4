// Package worker provides a NATS worker that processes synthesis jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voicevox-worker/internal/job"
	"github.com/nats-io/nats.go"
)

const (
	handleMessageTimeout = 5 * time.Minute
	drainPollInterval    = 20 * time.Millisecond
)

// ErrDrainTimeout indicates buffered jobs were still pending when shutdown gave up.
var ErrDrainTimeout = errors.New("timed out draining job subscription")

// Processor turns a job into its result.
type Processor interface {
	Process(ctx context.Context, j job.Job) job.Result
}

// NatsWorker listens for jobs on a NATS subject and replies with their results.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	queueGroup     string
	processor      Processor
	log            *logger.Logger

	slots    chan struct{}
	inFlight sync.WaitGroup
}

// NewNatsWorker creates a new instance of a NATS worker. At most concurrency
// jobs run at once; values below one are treated as one.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	queueGroup string,
	concurrency int,
	processor Processor,
	log *logger.Logger,
) *NatsWorker {
	if concurrency < 1 {
		concurrency = 1
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		queueGroup:     queueGroup,
		processor:      processor,
		log:            log,
		slots:          make(chan struct{}, concurrency),
	}
}

// Run subscribes to the job subject and blocks until ctx is cancelled. On
// shutdown no new jobs are accepted, and Run returns only after every job
// already delivered to this worker has been processed and answered.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.subject, w.queueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for jobs on %s (queue %s, concurrency %d)", w.subject, w.queueGroup, cap(w.slots))

	<-ctx.Done()

	drainErr := w.drain(sub)

	w.inFlight.Wait()

	return drainErr
}

// drain unsubscribes and waits until the buffered messages have all been
// handed to handleMessage. Drain itself returns before that happens.
func (w *NatsWorker) drain(sub *nats.Subscription) error {
	closed := sub.StatusChanged(nats.SubscriptionClosed)

	err := sub.Drain()
	if err != nil {
		return fmt.Errorf("failed to drain subscription: %w", err)
	}

	timeout := time.NewTimer(handleMessageTimeout)
	defer timeout.Stop()

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for sub.IsValid() {
		select {
		case <-closed:
			return nil
		case <-ticker.C:
		case <-timeout.C:
			return ErrDrainTimeout
		}
	}

	return nil
}

// handleMessage blocks while every slot is busy, which holds back further
// deliveries on this subscription. The job is counted before it waits for a
// slot so that shutdown sees it.
func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	w.inFlight.Add(1)

	w.slots <- struct{}{}

	go func() {
		defer func() {
			<-w.slots
			w.inFlight.Done()
		}()

		w.process(msg)
	}()
}

func (w *NatsWorker) process(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var result job.Result

	decoded, err := job.DecodeJob(msg.Data)
	if err != nil {
		w.log.Error("Failed to parse job: %v", err)

		result = job.Result{Output: job.Failure(err)}
	} else {
		result = w.processor.Process(ctx, decoded)
		w.log.Info("Job %s finished (status: %s)", result.ID, statusOf(result.Output))
	}

	err = w.publishResult(msg, result)
	if err != nil {
		w.log.Error("Failed to publish result for job %s: %v", result.ID, err)
	}
}

// publishResult marshals and responds with the job result.
func (w *NatsWorker) publishResult(msg *nats.Msg, result job.Result) error {
	if msg.Reply == "" {
		return fmt.Errorf("message on %s has no reply subject", msg.Subject)
	}

	replyData, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}

	return nil
}

func statusOf(resp job.Response) string {
	if resp.Status == "" {
		return "error"
	}

	return resp.Status
}
