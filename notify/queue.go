package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"todofy/domain"
)

// Enqueuer is the subset of *azqueue.QueueClient used to publish.
type Enqueuer interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

type QueueOptions struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
	Timeout        time.Duration
	// Attempts bounds publish retries per message.
	Attempts int
	Backoff  time.Duration
}

func (o *QueueOptions) withDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Buffer < 0 {
		o.Buffer = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 100 * time.Millisecond
	}
}

// Queue publishes notifications to a storage queue from a fixed pool of
// workers. Notify never blocks longer than the handoff timeout; when the
// pool is saturated the notification is dropped and logged.
type Queue struct {
	client Enqueuer
	log    *log.Logger
	opts   QueueOptions

	mu     sync.RWMutex
	jobs   chan Message
	closed bool
	wg     sync.WaitGroup
}

func NewQueue(client Enqueuer, logger *log.Logger, opts QueueOptions) *Queue {
	if client == nil {
		panic("notify: nil queue client")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	opts.withDefaults()
	q := &Queue{
		client: client,
		log:    logger,
		opts:   opts,
		jobs:   make(chan Message, opts.Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	logger.Infof("notification queue started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		opts.Workers, opts.Buffer, opts.Timeout, opts.HandoffTimeout)
	return q
}

func (q *Queue) Notify(message string, severity domain.Severity) {
	msg := NewMessage(message, severity)
	if !q.handoff(msg) {
		q.log.WithFields(log.Fields{"id": msg.ID, "severity": string(severity)}).Warn("notification dropped, queue saturated")
	}
}

// Close stops accepting notifications and waits for in-flight publishes.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) handoff(msg Message) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}

	select {
	case q.jobs <- msg:
		return true
	default:
	}

	if q.opts.HandoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(q.opts.HandoffTimeout)
	defer timer.Stop()
	select {
	case q.jobs <- msg:
		return true
	case <-timer.C:
		return false
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for msg := range q.jobs {
		if err := q.publish(msg); err != nil {
			q.log.Errorf("notification publish failed, err: %v, id: %s, worker: %d", err, msg.ID, id)
		}
	}
}

func (q *Queue) publish(msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	delay := q.opts.Backoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), q.opts.Timeout)
		_, err = q.client.EnqueueMessage(ctx, payload, nil)
		cancel()
		if err == nil || attempt >= q.opts.Attempts {
			return err
		}
		q.log.WithError(err).WithField("attempt", attempt).Debug("retrying notification publish")
		time.Sleep(delay)
		delay *= 2
	}
}

func clientOptions() *azqueue.ClientOptions {
	return &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    30 * time.Second,
				RetryDelay:    time.Second,
				MaxRetryDelay: 5 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewQueueClient connects to the named queue.
func NewQueueClient(connStr, name string) (*azqueue.QueueClient, error) {
	return azqueue.NewQueueClientFromConnectionString(connStr, name, clientOptions())
}

// EnsureQueue creates the queue if it does not exist yet.
func EnsureQueue(ctx context.Context, client *azqueue.QueueClient) error {
	_, err := client.Create(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists" {
			return nil
		}
		return err
	}
	return nil
}
