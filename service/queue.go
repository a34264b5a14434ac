// service/queue.go
package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"quantum-voting/models"
)

// BallotCaster is the part of VotingService the queue drives.
type BallotCaster interface {
	CastVote(ctx context.Context, sessionID string, election models.ElectionType, candidateID int) (*VoteConfirmation, error)
}

// QueueProcessor casts queued ballots on a fixed pool of workers.
type QueueProcessor struct {
	caster       BallotCaster
	voteCh       chan *VoteRequest
	processingWg sync.WaitGroup
	shutdownCh   chan struct{}
	stopOnce     sync.Once
	workers      int
	logger       *logrus.Logger

	// mu orders enqueues against Stop so no request lands after the drain.
	mu      sync.Mutex
	stopped bool
}

// VoteRequest represents a queued vote casting request
type VoteRequest struct {
	SessionID   string
	Election    models.ElectionType
	CandidateID int
	ResultCh    chan<- *ProcessingResult
}

// ProcessingResult contains the result of an asynchronous operation
type ProcessingResult struct {
	Success      bool
	Confirmation *VoteConfirmation
	ErrorMessage string
	Err          error
	Timestamp    int64
}

func NewQueueProcessor(caster BallotCaster, queueSize, workers int, logger *logrus.Logger) *QueueProcessor {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &QueueProcessor{
		caster:     caster,
		voteCh:     make(chan *VoteRequest, queueSize),
		shutdownCh: make(chan struct{}),
		workers:    workers,
		logger:     logger,
	}
}

// Start begins processing queued votes
func (qp *QueueProcessor) Start() {
	for i := 0; i < qp.workers; i++ {
		qp.processingWg.Add(1)
		go qp.voteWorker()
	}
}

// Stop shuts down the workers. Requests still queued are answered with a
// failure.
func (qp *QueueProcessor) Stop() {
	qp.stopOnce.Do(func() {
		qp.mu.Lock()
		qp.stopped = true
		qp.mu.Unlock()

		close(qp.shutdownCh)
		qp.processingWg.Wait()

		for {
			select {
			case req := <-qp.voteCh:
				req.ResultCh <- &ProcessingResult{Success: false, ErrorMessage: "queue stopped"}
				close(req.ResultCh)
			default:
				return
			}
		}
	})
}

// QueueVote adds a vote casting request to the processing queue. It never
// blocks: a full queue is reported through the result channel.
func (qp *QueueProcessor) QueueVote(sessionID string, election models.ElectionType, candidateID int) <-chan *ProcessingResult {
	resultCh := make(chan *ProcessingResult, 1)

	qp.mu.Lock()
	defer qp.mu.Unlock()

	if qp.stopped {
		resultCh <- &ProcessingResult{Success: false, ErrorMessage: "queue stopped"}
		close(resultCh)
		return resultCh
	}

	select {
	case qp.voteCh <- &VoteRequest{
		SessionID:   sessionID,
		Election:    election,
		CandidateID: candidateID,
		ResultCh:    resultCh,
	}:
		return resultCh
	default:
		qp.logger.Warn("Vote queue is full, request rejected")
		resultCh <- &ProcessingResult{
			Success:      false,
			ErrorMessage: "vote queue is full",
		}
		close(resultCh)
		return resultCh
	}
}

// voteWorker processes queued votes
func (qp *QueueProcessor) voteWorker() {
	defer qp.processingWg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-qp.shutdownCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-qp.shutdownCh:
			return
		case req := <-qp.voteCh:
			confirmation, err := qp.caster.CastVote(ctx, req.SessionID, req.Election, req.CandidateID)
			if err != nil {
				req.ResultCh <- &ProcessingResult{
					Success:      false,
					ErrorMessage: err.Error(),
					Err:          err,
				}
			} else {
				req.ResultCh <- &ProcessingResult{
					Success:      true,
					Confirmation: confirmation,
					Timestamp:    time.Now().Unix(),
				}
			}
			close(req.ResultCh)
		}
	}
}
