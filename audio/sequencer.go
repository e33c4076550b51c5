package audio

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// SequenceStep is one narration step: a catalog key plus an optional
// language override. An empty Language uses the sequence language.
type SequenceStep struct {
	Key      string
	Language string
}

// EncouragementSet holds the caller-provided clip keys for escalating
// retry feedback. The sequencer picks among them from the question's
// counters; curriculum decisions stay with the caller.
type EncouragementSet struct {
	GentleRetry     string
	SupportiveRetry string
	RevealAnswer    string
}

// SequenceHandle tracks one running sequence. Err is available after
// Done is closed.
type SequenceHandle struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	current *Session
	err     error
}

// Done is closed when the sequence finishes, fails, or is cancelled.
func (h *SequenceHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns why the sequence ended early, or nil if it ran to
// completion. Valid after Done is closed.
func (h *SequenceHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *SequenceHandle) setCurrent(s *Session) {
	h.mu.Lock()
	h.current = s
	h.mu.Unlock()
}

func (h *SequenceHandle) setErr(err error) {
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.mu.Unlock()
}

// questionCounters tracks retry state for one question.
type questionCounters struct {
	RepetitionCount int
	HintLevel       int
}

// Sequencer runs ordered narration sequences on the Foreground channel
// and selects escalating encouragement clips from per-question retry
// counters.
type Sequencer struct {
	sched    *Scheduler
	catalog  *Catalog
	fallback string // fallback language for resolution

	mu       sync.Mutex
	counters map[string]*questionCounters
}

func newSequencer(sched *Scheduler, catalog *Catalog, fallbackLanguage string) *Sequencer {
	return &Sequencer{
		sched:    sched,
		catalog:  catalog,
		fallback: fallbackLanguage,
		counters: make(map[string]*questionCounters),
	}
}

// RunSequence plays the steps in order on the Foreground channel,
// waiting for each step's terminal state and inserting interStepDelay
// between steps. It returns immediately; the handle reports progress.
//
// An unresolvable step is skipped and the sequence continues. A step
// that fails to load or play stops the sequence. Cancelling the handle
// stops the in-flight step and discards the rest.
func (q *Sequencer) RunSequence(ctx context.Context, language string, steps []SequenceStep, interStepDelay time.Duration) *SequenceHandle {
	ctx, cancel := context.WithCancel(ctx)
	h := &SequenceHandle{
		ID:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.run(ctx, h, language, steps, interStepDelay)
	return h
}

// Cancel stops the in-flight step immediately and discards the
// remaining steps.
func (q *Sequencer) Cancel(h *SequenceHandle) {
	if h == nil {
		return
	}
	h.setErr(newError(ErrSequenceCancelled, "sequencer", h.ID))
	h.cancel()
	h.mu.Lock()
	cur := h.current
	h.mu.Unlock()
	if cur != nil {
		q.sched.StopSession(cur, cur.Request.FadeOut)
	}
}

func (q *Sequencer) run(ctx context.Context, h *SequenceHandle, language string, steps []SequenceStep, delay time.Duration) {
	defer close(h.done)
	defer h.cancel()

	for i, step := range steps {
		if ctx.Err() != nil {
			h.setErr(newError(ErrSequenceCancelled, "sequencer", h.ID))
			return
		}

		lang := step.Language
		if lang == "" {
			lang = language
		}
		clip, err := q.catalog.Resolve(step.Key, lang, q.fallback)
		if err != nil {
			// Missing narration is not worth halting the activity over.
			log.Warn("sequence step unresolved, skipping",
				"sequence", h.ID, "step", i, "key", step.Key, "language", lang)
			continue
		}

		req := newRequest(clip, Foreground, 0, 0)
		req.SequenceID = h.ID
		sess, err := q.sched.Submit(ctx, req)
		if err != nil {
			h.setErr(err)
			return
		}
		h.setCurrent(sess)

		select {
		case <-sess.Done():
		case <-ctx.Done():
			q.sched.StopSession(sess, 0)
			<-sess.Done()
		}

		switch sess.State() {
		case SessionCompleted:
		case SessionCancelled:
			h.setErr(newError(ErrSequenceCancelled, "sequencer", h.ID))
			return
		case SessionFailed:
			h.setErr(sess.Err())
			return
		}

		if delay > 0 && i < len(steps)-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				h.setErr(newError(ErrSequenceCancelled, "sequencer", h.ID))
				return
			}
		}
	}
}

// RecordAttempt updates a question's retry counter. A correct answer
// resets it.
func (q *Sequencer) RecordAttempt(questionID string, correct bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if correct {
		delete(q.counters, questionID)
		return
	}
	q.counterLocked(questionID).RepetitionCount++
}

// RecordHint notes that a hint was shown for the question.
func (q *Sequencer) RecordHint(questionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.counterLocked(questionID).HintLevel++
}

// ResetQuestion clears the counters for a question, e.g. when the
// activity moves on.
func (q *Sequencer) ResetQuestion(questionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.counters, questionID)
}

// EncouragementKey picks the retry clip for a question from its
// counters: gentle for the first miss, supportive after repeated
// misses, reveal once the child is clearly stuck.
func (q *Sequencer) EncouragementKey(questionID string, set EncouragementSet) string {
	q.mu.Lock()
	c := q.counters[questionID]
	var reps, hints int
	if c != nil {
		reps = c.RepetitionCount
		hints = c.HintLevel
	}
	q.mu.Unlock()

	switch {
	case reps >= 3 || hints >= 2:
		return set.RevealAnswer
	case reps >= 2 || hints >= 1:
		return set.SupportiveRetry
	default:
		return set.GentleRetry
	}
}

func (q *Sequencer) counterLocked(questionID string) *questionCounters {
	c, ok := q.counters[questionID]
	if !ok {
		c = &questionCounters{}
		q.counters[questionID] = c
	}
	return c
}
