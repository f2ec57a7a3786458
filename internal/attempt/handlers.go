package attempt

import (
	"context"
	"fmt"
	"time"

	"github.com/stemsi/exstem-attempt/internal/draft"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// Everything in this file runs on the session loop.

const draftRetryDelay = 2 * time.Second

// ─── Countdown ─────────────────────────────────────────────────────────

func (s *Session) handleTick() {
	if s.state != StateInProgress && s.state != StateSubmissionInFlight {
		return
	}
	s.countdown.bind(s.attemptID)
	r := s.countdown.observe(s.deadline.Sub(s.now()))

	s.notify(Notice{Kind: NoticeTick, Remaining: max(r.Remaining, 0)})
	if r.LowTime {
		s.notify(Notice{Kind: NoticeLowTime, Remaining: r.Remaining, Message: "Less than 1 minute remaining!"})
	}
	if r.Cue > 0 {
		s.notify(Notice{Kind: NoticeFinalSecond, Second: r.Cue, Remaining: r.Remaining})
	}
	if r.Expired && !s.autoRequested {
		s.autoRequested = true
		s.log.Info().Msg("Time is up, submitting automatically")
		_ = s.requestSubmit(true, nil)
	}
}

// ─── Answers & draft ───────────────────────────────────────────────────

func (s *Session) editable() error {
	switch s.state {
	case StateInProgress, StateSubmissionInFlight:
		return nil
	default:
		return ErrNotInProgress
	}
}

func (s *Session) setAnswer(questionID, value string) error {
	if err := s.editable(); err != nil {
		return err
	}
	q, ok := s.exam.Question(questionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if err := q.ValidateAnswer(value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
	}
	s.answers[questionID] = value
	s.armDraftWrite()
	return nil
}

func (s *Session) clearAnswer(questionID string) error {
	if err := s.editable(); err != nil {
		return err
	}
	if _, ok := s.exam.Question(questionID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if _, ok := s.answers[questionID]; !ok {
		return nil
	}
	delete(s.answers, questionID)
	s.armDraftWrite()
	return nil
}

// armDraftWrite (re)starts the debounce window.
func (s *Session) armDraftWrite() {
	s.draftDirty = true
	s.stopDraftTimer()
	s.draftTimer = time.NewTimer(s.cfg.DraftDebounce)
}

func (s *Session) stopDraftTimer() {
	if s.draftTimer != nil {
		s.draftTimer.Stop()
		s.draftTimer = nil
	}
}

func (s *Session) draftTimerC() <-chan time.Time {
	if s.draftTimer == nil {
		return nil
	}
	return s.draftTimer.C
}

// flushDraft merges the current answers and counter into the draft. The
// attempt anchor is never part of the patch.
func (s *Session) flushDraft(ctx context.Context) {
	s.stopDraftTimer()
	if !s.draftDirty || s.state == StateSubmitted {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	n := s.tabWarnings
	if err := s.store.Merge(ctx, s.key, draft.Patch{
		Answers:     s.answers.Clone(),
		TabWarnings: &n,
	}); err != nil {
		s.log.Error().Err(err).Msg("Failed to write draft")
		s.draftTimer = time.NewTimer(draftRetryDelay)
		return
	}
	s.draftDirty = false
}

// ─── Integrity ─────────────────────────────────────────────────────────

func (s *Session) recordIntegrity(kind model.IntegrityKind) {
	if s.editable() != nil {
		return
	}
	s.tabWarnings++
	s.log.Warn().Str("kind", string(kind)).Int("tab_warnings", s.tabWarnings).Msg("Integrity event")
	s.notify(Notice{
		Kind:        NoticeIntegrity,
		Message:     integrityMessage(kind),
		Integrity:   kind,
		TabWarnings: s.tabWarnings,
	})
	s.armDraftWrite()
}

// ─── Autosave ──────────────────────────────────────────────────────────

func (s *Session) autosavePayload() model.AutosavePayload {
	remaining := s.deadline.Sub(s.now())
	return model.AutosavePayload{
		Answers:      model.BuildEntries(s.exam.Questions, s.answers),
		RemainingSec: max(int64(remaining/time.Second), 0),
		TabWarnings:  s.tabWarnings,
		SavedAt:      s.now().UTC(),
	}
}

func (s *Session) handleAutosaveTick() {
	if !s.online || s.state != StateInProgress {
		return
	}
	payload := s.autosavePayload()
	attemptID := s.attemptID
	s.spawn(func(ctx context.Context) func() {
		err := s.api.Autosave(ctx, attemptID, payload)
		return func() { s.autosaveDone(payload, err) }
	})
}

func (s *Session) autosaveDone(payload model.AutosavePayload, err error) {
	if err != nil {
		s.queue.Push(payload)
		s.log.Warn().Err(err).Int("queued", s.queue.Len()).Msg("Autosave failed, queued for retry")
		return
	}
	s.markSaved(payload.SavedAt)
}

// markSaved records a delivered snapshot and discards queued ones it
// supersedes.
func (s *Session) markSaved(at time.Time) {
	if at.After(s.lastSavedAt) {
		s.lastSavedAt = at
	}
	if n := s.queue.DropSavedBefore(s.lastSavedAt); n > 0 {
		s.log.Debug().Int("dropped", n).Int("queued", s.queue.Len()).Msg("Discarded superseded autosaves")
	}
}

func (s *Session) setOnline(online bool) {
	if s.online == online {
		return
	}
	s.online = online
	if !online {
		s.notify(Notice{Kind: NoticeOffline, Message: "You are offline. Answers will sync when online."})
		return
	}
	s.notify(Notice{Kind: NoticeOnline, Message: "Back online"})
	s.drainQueue()
}

// drainQueue resends queued payloads oldest first, one at a time. The first
// failure puts its payload back at the head and ends the drain. Nothing is
// sent while a submission is in flight.
func (s *Session) drainQueue() {
	if s.draining || !s.online || s.state != StateInProgress {
		return
	}
	var payload model.AutosavePayload
	for {
		p, ok := s.queue.Pop()
		if !ok {
			return
		}
		if p.SavedAt.After(s.lastSavedAt) {
			payload = p
			break
		}
	}
	s.draining = true
	attemptID := s.attemptID
	s.spawn(func(ctx context.Context) func() {
		err := s.api.Autosave(ctx, attemptID, payload)
		return func() { s.drainDone(payload, err) }
	})
}

func (s *Session) drainDone(payload model.AutosavePayload, err error) {
	s.draining = false
	if err != nil {
		s.queue.PushFront(payload)
		s.log.Warn().Err(err).Int("queued", s.queue.Len()).Msg("Queued autosave retry failed, will retry on reconnect")
		return
	}
	s.markSaved(payload.SavedAt)
	s.drainQueue()
}

// ─── Submission ────────────────────────────────────────────────────────

// requestSubmit moves InProgress to SubmissionInFlight and sends the final
// payload. Any other state rejects the request.
func (s *Session) requestSubmit(auto bool, reply chan<- error) error {
	var err error
	switch s.state {
	case StateInProgress:
	case StateSubmissionInFlight:
		err = ErrSubmissionInFlight
	default:
		err = ErrNotInProgress
	}
	if err != nil {
		s.log.Debug().Bool("auto", auto).Err(err).Msg("Submit request rejected")
		if reply != nil {
			reply <- err
		}
		return err
	}

	s.state = StateSubmissionInFlight
	s.submitReply = reply
	s.submitAuto = auto
	s.flushDraft(s.runCtx)

	payload := model.SubmitPayload{
		Answers:     model.BuildEntries(s.exam.Questions, s.answers),
		Auto:        auto,
		TabWarnings: s.tabWarnings,
	}
	attemptID := s.attemptID
	s.log.Info().Bool("auto", auto).Msg("Submitting attempt")
	s.spawn(func(ctx context.Context) func() {
		_, err := s.api.Submit(ctx, attemptID, payload)
		return func() { s.submitDone(err) }
	})
	return nil
}

func (s *Session) submitDone(err error) {
	reply, auto := s.submitReply, s.submitAuto
	s.submitReply = nil

	if err != nil {
		s.state = StateInProgress
		s.log.Error().Err(err).Bool("auto", auto).Msg("Submission failed, attempt stays open")
		s.notify(Notice{Kind: NoticeSubmitFailed, Message: UserMessage(err), Auto: auto, Err: err})
		if reply != nil {
			reply <- err
		}
		s.drainQueue()
		return
	}

	s.state = StateSubmitted
	s.stopDraftTimer()
	s.draftDirty = false
	s.queue = RetryQueue{}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.runCtx), 5*time.Second)
	defer cancel()
	if err := s.store.Delete(ctx, s.key); err != nil {
		s.log.Error().Err(err).Msg("Submitted but failed to clear draft")
	}

	msg := "Exam submitted successfully"
	if auto {
		msg = "Time ended. Exam submitted."
	}
	s.log.Info().Bool("auto", auto).Msg("Attempt submitted")
	s.notify(Notice{Kind: NoticeSubmitted, Message: msg, Auto: auto})
	if reply != nil {
		reply <- nil
	}
}
