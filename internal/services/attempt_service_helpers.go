package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/schoolcore/assessment-service/internal/answerkey"
	"github.com/schoolcore/assessment-service/internal/evaluator"
	"github.com/schoolcore/assessment-service/internal/events"
	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/repositories"
)

// checkVisibility gates starting: the exam must be active, the run window
// open, and the student must be the run's audience directly or through a
// group.
func (s *attemptService) checkVisibility(ctx context.Context, run *models.Run, studentID string) error {
	if run.Exam == nil {
		return fmt.Errorf("run %d loaded without exam", run.ID)
	}
	if run.Exam.Status != models.ExamStatusActive || run.Exam.Archived {
		return ErrExamNotActive
	}
	if !run.WindowOpen(time.Now()) {
		return ErrRunNotOpen
	}

	switch {
	case run.StudentID != nil:
		if *run.StudentID != studentID {
			return ErrExamNotVisible
		}
	case run.GroupID != nil:
		member, err := s.repo.User().IsStudentInGroup(ctx, studentID, *run.GroupID)
		if err != nil {
			return fmt.Errorf("failed to check group membership: %w", err)
		}
		if !member {
			return ErrExamNotVisible
		}
	default:
		return ErrExamNotVisible
	}
	return nil
}

// resumeOrReject maps an existing attempt to the idempotent start outcome:
// a live attempt is resumed, a submitted one refuses a restart, and one past
// its deadline is transitioned to expired and returned with no questions.
func (s *attemptService) resumeOrReject(ctx context.Context, attempt *models.Attempt, exam *models.Exam) (*AttemptResponse, error) {
	if attempt.Status == models.AttemptSubmitted {
		return nil, ErrAttemptAlreadySubmitted
	}

	attempt, err := s.expireIfDue(ctx, attempt)
	if err != nil {
		return nil, err
	}

	if attempt.Status == models.AttemptInProgress {
		s.logger.Info("Resuming existing attempt", "attempt_id", attempt.ID)
	}
	return s.buildAttemptResponse(ctx, attempt, exam)
}

// expireIfDue applies lazy expiry on read. No background sweeper exists;
// the deadline takes effect the first time anyone looks.
func (s *attemptService) expireIfDue(ctx context.Context, attempt *models.Attempt) (*models.Attempt, error) {
	if attempt.Status != models.AttemptInProgress || !attempt.IsExpired(time.Now()) {
		return attempt, nil
	}

	if err := s.repo.Attempt().MarkExpired(ctx, nil, attempt.ID); err != nil {
		return nil, fmt.Errorf("failed to mark attempt expired: %w", err)
	}
	attempt.Status = models.AttemptExpired
	attempt.ActiveKey = nil
	attempt.FinishedAt = timePtr(time.Now())

	s.publishEvent(ctx, events.EventAttemptExpired, map[string]interface{}{
		"attempt_id": attempt.ID,
		"student_id": attempt.StudentID,
	})
	return attempt, nil
}

// refreshStudentRun opens a window of now..now+duration targeted at the
// attempt's student, reusing the student's dedicated run when one exists.
func (s *attemptService) refreshStudentRun(ctx context.Context, repo repositories.Repository, attempt *models.Attempt, now time.Time, durationMinutes int, teacherID string) (*models.Run, error) {
	run, err := repo.Run().GetByExamAndTarget(ctx, nil, attempt.ExamID, nil, &attempt.StudentID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up student run: %w", err)
	}

	if run == nil {
		run = &models.Run{
			ExamID:    attempt.ExamID,
			StudentID: &attempt.StudentID,
			CreatedBy: teacherID,
		}
	}
	run.StartAt = now
	run.EndAt = now.Add(time.Duration(durationMinutes) * time.Minute)
	run.DurationMinutes = durationMinutes
	run.Status = models.RunStatusActive

	if run.ID == 0 {
		if err := repo.Run().Create(ctx, nil, run); err != nil {
			return nil, fmt.Errorf("failed to create student run: %w", err)
		}
	} else {
		if err := repo.Run().Update(ctx, nil, run); err != nil {
			return nil, fmt.Errorf("failed to refresh student run: %w", err)
		}
	}
	return run, nil
}

// attemptDeadline is the attempt's personal deadline: its own duration,
// clipped to the run window.
func attemptDeadline(start time.Time, run *models.Run) time.Time {
	deadline := start.Add(time.Duration(run.DurationMinutes) * time.Minute)
	if deadline.After(run.EndAt) {
		return run.EndAt
	}
	return deadline
}

func (s *attemptService) buildAttemptResponse(ctx context.Context, attempt *models.Attempt, exam *models.Exam) (*AttemptResponse, error) {
	resp := &AttemptResponse{Attempt: attempt}

	if attempt.Status == models.AttemptInProgress {
		remaining := time.Until(attempt.ExpiresAt)
		if remaining > 0 {
			resp.TimeRemainingSeconds = int(remaining.Seconds())
		}
	}

	// Expired attempts present an empty question set.
	if attempt.Status != models.AttemptInProgress {
		return resp, nil
	}

	if exam == nil {
		var err error
		exam, err = s.repo.Exam().GetByID(ctx, nil, attempt.ExamID)
		if err != nil {
			return nil, fmt.Errorf("failed to get exam: %w", err)
		}
	}
	resp.DocumentURL = exam.DocumentURL

	doc, err := compositionDocument(ctx, s.repo, nil, exam)
	if err != nil {
		return nil, err
	}
	resp.Questions = questionViews(doc, attempt.ID)
	return resp, nil
}

// questionViews renders the document for a student: display order is
// multiple choice, then open, then situation; option order is shuffled
// deterministically per attempt so re-reads are stable. Correct answers
// never leave the server.
func questionViews(doc *answerkey.Document, attemptID uint) []QuestionView {
	if doc == nil {
		return nil
	}

	ordered := answerkey.OrderQuestions(doc.Questions)
	views := make([]QuestionView, 0, len(ordered)+len(doc.Situations))
	for _, q := range ordered {
		number := q.Number
		view := QuestionView{
			Number: number,
			Kind:   q.Kind,
			Prompt: q.Prompt,
		}
		if len(q.Options) > 0 {
			view.Options = shuffledOptions(q.Options, attemptID, q.Number)
		}
		views = append(views, view)
	}
	for _, sit := range doc.Situations {
		index := sit.Index
		views = append(views, QuestionView{
			Kind:           answerkey.KindSituation,
			SituationIndex: &index,
			Pages:          sit.Pages,
		})
	}
	return views
}

// shuffledOptions permutes a copy of the options. The seed mixes attempt and
// question identity, so each student sees their own stable order and answers
// are still matched by key, never by position.
func shuffledOptions(options []answerkey.Option, attemptID uint, questionNumber int) []answerkey.Option {
	shuffled := make([]answerkey.Option, len(options))
	copy(shuffled, options)

	seed := int64(attemptID)*1000003 + int64(questionNumber)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

type scoredSubmission struct {
	answers     []*models.Answer
	autoScore   float64
	manualCount int
}

// scoreSubmission evaluates the automatic part of a submission. Multiple
// choice answers are compared by option key, open answers go through the
// evaluator, situation tasks are deferred to manual grading with a zero
// automatic score. Each question scores at most once: when the payload
// carries several answers for the same number, the last one wins.
func (s *attemptService) scoreSubmission(ctx context.Context, repo repositories.Repository, exam *models.Exam, attempt *models.Attempt, submitted []SubmittedAnswer) (*scoredSubmission, error) {
	doc, err := compositionDocument(ctx, repo, nil, exam)
	if err != nil {
		return nil, err
	}

	numberByQuestionID, err := questionNumberIndex(ctx, repo, exam)
	if err != nil {
		return nil, err
	}

	out := &scoredSubmission{}
	unit := unitWeight(exam)

	answerByNumber := make(map[int]*models.Answer, len(submitted))
	numberOrder := make([]int, 0, len(submitted))

	for _, sub := range submitted {
		answer := &models.Answer{
			AttemptID:   attempt.ID,
			QuestionID:  sub.QuestionID,
			SelectedKey: sub.SelectedKey,
			TextValue:   sub.TextValue,
		}

		number := 0
		if sub.QuestionNumber != nil {
			number = *sub.QuestionNumber
			answer.QuestionNumber = sub.QuestionNumber
		} else if sub.QuestionID != nil {
			if n, ok := numberByQuestionID[*sub.QuestionID]; ok {
				number = n
				answer.QuestionNumber = &n
			}
		}

		question, found := doc.QuestionByNumber(number)
		if !found {
			return nil, ValidationErrors{{
				Field:   "answers",
				Message: fmt.Sprintf("question %d is not part of this exam", number),
				Value:   number,
				Rule:    "business_logic",
			}}
		}

		switch question.Kind {
		case answerkey.KindMultipleChoice:
			if sub.SelectedKey != nil && question.CorrectKey != nil && *sub.SelectedKey == *question.CorrectKey {
				answer.AutoScore = unit
			}
		case answerkey.KindOpen:
			rule := evaluator.RuleExactMatch
			if question.OpenRule != nil {
				rule = *question.OpenRule
			}
			if sub.TextValue != nil && evaluator.Evaluate(*sub.TextValue, question.OpenAnswer, rule) {
				answer.AutoScore = unit
			}
		case answerkey.KindSituation:
			answer.RequiresManualCheck = true
		}

		if _, seen := answerByNumber[number]; !seen {
			numberOrder = append(numberOrder, number)
		}
		answerByNumber[number] = answer
	}

	for _, number := range numberOrder {
		answer := answerByNumber[number]
		out.autoScore += answer.AutoScore
		if answer.RequiresManualCheck {
			out.manualCount++
		}
		out.answers = append(out.answers, answer)
	}

	// Situation tasks listed separately always get a manual-check slot,
	// answered or not, so graders address them by stable 1-based order.
	for range doc.Situations {
		out.answers = append(out.answers, &models.Answer{
			AttemptID:           attempt.ID,
			RequiresManualCheck: true,
		})
		out.manualCount++
	}

	return out, nil
}

// questionNumberIndex maps bank question ids to their canonical numbers for
// bank sourced exams. External exams address questions by number directly.
func questionNumberIndex(ctx context.Context, repo repositories.Repository, exam *models.Exam) (map[uint]int, error) {
	if exam.IsExternallySourced() {
		return nil, nil
	}
	links, err := repo.Exam().GetQuestionLinks(ctx, nil, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get question links: %w", err)
	}
	index := make(map[uint]int, len(links))
	for i, link := range links {
		index[link.QuestionID] = i + 1
	}
	return index, nil
}

// ===== ACCESS CHECKS =====

func (s *attemptService) checkTeacherAccess(ctx context.Context, attempt *models.Attempt, userID, action string) error {
	exam, err := s.repo.Exam().GetByID(ctx, nil, attempt.ExamID)
	if err != nil {
		return fmt.Errorf("failed to get exam: %w", err)
	}
	if exam.CreatedBy == userID {
		return nil
	}
	isAdmin, err := s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
	if err == nil && isAdmin {
		return nil
	}
	return NewPermissionError(userID, attempt.ID, "attempt", action, "not the exam creator")
}

func (s *attemptService) checkExamAccess(ctx context.Context, examID uint, userID, action string) error {
	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrExamNotFound
		}
		return fmt.Errorf("failed to get exam: %w", err)
	}
	if exam.CreatedBy == userID {
		return nil
	}
	isAdmin, err := s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
	if err == nil && isAdmin {
		return nil
	}
	return NewPermissionError(userID, examID, "exam", action, "not the creator")
}

func (s *attemptService) buildListResponse(attempts []*models.Attempt, total int64, filters repositories.AttemptFilters) *AttemptListResponse {
	responses := make([]*AttemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		responses = append(responses, &AttemptResponse{Attempt: attempt})
	}
	return &AttemptListResponse{
		Attempts: responses,
		Total:    total,
		Page:     pageOf(filters.Limit, filters.Offset),
		Size:     len(responses),
	}
}

func (s *attemptService) publishEvent(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.eventPublisher == nil {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events.NewEvent(eventType, data)); err != nil {
		s.logger.Error("Failed to publish event", "event_type", eventType, "error", err)
	}
}
