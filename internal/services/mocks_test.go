package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/repositories"
)

// mockRepository is an in-memory repositories.Repository for service tests.
// Transactions run the callback against the same store; the tests exercise
// service logic, not isolation.
type mockRepository struct {
	mu sync.Mutex

	exams     map[uint]*models.Exam
	examLinks map[uint][]models.ExamQuestion
	questions map[uint]*models.QuestionBankItem
	topics    map[uint]*models.Topic
	runs      map[uint]*models.Run
	attempts  map[uint]*models.Attempt
	answers   map[uint]*models.Answer
	canvases  map[uint]*models.Canvas
	users     map[string]*models.User
	groups    map[string][]string

	nextID uint
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		exams:     make(map[uint]*models.Exam),
		examLinks: make(map[uint][]models.ExamQuestion),
		questions: make(map[uint]*models.QuestionBankItem),
		topics:    make(map[uint]*models.Topic),
		runs:      make(map[uint]*models.Run),
		attempts:  make(map[uint]*models.Attempt),
		answers:   make(map[uint]*models.Answer),
		canvases:  make(map[uint]*models.Canvas),
		users:     make(map[string]*models.User),
		groups:    make(map[string][]string),
	}
}

func (m *mockRepository) id() uint {
	m.nextID++
	return m.nextID
}

func (m *mockRepository) Exam() repositories.ExamRepository { return (*mockExamRepo)(m) }
func (m *mockRepository) QuestionBank() repositories.QuestionBankRepository {
	return (*mockQuestionRepo)(m)
}
func (m *mockRepository) Run() repositories.RunRepository         { return (*mockRunRepo)(m) }
func (m *mockRepository) Attempt() repositories.AttemptRepository { return (*mockAttemptRepo)(m) }
func (m *mockRepository) Answer() repositories.AnswerRepository   { return (*mockAnswerRepo)(m) }
func (m *mockRepository) Canvas() repositories.CanvasRepository   { return (*mockCanvasRepo)(m) }
func (m *mockRepository) User() repositories.UserRepository       { return (*mockUserRepo)(m) }

func (m *mockRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(m)
}

func (m *mockRepository) Ping(ctx context.Context) error { return nil }
func (m *mockRepository) Close() error                   { return nil }

// ===== EXAM =====

type mockExamRepo mockRepository

func (r *mockExamRepo) Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exam.ID = (*mockRepository)(r).id()
	exam.CreatedAt = time.Now()
	r.exams[exam.ID] = exam
	return nil
}

func (r *mockExamRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exam, ok := r.exams[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return exam, nil
}

func (r *mockExamRepo) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	exam, err := r.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	exam.Questions = r.examLinks[id]
	return exam, nil
}

func (r *mockExamRepo) Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.exams[exam.ID]; !ok {
		return repositories.ErrNotFound
	}
	r.exams[exam.ID] = exam
	return nil
}

func (r *mockExamRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.ExamStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exam, ok := r.exams[id]
	if !ok {
		return repositories.ErrNotFound
	}
	exam.Status = status
	return nil
}

func (r *mockExamRepo) SetResultPublished(ctx context.Context, tx *gorm.DB, id uint, published bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exam, ok := r.exams[id]
	if !ok {
		return repositories.ErrNotFound
	}
	exam.ResultPublished = published
	return nil
}

func (r *mockExamRepo) SetArchived(ctx context.Context, tx *gorm.DB, id uint, archived bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exam, ok := r.exams[id]
	if !ok {
		return repositories.ErrNotFound
	}
	exam.Archived = archived
	return nil
}

func (r *mockExamRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.exams[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(r.exams, id)
	delete(r.examLinks, id)
	return nil
}

func (r *mockExamRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Exam
	for _, exam := range r.exams {
		out = append(out, exam)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r *mockExamRepo) GetByCreator(ctx context.Context, tx *gorm.DB, creatorID string, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Exam
	for _, exam := range r.exams {
		if exam.CreatedBy == creatorID {
			out = append(out, exam)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r *mockExamRepo) ReplaceQuestionLinks(ctx context.Context, tx *gorm.DB, examID uint, links []models.ExamQuestion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sorted := make([]models.ExamQuestion, len(links))
	copy(sorted, links)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DisplayOrder < sorted[j].DisplayOrder })
	r.examLinks[examID] = sorted
	return nil
}

func (r *mockExamRepo) GetQuestionLinks(ctx context.Context, tx *gorm.DB, examID uint) ([]models.ExamQuestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.examLinks[examID], nil
}

// ===== QUESTION BANK =====

type mockQuestionRepo mockRepository

func (r *mockQuestionRepo) Create(ctx context.Context, tx *gorm.DB, item *models.QuestionBankItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item.ID = (*mockRepository)(r).id()
	r.questions[item.ID] = item
	return nil
}

func (r *mockQuestionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuestionBankItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.questions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return item, nil
}

func (r *mockQuestionRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.QuestionBankItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.QuestionBankItem
	for _, id := range ids {
		if item, ok := r.questions[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *mockQuestionRepo) Update(ctx context.Context, tx *gorm.DB, item *models.QuestionBankItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.questions[item.ID]; !ok {
		return repositories.ErrNotFound
	}
	r.questions[item.ID] = item
	return nil
}

func (r *mockQuestionRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.questions[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(r.questions, id)
	return nil
}

func (r *mockQuestionRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.QuestionFilters) ([]*models.QuestionBankItem, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.QuestionBankItem
	for _, item := range r.questions {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r *mockQuestionRepo) IsUsedInExams(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, links := range r.examLinks {
		for _, link := range links {
			if link.QuestionID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *mockQuestionRepo) CreateTopic(ctx context.Context, tx *gorm.DB, topic *models.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	topic.ID = (*mockRepository)(r).id()
	r.topics[topic.ID] = topic
	return nil
}

func (r *mockQuestionRepo) GetTopics(ctx context.Context, tx *gorm.DB, creatorID string) ([]*models.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Topic
	for _, topic := range r.topics {
		if topic.CreatedBy == creatorID {
			out = append(out, topic)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ===== RUN =====

type mockRunRepo mockRepository

func (r *mockRunRepo) Create(ctx context.Context, tx *gorm.DB, run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.ID = (*mockRepository)(r).id()
	r.runs[run.ID] = run
	return nil
}

func (r *mockRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return run, nil
}

func (r *mockRunRepo) GetByIDWithExam(ctx context.Context, tx *gorm.DB, id uint) (*models.Run, error) {
	run, err := r.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run.Exam = r.exams[run.ExamID]
	return run, nil
}

func (r *mockRunRepo) Update(ctx context.Context, tx *gorm.DB, run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		return repositories.ErrNotFound
	}
	r.runs[run.ID] = run
	return nil
}

func (r *mockRunRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return repositories.ErrNotFound
	}
	run.Status = status
	return nil
}

func (r *mockRunRepo) GetByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Run
	for _, run := range r.runs {
		if run.ExamID == examID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *mockRunRepo) GetByExamAndTarget(ctx context.Context, tx *gorm.DB, examID uint, groupID, studentID *string) (*models.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		if run.ExamID != examID {
			continue
		}
		if groupID != nil && run.GroupID != nil && *run.GroupID == *groupID {
			return run, nil
		}
		if studentID != nil && run.StudentID != nil && *run.StudentID == *studentID {
			return run, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *mockRunRepo) CountByExam(ctx context.Context, tx *gorm.DB, examID uint) (int64, error) {
	runs, err := r.GetByExam(ctx, tx, examID)
	if err != nil {
		return 0, err
	}
	return int64(len(runs)), nil
}

func (r *mockRunRepo) GetAccessibleRuns(ctx context.Context, tx *gorm.DB, studentID string, groupIDs []string, now time.Time) ([]*models.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inGroups := make(map[string]bool, len(groupIDs))
	for _, g := range groupIDs {
		inGroups[g] = true
	}

	var out []*models.Run
	for _, run := range r.runs {
		exam, ok := r.exams[run.ExamID]
		if !ok || exam.Status != models.ExamStatusActive || exam.Archived {
			continue
		}
		if !run.WindowOpen(now) {
			continue
		}
		targeted := (run.StudentID != nil && *run.StudentID == studentID) ||
			(run.GroupID != nil && inGroups[*run.GroupID])
		if !targeted {
			continue
		}
		run.Exam = exam
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndAt.Before(out[j].EndAt) })
	return out, nil
}

// ===== ATTEMPT =====

type mockAttemptRepo mockRepository

func (r *mockAttemptRepo) CreateIfAbsent(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	runID := uint(0)
	if attempt.RunID != nil {
		runID = *attempt.RunID
	}
	key := fmt.Sprintf("%s:%d", attempt.StudentID, runID)
	for _, existing := range r.attempts {
		if existing.ActiveKey != nil && *existing.ActiveKey == key {
			return repositories.ErrDuplicateActiveAttempt
		}
	}

	attempt.ID = (*mockRepository)(r).id()
	attempt.ActiveKey = &key
	attempt.CreatedAt = time.Now()
	r.attempts[attempt.ID] = attempt
	return nil
}

func (r *mockAttemptRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt, ok := r.attempts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return attempt, nil
}

func (r *mockAttemptRepo) GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error) {
	attempt, err := r.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt.Answers = nil
	var ids []uint
	for answerID, answer := range r.answers {
		if answer.AttemptID == id {
			ids = append(ids, answerID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, answerID := range ids {
		attempt.Answers = append(attempt.Answers, *r.answers[answerID])
	}
	return attempt, nil
}

func (r *mockAttemptRepo) GetCurrent(ctx context.Context, tx *gorm.DB, runID uint, studentID string) (*models.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.Attempt
	for _, attempt := range r.attempts {
		if attempt.Status == models.AttemptRestarted {
			continue
		}
		if attempt.RunID == nil || *attempt.RunID != runID || attempt.StudentID != studentID {
			continue
		}
		if latest == nil || attempt.ID > latest.ID {
			latest = attempt
		}
	}
	if latest == nil {
		return nil, repositories.ErrNotFound
	}
	return latest, nil
}

func (r *mockAttemptRepo) Update(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attempts[attempt.ID]; !ok {
		return repositories.ErrNotFound
	}
	if attempt.Status.IsTerminal() {
		attempt.ActiveKey = nil
	}
	r.attempts[attempt.ID] = attempt
	return nil
}

func (r *mockAttemptRepo) MarkExpired(ctx context.Context, tx *gorm.DB, id uint) error {
	return r.markTerminal(id, models.AttemptExpired)
}

func (r *mockAttemptRepo) MarkRestarted(ctx context.Context, tx *gorm.DB, id uint) error {
	return r.markTerminal(id, models.AttemptRestarted)
}

func (r *mockAttemptRepo) markTerminal(id uint, status models.AttemptStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt, ok := r.attempts[id]
	if !ok {
		return repositories.ErrNotFound
	}
	attempt.Status = status
	attempt.ActiveKey = nil
	if status == models.AttemptExpired && attempt.FinishedAt == nil {
		now := time.Now()
		attempt.FinishedAt = &now
	}
	return nil
}

func (r *mockAttemptRepo) ListByRun(ctx context.Context, tx *gorm.DB, runID uint, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	return r.listWhere(func(a *models.Attempt) bool {
		return a.RunID != nil && *a.RunID == runID
	})
}

func (r *mockAttemptRepo) ListByExam(ctx context.Context, tx *gorm.DB, examID uint, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	return r.listWhere(func(a *models.Attempt) bool { return a.ExamID == examID })
}

func (r *mockAttemptRepo) ListByStudent(ctx context.Context, tx *gorm.DB, studentID string, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	return r.listWhere(func(a *models.Attempt) bool { return a.StudentID == studentID })
}

func (r *mockAttemptRepo) listWhere(match func(*models.Attempt) bool) ([]*models.Attempt, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Attempt
	for _, attempt := range r.attempts {
		if attempt.Status == models.AttemptRestarted {
			continue
		}
		if match(attempt) {
			out = append(out, attempt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

// ===== ANSWER =====

type mockAnswerRepo mockRepository

func (r *mockAnswerRepo) CreateBatch(ctx context.Context, tx *gorm.DB, answers []*models.Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, answer := range answers {
		answer.ID = (*mockRepository)(r).id()
		r.answers[answer.ID] = answer
	}
	return nil
}

func (r *mockAnswerRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Answer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	answer, ok := r.answers[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return answer, nil
}

func (r *mockAnswerRepo) GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.Answer, error) {
	return r.answersWhere(func(a *models.Answer) bool { return a.AttemptID == attemptID })
}

func (r *mockAnswerRepo) GetManualCheckAnswers(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.Answer, error) {
	return r.answersWhere(func(a *models.Answer) bool {
		return a.AttemptID == attemptID && a.RequiresManualCheck
	})
}

func (r *mockAnswerRepo) answersWhere(match func(*models.Answer) bool) ([]*models.Answer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Answer
	for _, answer := range r.answers {
		if match(answer) {
			out = append(out, answer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *mockAnswerRepo) UpdateManualScore(ctx context.Context, tx *gorm.DB, answerID uint, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	answer, ok := r.answers[answerID]
	if !ok {
		return repositories.ErrNotFound
	}
	answer.ManualScore = &score
	return nil
}

// ===== CANVAS =====

type mockCanvasRepo mockRepository

func (r *mockCanvasRepo) Upsert(ctx context.Context, tx *gorm.DB, canvas *models.Canvas) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.canvases {
		if existing.AttemptID != canvas.AttemptID {
			continue
		}
		sameQuestion := existing.QuestionID != nil && canvas.QuestionID != nil && *existing.QuestionID == *canvas.QuestionID
		sameSituation := existing.SituationIndex != nil && canvas.SituationIndex != nil && *existing.SituationIndex == *canvas.SituationIndex
		if sameQuestion || sameSituation {
			canvas.ID = id
			r.canvases[id] = canvas
			return nil
		}
	}
	canvas.ID = (*mockRepository)(r).id()
	r.canvases[canvas.ID] = canvas
	return nil
}

func (r *mockCanvasRepo) GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.Canvas, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Canvas
	for _, canvas := range r.canvases {
		if canvas.AttemptID == attemptID {
			out = append(out, canvas)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ===== USER =====

type mockUserRepo mockRepository

func (r *mockUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return user, nil
}

func (r *mockUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *mockUserRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.User
	for _, id := range ids {
		if user, ok := r.users[id]; ok {
			out = append(out, user)
		}
	}
	return out, nil
}

func (r *mockUserRepo) ExistsByID(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[id]
	return ok, nil
}

func (r *mockUserRepo) HasRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return false, nil
	}
	return user.Role == role, nil
}

func (r *mockUserRepo) List(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.User
	for _, user := range r.users {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r *mockUserRepo) GetGroups(ctx context.Context, studentID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groups[studentID], nil
}

func (r *mockUserRepo) IsStudentInGroup(ctx context.Context, studentID, groupID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups[studentID] {
		if g == groupID {
			return true, nil
		}
	}
	return false, nil
}
