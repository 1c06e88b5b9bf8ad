package repositories

import "context"

// Repository aggregates all per-entity repositories behind one handle so
// services depend on a single constructor-injected value.
type Repository interface {
	Exam() ExamRepository
	QuestionBank() QuestionBankRepository
	Run() RunRepository
	Attempt() AttemptRepository
	Answer() AnswerRepository
	Canvas() CanvasRepository

	// User data is read-only; the identity provider owns it.
	User() UserRepository

	// WithTransaction runs fn inside one database transaction. The
	// Repository passed to fn routes every call through that transaction.
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryManager owns the repository lifecycle.
type RepositoryManager interface {
	Initialize() error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
