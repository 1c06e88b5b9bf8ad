package services

import (
	"errors"
	"fmt"

	"github.com/schoolcore/assessment-service/internal/validator"
)

// ValidationErrors is re-exported so handlers can match it with errors.As
// without importing the validator package directly.
type ValidationErrors = validator.ValidationErrors

// ValidationError is the single-field form of the same alias.
type ValidationError = validator.ValidationError

var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrRunNotFound      = errors.New("run not found")
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrTopicNotFound    = errors.New("topic not found")

	ErrExamNotActive  = errors.New("exam is not active")
	ErrRunNotOpen     = errors.New("run window is not open")
	ErrExamNotVisible = errors.New("exam is not visible to student")

	ErrAttemptNotActive        = errors.New("attempt is not active")
	ErrAttemptAlreadySubmitted = errors.New("attempt already submitted")
	ErrAttemptTimeExpired      = errors.New("attempt time has expired")
	ErrAttemptNotFinished      = errors.New("attempt is not finished yet")

	ErrQuestionInUse = errors.New("question is referenced by an exam")
)

// PermissionError carries who tried what on which resource. Handlers map it
// to 403.
type PermissionError struct {
	UserID     string
	ResourceID uint
	Resource   string
	Action     string
	Reason     string
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s cannot %s %s %d: %s", e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

// BusinessRuleError signals a domain rule violation that is not a plain
// field validation failure. Handlers map it to 422.
type BusinessRuleError struct {
	Rule    string
	Message string
	Context map[string]interface{}
}

func NewBusinessRuleError(rule, message string) *BusinessRuleError {
	return &BusinessRuleError{Rule: rule, Message: message}
}

func (e *BusinessRuleError) WithContext(key string, value interface{}) *BusinessRuleError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule %s violated: %s", e.Rule, e.Message)
}
