package validator

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/schoolcore/assessment-service/internal/answerkey"
	"github.com/schoolcore/assessment-service/internal/evaluator"
	"github.com/schoolcore/assessment-service/internal/models"
)

// ScoreFractions are the admissible manual grades for a situation task,
// expressed as multiples of the unit weight.
var ScoreFractions = []float64{0, 2.0 / 3.0, 1, 4.0 / 3.0, 2}

// BusinessValidator handles struct level and domain rule validation.
type BusinessValidator struct {
	validate *validator.Validate
}

func NewBusinessValidator() *BusinessValidator {
	bv := &BusinessValidator{validate: validator.New()}
	bv.registerBusinessRules()
	return bv
}

// Validate validates a struct's declarative rules.
func (bv *BusinessValidator) Validate(s interface{}) ValidationErrors {
	if err := bv.validate.Struct(s); err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

// ValidateExamCreate validates an exam creation request against both tag
// rules and domain rules.
func (bv *BusinessValidator) ValidateExamCreate(req *ExamCreateRequest) ValidationErrors {
	errs := bv.Validate(req)

	if req.SourceType == models.SourceQuestionBank && req.AnswerKey != nil {
		errs = append(errs, ValidationError{
			Field:   "answer_key",
			Message: "question bank exams do not carry an answer key document",
			Rule:    "business_logic",
		})
	}
	if req.SourceType != models.SourceQuestionBank && len(req.Questions) > 0 {
		errs = append(errs, ValidationError{
			Field:   "questions",
			Message: "externally sourced exams do not reference bank questions",
			Rule:    "business_logic",
		})
	}
	return errs
}

// ValidateQuestionCreate validates a question bank item request.
func (bv *BusinessValidator) ValidateQuestionCreate(req *QuestionCreateRequest) ValidationErrors {
	errs := bv.Validate(req)

	switch {
	case req.Type == models.QuestionMultipleChoice:
		if len(req.Options) < 2 {
			errs = append(errs, ValidationError{
				Field:   "options",
				Message: "multiple choice questions need at least two options",
				Value:   len(req.Options),
				Rule:    "business_logic",
			})
		}
		if req.Answer != nil && !optionKeyExists(req.Options, *req.Answer) {
			errs = append(errs, ValidationError{
				Field:   "answer",
				Message: "correct answer must be one of the option keys",
				Value:   *req.Answer,
				Rule:    "business_logic",
			})
		}
	case req.Type.IsOpen():
		if req.Answer == nil {
			errs = append(errs, ValidationError{
				Field:   "answer",
				Message: "open questions require a reference answer",
				Rule:    "business_logic",
			})
		}
		if req.Rule == nil {
			errs = append(errs, ValidationError{
				Field:   "rule",
				Message: "open questions require a comparison rule",
				Rule:    "business_logic",
			})
		}
	}
	return errs
}

// ValidateRunTarget checks the group XOR student constraint.
func (bv *BusinessValidator) ValidateRunTarget(target RunTarget) ValidationErrors {
	hasGroup := target.GroupID != nil && *target.GroupID != ""
	hasStudent := target.StudentID != nil && *target.StudentID != ""
	if hasGroup == hasStudent {
		return ValidationErrors{{
			Field:   "target",
			Message: "exactly one of group_id and student_id must be set",
			Rule:    "business_logic",
		}}
	}
	return nil
}

// ValidateExamActivation checks the draft to active gate: valid composition,
// positive duration and at least one scheduled run.
func (bv *BusinessValidator) ValidateExamActivation(exam *models.Exam, doc *answerkey.Document, runCount int) ValidationErrors {
	var errs ValidationErrors

	if !exam.Status.CanTransitionTo(models.ExamStatusActive) {
		errs = append(errs, ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("cannot transition from %s to %s", exam.Status, models.ExamStatusActive),
			Value:   exam.Status,
			Rule:    "status_transition",
		})
	}

	if ok, reasons := answerkey.Validate(doc); !ok {
		for _, reason := range reasons {
			errs = append(errs, ValidationError{
				Field:   "composition",
				Message: reason,
				Rule:    "composition",
			})
		}
	}

	if exam.DurationMinutes <= 0 {
		errs = append(errs, ValidationError{
			Field:   "duration_minutes",
			Message: "must be greater than zero before activation",
			Value:   exam.DurationMinutes,
			Rule:    "business_logic",
		})
	}

	if runCount == 0 {
		errs = append(errs, ValidationError{
			Field:   "runs",
			Message: "at least one scheduled audience is required before activation",
			Rule:    "business_logic",
		})
	}

	return errs
}

// ValidateCanvasTarget checks the question XOR situation constraint.
func (bv *BusinessValidator) ValidateCanvasTarget(req *CanvasSaveRequest) ValidationErrors {
	hasQuestion := req.QuestionID != nil
	hasSituation := req.SituationIndex != nil
	if hasQuestion == hasSituation {
		return ValidationErrors{{
			Field:   "target",
			Message: "exactly one of question_id and situation_index must be set",
			Rule:    "business_logic",
		}}
	}
	return nil
}

func optionKeyExists(options []OptionRequest, key string) bool {
	for _, opt := range options {
		if opt.Key == key {
			return true
		}
	}
	return false
}

func (bv *BusinessValidator) registerBusinessRules() {
	bv.validate.RegisterValidation("exam_kind", func(fl validator.FieldLevel) bool {
		switch models.ExamKind(fl.Field().String()) {
		case models.ExamKindQuiz, models.ExamKindExam:
			return true
		}
		return false
	})

	bv.validate.RegisterValidation("source_type", func(fl validator.FieldLevel) bool {
		switch models.ExamSourceType(fl.Field().String()) {
		case models.SourceQuestionBank, models.SourceExternalDocument, models.SourceExternalStructured:
			return true
		}
		return false
	})

	bv.validate.RegisterValidation("question_type", func(fl validator.FieldLevel) bool {
		switch models.QuestionType(fl.Field().String()) {
		case models.QuestionMultipleChoice, models.QuestionOpenExact, models.QuestionOpenOrdered,
			models.QuestionOpenUnordered, models.QuestionSituation:
			return true
		}
		return false
	})

	bv.validate.RegisterValidation("comparison_rule", func(fl validator.FieldLevel) bool {
		return evaluator.Rule(fl.Field().String()).IsValid()
	})

	bv.validate.RegisterValidation("run_duration", func(fl validator.FieldLevel) bool {
		d := fl.Field().Int()
		return d >= 1 && d <= 600
	})

	bv.validate.RegisterValidation("score_fraction", func(fl validator.FieldLevel) bool {
		v := fl.Field().Float()
		for _, f := range ScoreFractions {
			if math.Abs(v-f) < 1e-9 {
				return true
			}
		}
		return false
	})
}
