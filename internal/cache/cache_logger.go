package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern invalidates a pattern, logging instead of failing.
// Cache invalidation errors never abort the calling write.
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete deletes cache keys, logging instead of failing.
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// InvalidateExamCache drops every cached view of one exam, including the
// student run listings that embed its status.
func InvalidateExamCache(ctx context.Context, cm *CacheManager, examID uint, creatorID string) {
	SafeDelete(ctx, cm.Exam,
		fmt.Sprintf("id:%d", examID),
		fmt.Sprintf("details:%d", examID))

	SafeInvalidatePattern(ctx, cm.Exam, fmt.Sprintf("creator:%s:*", creatorID))
	SafeInvalidatePattern(ctx, cm.Exam, "list:*")
	SafeInvalidatePattern(ctx, cm.Run, fmt.Sprintf("exam:%d:*", examID))
	SafeInvalidatePattern(ctx, cm.Run, "student:*")
}

// InvalidateQuestionCache drops cached views of one question bank item.
func InvalidateQuestionCache(ctx context.Context, cm *CacheManager, questionID uint, creatorID string) {
	SafeDelete(ctx, cm.Question, fmt.Sprintf("id:%d", questionID))
	SafeInvalidatePattern(ctx, cm.Question, fmt.Sprintf("creator:%s:*", creatorID))
	SafeInvalidatePattern(ctx, cm.Question, "list:*")
}

// InvalidateAttemptCache drops cached views of one attempt and the
// student's attempt listings.
func InvalidateAttemptCache(ctx context.Context, cm *CacheManager, attemptID uint, studentID string) {
	SafeDelete(ctx, cm.Attempt,
		fmt.Sprintf("id:%d", attemptID),
		fmt.Sprintf("details:%d", attemptID))
	SafeInvalidatePattern(ctx, cm.Attempt, fmt.Sprintf("student:%s:*", studentID))
}
