package model

import (
	"testing"

	"github.com/dukerupert/kudos/internal/apperr"
)

func TestMetadataValidate(t *testing.T) {
	src := &SourceRef{EventID: "n-1"}
	tests := []struct {
		name string
		typ  ActivityType
		md   Metadata
		ok   bool
	}{
		{"empty", ActivityLogin, Metadata{}, true},
		{"source only", ActivityWelcomeBonus, Metadata{Source: src}, true},
		{"chat", ActivityChatMessage, Metadata{Chat: &ChatSignals{Content: "hi"}, Source: src}, true},
		{"forum reply", ActivityForumReply, Metadata{Forum: &ForumSignals{Upvotes: 2}}, true},
		{"course", ActivityCourseCompleted, Metadata{Course: &CourseSignals{CourseID: "go-101"}}, true},
		{"lesson", ActivityLessonCompleted, Metadata{Lesson: &LessonSignals{LessonID: "l1"}}, true},
		{"quiz", ActivityQuizCompleted, Metadata{Quiz: &QuizSignals{Score: 90}}, true},
		{"purchase", ActivityPurchase, Metadata{Purchase: &PurchaseSignals{AmountCents: 500}}, true},
		{"adjustment", ActivityManualAdjustment, Metadata{Adjustment: &Adjustment{Reason: "fix"}}, true},
		{"reset", ActivityLeaderboardReset, Metadata{Adjustment: &Adjustment{Reason: "season"}}, true},
		{"login with forum", ActivityLogin, Metadata{Forum: &ForumSignals{Upvotes: 5}}, false},
		{"chat with purchase", ActivityChatMessage, Metadata{Chat: &ChatSignals{}, Purchase: &PurchaseSignals{AmountCents: 100}}, false},
		{"lesson with course", ActivityLessonCompleted, Metadata{Course: &CourseSignals{}}, false},
		{"reaction with adjustment", ActivityReaction, Metadata{Adjustment: &Adjustment{Reason: "x"}}, false},
		{"adjustment with quiz", ActivityManualAdjustment, Metadata{Adjustment: &Adjustment{}, Quiz: &QuizSignals{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.md.Validate(tt.typ)
			if tt.ok && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tt.ok && !apperr.Is(err, apperr.CodeValidation) {
				t.Errorf("err = %v, want validation", err)
			}
		})
	}
}
