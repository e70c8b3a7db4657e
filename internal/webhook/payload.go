package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/dukerupert/kudos/internal/apperr"
)

const (
	TypeMemberJoined      = "member.joined"
	TypeMemberCancelled   = "member.cancelled"
	TypeCourseCompleted   = "course.completed"
	TypeLessonCompleted   = "lesson.completed"
	TypePurchaseCompleted = "purchase.completed"
)

// Notification is the envelope every inbound webhook body carries.
type Notification struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt int64           `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type MemberData struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	CommunityID string `json:"community_id"`
}

type CompletionData struct {
	UserID               string `json:"user_id"`
	Username             string `json:"username"`
	CourseID             string `json:"course_id"`
	LessonID             string `json:"lesson_id"`
	CompletionPercentage *int   `json:"completion_percentage"`
	QuizScore            *int   `json:"quiz_score"`
	TimeSpentMinutes     int    `json:"time_spent_minutes"`
}

type PurchaseData struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	ProductID    string `json:"product_id"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	DiscountCode string `json:"discount_code"`
}

// Parse decodes the envelope. The type is checked at dispatch, so a
// notification of an unsupported type is still recorded against its id.
func Parse(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, apperr.Validation("malformed notification: %v", err)
	}
	if strings.TrimSpace(n.ID) == "" {
		return nil, apperr.Validation("notification id is required")
	}
	return &n, nil
}

// occurred returns when the sender says the notification happened, or
// fallback when it did not say.
func (n *Notification) occurred(fallback time.Time) time.Time {
	if n.OccurredAt <= 0 {
		return fallback
	}
	return time.Unix(n.OccurredAt, 0).UTC()
}

func decodeData[T any](n *Notification) (*T, error) {
	var v T
	if len(n.Data) == 0 {
		return nil, apperr.Validation("%s: data is required", n.Type)
	}
	if err := json.Unmarshal(n.Data, &v); err != nil {
		return nil, apperr.Validation("%s: malformed data: %v", n.Type, err)
	}
	return &v, nil
}
