package model

import (
	"encoding/json"
	"time"

	"github.com/dukerupert/kudos/internal/apperr"
)

type ActivityType string

const (
	ActivityChatMessage      ActivityType = "chat_message"
	ActivityForumPost        ActivityType = "forum_post"
	ActivityForumReply       ActivityType = "forum_reply"
	ActivityCourseCompleted  ActivityType = "course_completed"
	ActivityLessonCompleted  ActivityType = "lesson_completed"
	ActivityQuizCompleted    ActivityType = "quiz_completed"
	ActivityReaction         ActivityType = "reaction"
	ActivityLogin            ActivityType = "login"
	ActivityProfileCompleted ActivityType = "profile_completed"
	ActivityContentShared    ActivityType = "content_shared"
	ActivityWelcomeBonus     ActivityType = "welcome_bonus"
	ActivityPurchase         ActivityType = "purchase"
	ActivityManualAdjustment ActivityType = "manual_adjustment"
	ActivityLeaderboardReset ActivityType = "leaderboard_reset"
)

var activityTypes = map[ActivityType]struct{}{
	ActivityChatMessage:      {},
	ActivityForumPost:        {},
	ActivityForumReply:       {},
	ActivityCourseCompleted:  {},
	ActivityLessonCompleted:  {},
	ActivityQuizCompleted:    {},
	ActivityReaction:         {},
	ActivityLogin:            {},
	ActivityProfileCompleted: {},
	ActivityContentShared:    {},
	ActivityWelcomeBonus:     {},
	ActivityPurchase:         {},
	ActivityManualAdjustment: {},
	ActivityLeaderboardReset: {},
}

// Valid reports whether a is one of the closed set of activity types.
func (a ActivityType) Valid() bool {
	_, ok := activityTypes[a]
	return ok
}

// RequiresExplicitPoints reports whether events of this type can only be
// recorded with a caller-supplied point value.
func (a ActivityType) RequiresExplicitPoints() bool {
	return a == ActivityManualAdjustment || a == ActivityLeaderboardReset
}

// Event is one row of the append-only ledger.
type Event struct {
	Seq           int64        `json:"seq"`
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	ActivityType  ActivityType `json:"activity_type"`
	PointsAwarded int64        `json:"points_awarded"`
	Metadata      Metadata     `json:"metadata"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Metadata is a union keyed by activity type: at most the variant matching
// the event's ActivityType is set, plus the optional Source reference.
// Validate enforces this.
type Metadata struct {
	Chat       *ChatSignals     `json:"chat,omitempty"`
	Forum      *ForumSignals    `json:"forum,omitempty"`
	Course     *CourseSignals   `json:"course,omitempty"`
	Lesson     *LessonSignals   `json:"lesson,omitempty"`
	Quiz       *QuizSignals     `json:"quiz,omitempty"`
	Purchase   *PurchaseSignals `json:"purchase,omitempty"`
	Adjustment *Adjustment      `json:"adjustment,omitempty"`
	Source     *SourceRef       `json:"source,omitempty"`
}

// metadataVariant names the only variant each activity type may carry. Types
// absent from the map carry none.
var metadataVariant = map[ActivityType]string{
	ActivityChatMessage:      "chat",
	ActivityForumPost:        "forum",
	ActivityForumReply:       "forum",
	ActivityCourseCompleted:  "course",
	ActivityLessonCompleted:  "lesson",
	ActivityQuizCompleted:    "quiz",
	ActivityPurchase:         "purchase",
	ActivityManualAdjustment: "adjustment",
	ActivityLeaderboardReset: "adjustment",
}

func (m Metadata) variants() []string {
	var set []string
	if m.Chat != nil {
		set = append(set, "chat")
	}
	if m.Forum != nil {
		set = append(set, "forum")
	}
	if m.Course != nil {
		set = append(set, "course")
	}
	if m.Lesson != nil {
		set = append(set, "lesson")
	}
	if m.Quiz != nil {
		set = append(set, "quiz")
	}
	if m.Purchase != nil {
		set = append(set, "purchase")
	}
	if m.Adjustment != nil {
		set = append(set, "adjustment")
	}
	return set
}

// Validate rejects any variant that does not belong to activity type t.
// Source may accompany every type.
func (m Metadata) Validate(t ActivityType) error {
	want := metadataVariant[t]
	for _, v := range m.variants() {
		if v != want {
			return apperr.Validation("%s metadata is not allowed on a %s event", v, t)
		}
	}
	return nil
}

// Quality holds the content-quality indicators extracted from a message or
// post body.
type Quality struct {
	Length       int  `json:"length"`
	HasLinks     bool `json:"has_links"`
	HasMedia     bool `json:"has_media"`
	HasCode      bool `json:"has_code"`
	HasQuestion  bool `json:"has_question"`
	MentionCount int  `json:"mention_count"`
}

type ChatSignals struct {
	Content string  `json:"content,omitempty"`
	Quality Quality `json:"quality"`
}

type ForumSignals struct {
	Content    string  `json:"content,omitempty"`
	Quality    Quality `json:"quality"`
	Upvotes    int     `json:"upvotes"`
	ReplyCount int     `json:"reply_count"`
}

type CourseSignals struct {
	CourseID             string `json:"course_id,omitempty"`
	CompletionPercentage *int   `json:"completion_percentage,omitempty"`
	QuizScore            *int   `json:"quiz_score,omitempty"`
	TimeSpentMinutes     int    `json:"time_spent_minutes,omitempty"`
}

type LessonSignals struct {
	LessonID string `json:"lesson_id,omitempty"`
	CourseID string `json:"course_id,omitempty"`
}

type QuizSignals struct {
	QuizID string `json:"quiz_id,omitempty"`
	Score  int    `json:"score"`
}

type PurchaseSignals struct {
	ProductID    string `json:"product_id,omitempty"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency,omitempty"`
	DiscountCode string `json:"discount_code,omitempty"`
}

type AdjustmentMode string

const (
	AdjustAdd    AdjustmentMode = "add"
	AdjustRemove AdjustmentMode = "remove"
	AdjustSet    AdjustmentMode = "set"
)

type Adjustment struct {
	Mode      AdjustmentMode `json:"mode,omitempty"`
	Reason    string         `json:"reason"`
	Actor     string         `json:"actor,omitempty"`
	Requested int64          `json:"requested"`
	Clamped   bool           `json:"clamped,omitempty"`
}

// SourceRef points back at the external notification an event came from.
type SourceRef struct {
	Provider string `json:"provider,omitempty"`
	EventID  string `json:"event_id"`
}

// Encode returns the JSON stored in events.metadata.
func (m Metadata) Encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeMetadata parses events.metadata. An empty string is an empty union.
func DecodeMetadata(s string) (Metadata, error) {
	var m Metadata
	if s == "" {
		return m, nil
	}
	err := json.Unmarshal([]byte(s), &m)
	return m, err
}
