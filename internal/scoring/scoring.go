// Package scoring turns activity signals into point values. Everything here is
// pure: no storage, no clock.
package scoring

import (
	"github.com/dukerupert/kudos/internal/apperr"
	"github.com/dukerupert/kudos/internal/model"
)

const (
	ChatBase         = 1
	ChatLongBonus    = 3
	ChatMediumBonus  = 1
	ChatLinkBonus    = 1
	ChatMediaBonus   = 2
	ChatCodeBonus    = 2
	ChatQuestion     = 1
	ChatPerMention   = 1
	ChatMentionCap   = 3
	ForumPostBase    = 10
	ForumReplyBase   = 5
	ForumLongBonus   = 10
	ForumMediumBonus = 5
	ForumShortBonus  = 2
	ForumLinkBonus   = 2
	ForumMediaBonus  = 3
	ForumCodeBonus   = 5
	ForumQuestion    = 2
	ForumPerUpvote   = 1
	ForumUpvoteCap   = 20
	ForumPerReply    = 2
	ForumReplyCap    = 20
	CourseBase       = 20
	QuizHighScore    = 80
	TimeOnTaskBonus  = 5
	TimeOnTaskMin    = 30
	LessonBase       = 5
	QuizBase         = 10
	ReactionPoints   = 1
	LoginPoints      = 2
	ProfilePoints    = 25
	SharePoints      = 3
	WelcomePoints    = 10
)

// MaxPoints bounds the magnitude of any single award, explicit or scored.
const MaxPoints = 1_000_000_000

// Activity is one scoring request. Points, when set, wins over every
// heuristic.
type Activity struct {
	Type     model.ActivityType
	Points   *int64
	Metadata model.Metadata
}

// Score returns the points an activity is worth. Heuristic results are never
// negative; explicit points are returned as given.
func Score(a Activity) (int64, error) {
	if !a.Type.Valid() {
		return 0, apperr.Validation("unknown activity type %q", a.Type)
	}
	if err := a.Metadata.Validate(a.Type); err != nil {
		return 0, err
	}
	if a.Points != nil {
		if p := *a.Points; p > MaxPoints || p < -MaxPoints {
			return 0, apperr.Validation("points %d outside -%d..%d", p, MaxPoints, MaxPoints)
		}
		return *a.Points, nil
	}
	if a.Type.RequiresExplicitPoints() {
		return 0, apperr.Validation("%s requires explicit points", a.Type)
	}

	var pts int64
	m := a.Metadata
	switch a.Type {
	case model.ActivityChatMessage:
		var q model.Quality
		if m.Chat != nil {
			q = qualityOf(m.Chat.Content, m.Chat.Quality)
		}
		pts = chat(q)
	case model.ActivityForumPost, model.ActivityForumReply:
		var f model.ForumSignals
		if m.Forum != nil {
			f = *m.Forum
			f.Quality = qualityOf(f.Content, f.Quality)
		}
		if f.Upvotes < 0 || f.ReplyCount < 0 {
			return 0, apperr.Validation("upvotes and reply count must not be negative")
		}
		base := int64(ForumPostBase)
		if a.Type == model.ActivityForumReply {
			base = ForumReplyBase
		}
		pts = base + forum(f)
	case model.ActivityCourseCompleted:
		var c model.CourseSignals
		if m.Course != nil {
			c = *m.Course
		}
		p, err := course(c)
		if err != nil {
			return 0, err
		}
		pts = p
	case model.ActivityLessonCompleted:
		pts = LessonBase
	case model.ActivityQuizCompleted:
		score := 0
		if m.Quiz != nil {
			score = m.Quiz.Score
		}
		if score < 0 || score > 100 {
			return 0, apperr.Validation("quiz score %d outside 0-100", score)
		}
		pts = QuizBase + quizBonus(score)
	case model.ActivityReaction:
		pts = ReactionPoints
	case model.ActivityLogin:
		pts = LoginPoints
	case model.ActivityProfileCompleted:
		pts = ProfilePoints
	case model.ActivityContentShared:
		pts = SharePoints
	case model.ActivityWelcomeBonus:
		pts = WelcomePoints
	case model.ActivityPurchase:
		if m.Purchase == nil {
			return 0, apperr.Validation("purchase requires an amount")
		}
		pts = m.Purchase.AmountCents / 100
	}

	if pts < 0 {
		pts = 0
	}
	if pts > MaxPoints {
		return 0, apperr.Validation("%s is worth more than %d points", a.Type, MaxPoints)
	}
	return pts, nil
}

// qualityOf prefers indicators derived from content when content is present.
func qualityOf(content string, given model.Quality) model.Quality {
	if content == "" {
		return given
	}
	return Analyze(content)
}

func chat(q model.Quality) int64 {
	pts := int64(ChatBase)
	switch {
	case q.Length > 300:
		pts += ChatLongBonus
	case q.Length > 100:
		pts += ChatMediumBonus
	}
	pts += flags(q, ChatLinkBonus, ChatMediaBonus, ChatCodeBonus, ChatQuestion)
	pts += capped(q.MentionCount, ChatPerMention, ChatMentionCap)
	return pts
}

func forum(f model.ForumSignals) int64 {
	var pts int64
	switch q := f.Quality; {
	case q.Length > 1000:
		pts += ForumLongBonus
	case q.Length > 500:
		pts += ForumMediumBonus
	case q.Length > 200:
		pts += ForumShortBonus
	}
	pts += flags(f.Quality, ForumLinkBonus, ForumMediaBonus, ForumCodeBonus, ForumQuestion)
	pts += capped(f.Upvotes, ForumPerUpvote, ForumUpvoteCap)
	pts += capped(f.ReplyCount, ForumPerReply, ForumReplyCap)
	return pts
}

func course(c model.CourseSignals) (int64, error) {
	pct := 100
	if c.CompletionPercentage != nil {
		pct = *c.CompletionPercentage
	}
	if pct < 0 || pct > 100 {
		return 0, apperr.Validation("completion percentage %d outside 0-100", pct)
	}
	pts := int64(CourseBase * pct / 100)
	if c.QuizScore != nil {
		if *c.QuizScore < 0 || *c.QuizScore > 100 {
			return 0, apperr.Validation("quiz score %d outside 0-100", *c.QuizScore)
		}
		pts += quizBonus(*c.QuizScore)
	}
	if c.TimeSpentMinutes >= TimeOnTaskMin {
		pts += TimeOnTaskBonus
	}
	return pts, nil
}

func quizBonus(score int) int64 {
	if score < QuizHighScore {
		return 0
	}
	return int64(score * 10 / 100)
}

func flags(q model.Quality, link, media, code, question int64) int64 {
	var pts int64
	if q.HasLinks {
		pts += link
	}
	if q.HasMedia {
		pts += media
	}
	if q.HasCode {
		pts += code
	}
	if q.HasQuestion {
		pts += question
	}
	return pts
}

func capped(n int, per, limit int64) int64 {
	if n <= 0 {
		return 0
	}
	v := int64(n) * per
	if v > limit {
		return limit
	}
	return v
}
