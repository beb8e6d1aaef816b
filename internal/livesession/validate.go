package livesession

import (
	"strings"
	"time"
	_ "time/tzdata"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/aura-learning/backend/internal/apperr"
	"github.com/aura-learning/backend/internal/models"
)

const (
	MaxTitleLength     = 100
	MinDurationMinutes = 5
	MaxDurationMinutes = 480

	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// CreateSessionInput is the request to schedule a session. Date, StartTime and
// EndTime are wall-clock values in Timezone.
type CreateSessionInput struct {
	CourseID        uuid.UUID          `json:"course_id"`
	CohortID        uuid.UUID          `json:"cohort_id"`
	Title           string             `json:"title"`
	Kind            models.SessionKind `json:"kind"`
	Date            string             `json:"date"`
	StartTime       string             `json:"start_time"`
	EndTime         string             `json:"end_time"`
	DurationMinutes int                `json:"duration_minutes"`
	Timezone        string             `json:"timezone"`
	Platform        models.Platform    `json:"platform"`
	CreatedBy       string             `json:"-"`
}

// schedule is a validated session window.
type schedule struct {
	title    string
	kind     models.SessionKind
	startsAt time.Time
	endsAt   time.Time
	duration int
	timezone string
}

// validateCreate checks in and resolves the window. now anchors instant sessions.
// All problems are reported together.
func validateCreate(in CreateSessionInput, now time.Time) (schedule, error) {
	var problems []string
	fail := func(msg string) { problems = append(problems, msg) }

	title := strings.TrimSpace(in.Title)
	switch {
	case title == "":
		fail("title is required")
	case utf8.RuneCountInString(title) > MaxTitleLength:
		fail("title must be at most 100 characters")
	}
	if in.CourseID == uuid.Nil {
		fail("course_id is required")
	}
	if in.CohortID == uuid.Nil {
		fail("cohort_id is required")
	}
	switch in.Platform {
	case models.PlatformAgora, models.PlatformZoom, models.PlatformZego:
	case "":
		fail("platform is required")
	default:
		fail("platform must be one of agora, zoom, zego")
	}

	kind := in.Kind
	if kind == "" {
		kind = models.SessionKindLive
	}
	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		fail("timezone " + tz + " is not recognised")
		loc = time.UTC
	}

	out := schedule{title: title, kind: kind, timezone: tz}
	switch kind {
	case models.SessionKindLive:
		startsAt, endsAt, ok := parseWindow(in, loc, fail)
		if ok {
			if !endsAt.After(startsAt) {
				fail("end_time must be after start_time")
			}
			out.startsAt, out.endsAt = startsAt, endsAt
			out.duration = in.DurationMinutes
			if out.duration == 0 {
				out.duration = int(endsAt.Sub(startsAt) / time.Minute)
			}
		}
	case models.SessionKindInstant:
		if in.DurationMinutes == 0 {
			fail("duration_minutes is required for instant sessions")
		}
		out.duration = in.DurationMinutes
		out.startsAt = now
		out.endsAt = now.Add(time.Duration(in.DurationMinutes) * time.Minute)
	default:
		fail("kind must be live or instant")
	}
	if out.duration != 0 || in.DurationMinutes != 0 {
		switch {
		case out.duration < MinDurationMinutes:
			fail("session must be at least 5 minutes long")
		case out.duration > MaxDurationMinutes:
			fail("session cannot be longer than 8 hours")
		}
	}

	if len(problems) > 0 {
		return schedule{}, apperr.Validation("%s", strings.Join(problems, "; "))
	}
	out.startsAt = out.startsAt.UTC()
	out.endsAt = out.endsAt.UTC()
	return out, nil
}

func parseWindow(in CreateSessionInput, loc *time.Location, fail func(string)) (time.Time, time.Time, bool) {
	ok := true
	day, err := time.ParseInLocation(dateLayout, in.Date, loc)
	if in.Date == "" {
		fail("date is required")
		ok = false
	} else if err != nil {
		fail("date must be in YYYY-MM-DD format")
		ok = false
	}
	start, okStart := parseClock(in.StartTime, "start_time", fail)
	end, okEnd := parseClock(in.EndTime, "end_time", fail)
	if !ok || !okStart || !okEnd {
		return time.Time{}, time.Time{}, false
	}
	at := func(clock time.Time) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
	}
	return at(start), at(end), true
}

func parseClock(value, field string, fail func(string)) (time.Time, bool) {
	if value == "" {
		fail(field + " is required")
		return time.Time{}, false
	}
	t, err := time.Parse(clockLayout, value)
	if err != nil {
		fail(field + " must be in HH:MM format")
		return time.Time{}, false
	}
	return t, true
}
