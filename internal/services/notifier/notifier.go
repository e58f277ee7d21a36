package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"seatwatch/internal/integrations/classinfo"
	"seatwatch/internal/models"
	"seatwatch/internal/storage/pgwatch"
)

// StatusLookup settles a class status check, however long it takes the
// launch queue to get there.
type StatusLookup interface {
	Enqueue(ctx context.Context, classNumber string) (classinfo.ClassStatus, error)
}

type Repository interface {
	ApplyCheckResult(ctx context.Context, upd pgwatch.CheckUpdate) error
}

type MailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Outcome describes one settled check for poller accounting.
type Outcome struct {
	Status     string
	Transition bool
	EmailSent  bool
}

// Service turns a settled status check into persisted watch state plus, on a
// Closed to Open transition, a single email attempt.
type Service struct {
	lookup StatusLookup
	repo   Repository
	mail   MailSender
}

func New(lookup StatusLookup, repo Repository, mail MailSender) *Service {
	return &Service{lookup: lookup, repo: repo, mail: mail}
}

// CheckWatch looks up the watched class and applies the transition rule.
// A failed lookup leaves the watch untouched so the stored status still
// reflects the last successful observation. A transition is recorded in the
// database before the email attempt, so a crash mid-send can skip a mail but
// never duplicate one.
func (s *Service) CheckWatch(ctx context.Context, w *models.Watch) (Outcome, error) {
	st, err := s.lookup.Enqueue(ctx, w.ClassNumber)
	if err != nil {
		return Outcome{}, err
	}

	transition := w.LastStatus == models.SeatStatusClosed && st.SeatStatus == models.SeatStatusOpen

	now := time.Now().UTC()
	if err := s.repo.ApplyCheckResult(ctx, pgwatch.CheckUpdate{
		WatchID:   w.ID,
		CheckedAt: now,
		Status:    st.SeatStatus,
		Notified:  transition,
	}); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Status: st.SeatStatus, Transition: transition}
	if !transition {
		return out, nil
	}

	if s.mail == nil || w.Email == "" {
		slog.Warn("seat opened but no mail route", "watch_id", w.ID, "class_number", w.ClassNumber)
		return out, nil
	}

	subject, body := composeMail(w, st)
	if err := s.mail.Send(ctx, w.Email, subject, body); err != nil {
		// The transition is already recorded; the email is not retried.
		slog.Error("send notification mail",
			"watch_id", w.ID,
			"class_number", w.ClassNumber,
			"error", err.Error(),
		)
		return out, nil
	}
	out.EmailSent = true
	return out, nil
}

func composeMail(w *models.Watch, st classinfo.ClassStatus) (string, string) {
	course := st.Course
	if course == classinfo.NA {
		course = "class " + w.ClassNumber
	}

	subject := fmt.Sprintf("Seat open: %s (%s)", course, w.ClassNumber)
	body := fmt.Sprintf(
		"A seat just opened in %s (class number %s).\n\n"+
			"Title: %s\nInstructors: %s\nSchedule: %s %s-%s\nLocation: %s\nDates: %s\nUnits: %s\n\n"+
			"Seats go fast. Register as soon as you can.\n",
		course, w.ClassNumber,
		st.Title, joinOrNA(st.Instructors), st.Days, st.StartTime, st.EndTime,
		st.Location, st.Dates, st.Units,
	)
	return subject, body
}

func joinOrNA(ss []string) string {
	if len(ss) == 0 {
		return classinfo.NA
	}
	out := ss[0]
	for _, s := range ss[1:] {
		out += ", " + s
	}
	return out
}
