// Package srs schedules flashcard reviews with the SM-2 algorithm.
package srs

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/starford/helmsman/internal/models"
)

// Quality is a review outcome on the four-button scale.
type Quality int

const (
	Again Quality = iota
	Hard
	Good
	Easy
)

const (
	// DefaultEaseFactor is the ease factor of a card that has never been reviewed.
	DefaultEaseFactor = 2.5
	// MinEaseFactor is the floor SM-2 applies after every review.
	MinEaseFactor = 1.3
)

var ErrInvalidQuality = errors.New("srs: quality must be 0..3")

var qualityNames = [...]string{"again", "hard", "good", "easy"}

func (q Quality) Valid() bool { return q >= Again && q <= Easy }

func (q Quality) String() string {
	if !q.Valid() {
		return fmt.Sprintf("Quality(%d)", int(q))
	}
	return qualityNames[q]
}

// ParseQuality accepts a name ("good") or a number ("2").
func ParseQuality(s string) (Quality, error) {
	for i, name := range qualityNames {
		if s == name {
			return Quality(i), nil
		}
	}
	if len(s) == 1 && s[0] >= '0' && s[0] <= '3' {
		return Quality(s[0] - '0'), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidQuality, s)
}

// sm2 maps the four-button scale onto classic SM-2 grades.
func (q Quality) sm2() float64 {
	switch q {
	case Again:
		return 0
	case Hard:
		return 2
	case Good:
		return 4
	default:
		return 5
	}
}

// NewSchedule returns the schedule of a card that has never been reviewed.
func NewSchedule() models.Schedule {
	return models.Schedule{EaseFactor: DefaultEaseFactor}
}

// NextEaseFactor applies the SM-2 ease update for q to ef.
func NextEaseFactor(ef float64, q Quality) float64 {
	if ef <= 0 {
		ef = DefaultEaseFactor
	}
	d := 5 - q.sm2()
	ef += 0.1 - d*(0.08+d*0.02)
	return math.Max(MinEaseFactor, ef)
}

// Review returns card with its schedule advanced by a review of quality q at now.
func Review(card models.Flashcard, q Quality, now time.Time) (models.Flashcard, error) {
	if !q.Valid() {
		return card, fmt.Errorf("%w: %d", ErrInvalidQuality, int(q))
	}
	s := card.Schedule
	s.EaseFactor = NextEaseFactor(s.EaseFactor, q)

	if q < Good {
		s.Repetitions = 0
		s.Interval = 1
	} else {
		s.Repetitions++
		switch s.Repetitions {
		case 1:
			s.Interval = 1
		case 2:
			s.Interval = 6
		default:
			prev := s.Interval
			if prev < 1 {
				prev = 1
			}
			s.Interval = int(math.Round(float64(prev) * s.EaseFactor))
		}
	}

	reviewed := now
	next := StartOfDay(now).AddDate(0, 0, s.Interval)
	quality := int(q)
	s.LastReviewed = &reviewed
	s.NextReview = &next
	s.LastQuality = &quality

	card.Schedule = s
	return card, nil
}

// StartOfDay truncates t to midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// IsDue reports whether card should be reviewed at now. Unreviewed cards are always due.
func IsDue(card models.Flashcard, now time.Time) bool {
	if card.Schedule.NextReview == nil {
		return true
	}
	return !card.Schedule.NextReview.After(now)
}

// Due returns the cards due at now: new cards first, then by NextReview.
func Due(cards []models.Flashcard, now time.Time) []models.Flashcard {
	var out []models.Flashcard
	for _, c := range cards {
		if IsDue(c, now) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Schedule.NextReview, out[j].Schedule.NextReview
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	return out
}
