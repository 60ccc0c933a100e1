package srs

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/starford/helmsman/internal/models"
)

var day0 = time.Date(2026, 6, 1, 15, 30, 0, 0, time.UTC)

func newCard() models.Flashcard {
	return models.Flashcard{ID: "c1", Path: "decks/knots/bowline.md", Schedule: NewSchedule()}
}

func TestReview_EasyIsMonotonic(t *testing.T) {
	card := newCard()
	now := day0
	prevInterval := 0
	var prevNext time.Time
	for rep := 1; rep <= 4; rep++ {
		var err error
		card, err = Review(card, Easy, now)
		if err != nil {
			t.Fatalf("Review: %v", err)
		}
		s := card.Schedule
		if s.Repetitions != rep {
			t.Errorf("rep %d: repetitions = %d", rep, s.Repetitions)
		}
		if s.Interval < prevInterval {
			t.Errorf("rep %d: interval %d < previous %d", rep, s.Interval, prevInterval)
		}
		if !s.NextReview.After(prevNext) {
			t.Errorf("rep %d: next review %v did not advance past %v", rep, s.NextReview, prevNext)
		}
		prevInterval, prevNext = s.Interval, *s.NextReview
		now = *s.NextReview
	}
}

func TestReview_Intervals(t *testing.T) {
	card := newCard()
	card, _ = Review(card, Good, day0)
	if card.Schedule.Interval != 1 {
		t.Errorf("first interval = %d, want 1", card.Schedule.Interval)
	}
	card, _ = Review(card, Good, day0)
	if card.Schedule.Interval != 6 {
		t.Errorf("second interval = %d, want 6", card.Schedule.Interval)
	}
	ef := card.Schedule.EaseFactor
	card, _ = Review(card, Good, day0)
	want := int(math.Round(6 * NextEaseFactor(ef, Good)))
	if card.Schedule.Interval != want {
		t.Errorf("third interval = %d, want %d", card.Schedule.Interval, want)
	}
}

func TestReview_FailureResets(t *testing.T) {
	for _, q := range []Quality{Again, Hard} {
		card := newCard()
		card.Schedule.Repetitions = 7
		card.Schedule.Interval = 120
		card.Schedule.EaseFactor = 2.8

		got, err := Review(card, q, day0)
		if err != nil {
			t.Fatalf("Review: %v", err)
		}
		if got.Schedule.Repetitions != 0 || got.Schedule.Interval != 1 {
			t.Errorf("%s: repetitions=%d interval=%d, want 0/1", q, got.Schedule.Repetitions, got.Schedule.Interval)
		}
	}
}

func TestReview_EaseFactorFloor(t *testing.T) {
	card := newCard()
	for i := 0; i < 20; i++ {
		card, _ = Review(card, Again, day0)
	}
	if card.Schedule.EaseFactor != MinEaseFactor {
		t.Errorf("ease factor = %v, want %v", card.Schedule.EaseFactor, MinEaseFactor)
	}
}

func TestReview_DayGranularity(t *testing.T) {
	got, _ := Review(newCard(), Good, day0)
	want := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)
	if !got.Schedule.NextReview.Equal(want) {
		t.Errorf("next review = %v, want %v", got.Schedule.NextReview, want)
	}
	if !got.Schedule.LastReviewed.Equal(day0) {
		t.Errorf("last reviewed = %v", got.Schedule.LastReviewed)
	}
	if *got.Schedule.LastQuality != int(Good) {
		t.Errorf("last quality = %d", *got.Schedule.LastQuality)
	}
}

func TestReview_ZeroEaseFactorStartsAtDefault(t *testing.T) {
	card := models.Flashcard{}
	got, _ := Review(card, Good, day0)
	if got.Schedule.EaseFactor != DefaultEaseFactor {
		t.Errorf("ease factor = %v, want %v", got.Schedule.EaseFactor, DefaultEaseFactor)
	}
}

func TestReview_InvalidQuality(t *testing.T) {
	card := newCard()
	got, err := Review(card, Quality(4), day0)
	if !errors.Is(err, ErrInvalidQuality) {
		t.Errorf("err = %v, want ErrInvalidQuality", err)
	}
	if got.Schedule.NextReview != nil {
		t.Error("card should be unchanged")
	}
}

func TestParseQuality(t *testing.T) {
	for in, want := range map[string]Quality{"again": Again, "easy": Easy, "2": Good} {
		got, err := ParseQuality(in)
		if err != nil || got != want {
			t.Errorf("ParseQuality(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseQuality("perfect"); !errors.Is(err, ErrInvalidQuality) {
		t.Errorf("err = %v", err)
	}
}

func TestDue(t *testing.T) {
	later := day0.Add(48 * time.Hour)
	earlier := day0.Add(-48 * time.Hour)
	cards := []models.Flashcard{
		{ID: "future", Schedule: models.Schedule{NextReview: &later}},
		{ID: "overdue", Schedule: models.Schedule{NextReview: &earlier}},
		{ID: "new"},
	}
	due := Due(cards, day0)
	if len(due) != 2 || due[0].ID != "new" || due[1].ID != "overdue" {
		t.Errorf("due = %+v", due)
	}
}
