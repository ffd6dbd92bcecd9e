package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRoundStatus(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		round Round
		want  RoundStatus
	}{
		{
			name:  "future end time",
			round: Round{EndTime: now.Add(time.Hour)},
			want:  RoundActive,
		},
		{
			name:  "end time equals now",
			round: Round{EndTime: now},
			want:  RoundActive,
		},
		{
			name:  "past end time",
			round: Round{EndTime: now.Add(-time.Second)},
			want:  RoundClosed,
		},
		{
			name:  "concluded before end time",
			round: Round{EndTime: now.Add(time.Hour), IsConcluded: true},
			want:  RoundConcluded,
		},
		{
			name:  "concluded after end time",
			round: Round{EndTime: now.Add(-time.Hour), IsConcluded: true},
			want:  RoundConcluded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.round.Status(now); got != tt.want {
				t.Errorf("Status() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrder_Pending(t *testing.T) {
	o := Order{ID: uuid.New()}
	if !o.Pending() {
		t.Error("order without round should be pending")
	}

	roundID := uuid.New()
	o.RoundID = &roundID
	if o.Pending() {
		t.Error("order with round should not be pending")
	}
	if !o.InRound(roundID) {
		t.Error("InRound() = false for assigned round")
	}
	if o.InRound(uuid.New()) {
		t.Error("InRound() = true for another round")
	}
}

func TestUser_CanTrade(t *testing.T) {
	u := User{CanBuy: true}

	if !u.CanTrade(SideBuy) {
		t.Error("CanTrade(buy) = false, want true")
	}
	if u.CanTrade(SideSell) {
		t.Error("CanTrade(sell) = true, want false")
	}
	if u.CanTrade(Side("hold")) {
		t.Error("CanTrade(hold) = true, want false")
	}
}

func TestParseSide(t *testing.T) {
	if s, err := ParseSide("sell"); err != nil || s != SideSell {
		t.Errorf("ParseSide(sell) = %q, %v", s, err)
	}
	if _, err := ParseSide("short"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("ParseSide(short) error = %v, want ErrInvalidInput", err)
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("%w: round x", ErrInvariantViolation), true},
		{fmt.Errorf("load: %w", ErrNotFound), true},
		{fmt.Errorf("conclude: %w", ErrRoundNotDue), false},
		{errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		if got := IsPermanent(tt.err); got != tt.want {
			t.Errorf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
