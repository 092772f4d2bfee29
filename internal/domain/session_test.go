package domain

import "testing"

func TestClampAffinity(t *testing.T) {
	cases := map[int]int{-5: 0, 0: 0, 42: 42, 100: 100, 130: 100}
	for in, want := range cases {
		if got := ClampAffinity(in); got != want {
			t.Errorf("ClampAffinity(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestAppendTurnsKeepsNewest(t *testing.T) {
	s := &Session{}
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		s.AppendTurns(3, Turn{Speaker: SpeakerUser, Text: text})
	}
	if len(s.History) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(s.History))
	}
	if s.History[0].Text != "c" || s.History[2].Text != "e" {
		t.Fatalf("unexpected history: %+v", s.History)
	}

	s.AppendTurns(0, Turn{Speaker: SpeakerPersona, Text: "f"})
	if len(s.History) != 4 {
		t.Fatalf("expected no truncation with limit 0, got %d turns", len(s.History))
	}
}

func TestRecentTurns(t *testing.T) {
	s := &Session{History: []Turn{{Text: "1"}, {Text: "2"}, {Text: "3"}}}
	if got := s.RecentTurns(2); len(got) != 2 || got[0].Text != "2" {
		t.Fatalf("unexpected recent turns: %+v", got)
	}
	if got := s.RecentTurns(10); len(got) != 3 {
		t.Fatalf("expected whole history, got %d", len(got))
	}
}

func TestPersonaCard(t *testing.T) {
	p := Persona{Name: "Maria", Age: 21, Traits: "Loves adventures."}
	if got := p.Card(); got != "Maria, 21\nLoves adventures." {
		t.Fatalf("unexpected card: %q", got)
	}
}
