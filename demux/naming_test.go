package demux

import (
	"errors"
	"regexp"
	"testing"
)

func TestNamingKey(t *testing.T) {
	tests := []struct {
		naming Naming
		topic  string
		want   string
	}{
		{NamingFullPath, "sensors/temp", "sensors_temp"},
		{NamingFullPath, "plant/line 2/temp°C", "plant_line_2_temp_C"},
		{NamingFullPath, "a/*/b", "a_any_b"},
		{NamingFullPath, "a/**", "a_all"},
		{NamingFullPath, "v1.2/x-y", "v1.2_x-y"},
		{NamingLastSegment, "sensors/temp", "temp"},
		{NamingLastSegment, "temp", "temp"},
		{NamingLastSegment, "a/b/hum idity", "hum_idity"},
		{NamingLastSegment, "a/..", "__"},
		{NamingLastSegment, "a/", "topic"},
	}
	for _, tt := range tests {
		if got := tt.naming.Key(tt.topic); got != tt.want {
			t.Errorf("%s.Key(%q) = %q, want %q", tt.naming, tt.topic, got, tt.want)
		}
	}
}

func TestHashNamingIsStableAndSafe(t *testing.T) {
	safe := regexp.MustCompile(`^topic_[0-9a-f]{16}$`)
	a := NamingHash.Key("sensors/temp")
	if !safe.MatchString(a) {
		t.Fatalf("unexpected hash key %q", a)
	}
	if NamingHash.Key("sensors/temp") != a {
		t.Fatal("hash key not stable")
	}
	if NamingHash.Key("sensors/humidity") == a {
		t.Fatal("distinct topics produced the same key")
	}
}

func TestLastSegmentMergesTopics(t *testing.T) {
	if NamingLastSegment.Key("room1/temp") != NamingLastSegment.Key("room2/temp") {
		t.Fatal("last-segment keys differ for the same final segment")
	}
}

func TestParseNaming(t *testing.T) {
	for _, n := range []Naming{NamingFullPath, NamingLastSegment, NamingHash} {
		got, err := ParseNaming(n.String())
		if err != nil || got != n {
			t.Errorf("ParseNaming(%q) = %v, %v", n.String(), got, err)
		}
	}
	var n Naming
	if err := n.UnmarshalText([]byte("LAST-SEGMENT")); err != nil || n != NamingLastSegment {
		t.Fatalf("UnmarshalText: %v, %v", n, err)
	}
	if _, err := ParseNaming("random"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestSettingsValidate(t *testing.T) {
	ok := DefaultSettings()
	ok.Pattern = "sensors/*"
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}

	cases := map[string]func(*Settings){
		"empty pattern":     func(s *Settings) { s.Pattern = "" },
		"blank pattern":     func(s *Settings) { s.Pattern = "  " },
		"malformed pattern": func(s *Settings) { s.Pattern = "a//b" },
		"poll too short":    func(s *Settings) { s.PollTimeout = MinPollTimeout - 1 },
		"poll too long":     func(s *Settings) { s.PollTimeout = MaxPollTimeout + 1 },
		"unknown naming":    func(s *Settings) { s.Naming = Naming(7) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := ok
			mutate(&s)
			if err := s.Validate(); !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}
