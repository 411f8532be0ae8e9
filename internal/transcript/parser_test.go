package transcript

import (
	"strings"
	"testing"
)

func TestLineParserGroupsByDate(t *testing.T) {
	input := strings.Join([]string{
		"Dev Team 님과 카카오톡 대화",
		"저장한 날짜 : 2026-01-25",
		"",
		"--------------- 2026년 1월 24일 토요일 ---------------",
		"[alice] [오전 9:15] morning",
		"[bob] [오후 2:00] deploy is done",
		"emoticon",
		"--------------- 2026년 1월 25일 일요일 ---------------",
		"[alice] [오후 11:59] night",
	}, "\n")

	res, err := LineParser{}.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.MessagesByDate) != 2 {
		t.Fatalf("dates = %d, want 2", len(res.MessagesByDate))
	}

	day1 := res.MessagesByDate["2026-01-24"]
	if len(day1) != 3 {
		t.Fatalf("2026-01-24 messages = %d, want 3", len(day1))
	}
	if day1[0].Sender != "alice" || day1[0].Time != "09:15" || day1[0].Text != "morning" {
		t.Errorf("message 0 = %+v", day1[0])
	}
	if day1[1].Time != "14:00" {
		t.Errorf("오후 2:00 converted to %q, want 14:00", day1[1].Time)
	}
	// Unmatched line survives with empty sender.
	if day1[2].Sender != "" || day1[2].Text != "emoticon" {
		t.Errorf("continuation line = %+v", day1[2])
	}

	day2 := res.MessagesByDate["2026-01-25"]
	if len(day2) != 1 || day2[0].Time != "23:59" {
		t.Fatalf("2026-01-25 = %+v", day2)
	}
}

func TestLineParserTwelveHourEdges(t *testing.T) {
	input := strings.Join([]string{
		"----- 2026. 1. 24. -----",
		"[a] [오전 12:05] past midnight",
		"[b] [오후 12:30] lunch",
	}, "\n")
	res, err := LineParser{}.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	msgs := res.MessagesByDate["2026-01-24"]
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Time != "00:05" {
		t.Errorf("오전 12:05 = %q, want 00:05", msgs[0].Time)
	}
	if msgs[1].Time != "12:30" {
		t.Errorf("오후 12:30 = %q, want 12:30", msgs[1].Time)
	}
}

func TestLineParserPlainSeparatorAndTime(t *testing.T) {
	input := strings.Join([]string{
		"----- 2026-01-24 -----",
		"[alice] [14:30] already 24-hour",
	}, "\n")
	res, err := LineParser{}.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	msgs := res.MessagesByDate["2026-01-24"]
	if len(msgs) != 1 || msgs[0].Time != "14:30" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestLineParserEmbeddedDates(t *testing.T) {
	input := strings.Join([]string{
		"2026. 1. 24. 오후 2:00, alice : old pc format",
		"2026. 1. 25. 오전 9:00, bob : next day",
	}, "\n")
	res, err := LineParser{}.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.MessagesByDate["2026-01-24"]) != 1 || len(res.MessagesByDate["2026-01-25"]) != 1 {
		t.Fatalf("grouping = %v", res.Dates())
	}
}

func TestLineParserIgnoresPreambleAndQuotedDates(t *testing.T) {
	input := strings.Join([]string{
		"[alice] [오전 9:00] before any date separator",
		"--------------- 2026년 1월 24일 토요일 ---------------",
		"[bob] [오전 9:01] mentions 2025년 3월 1일 in passing",
	}, "\n")
	res, err := LineParser{}.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.MessagesByDate) != 1 {
		t.Fatalf("dates = %v, want only 2026-01-24", res.Dates())
	}
	if len(res.MessagesByDate["2026-01-24"]) != 1 {
		t.Fatalf("messages = %+v", res.MessagesByDate["2026-01-24"])
	}
}

func TestRoomNameFromFilename(t *testing.T) {
	cases := map[string]string{
		"Dev Team_KakaoTalk_20260124.txt":  "Dev Team",
		"/tmp/exports/ops_KakaoTalk_x.csv": "ops",
		"plain-export.txt":                 "plain-export",
		"no-extension":                     "no-extension",
	}
	for in, want := range cases {
		if got := RoomNameFromFilename(in); got != want {
			t.Errorf("RoomNameFromFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
