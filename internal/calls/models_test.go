package calls

import "testing"

func TestStatusValues(t *testing.T) {
	statuses := []Status{
		StatusRinging,
		StatusOngoing,
		StatusAnswered,
		StatusRejected,
		StatusSpam,
		StatusMissed,
	}
	for _, s := range statuses {
		if !s.Valid() {
			t.Fatalf("expected %q to be valid", s)
		}
	}
	if Status("queued").Valid() {
		t.Fatalf("expected unknown status to be invalid")
	}
}

func TestStatus_CanTransition(t *testing.T) {
	allowed := map[Status][]Status{
		StatusRinging: {StatusOngoing, StatusRejected, StatusSpam, StatusMissed},
		StatusOngoing: {StatusAnswered},
	}
	all := []Status{StatusRinging, StatusOngoing, StatusAnswered, StatusRejected, StatusSpam, StatusMissed}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			if got := from.CanTransition(to); got != want {
				t.Fatalf("%s -> %s: expected %v, got %v", from, to, want, got)
			}
		}
	}
}

func TestCall_AttemptsDefaultsToOne(t *testing.T) {
	if (Call{}).Attempts() != 1 {
		t.Fatalf("expected unset attempt count to read as 1")
	}
	if (Call{AttemptCount: 4}).Attempts() != 4 {
		t.Fatalf("expected explicit attempt count")
	}
}

func TestPatch_ApplyOnlySetFields(t *testing.T) {
	c := Call{ID: "c1", Status: StatusRinging, Notes: "keep", AttemptCount: 2}
	out := Patch{Status: Ptr(StatusMissed)}.Apply(c)
	if out.Status != StatusMissed {
		t.Fatalf("expected status applied")
	}
	if out.Notes != "keep" || out.AttemptCount != 2 {
		t.Fatalf("expected untouched fields preserved: %+v", out)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+351912345678":     "912345678",
		"+351 912 345 678":  "912345678",
		"912345678":         "912345678",
		"(91) 234-5678":     "912345678",
		"12345":             "12345",
		"anonymous":         "",
		"":                  "",
		"00351-912-345-678": "912345678",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Fatalf("NormalizePhone(%q): expected %q, got %q", in, want, got)
		}
	}
}
