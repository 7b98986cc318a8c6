package awakeable_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/lprior-repo/nuoc-sub001/internal/awakeable"
)

func TestGenerateParseRoundTrip(t *testing.T) {
	jobID := uuid.New()
	for _, idx := range []int{0, 1, 42, 9999} {
		id := awakeable.Generate(jobID, idx)
		if !strings.HasPrefix(id, "prom_1") {
			t.Fatalf("id %q missing prom_1 prefix", id)
		}
		gotJob, gotIdx, err := awakeable.Parse(id)
		if err != nil {
			t.Fatalf("parse(%q): %v", id, err)
		}
		if gotJob != jobID || gotIdx != idx {
			t.Fatalf("round trip mismatch: got (%s, %d), want (%s, %d)", gotJob, gotIdx, jobID, idx)
		}
	}
}

func TestParseRejectsMalformedIDs(t *testing.T) {
	cases := []string{
		"",
		"not-even-close",
		"prom_1",
		"prom_1***not-base64***",
		"prom_1" + base64.RawURLEncoding.EncodeToString([]byte("no-colon-here")),
		"prom_1" + base64.RawURLEncoding.EncodeToString([]byte("not-a-uuid:3")),
		"prom_1" + base64.RawURLEncoding.EncodeToString([]byte(uuid.New().String()+":not-a-number")),
	}
	for _, id := range cases {
		if _, _, err := awakeable.Parse(id); err == nil {
			t.Fatalf("expected error parsing %q", id)
		}
	}
}
