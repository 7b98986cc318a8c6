// Package awakeable implements the completion-token ID codec for awakeables
//: an opaque, URL-safe identifier a caller holds and later POSTs
// back to /awakeables/:id/resolve, encoding the owning job and the journal
// entry that is waiting on it.
package awakeable

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lprior-repo/nuoc-sub001/internal/platform/apperr"
)

const prefix = "prom_1"

// Generate builds the canonical awakeable ID for (jobID, entryIndex): the
// fixed prefix followed by URL-safe, unpadded base64 of "<job_id>:<entry_index>".
func Generate(jobID uuid.UUID, entryIndex int) string {
	body := fmt.Sprintf("%s:%d", jobID.String(), entryIndex)
	return prefix + base64.RawURLEncoding.EncodeToString([]byte(body))
}

// Parse recovers (jobID, entryIndex) from an awakeable ID, rejecting any
// malformed prefix, encoding, or body.
func Parse(id string) (uuid.UUID, int, error) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok || rest == "" {
		return uuid.UUID{}, 0, apperr.Validation("awakeable id missing %q prefix", prefix)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(rest)
	if err != nil {
		return uuid.UUID{}, 0, apperr.Validation("awakeable id is not valid base64: %v", err)
	}
	jobPart, idxPart, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return uuid.UUID{}, 0, apperr.Validation("awakeable id body missing ':' separator")
	}
	jobID, err := uuid.Parse(jobPart)
	if err != nil {
		return uuid.UUID{}, 0, apperr.Validation("awakeable id job component is not a uuid: %v", err)
	}
	entryIndex, err := strconv.Atoi(idxPart)
	if err != nil || entryIndex < 0 {
		return uuid.UUID{}, 0, apperr.Validation("awakeable id entry index component is invalid: %q", idxPart)
	}
	return jobID, entryIndex, nil
}
