/*
audit.go - Append-only, hash-chained audit log

PURPOSE:
  Every mutating engine operation emits exactly one audit entry. Each
  entry's integrity hash is a SHA-256 digest over a canonical rendering of
  its own fields concatenated with the PREVIOUS entry's stored hash (empty
  string for the first entry). The chain is the sole source of historical
  truth: editing, deleting, or reinserting any entry breaks verification
  for that entry and every entry after it.

CANONICAL FORM:
  Field order is fixed and sorted. Snapshots are hashed as their persisted
  JSON text, not re-marshaled on verification, so a parse/marshal round
  trip can never produce a spurious mismatch.

CHAIN FORKS:
  The previous-hash lookup and the insert MUST share one store transaction.
  Two concurrent mutations that both read the same predecessor would
  otherwise silently fork the chain. Engine operations guarantee this by
  running entirely inside Store.WithTx.

SEE ALSO:
  - engine.go: the only writer
  - store.go: append-only store contract
*/
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditCreate        AuditAction = "create"
	AuditMarkPaid      AuditAction = "mark_paid"
	AuditUnmarkPaid    AuditAction = "unmark_paid"
	AuditArchive       AuditAction = "archive"
	AuditFieldOverride AuditAction = "field_override"
	AuditToggleActive  AuditAction = "toggle_active"
)

// AuditEntry is one immutable record of a mutation. BeforeJSON/AfterJSON are
// the persisted snapshot texts and the inputs to the integrity hash; Before
// and After are their parsed views for read APIs.
type AuditEntry struct {
	ID            string
	EntityType    EntityType
	EntityID      string
	Action        AuditAction
	BeforeJSON    string
	AfterJSON     string
	Before        map[string]any
	After         map[string]any
	ActorUserID   string
	ActorName     string
	Reason        string
	CreatedAt     time.Time
	IntegrityHash string
}

// auditTimeFormat is the canonical timestamp rendering. Parse/format round
// trips reproduce the identical string, which the hash depends on.
const auditTimeFormat = time.RFC3339Nano

// canonicalContent renders the hashed fields in fixed sorted order.
func canonicalContent(e *AuditEntry) string {
	fields := []string{
		"action=" + string(e.Action),
		"actor_name=" + e.ActorName,
		"actor_user_id=" + e.ActorUserID,
		"after_json=" + e.AfterJSON,
		"before_json=" + e.BeforeJSON,
		"created_at=" + e.CreatedAt.UTC().Format(auditTimeFormat),
		"entity_id=" + e.EntityID,
		"entity_type=" + string(e.EntityType),
		"reason=" + e.Reason,
	}
	return strings.Join(fields, "\n")
}

// ComputeHash digests an entry's canonical content plus the previous entry's
// stored hash.
func ComputeHash(e *AuditEntry, previousHash string) string {
	sum := sha256.Sum256([]byte(canonicalContent(e) + previousHash))
	return hex.EncodeToString(sum[:])
}

// newAuditEntry builds a complete entry ready for AppendAudit. Must run
// inside the same transaction as the mutation it records, after that
// mutation's writes.
func newAuditEntry(ctx context.Context, s Store, entityType EntityType, entityID string,
	action AuditAction, actor Actor, before, after map[string]any, reason string) (*AuditEntry, error) {

	e := &AuditEntry{
		ID:          uuid.NewString(),
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		Before:      before,
		After:       after,
		ActorUserID: actor.ID,
		ActorName:   actor.FullName,
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	}

	if before != nil {
		b, err := json.Marshal(before)
		if err != nil {
			return nil, fmt.Errorf("marshal before snapshot: %w", err)
		}
		e.BeforeJSON = string(b)
	}
	if after != nil {
		b, err := json.Marshal(after)
		if err != nil {
			return nil, fmt.Errorf("marshal after snapshot: %w", err)
		}
		e.AfterJSON = string(b)
	}

	previous, err := s.LastAuditHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("read previous audit hash: %w", err)
	}
	e.IntegrityHash = ComputeHash(e, previous)
	return e, nil
}

// =============================================================================
// VERIFICATION
// =============================================================================

type InvalidEntry struct {
	ID       string `json:"id"`
	Expected string `json:"expected"`
	Stored   string `json:"stored"`
}

type VerifyResult struct {
	Valid          bool           `json:"valid"`
	Message        string         `json:"message"`
	TotalEntries   int            `json:"total_entries"`
	InvalidEntries []InvalidEntry `json:"invalid_entries,omitempty"`
}

// VerifyChain rewalks the whole log oldest-first, recomputing each entry's
// hash from its own fields plus the previous entry's STORED hash. A single
// corrupted or replaced entry therefore invalidates itself and, because the
// link value changes, everything after it.
func VerifyChain(ctx context.Context, s Store) (*VerifyResult, error) {
	entries, err := s.ListAuditChronological(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &VerifyResult{Valid: true, Message: "No audit logs to verify"}, nil
	}

	previous := ""
	var invalid []InvalidEntry
	for _, e := range entries {
		expected := ComputeHash(e, previous)
		if expected != e.IntegrityHash {
			invalid = append(invalid, InvalidEntry{ID: e.ID, Expected: expected, Stored: e.IntegrityHash})
			// A broken link taints everything after it: carry the
			// recomputed hash forward so the tail cannot re-validate.
			previous = expected
			continue
		}
		previous = e.IntegrityHash
	}

	if len(invalid) > 0 {
		return &VerifyResult{
			Valid:          false,
			Message:        "Audit log tampering detected",
			TotalEntries:   len(entries),
			InvalidEntries: invalid,
		}, nil
	}
	return &VerifyResult{
		Valid:        true,
		Message:      fmt.Sprintf("All %d audit log entries verified", len(entries)),
		TotalEntries: len(entries),
	}, nil
}
