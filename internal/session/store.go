package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/api"
)

// MaxSignatureEntries bounds the per-session thought-signature map; the
// oldest entries by updated_at are evicted beyond it.
const MaxSignatureEntries = 200

// DefaultTTL is how long a session record outlives its last write.
const DefaultTTL = 24 * time.Hour

// Reserved hostnames under which session documents are addressed.
const (
	responseIDHost   = "session.rsp2com"
	signatureHost    = "thought-sig.rsp2com"
	signatureKeySalt = "resp_thought_sig_"
)

// KeyParams are the request fields the session key derives from when no
// explicit x-session-id header is present.
type KeyParams struct {
	SessionID     string // x-session-id header
	User          string // user field of the request body
	Model         string
	FirstUserText string
	BearerToken   string
}

// DeriveKey computes the session key: the explicit header wins, then the
// user field, then a fingerprint of model plus the opening user text. The
// fingerprint is prefixed with the caller's bearer token so distinct callers
// with identical openings do not share a bucket; an empty token is accepted.
func DeriveKey(p KeyParams) string {
	if p.SessionID != "" {
		return p.SessionID
	}
	if p.User != "" {
		return p.User
	}
	fp := p.Model + "\n" + p.FirstUserText
	if len(fp) > 512 {
		fp = fp[:512]
	}
	return p.BearerToken + fp
}

// responseIDRecord is the persisted document of the response-id store.
type responseIDRecord struct {
	PreviousResponseID string `json:"previous_response_id"`
	UpdatedAt          int64  `json:"updated_at"`
}

// SignatureRecord is one cached thought signature, keyed by normalized call
// id in the persisted map.
type SignatureRecord struct {
	ThoughtSignature string `json:"thought_signature"`
	Thought          string `json:"thought,omitempty"`
	Name             string `json:"name,omitempty"`
	UpdatedAt        int64  `json:"updated_at"`
}

// Store is the pair of content-addressed maps stitching multi-turn
// conversations together. Every method swallows backend failures: a broken
// store degrades the gateway to stateless, never to erroring.
type Store struct {
	kv  KV
	ttl time.Duration
}

// NewStore wraps a KV backend. A zero ttl selects DefaultTTL.
func NewStore(kv KV, ttl time.Duration) *Store {
	if kv == nil {
		kv = NoopKV{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl}
}

// PreviousResponseID returns the last persisted response id for the session,
// or "" when none is known.
func (s *Store) PreviousResponseID(ctx context.Context, sessionKey string) string {
	raw, ok, err := s.kv.Get(ctx, responseIDKey(sessionKey))
	if err != nil {
		log.Debug().Err(err).Msg("session store get failed")
		return ""
	}
	if !ok {
		return ""
	}
	var rec responseIDRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		log.Debug().Err(err).Msg("session record unreadable")
		return ""
	}
	return rec.PreviousResponseID
}

// SetPreviousResponseID persists the response id for the next turn.
func (s *Store) SetPreviousResponseID(ctx context.Context, sessionKey, responseID string) {
	if responseID == "" {
		return
	}
	raw, err := json.Marshal(responseIDRecord{
		PreviousResponseID: responseID,
		UpdatedAt:          time.Now().Unix(),
	})
	if err != nil {
		return
	}
	if err := s.kv.Put(ctx, responseIDKey(sessionKey), raw, s.ttl); err != nil {
		log.Debug().Err(err).Msg("session store put failed")
	}
}

// Signatures returns the cached thought-signature map for the session; never
// nil.
func (s *Store) Signatures(ctx context.Context, sessionKey string) map[string]SignatureRecord {
	raw, ok, err := s.kv.Get(ctx, signatureKey(sessionKey))
	if err != nil {
		log.Debug().Err(err).Msg("signature store get failed")
		return map[string]SignatureRecord{}
	}
	if !ok {
		return map[string]SignatureRecord{}
	}
	var m map[string]SignatureRecord
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]SignatureRecord{}
	}
	return m
}

// MergeSignatures read-merge-writes new signature records into the session's
// map. Call ids are normalized, records without a signature are dropped, and
// the map is LRU-evicted at MaxSignatureEntries by updated_at.
func (s *Store) MergeSignatures(ctx context.Context, sessionKey string, updates map[string]SignatureRecord) {
	if len(updates) == 0 {
		return
	}
	merged := s.Signatures(ctx, sessionKey)
	now := time.Now().Unix()
	for callID, rec := range updates {
		if rec.ThoughtSignature == "" {
			continue
		}
		if rec.UpdatedAt == 0 {
			rec.UpdatedAt = now
		}
		merged[api.NormalizeCallID(callID)] = rec
	}
	if len(merged) == 0 {
		return
	}

	if len(merged) > MaxSignatureEntries {
		type aged struct {
			id string
			at int64
		}
		all := make([]aged, 0, len(merged))
		for id, rec := range merged {
			all = append(all, aged{id: id, at: rec.UpdatedAt})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].at < all[j].at })
		for _, a := range all[:len(merged)-MaxSignatureEntries] {
			delete(merged, a.id)
		}
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return
	}
	if err := s.kv.Put(ctx, signatureKey(sessionKey), raw, s.ttl); err != nil {
		log.Debug().Err(err).Msg("signature store put failed")
	}
}

// KeyHash is the short content-address prefix used in log lines; it never
// exposes the raw session key.
func KeyHash(sessionKey string) string {
	return hashHex(sessionKey)[:12]
}

func responseIDKey(sessionKey string) string {
	return "https://" + responseIDHost + "/" + hashHex(sessionKey)
}

func signatureKey(sessionKey string) string {
	return "https://" + signatureHost + "/" + hashHex(signatureKeySalt+sessionKey)
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
