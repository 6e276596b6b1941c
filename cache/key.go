package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/warp/finance-engine/ledger"
)

// RefreshParam is the query parameter that forces recomputation. It never
// takes part in key derivation.
const RefreshParam = "refresh"

// CanonicalParams renders params as a stable string: every value of every
// key except RefreshParam, escaped, sorted, joined with '&'. Repeated keys
// keep all their values.
func CanonicalParams(params url.Values) string {
	pairs := make([]string, 0, len(params))
	for k, values := range params {
		if k == RefreshParam {
			continue
		}
		for _, v := range values {
			pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// Key derives the cache key for (endpoint, user, params):
//
//	{prefix}:u{user}:{endpoint}:{sha256(canonical params)[:16]}
//
// The user segment comes before the endpoint so UserPrefix matches every
// endpoint of one user and nothing of another.
func Key(prefix, endpoint string, user ledger.UserID, params url.Values) string {
	sum := sha256.Sum256([]byte(CanonicalParams(params)))
	return UserPrefix(prefix, user) + endpoint + ":" + hex.EncodeToString(sum[:8])
}

// UserPrefix is the namespace holding all of a user's entries. The
// trailing ':' keeps u1: from matching u12:.
func UserPrefix(prefix string, user ledger.UserID) string {
	return fmt.Sprintf("%s:u%d:", prefix, user)
}

// IsRefresh reports whether params request a forced recomputation.
func IsRefresh(params url.Values) bool {
	switch strings.ToLower(params.Get(RefreshParam)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
