package rpcapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a behavioral errs.Kind to the nearest HTTP status, per
// spec.md §7's kind taxonomy; anything not wrapped in errs.Error is treated
// as internal.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var e *errs.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case errs.KindStructural:
			status = http.StatusBadRequest
		case errs.KindAuthorization:
			status = http.StatusForbidden
		case errs.KindBusinessRule:
			status = http.StatusUnprocessableEntity
		case errs.KindHardforkGated:
			status = http.StatusPreconditionFailed
		case errs.KindInternal:
			status = http.StatusInternalServerError
		}
	}
	http.Error(w, err.Error(), status)
}

// parseObjectID parses Graphene's "space.type.instance" object id string.
func parseObjectID(s string) (protocol.ObjectID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return protocol.ObjectID{}, fmt.Errorf("malformed object id %q", s)
	}
	space, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return protocol.ObjectID{}, err
	}
	typ, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return protocol.ObjectID{}, err
	}
	instance, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return protocol.ObjectID{}, err
	}
	return protocol.NewObjectID(protocol.Space(space), protocol.Type(typ), instance), nil
}

// clampLimit parses the "limit" query param, defaulting to def and capping
// at max (spec.md §6.3's per-call caps).
func clampLimit(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func queryInt(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
