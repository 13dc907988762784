package rpcapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"dexchaind/pkg/errs"
)

// handleGetObjects implements get_objects(ids) -> variants: ids are passed
// as repeated "id" query params ("1.2.3"), returning a parallel array of
// objects or null for any id not currently present (spec.md §6.3).
func (s *Server) handleGetObjects(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["id"]
	out := make([]any, len(ids))
	for i, raw := range ids {
		id, err := parseObjectID(raw)
		if err != nil {
			writeError(w, errs.Wrap(errs.KindStructural, err, "parse object id"))
			return
		}
		if obj, ok := s.Store.GetAny(id); ok {
			out[i] = obj
		}
	}
	writeJSON(w, out)
}

// handleGetBlock implements get_block(n).
func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	num, err := strconv.ParseUint(chi.URLParam(r, "num"), 10, 64)
	if err != nil {
		writeError(w, errs.Wrap(errs.KindStructural, err, "parse block num"))
		return
	}
	b, err := s.Pipeline.Archive.GetByNumber(num)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, b)
}

// handleGetBlockHeader implements get_block_header(n).
func (s *Server) handleGetBlockHeader(w http.ResponseWriter, r *http.Request) {
	num, err := strconv.ParseUint(chi.URLParam(r, "num"), 10, 64)
	if err != nil {
		writeError(w, errs.Wrap(errs.KindStructural, err, "parse block num"))
		return
	}
	b, err := s.Pipeline.Archive.GetByNumber(num)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, b.Header)
}

// handleGetTransaction implements get_transaction(block,idx).
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	num, err := strconv.ParseUint(chi.URLParam(r, "num"), 10, 64)
	if err != nil {
		writeError(w, errs.Wrap(errs.KindStructural, err, "parse block num"))
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil {
		writeError(w, errs.Wrap(errs.KindStructural, err, "parse transaction index"))
		return
	}
	b, err := s.Pipeline.Archive.GetByNumber(num)
	if err != nil {
		writeError(w, err)
		return
	}
	if idx < 0 || idx >= len(b.Transactions) {
		writeError(w, errs.New(errs.KindStructural, "transaction index out of range"))
		return
	}
	writeJSON(w, b.Transactions[idx])
}
