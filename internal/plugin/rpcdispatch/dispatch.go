// Package rpcdispatch wires a plugin's incoming JSON-RPC calls (internal/
// plugin's Content-Length framing, C14) through the permission checks
// internal/plugin/policy implements (C15) into the Host API (C7) — the
// piece spec §4.14 describes as "all vault operations proceed through RPC
// methods ... dispatched to the Host API" and "every incoming RPC is
// checked against the plugin's granted permissions". It lives in its own
// package, rather than inside internal/plugin itself, because
// internal/plugin/policy already imports internal/plugin for the
// Permission/Manifest types policy checks against; importing policy back
// from internal/plugin would be a cycle.
package rpcdispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/kira-vault/kira/internal/entity"
	"github.com/kira-vault/kira/internal/hostapi"
	"github.com/kira-vault/kira/internal/kernelerr"
	"github.com/kira-vault/kira/internal/plugin"
	"github.com/kira-vault/kira/internal/plugin/policy"
)

// JSON-RPC error codes. The reserved range (-32700..-32600) follows the
// spec; everything below -32000 is this server's own, one per kernelerr
// sentinel a dispatched call can surface (spec §4.14/§6).
const (
	codeMethodNotFound = -32601
	codeInternal       = -32603
	codeNotFound       = -32001
	codeAlreadyExists  = -32002
	codeValidation     = -32003
	codePermission     = -32004
	codeIO             = -32005
)

// Dispatch is the one place an incoming plugin RPC call turns into a Host
// API call: it checks req.Method against m's granted permissions before
// doing anything else, then routes to the matching api method. Grounded on
// the teacher's internal/rpc server dispatch (one handleXxx(req) Response
// method per RPC method, generalized here from bd's storage-backed
// handlers to vault.* over the Host API).
func Dispatch(ctx context.Context, req *plugin.Request, api *hostapi.API, m *plugin.Manifest) *plugin.Response {
	resp := &plugin.Response{JSONRPC: "2.0", ID: req.ID}

	perm, ok := requiredPermission(req.Method)
	if !ok {
		resp.Error = &plugin.RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
		return resp
	}
	if err := policy.CheckPermission(perm, m.Permissions, m.Name); err != nil {
		resp.Error = &plugin.RPCError{Code: codePermission, Message: err.Error()}
		return resp
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case plugin.MethodVaultCreate:
		result, err = dispatchCreate(ctx, req, api)
	case plugin.MethodVaultRead:
		result, err = dispatchRead(req, api)
	case plugin.MethodVaultUpdate:
		result, err = dispatchUpdate(ctx, req, api)
	case plugin.MethodVaultDelete:
		err = dispatchDelete(ctx, req, api)
	case plugin.MethodVaultList:
		result, err = dispatchList(req, api)
	case plugin.MethodVaultUpsert:
		result, err = dispatchUpsert(ctx, req, api)
	case plugin.MethodVaultGetLinks:
		result, err = dispatchGetLinks(req, api)
	case plugin.MethodVaultSearch:
		result, err = dispatchSearch(req, api)
	}

	if err != nil {
		resp.Error = rpcError(err)
		return resp
	}
	if result != nil {
		raw, merr := json.Marshal(result)
		if merr != nil {
			resp.Error = &plugin.RPCError{Code: codeInternal, Message: merr.Error()}
			return resp
		}
		resp.Result = raw
	}
	return resp
}

// Serve reads framed requests from r, dispatches each one against api under
// m's permissions, and writes the framed response to w, until ReadRequest
// fails or ctx is cancelled. This is the transport-level counterpart to
// Dispatch: where Dispatch handles one already-decoded Request, Serve is the
// full Content-Length-framed request/response loop a plugin host process
// would run against one plugin subprocess's stdio (spec §4.14). The caller
// is expected to cancel ctx (or close r) to stop the loop; the subprocess's
// stdio pipe closing surfaces as the same io error ReadRequest returns for
// any other malformed-frame condition, since FrameReader does not
// distinguish a clean close from a truncated frame.
func Serve(ctx context.Context, r io.Reader, w io.Writer, api *hostapi.API, m *plugin.Manifest) error {
	fr := plugin.NewFrameReader(r)
	fw := plugin.NewFrameWriter(w)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := fr.ReadRequest()
		if err != nil {
			return err
		}
		resp := Dispatch(ctx, req, api, m)
		if err := fw.WriteMessage(resp); err != nil {
			return err
		}
	}
}

// requiredPermission maps each vault.* method to the permission
// policy.CheckPermission must find among the manifest's grants (spec
// §4.15: vault.read gates reads, vault.write gates every mutation). ok is
// false for anything outside the vault.* surface spec §4.14/§6 names.
func requiredPermission(method string) (perm plugin.Permission, ok bool) {
	switch method {
	case plugin.MethodVaultRead, plugin.MethodVaultList, plugin.MethodVaultGetLinks, plugin.MethodVaultSearch:
		return plugin.PermVaultRead, true
	case plugin.MethodVaultCreate, plugin.MethodVaultUpdate, plugin.MethodVaultDelete, plugin.MethodVaultUpsert:
		return plugin.PermVaultWrite, true
	default:
		return "", false
	}
}

func rpcError(err error) *plugin.RPCError {
	code := codeInternal
	switch {
	case kernelerr.Is(err, kernelerr.ErrNotFound):
		code = codeNotFound
	case kernelerr.Is(err, kernelerr.ErrAlreadyExists):
		code = codeAlreadyExists
	case kernelerr.Is(err, kernelerr.ErrValidation), kernelerr.Is(err, kernelerr.ErrFolderContract):
		code = codeValidation
	case kernelerr.Is(err, kernelerr.ErrPermission):
		code = codePermission
	case kernelerr.Is(err, kernelerr.ErrIO), kernelerr.Is(err, kernelerr.ErrLockTimeout):
		code = codeIO
	}
	return &plugin.RPCError{Code: code, Message: err.Error()}
}

type createParams struct {
	Kind    string         `json:"kind"`
	Data    map[string]any `json:"data"`
	Content string         `json:"content"`
}

func dispatchCreate(ctx context.Context, req *plugin.Request, api *hostapi.API) (*entity.Entity, error) {
	var p createParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid vault.create params: %v", kernelerr.ErrValidation, err)
	}
	return api.CreateEntity(ctx, entity.Kind(p.Kind), p.Data, p.Content)
}

type idParams struct {
	ID string `json:"id"`
}

func dispatchRead(req *plugin.Request, api *hostapi.API) (*entity.Entity, error) {
	var p idParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid vault.read params: %v", kernelerr.ErrValidation, err)
	}
	return api.ReadEntity(p.ID)
}

type updateParams struct {
	ID      string         `json:"id"`
	Data    map[string]any `json:"data"`
	Content *string        `json:"content,omitempty"`
}

func dispatchUpdate(ctx context.Context, req *plugin.Request, api *hostapi.API) (*entity.Entity, error) {
	var p updateParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid vault.update params: %v", kernelerr.ErrValidation, err)
	}
	return api.UpdateEntity(ctx, p.ID, p.Data, p.Content)
}

func dispatchDelete(ctx context.Context, req *plugin.Request, api *hostapi.API) error {
	var p idParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return fmt.Errorf("%w: invalid vault.delete params: %v", kernelerr.ErrValidation, err)
	}
	return api.DeleteEntity(ctx, p.ID)
}

type listParams struct {
	Kind   string `json:"kind"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

func dispatchList(req *plugin.Request, api *hostapi.API) ([]*entity.Entity, error) {
	var p listParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid vault.list params: %v", kernelerr.ErrValidation, err)
	}
	return api.ListEntities(entity.Kind(p.Kind), p.Limit, p.Offset)
}

type upsertParams struct {
	Kind    string         `json:"kind"`
	Data    map[string]any `json:"data"`
	Content string         `json:"content"`
}

func dispatchUpsert(ctx context.Context, req *plugin.Request, api *hostapi.API) (*entity.Entity, error) {
	var p upsertParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid vault.upsert params: %v", kernelerr.ErrValidation, err)
	}
	return api.UpsertEntity(ctx, entity.Kind(p.Kind), p.Data, p.Content)
}

func dispatchGetLinks(req *plugin.Request, api *hostapi.API) (*hostapi.Links, error) {
	var p idParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid vault.get_links params: %v", kernelerr.ErrValidation, err)
	}
	return api.GetEntityLinks(p.ID)
}

type searchParams struct {
	Kind  string `json:"kind,omitempty"`
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// dispatchSearch is a derived read: vault.search has no dedicated Host API
// method (C7's surface is create/read/update/delete/list/upsert/get_links),
// so it composes ListEntities across the requested kind(s) and filters by a
// case-insensitive substring match against content and metadata values.
func dispatchSearch(req *plugin.Request, api *hostapi.API) ([]*entity.Entity, error) {
	var p searchParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid vault.search params: %v", kernelerr.ErrValidation, err)
	}
	if p.Query == "" {
		return nil, fmt.Errorf("%w: vault.search requires a non-empty query", kernelerr.ErrValidation)
	}

	kinds := entity.KnownKinds
	if p.Kind != "" {
		kinds = []entity.Kind{entity.Kind(p.Kind)}
	}

	query := strings.ToLower(p.Query)
	var matches []*entity.Entity
	for _, kind := range kinds {
		entities, err := api.ListEntities(kind, 0, 0)
		if err != nil {
			return nil, err
		}
		for _, e := range entities {
			if entityMatches(e, query) {
				matches = append(matches, e)
				if p.Limit > 0 && len(matches) >= p.Limit {
					return matches, nil
				}
			}
		}
	}
	return matches, nil
}

func entityMatches(e *entity.Entity, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(e.Content), lowerQuery) {
		return true
	}
	for _, v := range e.Metadata {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), lowerQuery) {
			return true
		}
	}
	return false
}
