// Package api implements the hub's inbound HTTP surface (spec.md §6
// "Inbound HTTP (hub-facing, shape only; auth is external)"). Routing
// uses the standard library's method-and-pattern ServeMux directly: none
// of the retrieved examples reach for a third-party router, and the
// teacher's own webhook server is a bare net/http.ServeMux too.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dive-federation/hub/internal/app"
	"github.com/dive-federation/hub/internal/errs"
	"github.com/dive-federation/hub/internal/exchange"
	"github.com/dive-federation/hub/internal/spoke"
	"github.com/dive-federation/hub/internal/trust"
)

// NewMux builds the hub's inbound HTTP routes (spec.md §6).
func NewMux(a *app.App) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /spokes", handleRegisterSpoke(a))
	mux.HandleFunc("GET /spokes", handleListSpokes(a))
	mux.HandleFunc("GET /spokes/pending", handleListPendingSpokes(a))
	mux.HandleFunc("POST /spokes/{id}/approve", handleApproveSpoke(a))
	mux.HandleFunc("POST /spokes/{id}/suspend", handleSuspendSpoke(a))
	mux.HandleFunc("POST /spokes/{id}/revoke", handleRevokeSpoke(a))

	mux.HandleFunc("POST /token/introspect", handleIntrospect(a))
	mux.HandleFunc("POST /token/exchange", handleExchange(a))

	mux.HandleFunc("GET /healthz", handleHealthz(a))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.NotFound:
		status = http.StatusNotFound
	case errs.Conflict:
		status = http.StatusConflict
	case errs.InvalidInput:
		status = http.StatusBadRequest
	case errs.Unauthorized:
		status = http.StatusUnauthorized
	case errs.Timeout:
		status = http.StatusGatewayTimeout
	case errs.TransientIO:
		status = http.StatusBadGateway
	case errs.PolicyViolation:
		status = http.StatusForbidden
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type registerSpokeRequest struct {
	InstanceCode   string `json:"instanceCode"`
	Name           string `json:"name"`
	BaseURL        string `json:"baseUrl"`
	APIURL         string `json:"apiUrl"`
	IdPURL         string `json:"idpUrl"`
	CertificatePEM string `json:"certificatePem"`
	ContactEmail   string `json:"contactEmail"`
}

func handleRegisterSpoke(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerSpokeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errs.Wrap(errs.InvalidInput, "", err, "malformed request body"))
			return
		}
		rec, warnings, err := a.Spokes.RegisterSpoke(spoke.RegisterRequest{
			InstanceCode:   req.InstanceCode,
			Name:           req.Name,
			BaseURL:        req.BaseURL,
			APIURL:         req.APIURL,
			IdPURL:         req.IdPURL,
			CertificatePEM: []byte(req.CertificatePEM),
			ContactEmail:   req.ContactEmail,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if err := a.Store.Spokes().Upsert(r.Context(), *rec); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"spoke": rec, "warnings": warnings})
	}
}

func handleListSpokes(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.Spokes.List(""))
	}
}

func handleListPendingSpokes(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.Spokes.List(spoke.Pending))
	}
}

type approveSpokeRequest struct {
	Approver                 string   `json:"approver"`
	TrustLevel               string   `json:"trustLevel"`
	MaxClassificationAllowed string   `json:"maxClassificationAllowed"`
	AllowedPolicyScopes      []string `json:"allowedPolicyScopes"`
}

func handleApproveSpoke(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		var req approveSpokeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errs.Wrap(errs.InvalidInput, "", err, "malformed request body"))
			return
		}
		rec, err := approveAndPersist(r.Context(), a, id, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func approveAndPersist(ctx context.Context, a *app.App, id string, req approveSpokeRequest) (*spoke.Record, error) {
	grant := spoke.Grant{
		TrustLevel:               trust.Level(req.TrustLevel),
		MaxClassificationAllowed: req.MaxClassificationAllowed,
		AllowedPolicyScopes:      req.AllowedPolicyScopes,
	}
	rec, err := a.Spokes.ApproveSpoke(ctx, id, req.Approver, grant)
	if err != nil {
		return nil, err
	}
	if err := a.Store.Spokes().Upsert(ctx, *rec); err != nil {
		return nil, err
	}
	if err := a.Store.BilateralTrust().Upsert(ctx, *a.Trust.Verify("HUB", rec.InstanceCode)); err != nil {
		return nil, err
	}
	return rec, nil
}

func handleSuspendSpoke(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		var body struct{ Reason string `json:"reason"` }
		_ = json.NewDecoder(r.Body).Decode(&body)

		rec, err := a.Spokes.SuspendSpoke(r.Context(), id, body.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := a.Store.Spokes().Upsert(r.Context(), *rec); err != nil {
			writeError(w, err)
			return
		}
		if err := a.Store.Tokens().DeleteAllForSpoke(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleRevokeSpoke(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		var body struct{ Reason string `json:"reason"` }
		_ = json.NewDecoder(r.Body).Decode(&body)

		rec, err := a.Spokes.RevokeSpoke(r.Context(), id, body.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := a.Store.Spokes().Upsert(r.Context(), *rec); err != nil {
			writeError(w, err)
			return
		}
		if err := a.Store.Tokens().DeleteAllForSpoke(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

type introspectRequest struct {
	Token              string `json:"token"`
	OriginInstance     string `json:"originInstance"`
	RequestingInstance string `json:"requestingInstance"`
	RequestID          string `json:"requestId"`
}

func handleIntrospect(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req introspectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errs.Wrap(errs.InvalidInput, "", err, "malformed request body"))
			return
		}
		result := a.Exchange.Introspect(r.Context(), req.Token, req.OriginInstance, req.RequestingInstance, req.RequestID)
		writeJSON(w, http.StatusOK, result)
	}
}

type exchangeRequest struct {
	SubjectToken     string   `json:"subjectToken"`
	SubjectTokenType string   `json:"subjectTokenType"`
	OriginInstance   string   `json:"originInstance"`
	TargetInstance   string   `json:"targetInstance"`
	RequestedScopes  []string `json:"requestedScopes"`
	RequestID        string   `json:"requestId"`
}

func handleExchange(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req exchangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errs.Wrap(errs.InvalidInput, "", err, "malformed request body"))
			return
		}
		result := a.Exchange.Exchange(r.Context(), exchange.ExchangeRequest{
			SubjectToken:     req.SubjectToken,
			SubjectTokenType: req.SubjectTokenType,
			OriginInstance:   req.OriginInstance,
			TargetInstance:   req.TargetInstance,
			RequestedScopes:  req.RequestedScopes,
			RequestID:        req.RequestID,
		})
		status := http.StatusOK
		if !result.Success {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, result)
	}
}

func handleHealthz(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
	}
}
