package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"cafepos/backend/internal/domain"
)

func (a *API) handleRegisters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"registers": a.service.Registers()})
}

// handleRegisterActions dispatches /api/v1/registers/{register}/... to the
// cart, checkout and drawer handlers.
func (a *API) handleRegisterActions(w http.ResponseWriter, r *http.Request) {
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/registers/"), "/")
	parts := strings.Split(tail, "/")
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, errors.New("unknown register action"))
		return
	}
	registerID, rest := parts[0], parts[1:]

	switch rest[0] {
	case "cart":
		a.handleCart(w, r, registerID, rest[1:])
	case "checkout":
		if len(rest) != 1 {
			writeError(w, http.StatusNotFound, errors.New("unknown checkout action"))
			return
		}
		a.handleCheckout(w, r, registerID)
	case "drawer":
		a.handleDrawer(w, r, registerID, rest[1:])
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown register action"))
	}
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request, registerID string, path []string) {
	ctx := r.Context()

	switch {
	case len(path) == 0:
		switch r.Method {
		case http.MethodGet:
			a.writeCart(w, http.StatusOK)(a.service.Cart(ctx, registerID))
		case http.MethodDelete:
			a.writeCart(w, http.StatusOK)(a.service.ClearCart(ctx, registerID))
		default:
			writeMethodNotAllowed(w)
		}

	case len(path) == 1 && path[0] == "items":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.CartAddRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a.writeCart(w, http.StatusCreated)(a.service.AddToCart(ctx, registerID, req))

	case len(path) == 2 && path[0] == "items":
		lineID := path[1]
		switch r.Method {
		case http.MethodPatch:
			var req domain.CartLineUpdateRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			a.writeCart(w, http.StatusOK)(a.service.UpdateCartLine(ctx, registerID, lineID, req))
		case http.MethodDelete:
			a.writeCart(w, http.StatusOK)(a.service.RemoveCartLine(ctx, registerID, lineID))
		default:
			writeMethodNotAllowed(w)
		}

	case len(path) == 3 && path[0] == "items" && path[2] == "addons":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.CartAddOnRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a.writeCart(w, http.StatusCreated)(a.service.AttachAddOn(ctx, registerID, path[1], req))

	case len(path) == 1 && path[0] == "details":
		if r.Method != http.MethodPatch {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.CartDetailsRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a.writeCart(w, http.StatusOK)(a.service.SetCartDetails(ctx, registerID, req))

	case len(path) == 1 && path[0] == "refresh-stock":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		a.writeCart(w, http.StatusOK)(a.service.RefreshCartStock(ctx, registerID))

	default:
		writeError(w, http.StatusNotFound, errors.New("unknown cart action"))
	}
}

func (a *API) writeCart(w http.ResponseWriter, status int) func(domain.CartResponse, error) {
	return func(resp domain.CartResponse, err error) {
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, status, map[string]any{"cart": resp})
	}
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request, registerID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.Checkout(r.Context(), registerID, req)
	if err != nil {
		status := statusFor(err)
		msg := err.Error()
		if status >= 500 {
			a.logger.Error("checkout failed",
				zap.String("register_id", registerID),
				zap.Int("status", status),
				zap.Error(err),
			)
			msg = "sale could not be recorded, the cart was kept for retry"
		}
		writeJSON(w, status, map[string]any{"error": msg, "checkout": resp})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"checkout": resp})
}

func (a *API) handleDrawer(w http.ResponseWriter, r *http.Request, registerID string, path []string) {
	ctx := r.Context()

	if len(path) == 0 {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		snap, err := a.service.Drawer(ctx, registerID)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"drawer": snap})
		return
	}

	if len(path) != 1 {
		writeError(w, http.StatusNotFound, errors.New("unknown drawer action"))
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	switch path[0] {
	case "open":
		var req domain.DrawerOpenRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		snap, err := a.service.OpenDrawer(ctx, registerID, req)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"drawer": snap})
	case "adjustments":
		var req domain.DrawerAdjustmentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		snap, err := a.service.AdjustDrawer(ctx, registerID, req)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"drawer": snap})
	case "close":
		resp, err := a.service.CloseDrawer(ctx, registerID)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown drawer action"))
	}
}
