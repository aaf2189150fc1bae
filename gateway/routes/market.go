// Package routes assembles the HTTP surface of the marketplace daemon: the
// read-only market views, a health probe and the prometheus scrape endpoint.
package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vemarket/rpc/modules"
)

// Config carries the handlers mounted on the gateway router.
type Config struct {
	Market *modules.MarketModule
}

// New builds the gateway router.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	if cfg.Market != nil {
		mountMarket(r, cfg.Market)
	}
	return r
}

func mountMarket(r chi.Router, module *modules.MarketModule) {
	r.Route("/market", func(mr chi.Router) {
		mr.Get("/listings/{positionID}", func(w http.ResponseWriter, req *http.Request) {
			positionID, err := parseID(chi.URLParam(req, "positionID"))
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			result, modErr := module.GetListing(rawParams(map[string]any{"positionId": positionID}))
			respond(w, result, modErr)
		})
		mr.Get("/offers/{offerID}", func(w http.ResponseWriter, req *http.Request) {
			offerID, err := parseID(chi.URLParam(req, "offerID"))
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			result, modErr := module.GetOffer(rawParams(map[string]any{"offerId": offerID}))
			respond(w, result, modErr)
		})
		mr.Get("/listings/{positionID}/quote", func(w http.ResponseWriter, req *http.Request) {
			positionID, err := parseID(chi.URLParam(req, "positionID"))
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			result, modErr := module.QuoteListing(rawParams(map[string]any{
				"positionId": positionID,
				"inputAsset": req.URL.Query().Get("inputAsset"),
			}))
			respond(w, result, modErr)
		})
		mr.Get("/offers/{offerID}/quote", func(w http.ResponseWriter, req *http.Request) {
			offerID, err := parseID(chi.URLParam(req, "offerID"))
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			result, modErr := module.QuoteOffer(rawParams(map[string]any{"offerId": offerID}))
			respond(w, result, modErr)
		})
		mr.Get("/operators", func(w http.ResponseWriter, req *http.Request) {
			result, modErr := module.IsApprovedOperator(rawParams(map[string]any{
				"controller": req.URL.Query().Get("controller"),
				"operator":   req.URL.Query().Get("operator"),
			}))
			respond(w, result, modErr)
		})
	})
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid identifier %q", raw)
	}
	return id, nil
}

func rawParams(params map[string]any) json.RawMessage {
	raw, err := json.Marshal(params)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

func respond(w http.ResponseWriter, result any, modErr *modules.ModuleError) {
	if modErr != nil {
		status := modErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		writeError(w, status, modErr.Message)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
