package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/stockbot/internal/stock"
)

type productRequest struct {
	URL    string `json:"url"`
	UserID string `json:"userId"`
}

type healthResponse struct {
	Success   bool    `json:"success"`
	Status    string  `json:"status"`
	Timestamp int64   `json:"timestamp"`
	Uptime    float64 `json:"uptime"`
}

type productsResponse struct {
	Success  bool            `json:"success"`
	Count    int             `json:"count"`
	Products []stock.Product `json:"products"`
}

type productResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Product stock.Product `json:"product"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	stock.ProbeResult
}

type statsResponse struct {
	Success bool `json:"success"`
	stock.Stats
}

type checkResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Started bool   `json:"started"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	writeJSON(w, http.StatusOK, healthResponse{
		Success:   true,
		Status:    "ok",
		Timestamp: now.UnixMilli(),
		Uptime:    now.Sub(s.started).Seconds(),
	})
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.tracker.ListAll(r.Context())
	if err != nil {
		s.internalError(w, r, "list products failed", err)
		return
	}
	writeJSON(w, http.StatusOK, productsList(products))
}

// addProduct handles POST /api/products {url, userId}. The page is probed
// before anything is stored; an unreachable page is a 400.
func (s *Server) addProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}

	product, err := s.tracker.Track(r.Context(), req.URL, req.UserID)
	var probeErr *stock.ProbeError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, productResponse{Success: true, Message: "Product added successfully", Product: product})
	case errors.Is(err, stock.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, "Invalid Amul product URL")
	case errors.As(err, &probeErr):
		writeError(w, http.StatusBadRequest, probeErr.Msg)
	case errors.Is(err, stock.ErrAlreadySubscribed):
		existing, _, lookupErr := s.tracker.Product(r.Context(), req.URL)
		if lookupErr != nil {
			s.internalError(w, r, "load product failed", lookupErr)
			return
		}
		writeJSON(w, http.StatusOK, productResponse{Success: true, Message: "Already tracking this product", Product: existing})
	default:
		s.internalError(w, r, "add product failed", err)
	}
}

// removeProduct handles DELETE /api/products {url, userId}. Without a userId
// the product is removed for everyone.
func (s *Server) removeProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}

	_, err := s.tracker.Untrack(r.Context(), req.URL, req.UserID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Product removed successfully"})
	case errors.Is(err, stock.ErrNotSubscribed):
		writeError(w, http.StatusNotFound, "user is not tracking this product")
	case errors.Is(err, stock.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "product not found")
	default:
		s.internalError(w, r, "remove product failed", err)
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "URL query parameter is required")
		return
	}

	url, res, err := s.tracker.Check(r.Context(), raw)
	var probeErr *stock.ProbeError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, statusResponse{Success: true, URL: url, ProbeResult: res})
	case errors.Is(err, stock.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, "Invalid Amul product URL")
	case errors.As(err, &probeErr):
		writeJSON(w, http.StatusBadGateway, statusResponse{Success: false, URL: url, ProbeResult: res})
	default:
		s.internalError(w, r, "status check failed", err)
	}
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.tracker.Stats(r.Context())
	if err != nil {
		s.internalError(w, r, "load stats failed", err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Success: true, Stats: st})
}

func (s *Server) forceCheck(w http.ResponseWriter, _ *http.Request) {
	if s.tracker.ForceCheck() {
		writeJSON(w, http.StatusAccepted, checkResponse{Success: true, Message: "Stock check initiated", Started: true})
		return
	}
	writeJSON(w, http.StatusAccepted, checkResponse{Success: true, Message: "Stock check already running"})
}

func (s *Server) userProducts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	products, err := s.tracker.List(r.Context(), userID)
	if err != nil {
		s.internalError(w, r, "list user products failed", err)
		return
	}
	writeJSON(w, http.StatusOK, productsList(products))
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.Error(msg, zap.String("request_id", RequestID(r.Context())), zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

func productsList(products []stock.Product) productsResponse {
	if products == nil {
		products = []stock.Product{}
	}
	return productsResponse{Success: true, Count: len(products), Products: products}
}
