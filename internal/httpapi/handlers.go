package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/krish858/xgate/internal/gateway"
	"github.com/krish858/xgate/internal/ids"
	"github.com/krish858/xgate/internal/store"
)

// endpoint allocation retries before giving up on a random id collision
const maxAllocAttempts = 5

const defaultSessionTTLSeconds = 60

// Handler serves the owner-facing registration and dashboard API.
type Handler struct {
	store store.Store
	ids   ids.Allocator
	log   zerolog.Logger

	// baseURL prefixes generated endpoints in responses so owners can
	// paste them straight into their clients. Empty means endpoints are
	// returned path-only.
	baseURL string
}

func NewHandler(st store.Store, alloc ids.Allocator, logger zerolog.Logger, publicBaseURL string) *Handler {
	return &Handler{
		store:   st,
		ids:     alloc,
		log:     logger.With().Str("component", "httpapi").Logger(),
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

type addRestRequest struct {
	PublicKey       string  `json:"publicKey"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	ServiceURL      string  `json:"serviceUrl"`
	Method          string  `json:"method"`
	PricePerRequest float64 `json:"pricePerRequest"`
}

type addRestResponse struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	API             string  `json:"api"`
	PricePerRequest float64 `json:"pricePerRequest"`
}

func (h *Handler) addRest(w http.ResponseWriter, r *http.Request) {
	var req addRestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.PublicKey = strings.TrimSpace(req.PublicKey)
	req.Name = strings.TrimSpace(req.Name)
	req.ServiceURL = strings.TrimSpace(req.ServiceURL)
	if req.PublicKey == "" || req.Name == "" || req.ServiceURL == "" {
		writeError(w, http.StatusBadRequest, "publicKey, name and serviceUrl are required")
		return
	}
	if req.PricePerRequest <= 0 {
		writeError(w, http.StatusBadRequest, "pricePerRequest must be positive")
		return
	}
	if _, err := url.ParseRequestURI(req.ServiceURL); err != nil {
		writeError(w, http.StatusBadRequest, "serviceUrl is not a valid URL")
		return
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	owner, err := h.store.UpsertUser(r.Context(), req.PublicKey)
	if err != nil {
		h.log.Error().Err(err).Msg("upsert user failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	res := &store.CallResource{
		Name:            req.Name,
		Description:     req.Description,
		ServiceURL:      req.ServiceURL,
		Method:          method,
		PricePerRequest: req.PricePerRequest,
		OwnerID:         owner.ID,
	}
	id, err := h.allocate(r, func(endpoint string) error {
		res.GeneratedEndpoint = endpoint
		return h.store.CreateCallResource(r.Context(), res)
	}, gateway.CallEndpointPrefix)
	if err != nil {
		h.log.Error().Err(err).Msg("call resource allocation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.log.Info().
		Str("endpoint", res.GeneratedEndpoint).
		Str("owner", owner.PublicKey).
		Float64("price", res.PricePerRequest).
		Msg("call resource registered")

	writeJSON(w, http.StatusCreated, addRestResponse{
		ID:              id,
		Name:            res.Name,
		API:             h.absolute(res.GeneratedEndpoint),
		PricePerRequest: res.PricePerRequest,
	})
}

type addWssRequest struct {
	PublicKey      string  `json:"publicKey"`
	Name           string  `json:"name"`
	ServiceURL     string  `json:"serviceUrl"`
	PricePerMinute float64 `json:"pricePerMinute"`
}

type addWssResponse struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Endpoint          string  `json:"endpoint"`
	PricePerMinute    float64 `json:"pricePerMinute"`
	SessionTTLSeconds int     `json:"sessionTtlSeconds"`
}

func (h *Handler) addWss(w http.ResponseWriter, r *http.Request) {
	var req addWssRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.PublicKey = strings.TrimSpace(req.PublicKey)
	req.Name = strings.TrimSpace(req.Name)
	req.ServiceURL = strings.TrimSpace(req.ServiceURL)
	if req.PublicKey == "" || req.Name == "" || req.ServiceURL == "" {
		writeError(w, http.StatusBadRequest, "publicKey, name and serviceUrl are required")
		return
	}
	if req.PricePerMinute <= 0 {
		writeError(w, http.StatusBadRequest, "pricePerMinute must be positive")
		return
	}

	// Stream registration requires an existing owner. Owners onboard by
	// registering a call resource or loading the dashboard first.
	owner, err := h.store.GetUserByPublicKey(r.Context(), req.PublicKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.log.Error().Err(err).Msg("user lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	res := &store.StreamResource{
		Name:              req.Name,
		ServiceURL:        req.ServiceURL,
		OwnerID:           owner.ID,
		PricePerMinute:    req.PricePerMinute,
		BillingMode:       "subscription",
		SessionTTLSeconds: defaultSessionTTLSeconds,
	}
	id, err := h.allocate(r, func(endpoint string) error {
		res.GeneratedEndpoint = endpoint
		return h.store.CreateStreamResource(r.Context(), res)
	}, gateway.StreamEndpointPrefix)
	if err != nil {
		h.log.Error().Err(err).Msg("stream resource allocation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.log.Info().
		Str("endpoint", res.GeneratedEndpoint).
		Str("owner", owner.PublicKey).
		Float64("price", res.PricePerMinute).
		Msg("stream resource registered")

	writeJSON(w, http.StatusCreated, addWssResponse{
		ID:                id,
		Name:              res.Name,
		Endpoint:          h.absolute(res.GeneratedEndpoint),
		PricePerMinute:    res.PricePerMinute,
		SessionTTLSeconds: res.SessionTTLSeconds,
	})
}

type fetchRequest struct {
	PublicKey string `json:"publicKey"`
}

type callResourceDTO struct {
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	Endpoint        string  `json:"endpoint"`
	Method          string  `json:"method"`
	PricePerRequest float64 `json:"pricePerRequest"`
	AmountGenerated float64 `json:"amountGenerated"`
	CreatedAt       string  `json:"createdAt"`
}

type streamResourceDTO struct {
	Name              string  `json:"name"`
	Endpoint          string  `json:"endpoint"`
	PricePerMinute    float64 `json:"pricePerMinute"`
	SessionTTLSeconds int     `json:"sessionTtlSeconds"`
	AmountGenerated   float64 `json:"amountGenerated"`
	CreatedAt         string  `json:"createdAt"`
}

type fetchResponse struct {
	PublicKey  string              `json:"publicKey"`
	APIs       []callResourceDTO   `json:"apis"`
	Websockets []streamResourceDTO `json:"websockets"`
}

const dashboardLimit = 5

func (h *Handler) fetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.PublicKey = strings.TrimSpace(req.PublicKey)
	if req.PublicKey == "" {
		writeError(w, http.StatusBadRequest, "publicKey is required")
		return
	}

	// First dashboard load doubles as onboarding.
	owner, err := h.store.UpsertUser(r.Context(), req.PublicKey)
	if err != nil {
		h.log.Error().Err(err).Msg("upsert user failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	calls, err := h.store.RecentCallResources(r.Context(), owner.ID, dashboardLimit)
	if err != nil {
		h.log.Error().Err(err).Msg("call resource listing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	streams, err := h.store.RecentStreamResources(r.Context(), owner.ID, dashboardLimit)
	if err != nil {
		h.log.Error().Err(err).Msg("stream resource listing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := fetchResponse{
		PublicKey:  owner.PublicKey,
		APIs:       make([]callResourceDTO, 0, len(calls)),
		Websockets: make([]streamResourceDTO, 0, len(streams)),
	}
	for _, c := range calls {
		resp.APIs = append(resp.APIs, callResourceDTO{
			Name:            c.Name,
			Description:     c.Description,
			Endpoint:        h.absolute(c.GeneratedEndpoint),
			Method:          c.Method,
			PricePerRequest: c.PricePerRequest,
			AmountGenerated: c.AmountGenerated,
			CreatedAt:       c.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	for _, s := range streams {
		resp.Websockets = append(resp.Websockets, streamResourceDTO{
			Name:              s.Name,
			Endpoint:          h.absolute(s.GeneratedEndpoint),
			PricePerMinute:    s.PricePerMinute,
			SessionTTLSeconds: s.SessionTTLSeconds,
			AmountGenerated:   s.AmountGenerated,
			CreatedAt:         s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type wssInfoResponse struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	PricePerMinute    float64 `json:"pricePerMinute"`
	SessionTTLSeconds int     `json:"sessionTtlSeconds"`
	OwnerAddress      string  `json:"ownerAddress"`
}

// wssInfo lets stream clients discover price and recipient before dialing,
// so they can build the payment proof for the connect handshake.
func (h *Handler) wssInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.store.GetStreamResource(r.Context(), gateway.StreamEndpointPrefix+id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "websocket not found")
			return
		}
		h.log.Error().Err(err).Msg("stream resource lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	owner, err := h.store.GetUserByID(r.Context(), res.OwnerID)
	if err != nil {
		h.log.Error().Err(err).Msg("owner lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, wssInfoResponse{
		ID:                id,
		Name:              res.Name,
		PricePerMinute:    res.PricePerMinute,
		SessionTTLSeconds: res.SessionTTLSeconds,
		OwnerAddress:      owner.PublicKey,
	})
}

// allocate draws random ids until create succeeds, retrying on endpoint
// collisions up to maxAllocAttempts.
func (h *Handler) allocate(r *http.Request, create func(endpoint string) error, prefix string) (string, error) {
	var lastErr error
	for i := 0; i < maxAllocAttempts; i++ {
		id, err := h.ids.NewID()
		if err != nil {
			return "", err
		}
		err = create(prefix + id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

func (h *Handler) absolute(endpoint string) string {
	if h.baseURL == "" {
		return endpoint
	}
	return h.baseURL + endpoint
}
