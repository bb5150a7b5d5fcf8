package controlplane

import (
	"encoding/json"
	"net/http"
	"strconv"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/computemarket/cmkt/internal/market"
	"github.com/computemarket/cmkt/internal/models"
	"github.com/go-chi/chi/v5"
)

// fail writes err and logs it when it is not a market rejection.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if statusFor(err) == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, err)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v interface{}) error {
	if r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errorsmod.Wrapf(market.ErrInvalidArgument, "invalid json: %v", err)
	}
	return nil
}

// idParam parses the {id} route parameter. IDs are limited to 63 bits, the
// range the database stores.
func idParam(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 63)
	if err != nil {
		return 0, errorsmod.Wrapf(market.ErrInvalidArgument, "invalid id %q", raw)
	}
	return id, nil
}

// parseAmount parses a decimal amount given as a JSON string or number.
func parseAmount(field string, n json.Number) (math.Uint, error) {
	if n == "" {
		return math.ZeroUint(), errorsmod.Wrapf(market.ErrInvalidArgument, "%s is required", field)
	}
	amount, err := math.ParseUint(string(n))
	if err != nil {
		return math.ZeroUint(), errorsmod.Wrapf(market.ErrInvalidArgument, "%s: %v", field, err)
	}
	return amount, nil
}

// queryUint parses an optional unsigned query parameter.
func queryUint(r *http.Request, key string) (uint64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 63)
	if err != nil {
		return 0, errorsmod.Wrapf(market.ErrInvalidArgument, "invalid %s %q", key, raw)
	}
	return v, nil
}

// --- Authority ---

// AuthorityResponse is the body of GET /authority.
type AuthorityResponse struct {
	Authority string `json:"authority"`
}

type transferAuthorityRequest struct {
	NewAuthority string `json:"new_authority"`
}

func (s *Server) getAuthority(w http.ResponseWriter, r *http.Request) {
	authority, err := s.market.Authority()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthorityResponse{Authority: authority})
}

func (s *Server) transferAuthority(w http.ResponseWriter, r *http.Request) {
	var req transferAuthorityRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.market.TransferAuthority(principalFrom(r.Context()), req.NewAuthority); err != nil {
		s.fail(w, r, err)
		return
	}
	authority, err := s.market.Authority()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthorityResponse{Authority: authority})
}

// --- Services ---

type registerServiceRequest struct {
	ServiceID uint64      `json:"service_id"`
	Price     json.Number `json:"price"`
}

type priceRequest struct {
	Price json.Number `json:"price"`
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.market.ListServices()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if services == nil {
		services = []models.Service{}
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) registerService(w http.ResponseWriter, r *http.Request) {
	var req registerServiceRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	svc, err := s.market.RegisterService(principalFrom(r.Context()), req.ServiceID, price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

func (s *Server) getService(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	svc, err := s.market.GetService(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) updateServicePrice(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req priceRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	svc, err := s.market.UpdateServicePrice(principalFrom(r.Context()), id, price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) deactivateService(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.market.DeactivateService(principalFrom(r.Context()), id); err != nil {
		s.fail(w, r, err)
		return
	}
	svc, err := s.market.GetService(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

// --- Tasks ---

type buyRequest struct {
	Payment json.Number `json:"payment"`
}

type completeRequest struct {
	ResultHash string `json:"result_hash"`
}

// CountResponse is the body of GET /tasks/count.
type CountResponse struct {
	Count uint64 `json:"count"`
}

func (s *Server) buyCompute(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	buyer := principalFrom(r.Context())
	if !s.limiter.Allow(buyer) {
		s.fail(w, r, ErrRateLimited)
		return
	}

	var req buyRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	payment, err := parseAmount("payment", req.Payment)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	task, err := s.market.BuyCompute(buyer, id, payment)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	serviceID, err := queryUint(r, "service_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryUint(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	q := r.URL.Query()
	tasks, err := s.market.ListTasks(models.TaskFilter{
		Status:    models.TaskStatus(q.Get("status")),
		Buyer:     q.Get("buyer"),
		ServiceID: serviceID,
		Limit:     int(limit),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTaskCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.market.GetTaskCount()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.market.GetTask(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) getTaskDecisions(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryUint(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entries, err := s.market.Decisions(id, int(limit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.PDREntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) startTask(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.market.StartTask(principalFrom(r.Context()), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req completeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.market.CompleteTask(principalFrom(r.Context()), id, req.ResultHash)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) refundTask(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.market.RefundTask(principalFrom(r.Context()), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- Escrow and accounts ---

// BalanceResponse carries an escrow or account balance as a decimal string.
type BalanceResponse struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

type freezeRequest struct {
	Frozen bool `json:"frozen"`
}

func (s *Server) getEscrowBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.market.GetBalance()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Account: "escrow", Balance: balance.String()})
}

func (s *Server) getInvariant(w http.ResponseWriter, r *http.Request) {
	report, err := s.market.CheckInvariant()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) getAccountBalance(w http.ResponseWriter, r *http.Request) {
	principal := market.NormalizePrincipal(chi.URLParam(r, "principal"))
	balance, err := s.market.AccountBalance(principal)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Account: principal, Balance: balance.String()})
}

func (s *Server) getAccountEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := queryUint(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entries, err := s.market.AccountHistory(chi.URLParam(r, "principal"), int(limit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) freezeAccount(w http.ResponseWriter, r *http.Request) {
	var req freezeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	principal := chi.URLParam(r, "principal")
	if err := s.market.FreezeAccount(principalFrom(r.Context()), principal, req.Frozen); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": market.NormalizePrincipal(principal),
		"frozen":  req.Frozen,
	})
}

// --- Events ---

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	after, err := queryUint(r, "after")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryUint(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	events, err := s.market.Events(after, int(limit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
