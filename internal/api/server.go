package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"OpenAgora/internal/catalog"
	xerrors "OpenAgora/internal/errors"
	"OpenAgora/internal/job"
	"OpenAgora/internal/ledger"
	"OpenAgora/internal/observability/metrics"
	"OpenAgora/internal/selection"
)

// WalletReader 提供买卖双方余额查询能力。
type WalletReader interface {
	Balance(account string) float64
}

// Server 负责暴露 REST 接口，供买方提交任务、卖方注册能力。
type Server struct {
	addr     string
	jobs     *job.Service
	catalog  catalog.Store
	ledger   ledger.Ledger
	wallets  WalletReader
	profiles selection.ProfileDefinitions
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, jobs *job.Service, store catalog.Store, book ledger.Ledger, wallets WalletReader, profiles selection.ProfileDefinitions) *Server {
	return &Server{
		addr:     addr,
		jobs:     jobs,
		catalog:  store,
		ledger:   book,
		wallets:  wallets,
		profiles: profiles,
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Routes 返回完整的路由表。
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/agents", instrument("agents", s.handleAgents))
	mux.HandleFunc("/api/v1/jobs", instrument("jobs", s.handleJobs))
	mux.HandleFunc("/api/v1/jobs/stats", instrument("job_stats", s.handleJobStats))
	mux.HandleFunc("/api/v1/jobs/", instrument("job_detail", s.handleJobDetail))
	mux.HandleFunc("/api/v1/transactions", instrument("transactions", s.handleTransactions))
	mux.HandleFunc("/api/v1/wallets/", instrument("wallet_balance", s.handleWalletBalance))
	mux.HandleFunc("/api/v1/healthz", instrument("healthz", s.handleHealthz))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleRegisterAgent(w, r)
	case http.MethodGet:
		s.handleListAgents(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		http.Error(w, "目录服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req catalog.Registration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	agent, err := s.catalog.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		http.Error(w, "目录服务未初始化", http.StatusServiceUnavailable)
		return
	}

	ctx := r.Context()
	capability := strings.TrimSpace(r.URL.Query().Get("capability"))

	var agents []*catalog.AgentRecord
	var err error
	if capability != "" {
		agents, err = s.catalog.ListByCapability(ctx, capability)
	} else {
		agents, err = s.catalog.List(ctx)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// submitPayload 在任务请求之上允许指定命名权重画像。
type submitPayload struct {
	job.SubmitRequest
	Profile string `json:"profile,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req submitPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if req.Weights == nil && req.Profile != "" {
		weights := s.profiles.Resolve(req.Profile)
		req.Weights = &weights
	}

	submitted, err := s.jobs.Submit(r.Context(), req.SubmitRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitted)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts := listOptionsFromQuery(r)
	jobs, err := s.jobs.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.jobs == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts := listOptionsFromQuery(r)
	stats, err := s.jobs.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.jobs == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "任务 ID 不能为空", http.StatusBadRequest)
		return
	}

	found, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.ledger == nil {
		http.Error(w, "账本服务未初始化", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	opts := ledger.ListOptions{
		SellerID: strings.TrimSpace(query.Get("seller_id")),
		BuyerID:  strings.TrimSpace(query.Get("buyer_id")),
	}
	if raw := strings.TrimSpace(query.Get("outcome")); raw != "" {
		outcome := ledger.Outcome(raw)
		if !ledger.IsValidOutcome(outcome) {
			http.Error(w, "未知的结算结果", http.StatusBadRequest)
			return
		}
		opts.Outcome = outcome
	}
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts.Limit = parsed
		}
	}

	records, err := s.ledger.List(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.wallets == nil {
		http.Error(w, "钱包服务未初始化", http.StatusServiceUnavailable)
		return
	}

	account := strings.TrimPrefix(r.URL.Path, "/api/v1/wallets/")
	if account == "" || strings.Contains(account, "/") {
		http.Error(w, "账户不能为空", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"balance": s.wallets.Balance(account),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func listOptionsFromQuery(r *http.Request) []job.ListOption {
	query := r.URL.Query()
	opts := make([]job.ListOption, 0, 4)

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		statuses := make([]job.Status, 0, 2)
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, job.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, job.WithStatuses(statuses...))
	}
	if raw := strings.TrimSpace(query.Get("buyer_id")); raw != "" {
		opts = append(opts, job.WithBuyer(raw))
	}
	if raw := strings.TrimSpace(query.Get("capability")); raw != "" {
		opts = append(opts, job.WithCapability(raw))
	}
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, job.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, job.WithOffset(parsed))
		}
	}
	return opts
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 将统一错误映射为 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := xerrors.CodeOf(err)
	switch code {
	case xerrors.CodeInvalidArgument, job.CodeJobValidation, selection.CodeInvalidWeights:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, job.CodeJobNotFound, catalog.CodeAgentNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, job.CodeJobConflict, catalog.CodeAgentConflict:
		status = http.StatusConflict
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  string(code),
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 包装处理器，采集请求计数与时延指标。
func instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(started))
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
