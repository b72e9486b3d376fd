package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"time"

	"AgentVault-Core/internal/auth"
	"AgentVault-Core/internal/escrow"
	xerrors "AgentVault-Core/internal/errors"
	"AgentVault-Core/internal/observability/metrics"
	"AgentVault-Core/internal/policy"
	"AgentVault-Core/internal/web3/provider"
)

// Server 负责暴露 REST 接口，供外部驱动策略引擎与托管引擎。
type Server struct {
	addr      string
	policy    *policy.Engine
	escrow    *escrow.Engine
	paymaster *policy.PaymasterGuard
	chains    *provider.Registry
	auth      *auth.Service
}

// NewServer 构造 API 服务实例。paymaster 与 chains 允许为 nil，
// 对应的路由会返回 404。
func NewServer(addr string, policyEngine *policy.Engine, escrowEngine *escrow.Engine, opts ...ServerOption) *Server {
	s := &Server{addr: addr, policy: policyEngine, escrow: escrowEngine}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption 配置可选的服务依赖。
type ServerOption func(*Server)

// WithPaymaster 挂载 gas 代付守卫的路由。
func WithPaymaster(guard *policy.PaymasterGuard) ServerOption {
	return func(s *Server) { s.paymaster = guard }
}

// WithChainRegistry 挂载链状态查询路由。
func WithChainRegistry(registry *provider.Registry) ServerOption {
	return func(s *Server) { s.chains = registry }
}

// WithAuthService 启用调用方身份解析中间件。
func WithAuthService(service *auth.Service) ServerOption {
	return func(s *Server) { s.auth = service }
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	s.routes(mux)

	var handler http.Handler = mux
	handler = withMetrics(handler)
	if s.auth != nil {
		handler = s.auth.Middleware()(handler)
	}
	handler = withContext(ctx, handler)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/subjects", s.handleCreateSubject)
	mux.HandleFunc("GET /api/v1/subjects/{id}", s.handleGetSubject)
	mux.HandleFunc("POST /api/v1/subjects/{id}/authorize", s.handleAuthorize)
	mux.HandleFunc("POST /api/v1/subjects/{id}/limits", s.handleSetLimits)
	mux.HandleFunc("POST /api/v1/subjects/{id}/merchants", s.handleMerchants)
	mux.HandleFunc("POST /api/v1/subjects/{id}/merchants/mode", s.handleMerchantMode)
	mux.HandleFunc("POST /api/v1/subjects/{id}/tokens", s.handleTokens)
	mux.HandleFunc("POST /api/v1/subjects/{id}/tokens/enforcement", s.handleTokenEnforcement)
	mux.HandleFunc("POST /api/v1/subjects/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /api/v1/subjects/{id}/unpause", s.handleUnpause)
	mux.HandleFunc("POST /api/v1/subjects/{id}/emergency-withdraw", s.handleEmergencyWithdraw)
	mux.HandleFunc("POST /api/v1/subjects/{id}/holds", s.handleCreateHold)
	mux.HandleFunc("POST /api/v1/subjects/{id}/holds/{holdID}/capture", s.handleCaptureHold)
	mux.HandleFunc("POST /api/v1/subjects/{id}/holds/{holdID}/void", s.handleVoidHold)
	mux.HandleFunc("POST /api/v1/subjects/{id}/transfer", s.handleProposeTransfer)
	mux.HandleFunc("POST /api/v1/subjects/{id}/transfer/execute", s.handleExecuteTransfer)
	mux.HandleFunc("POST /api/v1/subjects/{id}/transfer/cancel", s.handleCancelTransfer)

	mux.HandleFunc("POST /api/v1/escrows", s.handleCreateEscrow)
	mux.HandleFunc("GET /api/v1/escrows/{id}", s.handleGetEscrow)
	mux.HandleFunc("POST /api/v1/escrows/{id}/fund", s.escrowAction((*escrow.Engine).FundEscrow))
	mux.HandleFunc("POST /api/v1/escrows/{id}/confirm", s.escrowAction((*escrow.Engine).ConfirmDelivery))
	mux.HandleFunc("POST /api/v1/escrows/{id}/approve", s.escrowAction((*escrow.Engine).ApproveRelease))
	mux.HandleFunc("POST /api/v1/escrows/{id}/dispute", s.escrowAction((*escrow.Engine).RaiseDispute))
	mux.HandleFunc("POST /api/v1/escrows/{id}/cancel", s.escrowAction((*escrow.Engine).CancelEscrow))
	mux.HandleFunc("POST /api/v1/escrows/{id}/refund", s.escrowAction((*escrow.Engine).Refund))
	mux.HandleFunc("POST /api/v1/escrows/{id}/milestones/{index}/complete", s.milestoneAction((*escrow.Engine).CompleteMilestone))
	mux.HandleFunc("POST /api/v1/escrows/{id}/milestones/{index}/release", s.milestoneAction((*escrow.Engine).ReleaseMilestone))
	mux.HandleFunc("POST /api/v1/escrows/{id}/resolve", s.handleResolveDispute)

	if s.paymaster != nil {
		mux.HandleFunc("POST /api/v1/sponsorship/validate", s.handleValidateSponsorship)
		mux.HandleFunc("POST /api/v1/sponsorship/settle", s.handleSettleSponsorship)
		mux.HandleFunc("GET /api/v1/sponsorship/allowance", s.handleSponsorAllowance)
		mux.HandleFunc("POST /api/v1/sponsorship/allowlist", s.handleSponsorAllowlist)
		mux.HandleFunc("POST /api/v1/sponsorship/cap", s.handleSponsorCap)
		mux.HandleFunc("POST /api/v1/sponsorship/transfer", s.handleSponsorTransfer)
		mux.HandleFunc("POST /api/v1/sponsorship/transfer/execute", s.handleSponsorTransferExecute)
		mux.HandleFunc("POST /api/v1/sponsorship/transfer/cancel", s.handleSponsorTransferCancel)
	}

	if s.chains != nil {
		mux.HandleFunc("GET /api/v1/chains", s.handleChains)
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

// withMetrics 按路由模式记录请求量与时延。
func withMetrics(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(recorder, r)
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.ObserveHTTPRequest(pattern, r.Method, recorder.status, time.Since(start))
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

// decodeBody 解析 JSON 请求体。空请求体按零值处理，方便无参动作。
func decodeBody(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// parseAmount 将十进制字符串转换为大整数。
func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "金额不能为空")
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "金额必须是十进制整数")
	}
	return value, nil
}

func amountString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError 把内部错误类别映射到 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.KindOf(err) {
	case xerrors.KindValidation:
		status = http.StatusBadRequest
	case xerrors.KindAuthorization:
		status = http.StatusForbidden
	case xerrors.KindPolicyDenial:
		status = http.StatusUnprocessableEntity
	case xerrors.KindStateConflict:
		status = http.StatusConflict
	case xerrors.KindNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]errorBody{"error": {
		Code:    string(xerrors.CodeOf(err)),
		Message: err.Error(),
	}})
}
