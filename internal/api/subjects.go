package api

import (
	"net/http"
	"time"

	"AgentVault-Core/internal/auth"
	xerrors "AgentVault-Core/internal/errors"
	"AgentVault-Core/internal/policy"
)

type createSubjectRequest struct {
	ID               string `json:"id"`
	Owner            string `json:"owner"`
	Controller       string `json:"controller"`
	Recovery         string `json:"recovery"`
	LimitPerTx       string `json:"limit_per_tx"`
	DailyLimit       string `json:"daily_limit"`
	CoSignLimitPerTx string `json:"cosign_limit_per_tx"`
	CoSignDailyLimit string `json:"cosign_daily_limit"`
}

func (s *Server) handleCreateSubject(w http.ResponseWriter, r *http.Request) {
	var req createSubjectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}

	limitPerTx, err := parseAmount(req.LimitPerTx)
	if err != nil {
		writeError(w, err)
		return
	}
	dailyLimit, err := parseAmount(req.DailyLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	input := policy.CreateSubjectInput{
		ID:         req.ID,
		Owner:      auth.NormalizeAddress(req.Owner),
		Controller: auth.NormalizeAddress(req.Controller),
		Recovery:   auth.NormalizeAddress(req.Recovery),
		LimitPerTx: limitPerTx,
		DailyLimit: dailyLimit,
	}
	if req.CoSignLimitPerTx != "" || req.CoSignDailyLimit != "" {
		perTx, err := parseAmount(req.CoSignLimitPerTx)
		if err != nil {
			writeError(w, err)
			return
		}
		daily, err := parseAmount(req.CoSignDailyLimit)
		if err != nil {
			writeError(w, err)
			return
		}
		input.CoSign = &policy.CoSignTier{LimitPerTx: perTx, DailyLimit: daily}
	}

	subject, err := s.policy.CreateSubject(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, subject)
}

func (s *Server) handleGetSubject(w http.ResponseWriter, r *http.Request) {
	subject, err := s.policy.GetSubject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subject)
}

type authorizeRequest struct {
	Merchant string `json:"merchant"`
	Token    string `json:"token"`
	Amount   string `json:"amount"`
	Elevated bool   `json:"elevated"`
}

type decisionResponse struct {
	SubjectID      string `json:"subject_id"`
	SpentToday     string `json:"spent_today"`
	DailyRemaining string `json:"daily_remaining"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	actor := auth.ActorFromContext(r.Context())
	subjectID := r.PathValue("id")

	var decision *policy.Decision
	if req.Elevated {
		decision, err = s.policy.AuthorizeElevated(r.Context(), actor, subjectID, req.Merchant, req.Token, amount)
	} else {
		decision, err = s.policy.Authorize(r.Context(), actor, subjectID, req.Merchant, req.Token, amount)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{
		SubjectID:      decision.SubjectID,
		SpentToday:     amountString(decision.SpentToday),
		DailyRemaining: amountString(decision.DailyRemaining),
	})
}

type setLimitsRequest struct {
	LimitPerTx       string `json:"limit_per_tx"`
	DailyLimit       string `json:"daily_limit"`
	CoSignLimitPerTx string `json:"cosign_limit_per_tx"`
	CoSignDailyLimit string `json:"cosign_daily_limit"`
}

func (s *Server) handleSetLimits(w http.ResponseWriter, r *http.Request) {
	var req setLimitsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}

	var input policy.SetLimitsInput
	var err error
	if req.LimitPerTx != "" {
		if input.LimitPerTx, err = parseAmount(req.LimitPerTx); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.DailyLimit != "" {
		if input.DailyLimit, err = parseAmount(req.DailyLimit); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.CoSignLimitPerTx != "" {
		if input.CoSignLimitPerTx, err = parseAmount(req.CoSignLimitPerTx); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.CoSignDailyLimit != "" {
		if input.CoSignDailyLimit, err = parseAmount(req.CoSignDailyLimit); err != nil {
			writeError(w, err)
			return
		}
	}

	actor := auth.ActorFromContext(r.Context())
	if err := s.policy.SetLimits(r.Context(), actor, r.PathValue("id"), input); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type merchantRequest struct {
	Merchant string `json:"merchant"`
	Action   string `json:"action"`
}

func (s *Server) handleMerchants(w http.ResponseWriter, r *http.Request) {
	var req merchantRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}

	actor := auth.ActorFromContext(r.Context())
	subjectID := r.PathValue("id")

	var err error
	switch req.Action {
	case "allow":
		err = s.policy.AllowMerchant(r.Context(), actor, subjectID, req.Merchant)
	case "deny":
		err = s.policy.DenyMerchant(r.Context(), actor, subjectID, req.Merchant)
	case "remove":
		err = s.policy.RemoveMerchant(r.Context(), actor, subjectID, req.Merchant)
	default:
		err = xerrors.New(xerrors.CodeInvalidArgument, "action 必须是 allow、deny 或 remove")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMerchantMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Allowlist bool `json:"allowlist"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	actor := auth.ActorFromContext(r.Context())
	if err := s.policy.SetAllowlistMode(r.Context(), actor, r.PathValue("id"), req.Allowlist); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token  string `json:"token"`
		Action string `json:"action"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}

	actor := auth.ActorFromContext(r.Context())
	subjectID := r.PathValue("id")

	var err error
	switch req.Action {
	case "allow":
		err = s.policy.AllowToken(r.Context(), actor, subjectID, req.Token)
	case "remove":
		err = s.policy.RemoveToken(r.Context(), actor, subjectID, req.Token)
	default:
		err = xerrors.New(xerrors.CodeInvalidArgument, "action 必须是 allow 或 remove")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTokenEnforcement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enforced bool `json:"enforced"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	actor := auth.ActorFromContext(r.Context())
	if err := s.policy.SetTokenEnforcement(r.Context(), actor, r.PathValue("id"), req.Enforced); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	if err := s.policy.Pause(r.Context(), actor, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	if err := s.policy.Unpause(r.Context(), actor, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	actor := auth.ActorFromContext(r.Context())
	amount, err := s.policy.EmergencyWithdraw(r.Context(), actor, r.PathValue("id"), req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amountString(amount)})
}

type createHoldRequest struct {
	Merchant        string `json:"merchant"`
	Token           string `json:"token"`
	Amount          string `json:"amount"`
	DurationSeconds int64  `json:"duration_seconds"`
}

func (s *Server) handleCreateHold(w http.ResponseWriter, r *http.Request) {
	var req createHoldRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	actor := auth.ActorFromContext(r.Context())
	hold, err := s.policy.CreateHold(r.Context(), actor, r.PathValue("id"), req.Merchant, req.Token, amount, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, hold)
}

func (s *Server) handleCaptureHold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	actor := auth.ActorFromContext(r.Context())
	if err := s.policy.CaptureHold(r.Context(), actor, r.PathValue("id"), r.PathValue("holdID"), amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "captured"})
}

func (s *Server) handleVoidHold(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	if err := s.policy.VoidHold(r.Context(), actor, r.PathValue("id"), r.PathValue("holdID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "voided"})
}

func (s *Server) handleProposeTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewController string `json:"new_controller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	actor := auth.ActorFromContext(r.Context())
	if err := s.policy.ProposeControllerTransfer(r.Context(), actor, r.PathValue("id"), auth.NormalizeAddress(req.NewController)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "proposed"})
}

func (s *Server) handleExecuteTransfer(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	if err := s.policy.ExecuteControllerTransfer(r.Context(), actor, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "executed"})
}

func (s *Server) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	if err := s.policy.CancelControllerTransfer(r.Context(), actor, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
