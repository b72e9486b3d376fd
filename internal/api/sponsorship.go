package api

import (
	"net/http"

	"AgentVault-Core/internal/auth"
	xerrors "AgentVault-Core/internal/errors"
)

func (s *Server) handleValidateSponsorship(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet string `json:"wallet"`
		Gas    string `json:"gas"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	gas, err := parseAmount(req.Gas)
	if err != nil {
		writeError(w, err)
		return
	}
	sponsorCtx, err := s.paymaster.ValidateSponsorship(r.Context(), auth.NormalizeAddress(req.Wallet), gas)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sponsorCtx)
}

func (s *Server) handleSettleSponsorship(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContextID string `json:"context_id"`
		ActualGas string `json:"actual_gas"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	actual, err := parseAmount(req.ActualGas)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.paymaster.SettleSponsorship(r.Context(), req.ContextID, actual); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

func (s *Server) handleSponsorAllowance(w http.ResponseWriter, r *http.Request) {
	wallet := auth.NormalizeAddress(r.URL.Query().Get("wallet"))
	if wallet == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少 wallet 参数"))
		return
	}
	remaining := s.paymaster.RemainingAllowance(wallet)
	writeJSON(w, http.StatusOK, map[string]string{
		"wallet":    wallet,
		"remaining": amountString(remaining),
	})
}

func (s *Server) handleSponsorAllowlist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet string `json:"wallet"`
		Action string `json:"action"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}

	actor := auth.ActorFromContext(r.Context())
	var err error
	switch req.Action {
	case "allow":
		err = s.paymaster.AllowWallet(actor, auth.NormalizeAddress(req.Wallet))
	case "remove":
		err = s.paymaster.RemoveWallet(actor, auth.NormalizeAddress(req.Wallet))
	default:
		err = xerrors.New(xerrors.CodeInvalidArgument, "action 必须是 allow 或 remove")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSponsorCap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DailyCap string `json:"daily_cap"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	limit, err := parseAmount(req.DailyCap)
	if err != nil {
		writeError(w, err)
		return
	}
	actor := auth.ActorFromContext(r.Context())
	if err := s.paymaster.SetDailyCap(actor, limit); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSponsorTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewAuthority string `json:"new_authority"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	actor := auth.ActorFromContext(r.Context())
	if err := s.paymaster.ProposeAuthorityTransfer(actor, auth.NormalizeAddress(req.NewAuthority)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "proposed"})
}

func (s *Server) handleSponsorTransferExecute(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	if err := s.paymaster.ExecuteAuthorityTransfer(actor); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "executed"})
}

func (s *Server) handleSponsorTransferCancel(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	if err := s.paymaster.CancelAuthorityTransfer(actor); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
