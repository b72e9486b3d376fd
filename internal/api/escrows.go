package api

import (
	"context"
	"net/http"
	"strconv"

	"AgentVault-Core/internal/auth"
	"AgentVault-Core/internal/escrow"
	xerrors "AgentVault-Core/internal/errors"
)

type createEscrowRequest struct {
	Seller        string                 `json:"seller"`
	Token         string                 `json:"token"`
	Amount        string                 `json:"amount"`
	Deadline      int64                  `json:"deadline"`
	ConditionHash string                 `json:"condition_hash"`
	Description   string                 `json:"description"`
	Milestones    []createMilestoneInput `json:"milestones"`
}

type createMilestoneInput struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req createEscrowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	input := escrow.CreateEscrowInput{
		Seller:        auth.NormalizeAddress(req.Seller),
		Token:         req.Token,
		Amount:        amount,
		Deadline:      req.Deadline,
		ConditionHash: req.ConditionHash,
		Description:   req.Description,
	}
	buyer := auth.ActorFromContext(r.Context())

	var created *escrow.Escrow
	if len(req.Milestones) > 0 {
		milestones := make([]escrow.MilestoneInput, 0, len(req.Milestones))
		for _, m := range req.Milestones {
			stageAmount, err := parseAmount(m.Amount)
			if err != nil {
				writeError(w, err)
				return
			}
			milestones = append(milestones, escrow.MilestoneInput{Description: m.Description, Amount: stageAmount})
		}
		created, err = s.escrow.CreateEscrowWithMilestones(r.Context(), buyer, input, milestones)
	} else {
		created, err = s.escrow.CreateEscrow(r.Context(), buyer, input)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	record, err := s.escrow.GetEscrow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// escrowAction 把只需要操作者与单号的托管动作适配成处理函数。
func (s *Server) escrowAction(action func(*escrow.Engine, context.Context, string, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := auth.ActorFromContext(r.Context())
		if err := action(s.escrow, r.Context(), actor, r.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// milestoneAction 把按分期序号操作的托管动作适配成处理函数。
func (s *Server) milestoneAction(action func(*escrow.Engine, context.Context, string, string, int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(r.PathValue("index"))
		if err != nil {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "分期序号必须是整数"))
			return
		}
		actor := auth.ActorFromContext(r.Context())
		if err := action(s.escrow, r.Context(), actor, r.PathValue("id"), index); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BuyerPercent int64 `json:"buyer_percent"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	actor := auth.ActorFromContext(r.Context())
	if err := s.escrow.ResolveDispute(r.Context(), actor, r.PathValue("id"), req.BuyerPercent); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
