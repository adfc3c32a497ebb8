package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nstogner/nbtool/pkg/kernel"
	"github.com/nstogner/nbtool/pkg/tools"
)

const maxBodyBytes = 8 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Tools ---

type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	list := s.tools.List()
	infos := make([]toolInfo, 0, len(list))
	for _, t := range list {
		infos = append(infos, toolInfo{Name: t.Name(), Description: t.Description(), InputSchema: t.InputSchema()})
	}
	s.jsonResponse(w, http.StatusOK, infos)
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	input := map[string]any{}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("decoding arguments: %w", err))
			return
		}
	}

	resp, err := s.tools.Call(r.Context(), name, input)
	if errors.Is(err, tools.ErrUnknownTool) {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// --- Kernel ---

func (s *Server) handleKernelStatus(w http.ResponseWriter, r *http.Request) {
	reg := s.runner.Registry()
	specs, err := reg.ListSpecs(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusBadGateway, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, struct {
		Current   kernel.Status `json:"current_kernel"`
		Available []string      `json:"available_kernels"`
	}{reg.Current(), specs})
}
