package web

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"stratplan/internal/alloc"
)

func (s *Server) handleDesigns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	since := r.URL.Query().Get("since")

	designs, err := s.db.ListDesigns(limit, since)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type designResponse struct {
		ID            int64   `json:"id"`
		Name          string  `json:"name"`
		MarginOfError float64 `json:"margin_of_error"`
		ConfidenceZ   float64 `json:"confidence_z"`
		Notes         string  `json:"notes"`
		CreatedAt     string  `json:"created_at"`
		PlanCount     int     `json:"plan_count"`
	}

	response := make([]designResponse, 0, len(designs))
	for _, d := range designs {
		count, err := s.db.CountPlansForDesign(d.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		response = append(response, designResponse{
			ID:            d.ID,
			Name:          d.Name,
			MarginOfError: d.MarginOfError,
			ConfidenceZ:   d.ConfidenceZ,
			Notes:         d.Notes,
			CreatedAt:     d.CreatedAt,
			PlanCount:     count,
		})
	}

	writeJSON(w, response)
}

func (s *Server) handleDesign(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/designs/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid design id", http.StatusBadRequest)
		return
	}

	stored, err := s.db.GetDesign(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "design not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	d, err := s.db.LoadDesign(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type stratumResponse struct {
		ID         string  `json:"id"`
		Population int64   `json:"population"`
		StdDev     float64 `json:"std_dev"`
		UnitCost   float64 `json:"unit_cost"`
		UnitTime   float64 `json:"unit_time"`
		Weight     float64 `json:"weight"`
	}

	weights := d.Weights()
	strata := make([]stratumResponse, len(d.Strata))
	for i, st := range d.Strata {
		strata[i] = stratumResponse{
			ID:         st.ID,
			Population: st.Population,
			StdDev:     st.StdDev,
			UnitCost:   st.UnitCost,
			UnitTime:   st.UnitTime,
			Weight:     weights[i],
		}
	}

	response := struct {
		ID              int64             `json:"id"`
		Name            string            `json:"name"`
		MarginOfError   float64           `json:"margin_of_error"`
		ConfidenceZ     float64           `json:"confidence_z"`
		TargetVariance  float64           `json:"target_variance"`
		TotalPopulation int64             `json:"total_population"`
		Notes           string            `json:"notes"`
		CreatedAt       string            `json:"created_at"`
		Strata          []stratumResponse `json:"strata"`
	}{
		ID:              stored.ID,
		Name:            stored.Name,
		MarginOfError:   stored.MarginOfError,
		ConfidenceZ:     stored.ConfidenceZ,
		TargetVariance:  d.TargetVariance(),
		TotalPopulation: d.TotalPopulation(),
		Notes:           stored.Notes,
		CreatedAt:       stored.CreatedAt,
		Strata:          strata,
	}

	writeJSON(w, response)
}

// handleDesignPlan computes a plan on the fly, without persisting it.
func (s *Server) handleDesignPlan(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/designs/")
	idStr = strings.TrimSuffix(idStr, "/plan")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid design id", http.StatusBadRequest)
		return
	}

	d, err := s.db.LoadDesign(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "design not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var plans []*alloc.Plan
	if methodStr := r.URL.Query().Get("method"); methodStr != "" {
		p, err := alloc.Compute(d, alloc.Method(methodStr))
		if err != nil {
			if errors.Is(err, alloc.ErrUnknownMethod) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		plans = append(plans, p)
	} else {
		plans, err = alloc.ComputeAll(d)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	}

	writeJSON(w, planResponses(plans))
}

type allocationResponse struct {
	StratumID string `json:"stratum_id"`
	Samples   int64  `json:"samples"`
}

type planResponse struct {
	Method          string               `json:"method"`
	TargetVariance  float64              `json:"target_variance"`
	ContinuousN     float64              `json:"continuous_n"`
	TotalSampleSize int64                `json:"total_sample_size"`
	AllocatedTotal  int64                `json:"allocated_total"`
	Allocations     []allocationResponse `json:"allocations"`
}

func planResponses(plans []*alloc.Plan) []planResponse {
	responses := make([]planResponse, len(plans))
	for i, p := range plans {
		allocations := make([]allocationResponse, len(p.Allocations))
		for j, a := range p.Allocations {
			allocations[j] = allocationResponse{StratumID: a.StratumID, Samples: a.Samples}
		}
		responses[i] = planResponse{
			Method:          string(p.Method),
			TargetVariance:  p.TargetVariance,
			ContinuousN:     p.ContinuousN,
			TotalSampleSize: p.TotalSampleSize,
			AllocatedTotal:  p.AllocatedTotal(),
			Allocations:     allocations,
		}
	}
	return responses
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	method := r.URL.Query().Get("method")
	since := r.URL.Query().Get("since")

	plans, err := s.db.ListPlans(limit, method, since)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type storedPlanResponse struct {
		ID              int64   `json:"id"`
		DesignID        int64   `json:"design_id"`
		Method          string  `json:"method"`
		TargetVariance  float64 `json:"target_variance"`
		TotalSampleSize int64   `json:"total_sample_size"`
		Notes           string  `json:"notes"`
		CreatedAt       string  `json:"created_at"`
	}

	response := make([]storedPlanResponse, 0, len(plans))
	for _, p := range plans {
		response = append(response, storedPlanResponse{
			ID:              p.ID,
			DesignID:        p.DesignID,
			Method:          p.Method,
			TargetVariance:  p.TargetVariance,
			TotalSampleSize: p.TotalSampleSize,
			Notes:           p.Notes,
			CreatedAt:       p.CreatedAt,
		})
	}

	writeJSON(w, response)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/plans/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid plan id", http.StatusBadRequest)
		return
	}

	plan, err := s.db.GetPlan(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "plan not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stored, err := s.db.GetDesign(plan.DesignID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	allocations, err := s.db.GetAllocationsForPlan(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	allocResponses := make([]allocationResponse, len(allocations))
	var allocatedTotal int64
	for i, a := range allocations {
		allocResponses[i] = allocationResponse{StratumID: a.StratumID, Samples: a.Samples}
		allocatedTotal += a.Samples
	}

	response := struct {
		ID              int64                `json:"id"`
		DesignID        int64                `json:"design_id"`
		DesignName      string               `json:"design_name"`
		Method          string               `json:"method"`
		TargetVariance  float64              `json:"target_variance"`
		ContinuousN     float64              `json:"continuous_n"`
		TotalSampleSize int64                `json:"total_sample_size"`
		AllocatedTotal  int64                `json:"allocated_total"`
		Notes           string               `json:"notes"`
		CreatedAt       string               `json:"created_at"`
		Allocations     []allocationResponse `json:"allocations"`
	}{
		ID:              plan.ID,
		DesignID:        plan.DesignID,
		DesignName:      stored.Name,
		Method:          plan.Method,
		TargetVariance:  plan.TargetVariance,
		ContinuousN:     plan.ContinuousN,
		TotalSampleSize: plan.TotalSampleSize,
		AllocatedTotal:  allocatedTotal,
		Notes:           plan.Notes,
		CreatedAt:       plan.CreatedAt,
		Allocations:     allocResponses,
	}

	writeJSON(w, response)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	idAStr := r.URL.Query().Get("plan_a")
	idBStr := r.URL.Query().Get("plan_b")
	if idAStr == "" || idBStr == "" {
		http.Error(w, "provide plan_a and plan_b parameters", http.StatusBadRequest)
		return
	}

	idA, errA := strconv.ParseInt(idAStr, 10, 64)
	idB, errB := strconv.ParseInt(idBStr, 10, 64)
	if errA != nil || errB != nil {
		http.Error(w, "invalid plan IDs", http.StatusBadRequest)
		return
	}

	planA, err := s.db.GetPlan(idA)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "plan A not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	planB, err := s.db.GetPlan(idB)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "plan B not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	allocsA, err := s.db.GetAllocationsForPlan(idA)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	allocsB, err := s.db.GetAllocationsForPlan(idB)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	allocsBMap := make(map[string]int64)
	for _, a := range allocsB {
		allocsBMap[a.StratumID] = a.Samples
	}

	type comparison struct {
		StratumID string `json:"stratum_id"`
		SamplesA  int64  `json:"samples_a"`
		SamplesB  int64  `json:"samples_b"`
		Delta     int64  `json:"delta"`
	}

	comparisons := make([]comparison, 0, len(allocsA))
	for _, a := range allocsA {
		b, ok := allocsBMap[a.StratumID]
		if !ok {
			continue
		}
		comparisons = append(comparisons, comparison{
			StratumID: a.StratumID,
			SamplesA:  a.Samples,
			SamplesB:  b,
			Delta:     b - a.Samples,
		})
	}

	response := struct {
		MethodA     string       `json:"method_a"`
		MethodB     string       `json:"method_b"`
		TotalA      int64        `json:"total_a"`
		TotalB      int64        `json:"total_b"`
		Comparisons []comparison `json:"comparisons"`
	}{
		MethodA:     planA.Method,
		MethodB:     planB.Method,
		TotalA:      planA.TotalSampleSize,
		TotalB:      planB.TotalSampleSize,
		Comparisons: comparisons,
	}

	writeJSON(w, response)
}

func (s *Server) handleMethods(w http.ResponseWriter, r *http.Request) {
	type methodResponse struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}

	response := make([]methodResponse, 0, len(alloc.Methods()))
	for _, m := range alloc.Methods() {
		response = append(response, methodResponse{
			Name:        string(m),
			Description: m.Describe(),
		})
	}

	writeJSON(w, response)
}

// handleDatabaseDownload streams a gzipped copy of the SQLite file.
func (s *Server) handleDatabaseDownload(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(s.db.Path())
	if err != nil {
		http.Error(w, fmt.Sprintf("open database: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="stratplan.db.gz"`)

	gz := gzip.NewWriter(w)
	if _, err := io.Copy(gz, f); err != nil {
		return
	}
	_ = gz.Close()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
