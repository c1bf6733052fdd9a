package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"stratplan/internal/db"
	"stratplan/internal/design"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "stratplan.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return NewServer(database, ":0")
}

func TestListEndpointsReturnEmptyArrays(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name    string
		handler http.HandlerFunc
		url     string
	}{
		{"designs", s.handleDesigns, "/api/designs"},
		{"plans", s.handlePlans, "/api/plans"},
	}

	for _, tc := range cases {
		t.Run(tc.name+" serializes as [] when the store is empty", func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			tc.handler(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rec.Code)
			}
			if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
				t.Fatalf("expected empty JSON array, got %q", body)
			}
		})
	}
}

func TestHandleDesignsListsSavedDesigns(t *testing.T) {
	s := newTestServer(t)

	d := &design.Design{
		Name:          "regional",
		MarginOfError: 1.5,
		ConfidenceZ:   1.96,
		Strata: []design.Stratum{
			{ID: "a", Population: 4000, StdDev: 10, UnitCost: 4, UnitTime: 2},
			{ID: "b", Population: 6000, StdDev: 20, UnitCost: 6, UnitTime: 3},
		},
	}
	if _, err := s.db.SaveDesign(d, ""); err != nil {
		t.Fatalf("save design: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/designs", nil)
	s.handleDesigns(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var response []struct {
		Name      string `json:"name"`
		PlanCount int    `json:"plan_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(response) != 1 || response[0].Name != "regional" || response[0].PlanCount != 0 {
		t.Fatalf("unexpected response: %+v", response)
	}
}
