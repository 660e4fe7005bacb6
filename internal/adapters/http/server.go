// Package httpadapter exposes the engine over HTTP: frequency queries,
// import submission and tracking, and sample withdrawal.
package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"varfreq/internal/domain"
	"varfreq/internal/ports"
	"varfreq/internal/workers/importrunner"
)

type Server struct {
	frequencies ports.Frequencies
	importer    ports.Importer
	queue       ports.ImportJobQueue
	processor   importrunner.BatchProcessor
	// defaultCoveragePolicy applies to imported samples that declare none.
	defaultCoveragePolicy domain.CoveragePolicy
	log                   *slog.Logger
}

func New(frequencies ports.Frequencies, importer ports.Importer, queue ports.ImportJobQueue, processor importrunner.BatchProcessor, defaultCoveragePolicy domain.CoveragePolicy, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		frequencies:           frequencies,
		importer:              importer,
		queue:                 queue,
		processor:             processor,
		defaultCoveragePolicy: defaultCoveragePolicy,
		log:                   log,
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/frequencies", s.handleFrequency)
	r.Post("/imports", s.handleCreateImport)
	r.Get("/imports/{id}", s.handleImportStatus)
	r.Delete("/samples/{id}", s.handleWithdrawSample)
	return r
}

// wire shapes

type frequencyResponse struct {
	Chromosome        string `json:"chromosome"`
	Position          int64  `json:"position"`
	Reference         string `json:"reference"`
	Observed          string `json:"observed"`
	Scope             string `json:"scope"`
	ObservedCopies    int    `json:"observed_copies"`
	TotalCopies       int    `json:"total_copies"`
	SampleCount       int    `json:"sample_count"`
	Approximate       bool   `json:"approximate"`
	HasData           bool   `json:"has_data"`
	CoverageFallbacks int    `json:"coverage_fallbacks"`
	ObservedHet       *int   `json:"observed_heterozygous,omitempty"`
	ObservedHom       *int   `json:"observed_homozygous,omitempty"`
	DataVersion       uint64 `json:"data_version"`
}

type importSample struct {
	ID              string  `json:"id,omitempty"`
	GroupID         string  `json:"group_id"`
	Name            string  `json:"name"`
	Sex             string  `json:"sex,omitempty"`
	Kind            string  `json:"kind,omitempty"`
	PoolSize        int     `json:"pool_size,omitempty"`
	PoolFemales     int     `json:"pool_females,omitempty"`
	PoolMales       int     `json:"pool_males,omitempty"`
	CoveredFraction float64 `json:"covered_fraction,omitempty"`
	CoveragePolicy  string  `json:"coverage_policy,omitempty"`
	Public          bool    `json:"public,omitempty"`
	Dataset         string  `json:"dataset,omitempty"`
}

type importObservation struct {
	SampleID   string `json:"sample_id"`
	Chromosome string `json:"chromosome"`
	Position   int64  `json:"position"`
	Reference  string `json:"reference"`
	Observed   string `json:"observed"`
	Zygosity   string `json:"zygosity,omitempty"`
	Copies     int    `json:"copies,omitempty"`
}

type importRegion struct {
	SampleID   string `json:"sample_id"`
	Chromosome string `json:"chromosome"`
	Begin      int64  `json:"begin"`
	End        int64  `json:"end"`
}

type importRequest struct {
	Samples      []importSample      `json:"samples"`
	Observations []importObservation `json:"observations"`
	Regions      []importRegion      `json:"regions"`
}

type rejectedRecord struct {
	Kind   string `json:"kind"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type importResponse struct {
	ImportID string           `json:"import_id"`
	Status   string           `json:"status"`
	Progress float64          `json:"progress"`
	Error    string           `json:"error,omitempty"`
	Rejected []rejectedRecord `json:"rejected,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handlers

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFrequency(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	position, err := strconv.ParseInt(q.Get("position"), 10, 64)
	if err != nil || position < 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "position must be a non-negative integer"})
		return
	}
	locus := domain.Locus{Chromosome: q.Get("chromosome"), Position: position}
	allele := domain.Allele{Reference: q.Get("reference"), Observed: q.Get("observed")}
	if locus.Chromosome == "" || allele.Reference == "" || allele.Observed == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "chromosome, reference, and observed are required"})
		return
	}
	sc, err := domain.ParseScope(q.Get("scope"))
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}
	authorized, err := parseAuthorizedScopes(r.Header.Get("X-Authorized-Scopes"))
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}

	res, err := s.frequencies.Frequency(r.Context(), locus, allele, sc, authorized)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := frequencyResponse{
		Chromosome:        res.Locus.Chromosome,
		Position:          res.Locus.Position,
		Reference:         res.Allele.Reference,
		Observed:          res.Allele.Observed,
		Scope:             res.ScopeKey,
		ObservedCopies:    res.ObservedCopies,
		TotalCopies:       res.TotalCopies,
		SampleCount:       res.SampleCount,
		Approximate:       res.Approximate,
		HasData:           res.HasData,
		CoverageFallbacks: res.CoverageFallbacks,
		DataVersion:       res.DataVersion,
	}
	if !sc.Anonymized() {
		het, hom := res.ObservedHet, res.ObservedHom
		resp.ObservedHet, resp.ObservedHom = &het, &hom
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	batch, err := req.toBatch(s.defaultCoveragePolicy)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}

	ctx := r.Context()
	importID, rejected, err := s.importer.Enqueue(ctx, batch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := importrunner.ProcessInline(ctx, s.queue, s.processor, importID); err != nil {
			s.writeError(w, r, err)
			return
		}
		st, err := s.importer.Status(ctx, importID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toImportResponse(st))
		return
	}

	writeJSON(w, http.StatusAccepted, importResponse{
		ImportID: importID,
		Status:   domain.ImportQueued,
		Rejected: toRejected(rejected),
	})
}

func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.importer.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toImportResponse(st))
}

func (s *Server) handleWithdrawSample(w http.ResponseWriter, r *http.Request) {
	if err := s.importer.Withdraw(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr domain.ScopeAuthorizationViolation
	switch {
	case errors.As(err, &authErr):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: authErr.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// conversions

func parseAuthorizedScopes(header string) ([]domain.Scope, error) {
	if strings.TrimSpace(header) == "" {
		return nil, nil
	}
	var out []domain.Scope
	for _, token := range strings.Split(header, ",") {
		// shared scopes contain commas; rejoin tokens that continue one
		if len(out) > 0 && !strings.Contains(token, ":") {
			last := &out[len(out)-1]
			if last.Kind == domain.SharedAnonymized {
				last.Groups = append(last.Groups, strings.TrimSpace(token))
				continue
			}
		}
		sc, err := domain.ParseScope(token)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

func (req importRequest) toBatch(defaultPolicy domain.CoveragePolicy) (domain.ImportBatch, error) {
	var batch domain.ImportBatch
	for _, s := range req.Samples {
		sex, err := parseSex(s.Sex)
		if err != nil {
			return batch, err
		}
		kind, err := parseKind(s.Kind)
		if err != nil {
			return batch, err
		}
		policy, err := parseCoveragePolicy(s.CoveragePolicy, defaultPolicy)
		if err != nil {
			return batch, err
		}
		batch.Samples = append(batch.Samples, domain.Sample{
			ID: s.ID, GroupID: s.GroupID, Name: s.Name, Sex: sex, Kind: kind,
			PoolSize: s.PoolSize, PoolFemales: s.PoolFemales, PoolMales: s.PoolMales,
			CoveredFraction: s.CoveredFraction, CoveragePolicy: policy,
			Public: s.Public, Dataset: s.Dataset,
		})
	}
	for _, o := range req.Observations {
		zygosity, err := parseZygosity(o.Zygosity)
		if err != nil {
			return batch, err
		}
		batch.Observations = append(batch.Observations, domain.Observation{
			SampleID: o.SampleID,
			Locus:    domain.Locus{Chromosome: o.Chromosome, Position: o.Position},
			Allele:   domain.Allele{Reference: o.Reference, Observed: o.Observed},
			Zygosity: zygosity,
			Copies:   o.Copies,
		})
	}
	for _, reg := range req.Regions {
		batch.Regions = append(batch.Regions, domain.CoverageRegion{
			SampleID: reg.SampleID, Chromosome: reg.Chromosome, Begin: reg.Begin, End: reg.End,
		})
	}
	return batch, nil
}

func parseSex(s string) (domain.Sex, error) {
	switch s {
	case "", "unknown":
		return domain.UnknownSex, nil
	case "female":
		return domain.Female, nil
	case "male":
		return domain.Male, nil
	}
	return 0, errInvalidEnum("sex", s)
}

func parseKind(s string) (domain.SampleKind, error) {
	switch s {
	case "", "individual":
		return domain.Individual, nil
	case "pool":
		return domain.PoolUnknownRatio, nil
	case "pool_known_ratio":
		return domain.PoolKnownRatio, nil
	}
	return 0, errInvalidEnum("kind", s)
}

func parseZygosity(s string) (domain.Zygosity, error) {
	switch s {
	case "", "unknown":
		return domain.UnknownZygosity, nil
	case "heterozygous":
		return domain.Heterozygous, nil
	case "homozygous":
		return domain.Homozygous, nil
	}
	return 0, errInvalidEnum("zygosity", s)
}

func parseCoveragePolicy(s string, def domain.CoveragePolicy) (domain.CoveragePolicy, error) {
	switch s {
	case "":
		return def, nil
	case "tracked":
		return domain.TrackedCoverage, nil
	case "assume_covered":
		return domain.AssumeCovered, nil
	case "assume_uncovered":
		return domain.AssumeUncovered, nil
	}
	return 0, errInvalidEnum("coverage_policy", s)
}

type enumError struct{ field, value string }

func (e enumError) Error() string { return "invalid " + e.field + " " + strconv.Quote(e.value) }

func errInvalidEnum(field, value string) error { return enumError{field: field, value: value} }

func toRejected(in []domain.RejectedRecord) []rejectedRecord {
	out := make([]rejectedRecord, 0, len(in))
	for _, r := range in {
		out = append(out, rejectedRecord{Kind: r.Kind, Index: r.Index, Reason: r.Reason})
	}
	return out
}

func toImportResponse(st domain.ImportStatus) importResponse {
	return importResponse{
		ImportID: st.ID,
		Status:   st.Status,
		Progress: st.Progress,
		Error:    st.Error,
		Rejected: toRejected(st.Rejected),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
