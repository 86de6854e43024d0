package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/eligibility"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/services"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/soa"
)

type jobResponse struct {
	ID           string          `json:"id"`
	ProtocolID   string          `json:"protocolId"`
	Kind         string          `json:"kind"`
	Status       string          `json:"status"`
	CurrentPhase string          `json:"currentPhase,omitempty"`
	Progress     models.Progress `json:"progress"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	OutputDir    string          `json:"outputDir,omitempty"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`

	// MergePlan is present while the job awaits merge confirmation; Result
	// is present once the job is terminal.
	MergePlan json.RawMessage `json:"mergePlan,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

func toJobResponse(j *models.Job) jobResponse {
	resp := jobResponse{
		ID:           j.ID,
		ProtocolID:   j.ProtocolID,
		Kind:         string(j.Kind),
		Status:       string(j.Status),
		CurrentPhase: j.CurrentPhase,
		Progress:     j.Progress,
		ErrorMessage: j.ErrorMessage,
		OutputDir:    j.OutputDir,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		CreatedAt:    j.CreatedAt,
	}
	if j.Status == models.StatusAwaitingMergeConfirmation {
		resp.MergePlan = j.MergePlan
	}
	if j.Status.IsTerminal() {
		resp.Result = j.Result
	}
	return resp
}

// createJob handles POST /api/v1/protocols/:id/jobs. The job row is created
// pending and a worker is spawned for the kind's first phase. At most one
// non-terminal job per (protocol, kind) exists; a second request conflicts.
func (s *Server) createJob(c *gin.Context) {
	var req struct {
		Kind string `json:"kind" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind := models.JobKind(req.Kind)
	switch kind {
	case models.JobKindModuleExtraction, models.JobKindSOA, models.JobKindEligibility:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job kind " + req.Kind})
		return
	}

	protocol, err := s.protocols.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	job, err := s.jobs.Create(c.Request.Context(), protocol.ID, kind)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	s.audit.Record(c.Request.Context(), protocol.ID, job.ID, "job.created", gin.H{"kind": req.Kind})
	if s.metrics != nil {
		s.metrics.JobStarted(req.Kind)
	}

	phase := PhaseDetection
	if kind == models.JobKindModuleExtraction {
		phase = PhaseRun
	}
	if !s.spawn(c, job, phase) {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": toJobResponse(job)})
}

func (s *Server) listJobs(c *gin.Context) {
	jobs, err := s.jobs.ListByProtocol(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": toJobResponse(job)})
}

// cancelJob handles POST /api/v1/jobs/:id/cancel. The worker gets SIGTERM
// with a grace period; the job row flips to failed either way.
func (s *Server) cancelJob(c *gin.Context) {
	job, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if job.Status.IsTerminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "job is already terminal"})
		return
	}

	if s.supervisor != nil {
		// A missing worker is fine: awaiting_* states have none.
		_ = s.supervisor.Cancel(c.Request.Context(), job.ID)
	}
	if err := s.jobs.Transition(c.Request.Context(), job.ID, models.StatusFailed,
		services.WithError("cancelled by operator")); err != nil {
		writeServiceError(c, err)
		return
	}
	s.audit.Record(c.Request.Context(), job.ProtocolID, job.ID, "job.cancelled", nil)
	if s.metrics != nil {
		s.metrics.JobFinished(string(job.Kind), string(models.StatusFailed))
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// confirmPages handles POST /api/v1/jobs/:id/confirm-pages for SOA jobs in
// awaiting_page_confirmation.
func (s *Server) confirmPages(c *gin.Context) {
	job, ok := s.jobAwaiting(c, models.JobKindSOA, models.StatusAwaitingPageConfirmation)
	if !ok {
		return
	}
	var confirmed soa.PageConfirmation
	if err := c.ShouldBindJSON(&confirmed); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.soa.ApplyPageConfirmation(c.Request.Context(), job, confirmed); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.audit.Record(c.Request.Context(), job.ProtocolID, job.ID, "job.pages_confirmed",
		gin.H{"tables": len(confirmed.Tables)})
	if !s.spawn(c, job, PhaseExtraction) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "extracting"})
}

// confirmMerges handles POST /api/v1/jobs/:id/confirm-merges for SOA jobs in
// awaiting_merge_confirmation. The confirmed plan replaces the analyzer's.
func (s *Server) confirmMerges(c *gin.Context) {
	job, ok := s.jobAwaiting(c, models.JobKindSOA, models.StatusAwaitingMergeConfirmation)
	if !ok {
		return
	}
	var plan models.MergePlan
	if err := c.ShouldBindJSON(&plan); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.soa.ApplyMergeConfirmation(c.Request.Context(), job, plan); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.audit.Record(c.Request.Context(), job.ProtocolID, job.ID, "job.merges_confirmed",
		gin.H{"groups": len(plan.Groups)})
	if !s.spawn(c, job, PhaseInterpretation) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "interpreting"})
}

// confirmSections handles POST /api/v1/jobs/:id/confirm-sections for
// eligibility jobs in awaiting_section_confirmation.
func (s *Server) confirmSections(c *gin.Context) {
	job, ok := s.jobAwaiting(c, models.JobKindEligibility, models.StatusAwaitingSectionConfirmation)
	if !ok {
		return
	}
	var confirmed eligibility.SectionConfirmation
	if err := c.ShouldBindJSON(&confirmed); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.eligibility.ApplySectionConfirmation(c.Request.Context(), job, confirmed); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.audit.Record(c.Request.Context(), job.ProtocolID, job.ID, "job.sections_confirmed",
		gin.H{"sections": len(confirmed.Sections)})
	if !s.spawn(c, job, PhaseExtraction) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "extracting"})
}

// listSections handles GET /api/v1/jobs/:id/sections: the per-section rows
// of an eligibility job, as they stand. Clients use this to render the
// section-confirmation screen and to follow extraction progress.
func (s *Server) listSections(c *gin.Context) {
	job, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if job.Kind != models.JobKindEligibility {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job has no sections"})
		return
	}
	rows, err := s.sections.ListByJob(c.Request.Context(), job.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobId": job.ID, "sections": rows})
}

// listEvents handles GET /api/v1/jobs/:id/events?after=N&limit=M: the
// catch-up query over persisted events, oldest first.
func (s *Server) listEvents(c *gin.Context) {
	after, _ := strconv.ParseInt(c.Query("after"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))

	if _, err := s.jobs.Get(c.Request.Context(), c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	stored, err := s.events.ListAfter(c.Request.Context(), c.Param("id"), after, limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": stored})
}

// getReview handles GET /api/v1/jobs/:id/review: everything the pipelines
// flagged for a human, assembled per job kind.
func (s *Server) getReview(c *gin.Context) {
	job, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	switch job.Kind {
	case models.JobKindSOA:
		groups, err := s.groups.ListByJob(c.Request.Context(), job.ID)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		out := make([]gin.H, 0, len(groups))
		for _, g := range groups {
			var doc map[string]any
			if err := json.Unmarshal(g.Document, &doc); err != nil {
				continue
			}
			if pkg, ok := doc["reviewPackage"]; ok {
				out = append(out, gin.H{"groupId": g.GroupID, "review": pkg})
			}
		}
		c.JSON(http.StatusOK, gin.H{"jobId": job.ID, "groups": out})

	case models.JobKindEligibility:
		var doc map[string]any
		if len(job.Result) == 0 || json.Unmarshal(job.Result, &doc) != nil {
			c.JSON(http.StatusOK, gin.H{"jobId": job.ID, "items": []any{}})
			return
		}
		var items []any
		criteria, _ := doc["criteria"].([]any)
		for _, item := range criteria {
			obj, ok := item.(map[string]any)
			if !ok || obj["_review"] != true {
				continue
			}
			items = append(items, gin.H{
				"targetId": obj["id"],
				"kind":     "criterion",
				"reason":   obj["_reviewReason"],
			})
		}
		c.JSON(http.StatusOK, gin.H{"jobId": job.ID, "items": items})

	default:
		c.JSON(http.StatusOK, gin.H{"jobId": job.ID, "items": []any{}})
	}
}

// jobAwaiting loads the job and checks it is the right kind in the right
// pause state, writing the error response itself otherwise.
func (s *Server) jobAwaiting(c *gin.Context, kind models.JobKind, status models.JobStatus) (*models.Job, bool) {
	job, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return nil, false
	}
	if job.Kind != kind {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confirmation does not apply to a " + string(job.Kind) + " job"})
		return nil, false
	}
	if job.Status != status {
		c.JSON(http.StatusConflict, gin.H{"error": "job is in status " + string(job.Status) + ", not " + string(status)})
		return nil, false
	}
	return job, true
}

// spawn starts a worker for the job phase, failing the job row when the
// process cannot start. Reports whether the caller should continue.
func (s *Server) spawn(c *gin.Context, job *models.Job, phase string) bool {
	if s.supervisor == nil {
		return true
	}
	if _, err := s.supervisor.Spawn(job, phase, s.configDir); err != nil {
		_ = s.jobs.Transition(c.Request.Context(), job.ID, models.StatusFailed,
			services.WithError("worker spawn failed: "+err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start worker: " + err.Error()})
		return false
	}
	return true
}
