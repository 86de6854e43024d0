package eligibility

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/document"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/events"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/services"
)

// Pipeline executes eligibility job phases. Each phase runs in its own
// worker process; awaiting_section_confirmation is left only by the API
// applying a confirmation payload.
type Pipeline struct {
	client    llm.Client
	remote    *document.RemoteManager
	jobs      *services.JobService
	sections  *services.SectionResultService
	publisher *events.Publisher
	batchSize int
}

func NewPipeline(client llm.Client, remote *document.RemoteManager,
	jobs *services.JobService, sections *services.SectionResultService,
	publisher *events.Publisher, batchSize int) *Pipeline {
	return &Pipeline{
		client:    client,
		remote:    remote,
		jobs:      jobs,
		sections:  sections,
		publisher: publisher,
		batchSize: batchSize,
	}
}

// RunDetection is the first worker phase: locate the eligibility sections
// and park the job awaiting section confirmation.
func (p *Pipeline) RunDetection(ctx context.Context, job *models.Job, protocol *models.Protocol) error {
	if err := p.jobs.Transition(ctx, job.ID, models.StatusDetectingSections,
		services.WithPhase("section_detection")); err != nil {
		return err
	}
	p.publishStatus(ctx, job, protocol, models.StatusDetectingSections, "")

	fileURI, err := p.remote.EnsureRemote(ctx, protocol)
	if err != nil {
		return p.fail(ctx, job, protocol, fmt.Errorf("source document unavailable: %w", err))
	}

	detected, err := DetectSections(ctx, p.client, fileURI)
	if err != nil {
		return p.fail(ctx, job, protocol, err)
	}
	if len(detected) == 0 {
		return p.fail(ctx, job, protocol, fmt.Errorf("no eligibility sections found in document"))
	}

	rows := make([]models.SectionResult, 0, len(detected))
	for _, d := range detected {
		row := &models.SectionResult{
			JobID:     job.ID,
			SectionID: d.SectionID,
			Kind:      d.Kind,
			Title:     d.Title,
			PageStart: d.PageStart,
			PageEnd:   d.PageEnd,
			Status:    models.ModulePending,
			Payload:   json.RawMessage(`{}`),
		}
		if err := p.sections.Upsert(ctx, row); err != nil {
			return p.fail(ctx, job, protocol, err)
		}
		rows = append(rows, *row)
	}

	_ = p.publisher.PublishSectionsDetected(ctx, events.SectionsDetectedPayload{
		JobID:    job.ID,
		Sections: rows,
	})

	if err := p.jobs.Transition(ctx, job.ID, models.StatusAwaitingSectionConfirmation); err != nil {
		return err
	}
	p.publishStatus(ctx, job, protocol, models.StatusAwaitingSectionConfirmation, "")
	slog.Info("Section detection finished", "job_id", job.ID, "sections", len(rows))
	return nil
}

// SectionConfirmation is the payload leaving awaiting_section_confirmation.
// The confirmed list replaces detection wholesale: the operator may adjust
// page ranges, flip a section's kind, or drop sections.
type SectionConfirmation struct {
	Sections []DetectedSection `json:"sections"`
}

// ApplySectionConfirmation records the operator-confirmed section list and
// moves the job to extracting. Called by the API; the extraction worker is
// spawned after it returns.
func (p *Pipeline) ApplySectionConfirmation(ctx context.Context, job *models.Job, confirmed SectionConfirmation) error {
	if len(confirmed.Sections) == 0 {
		return fmt.Errorf("confirmation must keep at least one section")
	}

	existing, err := p.sections.ListByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	keep := map[string]bool{}
	for _, s := range confirmed.Sections {
		if s.PageStart < 1 || s.PageEnd < s.PageStart {
			return fmt.Errorf("section %s has an invalid page range %d-%d", s.SectionID, s.PageStart, s.PageEnd)
		}
		keep[s.SectionID] = true
		if err := p.sections.Upsert(ctx, &models.SectionResult{
			JobID:     job.ID,
			SectionID: s.SectionID,
			Kind:      normalizeKind(string(s.Kind)),
			Title:     s.Title,
			PageStart: s.PageStart,
			PageEnd:   s.PageEnd,
			Status:    models.ModulePending,
			Payload:   json.RawMessage(`{}`),
		}); err != nil {
			return err
		}
	}
	// Sections the operator removed are marked failed so they are excluded
	// from extraction but keep their audit trail.
	for _, row := range existing {
		if keep[row.SectionID] {
			continue
		}
		row.Status = models.ModuleFailed
		row.ErrorDetails = "removed during section confirmation"
		if err := p.sections.Upsert(ctx, row); err != nil {
			return err
		}
	}

	return p.jobs.Transition(ctx, job.ID, models.StatusExtracting,
		services.WithPhase("extraction"))
}

// RunExtraction is the second worker phase: extract every confirmed section,
// structure the criteria, validate, and complete the job. No pause states
// remain after confirmation, so one worker run carries the job to terminal.
func (p *Pipeline) RunExtraction(ctx context.Context, job *models.Job, protocol *models.Protocol) error {
	fileURI, err := p.remote.EnsureRemote(ctx, protocol)
	if err != nil {
		return p.fail(ctx, job, protocol, fmt.Errorf("source document unavailable: %w", err))
	}

	rows, err := p.sections.ListByJob(ctx, job.ID)
	if err != nil {
		return p.fail(ctx, job, protocol, err)
	}

	extracted := 0
	for i, row := range rows {
		if row.Status != models.ModulePending {
			continue
		}
		_ = p.publisher.PublishJobProgress(ctx, events.JobProgressPayload{
			JobID:    job.ID,
			Phase:    "extraction",
			Percent:  i * 100 / len(rows),
			SubStage: row.SectionID,
		})

		payload, count, err := ExtractSection(ctx, p.client, fileURI, DetectedSection{
			SectionID: row.SectionID,
			Kind:      row.Kind,
			Title:     row.Title,
			PageStart: row.PageStart,
			PageEnd:   row.PageEnd,
		})
		if err != nil {
			row.Status = models.ModuleFailed
			row.ErrorDetails = err.Error()
			slog.Error("Section extraction failed", "job_id", job.ID,
				"section", row.SectionID, "error", err)
		} else {
			row.Status = models.ModuleCompleted
			row.Payload = payload
			row.CriterionCount = count
			row.ErrorDetails = ""
			extracted++
		}
		if uerr := p.sections.Upsert(ctx, row); uerr != nil {
			return p.fail(ctx, job, protocol, uerr)
		}
	}
	if extracted == 0 {
		return p.fail(ctx, job, protocol, fmt.Errorf("every section extraction failed"))
	}

	if err := p.jobs.Transition(ctx, job.ID, models.StatusInterpreting,
		services.WithPhase("interpretation")); err != nil {
		return err
	}
	p.publishStatus(ctx, job, protocol, models.StatusInterpreting, "")

	rows, err = p.sections.ListByJob(ctx, job.ID)
	if err != nil {
		return p.fail(ctx, job, protocol, err)
	}
	doc, err := Interpret(ctx, p.client, p.batchSize, rows)
	if err != nil {
		return p.fail(ctx, job, protocol, err)
	}

	if err := p.jobs.Transition(ctx, job.ID, models.StatusValidating,
		services.WithPhase("validation")); err != nil {
		return err
	}
	p.publishStatus(ctx, job, protocol, models.StatusValidating, "")

	report := Validate(doc)
	if len(report.Errors) > 0 {
		return p.fail(ctx, job, protocol,
			fmt.Errorf("criteria validation failed: %v", report.Errors))
	}
	doc["validation"] = report

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return p.fail(ctx, job, protocol, fmt.Errorf("criteria document does not encode: %w", err))
	}
	if err := p.jobs.Transition(ctx, job.ID, models.StatusCompleted,
		services.WithResult(docJSON)); err != nil {
		return err
	}
	if review, ok := doc["reviewCount"].(int); ok && review > 0 {
		_ = p.publisher.PublishReviewRequired(ctx, events.ReviewRequiredPayload{
			JobID: job.ID,
			Count: review,
			Stage: "criterion_structuring",
		})
	}
	p.publishStatus(ctx, job, protocol, models.StatusCompleted, "")
	slog.Info("Eligibility extraction finished", "job_id", job.ID,
		"sections", extracted, "warnings", len(report.Warnings))
	return nil
}

func (p *Pipeline) fail(ctx context.Context, job *models.Job, protocol *models.Protocol, cause error) error {
	if terr := p.jobs.Transition(ctx, job.ID, models.StatusFailed,
		services.WithError(cause.Error())); terr != nil {
		slog.Error("Failed to record job failure", "job_id", job.ID, "error", terr)
	}
	p.publishStatus(ctx, job, protocol, models.StatusFailed, cause.Error())
	return cause
}

func (p *Pipeline) publishStatus(ctx context.Context, job *models.Job,
	protocol *models.Protocol, status models.JobStatus, errMsg string) {
	_ = p.publisher.PublishJobStatus(ctx, events.JobStatusPayload{
		JobID:      job.ID,
		ProtocolID: protocol.ID,
		Kind:       string(job.Kind),
		Status:     string(status),
		Error:      errMsg,
	})
}
