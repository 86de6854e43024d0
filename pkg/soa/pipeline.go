package soa

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

// Interpreter runs the 12-stage interpretation pipeline over one merged
// schedule document. It returns the final document and the serialized
// per-stage results.
type Interpreter interface {
	Run(ctx context.Context, jobID string, doc map[string]any) (map[string]any, json.RawMessage, error)
}

// Pipeline executes SOA job phases. Each phase runs in its own worker
// process; the awaiting_* states in between are left only by the API
// applying a confirmation payload.
type Pipeline struct {
	client      llm.Client
	remote      *document.RemoteManager
	jobs        *services.JobService
	tables      *services.TableResultService
	groups      *services.MergeGroupResultService
	publisher   *events.Publisher
	interpreter Interpreter
}

func NewPipeline(client llm.Client, remote *document.RemoteManager,
	jobs *services.JobService, tables *services.TableResultService,
	groups *services.MergeGroupResultService, publisher *events.Publisher,
	interpreter Interpreter) *Pipeline {
	return &Pipeline{
		client:      client,
		remote:      remote,
		jobs:        jobs,
		tables:      tables,
		groups:      groups,
		publisher:   publisher,
		interpreter: interpreter,
	}
}

// RunDetection is the first worker phase: locate every schedule table and
// park the job awaiting page confirmation.
func (p *Pipeline) RunDetection(ctx context.Context, job *models.Job, protocol *models.Protocol) error {
	if err := p.jobs.Transition(ctx, job.ID, models.StatusDetectingPages,
		services.WithPhase("detection")); err != nil {
		return err
	}
	p.publishStatus(ctx, job, protocol, models.StatusDetectingPages, "")

	fileURI, err := p.remote.EnsureRemote(ctx, protocol)
	if err != nil {
		return p.fail(ctx, job, protocol, fmt.Errorf("source document unavailable: %w", err))
	}

	detected, err := DetectTables(ctx, p.client, fileURI)
	if err != nil {
		return p.fail(ctx, job, protocol, err)
	}
	if len(detected) == 0 {
		return p.fail(ctx, job, protocol, fmt.Errorf("no schedule tables found in document"))
	}

	rows := make([]models.TableResult, 0, len(detected))
	for _, d := range detected {
		row := &models.TableResult{
			JobID:     job.ID,
			TableID:   d.TableID,
			Category:  d.Category,
			PageStart: d.PageStart,
			PageEnd:   d.PageEnd,
			Status:    models.ModulePending,
			Payload:   json.RawMessage(`{}`),
		}
		if err := p.tables.Upsert(ctx, row); err != nil {
			return p.fail(ctx, job, protocol, err)
		}
		rows = append(rows, *row)
	}

	_ = p.publisher.PublishTablesDetected(ctx, events.TablesDetectedPayload{
		JobID:  job.ID,
		Tables: rows,
	})

	if err := p.jobs.Transition(ctx, job.ID, models.StatusAwaitingPageConfirmation); err != nil {
		return err
	}
	p.publishStatus(ctx, job, protocol, models.StatusAwaitingPageConfirmation, "")
	slog.Info("Table detection finished", "job_id", job.ID, "tables", len(rows))
	return nil
}

// PageConfirmation is the payload leaving awaiting_page_confirmation. The
// confirmed list replaces detection wholesale: the operator may adjust page
// ranges, recategorize, or drop tables.
type PageConfirmation struct {
	Tables []DetectedTable `json:"tables"`
}

// ApplyPageConfirmation records the operator-confirmed table list and moves
// the job to extracting. Called by the API; the extraction worker is spawned
// after it returns.
func (p *Pipeline) ApplyPageConfirmation(ctx context.Context, job *models.Job, confirmed PageConfirmation) error {
	if len(confirmed.Tables) == 0 {
		return fmt.Errorf("confirmation must keep at least one table")
	}

	existing, err := p.tables.ListByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	keep := map[string]bool{}
	for _, t := range confirmed.Tables {
		if t.PageStart < 1 || t.PageEnd < t.PageStart {
			return fmt.Errorf("table %s has an invalid page range %d-%d", t.TableID, t.PageStart, t.PageEnd)
		}
		keep[t.TableID] = true
		if err := p.tables.Upsert(ctx, &models.TableResult{
			JobID:     job.ID,
			TableID:   t.TableID,
			Category:  normalizeCategory(string(t.Category)),
			PageStart: t.PageStart,
			PageEnd:   t.PageEnd,
			Status:    models.ModulePending,
			Payload:   json.RawMessage(`{}`),
		}); err != nil {
			return err
		}
	}
	// Tables the operator removed are marked failed so they are excluded
	// from extraction but keep their audit trail.
	for _, row := range existing {
		if keep[row.TableID] {
			continue
		}
		row.Status = models.ModuleFailed
		row.ErrorDetails = "removed during page confirmation"
		if err := p.tables.Upsert(ctx, row); err != nil {
			return err
		}
	}

	return p.jobs.Transition(ctx, job.ID, models.StatusExtracting,
		services.WithPhase("extraction"))
}

// RunExtraction is the second worker phase: extract every confirmed table,
// analyze merges, and park the job awaiting merge confirmation.
func (p *Pipeline) RunExtraction(ctx context.Context, job *models.Job, protocol *models.Protocol) error {
	fileURI, err := p.remote.EnsureRemote(ctx, protocol)
	if err != nil {
		return p.fail(ctx, job, protocol, fmt.Errorf("source document unavailable: %w", err))
	}

	rows, err := p.tables.ListByJob(ctx, job.ID)
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
			SubStage: row.TableID,
		})

		payload, counts, err := ExtractTable(ctx, p.client, fileURI, DetectedTable{
			TableID:   row.TableID,
			Category:  row.Category,
			PageStart: row.PageStart,
			PageEnd:   row.PageEnd,
		})
		if err != nil {
			row.Status = models.ModuleFailed
			row.ErrorDetails = err.Error()
			slog.Error("Table extraction failed", "job_id", job.ID,
				"table", row.TableID, "error", err)
		} else {
			row.Status = models.ModuleCompleted
			row.Payload = payload
			row.VisitCount = counts.Visits
			row.ActivityCount = counts.Activities
			row.InstanceCount = counts.Instances
			row.FootnoteCount = counts.Footnotes
			row.ErrorDetails = ""
			extracted++
		}
		if uerr := p.tables.Upsert(ctx, row); uerr != nil {
			return p.fail(ctx, job, protocol, uerr)
		}
	}
	if extracted == 0 {
		return p.fail(ctx, job, protocol, fmt.Errorf("every table extraction failed"))
	}

	if err := p.jobs.Transition(ctx, job.ID, models.StatusSaving); err != nil {
		return err
	}
	if err := p.jobs.Transition(ctx, job.ID, models.StatusAnalyzingMerges,
		services.WithPhase("merge_analysis")); err != nil {
		return err
	}
	p.publishStatus(ctx, job, protocol, models.StatusAnalyzingMerges, "")

	rows, err = p.tables.ListByJob(ctx, job.ID)
	if err != nil {
		return p.fail(ctx, job, protocol, err)
	}
	plan, err := AnalyzeMerges(job.ID, rows)
	if err != nil {
		return p.fail(ctx, job, protocol, err)
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return p.fail(ctx, job, protocol, fmt.Errorf("merge plan does not encode: %w", err))
	}

	if err := p.jobs.Transition(ctx, job.ID, models.StatusAwaitingMergeConfirmation,
		services.WithMergePlan(planJSON)); err != nil {
		return err
	}
	_ = p.publisher.PublishMergePlanReady(ctx, events.MergePlanReadyPayload{
		JobID: job.ID,
		Plan:  *plan,
	})
	p.publishStatus(ctx, job, protocol, models.StatusAwaitingMergeConfirmation, "")
	slog.Info("Merge analysis finished", "job_id", job.ID,
		"tables", extracted, "groups", len(plan.Groups))
	return nil
}

// ApplyMergeConfirmation records the operator-confirmed merge plan and moves
// the job to interpreting. The confirmed plan replaces the analyzer's plan.
func (p *Pipeline) ApplyMergeConfirmation(ctx context.Context, job *models.Job, plan models.MergePlan) error {
	if len(plan.Groups) == 0 {
		return fmt.Errorf("confirmed merge plan has no groups")
	}
	plan.JobID = job.ID
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("confirmed merge plan does not encode: %w", err)
	}
	return p.jobs.Transition(ctx, job.ID, models.StatusInterpreting,
		services.WithMergePlan(planJSON), services.WithPhase("interpretation"))
}

// RunInterpretation is the final worker phase: interpret each confirmed
// merge group and complete the job.
func (p *Pipeline) RunInterpretation(ctx context.Context, job *models.Job, protocol *models.Protocol) error {
	var plan models.MergePlan
	if err := json.Unmarshal(job.MergePlan, &plan); err != nil {
		return p.fail(ctx, job, protocol, fmt.Errorf("stored merge plan does not decode: %w", err))
	}

	rows, err := p.tables.ListByJob(ctx, job.ID)
	if err != nil {
		return p.fail(ctx, job, protocol, err)
	}

	for _, group := range plan.Groups {
		doc, err := MergeGroupDocument(group, rows)
		if err != nil {
			return p.fail(ctx, job, protocol, err)
		}

		finalDoc, stageResults, err := p.interpreter.Run(ctx, job.ID, doc)
		result := &models.MergeGroupResult{
			JobID:        job.ID,
			GroupID:      group.GroupID,
			StageResults: stageResults,
		}
		if err != nil {
			result.Status = models.ModuleFailed
			result.Document = json.RawMessage(`{}`)
			result.ErrorDetails = err.Error()
			_ = p.groups.Upsert(ctx, result)
			return p.fail(ctx, job, protocol,
				fmt.Errorf("interpretation of group %s failed: %w", group.GroupID, err))
		}

		docJSON, err := json.Marshal(finalDoc)
		if err != nil {
			return p.fail(ctx, job, protocol, fmt.Errorf("interpreted document does not encode: %w", err))
		}
		result.Status = models.ModuleCompleted
		result.Document = docJSON
		if err := p.groups.Upsert(ctx, result); err != nil {
			return p.fail(ctx, job, protocol, err)
		}
	}

	if err := p.jobs.Transition(ctx, job.ID, models.StatusCompleted); err != nil {
		return err
	}
	p.publishStatus(ctx, job, protocol, models.StatusCompleted, "")
	slog.Info("SOA interpretation finished", "job_id", job.ID, "groups", len(plan.Groups))
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
