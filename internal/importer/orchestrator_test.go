package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store that records every progress checkpoint so
// tests can assert on intermediate state, and can trigger a cancellation
// after a chosen checkpoint.
type memStore struct {
	mu          sync.Mutex
	jobs        map[string]*Job
	checkpoints []int // processed_rows at each UpdateProgress call

	// cancelWhenProcessed flips the job to failed right after a checkpoint
	// reaches this count. Zero means never.
	cancelWhenProcessed int
}

func newMemStore() *memStore {
	return &memStore{jobs: map[string]*Job{}}
}

func (s *memStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *memStore) FindByID(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return ErrJobTerminal
	}
	job.Status = status
	if status.Terminal() {
		now := time.Now()
		job.CompletedAt = &now
	}
	return nil
}

func (s *memStore) UpdateProgress(_ context.Context, id string, upd ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return ErrJobTerminal
	}
	if upd.Status != nil {
		job.Status = *upd.Status
		if upd.Status.Terminal() {
			now := time.Now()
			job.CompletedAt = &now
		}
	}
	if upd.TotalRows != nil {
		job.TotalRows = *upd.TotalRows
	}
	if upd.Processed != nil {
		job.Processed = *upd.Processed
		s.checkpoints = append(s.checkpoints, *upd.Processed)
		if s.cancelWhenProcessed > 0 && *upd.Processed >= s.cancelWhenProcessed {
			job.Status = StatusFailed
			s.cancelWhenProcessed = 0
		}
	}
	if upd.Succeeded != nil {
		job.Succeeded = *upd.Succeeded
	}
	if upd.Errored != nil {
		job.Errored = *upd.Errored
	}
	if upd.Skipped != nil {
		job.Skipped = *upd.Skipped
	}
	if upd.Errors != nil {
		job.Errors = upd.Errors
	}
	if upd.Summary != nil {
		job.Summary = upd.Summary
	}
	return nil
}

func (s *memStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return ErrJobTerminal
	}
	job.Status = StatusFailed
	return nil
}

func (s *memStore) List(_ context.Context, _ ListFilter) ([]*Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*Job
	for _, job := range s.jobs {
		copied := *job
		jobs = append(jobs, &copied)
	}
	return jobs, len(jobs), nil
}

type memFiles map[string][]byte

func (f memFiles) GetBytes(_ context.Context, key string) ([]byte, error) {
	data, ok := f[key]
	if !ok {
		return nil, fmt.Errorf("no file for key %q", key)
	}
	return data, nil
}

type recordedAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordedAudit) Record(_ context.Context, action, _ string, _ map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// personsCSV builds a persons file with n valid rows and unique NINs.
func personsCSV(n int) []byte {
	var b strings.Builder
	b.WriteString("firstName,lastName,gender,stationCode,nin\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "First%d,Last%d,female,ST-001,NIN%04d\n", i, i, i)
	}
	return []byte(b.String())
}

type fixture struct {
	store    *memStore
	files    memFiles
	writer   *fakePersonWriter
	audit    *recordedAudit
	orch     *Orchestrator
	caseFake *fakeCaseWriter
}

// newFixture registers real processors over fake writers and wires an
// orchestrator against in-memory collaborators.
func newFixture(t *testing.T, knownNINs map[string]string) *fixture {
	t.Helper()
	ClearRegistry()
	t.Cleanup(ClearRegistry)

	f := &fixture{
		store:    newMemStore(),
		files:    memFiles{},
		writer:   &fakePersonWriter{},
		audit:    &recordedAudit{},
		caseFake: &fakeCaseWriter{},
	}
	Register(NewPersonsProcessor(f.writer, false))
	Register(NewCasesProcessor(f.caseFake))

	resolver := &Resolver{
		Stations: &fakeLookup{known: map[string]string{"ST-001": "station-1", "ST-002": "station-2"}},
		Officers: &fakeLookup{known: map[string]string{"B-1042": "officer-1"}},
		Cases:    &fakeLookup{known: map[string]string{}},
		Persons:  &fakeLookup{known: knownNINs},
	}
	f.orch = NewOrchestrator(f.store, f.files, resolver, f.audit, discardLogger(), DefaultBatchSize)
	return f
}

func (f *fixture) submit(t *testing.T, entity EntityType, strategy Strategy, file []byte) *Job {
	t.Helper()
	f.files["file-1"] = file
	job := &Job{
		ID:         "job-1",
		EntityType: entity,
		FileKey:    "file-1",
		Strategy:   strategy,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}
	if err := f.store.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func (f *fixture) run(t *testing.T) *Job {
	t.Helper()
	if err := f.orch.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	job, err := f.store.FindByID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	return job
}

func assertCountsIdentity(t *testing.T, job *Job) {
	t.Helper()
	if job.Succeeded+job.Errored+job.Skipped != job.Processed {
		t.Errorf("counts identity broken: %d+%d+%d != %d",
			job.Succeeded, job.Errored, job.Skipped, job.Processed)
	}
	if job.Processed > job.TotalRows {
		t.Errorf("processed %d > total %d", job.Processed, job.TotalRows)
	}
}

func TestOrchestrator_AllValidRowsComplete(t *testing.T) {
	f := newFixture(t, map[string]string{})
	f.submit(t, EntityPersons, StrategySkip, personsCSV(120))

	job := f.run(t)

	if job.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed (errors: %v)", job.Status, job.Errors)
	}
	if job.TotalRows != 120 || job.Processed != 120 || job.Succeeded != 120 {
		t.Errorf("counts = total %d processed %d succeeded %d, want 120/120/120",
			job.TotalRows, job.Processed, job.Succeeded)
	}
	if job.Errored != 0 || job.Skipped != 0 {
		t.Errorf("errored %d skipped %d, want 0/0", job.Errored, job.Skipped)
	}
	assertCountsIdentity(t, job)

	// Progress observed at the batch checkpoints.
	want := []int{0, 50, 100, 120}
	if len(f.store.checkpoints) != len(want) {
		t.Fatalf("checkpoints = %v, want %v", f.store.checkpoints, want)
	}
	for i, w := range want {
		if f.store.checkpoints[i] != w {
			t.Errorf("checkpoint %d = %d, want %d", i, f.store.checkpoints[i], w)
		}
	}

	if job.Summary == nil || job.Summary.Created != 120 {
		t.Errorf("summary = %+v, want 120 created", job.Summary)
	}
	if len(f.audit.actions) != 1 || f.audit.actions[0] != "import.completed" {
		t.Errorf("audit actions = %v", f.audit.actions)
	}
}

func TestOrchestrator_MissingRequiredColumnAborts(t *testing.T) {
	f := newFixture(t, map[string]string{})
	// No gender column, plenty of data rows.
	file := []byte("firstName,lastName,stationCode\n" + strings.Repeat("A,B,ST-001\n", 30))
	f.submit(t, EntityPersons, StrategySkip, file)

	job := f.run(t)

	if job.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
	if job.Processed != 0 {
		t.Errorf("processed = %d, want 0", job.Processed)
	}
	if job.TotalRows != 30 {
		t.Errorf("totalRows = %d, want 30", job.TotalRows)
	}
	found := false
	for _, e := range job.Errors {
		if e.Row == 0 && e.Field == "gender" {
			found = true
		}
	}
	if !found {
		t.Errorf("no job-level error referencing the missing column: %v", job.Errors)
	}
	if len(f.writer.created) != 0 {
		t.Error("no rows may be written after a header failure")
	}
}

func TestOrchestrator_MalformedCSVFails(t *testing.T) {
	f := newFixture(t, map[string]string{})
	f.submit(t, EntityPersons, StrategySkip, []byte("firstName,lastName\n\"unterminated\n"))

	job := f.run(t)

	if job.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
	if len(job.Errors) == 0 || job.Errors[0].Row != 0 {
		t.Errorf("expected row-0 parse error, got %v", job.Errors)
	}
}

func TestOrchestrator_EmptyFileFails(t *testing.T) {
	f := newFixture(t, map[string]string{})
	f.submit(t, EntityPersons, StrategySkip, []byte("firstName,lastName,gender,stationCode\n"))

	job := f.run(t)

	if job.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
	if job.TotalRows != 0 || job.Processed != 0 {
		t.Errorf("counts = total %d processed %d, want 0/0", job.TotalRows, job.Processed)
	}
}

func TestOrchestrator_SkipStrategySecondRun(t *testing.T) {
	// Every NIN in the file already exists.
	known := map[string]string{}
	for i := 1; i <= 10; i++ {
		known[fmt.Sprintf("NIN%04d", i)] = fmt.Sprintf("existing-%d", i)
	}
	f := newFixture(t, known)
	f.submit(t, EntityPersons, StrategySkip, personsCSV(10))

	job := f.run(t)

	if job.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", job.Status)
	}
	if job.Succeeded != 0 || job.Skipped != 10 {
		t.Errorf("succeeded %d skipped %d, want 0/10", job.Succeeded, job.Skipped)
	}
	assertCountsIdentity(t, job)
}

func TestOrchestrator_UpdateStrategySecondRun(t *testing.T) {
	known := map[string]string{}
	for i := 1; i <= 10; i++ {
		known[fmt.Sprintf("NIN%04d", i)] = fmt.Sprintf("existing-%d", i)
	}
	f := newFixture(t, known)
	f.submit(t, EntityPersons, StrategyUpdate, personsCSV(10))

	job := f.run(t)

	if job.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", job.Status)
	}
	if job.Succeeded != 10 || job.Skipped != 0 || job.Errored != 0 {
		t.Errorf("succeeded %d skipped %d errored %d, want 10/0/0",
			job.Succeeded, job.Skipped, job.Errored)
	}
	if job.Summary == nil || job.Summary.Updated != 10 || job.Summary.Created != 0 {
		t.Errorf("summary = %+v, want 10 updated", job.Summary)
	}
	// Updates land on the existing ids with the new file's values.
	patch, ok := f.writer.updated["existing-3"]
	if !ok {
		t.Fatalf("no update recorded for existing-3: %v", f.writer.updated)
	}
	if patch.FirstName == nil || *patch.FirstName != "First3" {
		t.Errorf("patch.FirstName = %v, want First3", patch.FirstName)
	}
	if len(f.writer.created) != 0 {
		t.Error("update strategy must not create new records")
	}
	assertCountsIdentity(t, job)
}

func TestOrchestrator_FailStrategySameFileDuplicate(t *testing.T) {
	f := newFixture(t, map[string]string{})
	file := []byte("firstName,lastName,gender,stationCode,nin\n" +
		"Amina,Okello,female,ST-001,CM9001\n" +
		"Grace,Okello,female,ST-001,CM9001\n")
	f.submit(t, EntityPersons, StrategyFail, file)

	job := f.run(t)

	// The duplicate is a row-level error; the job itself completes.
	if job.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", job.Status)
	}
	if job.Succeeded != 1 || job.Errored != 1 {
		t.Errorf("succeeded %d errored %d, want 1/1", job.Succeeded, job.Errored)
	}
	if len(job.Errors) != 1 || job.Errors[0].Row != 2 || job.Errors[0].Field != "nin" {
		t.Errorf("errors = %v, want one duplicate error on row 2", job.Errors)
	}
	assertCountsIdentity(t, job)
}

func TestOrchestrator_RowValidationIsolated(t *testing.T) {
	f := newFixture(t, map[string]string{})
	// Row 3 references a station the resolver does not know.
	file := []byte("title,category,severity,stationCode\n" +
		"Case one,theft,low,ST-001\n" +
		"Case two,theft,low,ST-001\n" +
		"Case three,theft,low,ST-999\n" +
		"Case four,theft,low,ST-001\n")
	f.submit(t, EntityCases, StrategySkip, file)

	job := f.run(t)

	if job.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", job.Status)
	}
	if job.Errored != 1 || job.Succeeded != 3 {
		t.Errorf("errored %d succeeded %d, want 1/3", job.Errored, job.Succeeded)
	}
	if len(job.Errors) != 1 || job.Errors[0].Row != 3 || job.Errors[0].Field != "stationCode" {
		t.Errorf("errors = %v, want stationCode error on row 3", job.Errors)
	}
	if !strings.Contains(job.Errors[0].Message, "not found") {
		t.Errorf("message = %q, want a not-found message", job.Errors[0].Message)
	}
	if len(f.caseFake.created) != 3 {
		t.Errorf("created %d cases, want 3", len(f.caseFake.created))
	}
	assertCountsIdentity(t, job)
}

func TestOrchestrator_WriteFailureIsolated(t *testing.T) {
	f := newFixture(t, map[string]string{})
	f.writer.createErr = fmt.Errorf("unique constraint violation")
	f.submit(t, EntityPersons, StrategySkip, personsCSV(3))

	job := f.run(t)

	if job.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", job.Status)
	}
	if job.Errored != 3 || job.Succeeded != 0 {
		t.Errorf("errored %d succeeded %d, want 3/0", job.Errored, job.Succeeded)
	}
	assertCountsIdentity(t, job)
}

func TestOrchestrator_CancellationStopsWithinOneBatch(t *testing.T) {
	f := newFixture(t, map[string]string{})
	// Cancel as soon as the first batch checkpoint lands.
	f.store.cancelWhenProcessed = 50
	f.submit(t, EntityPersons, StrategySkip, personsCSV(120))

	job := f.run(t)

	if job.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
	if job.Processed != 50 {
		t.Errorf("processed = %d, want 50 (no further batches after cancel)", job.Processed)
	}
	if job.Processed >= job.TotalRows {
		t.Errorf("processed %d should be < total %d", job.Processed, job.TotalRows)
	}
}

func TestOrchestrator_CancelBeforeStartStaysFailed(t *testing.T) {
	f := newFixture(t, map[string]string{})
	f.submit(t, EntityPersons, StrategySkip, personsCSV(10))

	// Cancel while the job is still pending, before the runner picks it up.
	if err := f.store.Cancel(context.Background(), "job-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	job := f.run(t)

	if job.Status != StatusFailed {
		t.Fatalf("status = %q, want failed (cancelled job must not be resurrected)", job.Status)
	}
	if job.Processed != 0 {
		t.Errorf("processed = %d, want 0", job.Processed)
	}
	if len(f.writer.created) != 0 {
		t.Error("cancelled job must not write any rows")
	}
	if len(f.store.checkpoints) != 0 {
		t.Errorf("checkpoints = %v, want none", f.store.checkpoints)
	}
}

func TestOrchestrator_CancelDuringFinalBatchWins(t *testing.T) {
	f := newFixture(t, map[string]string{})
	// Cancel lands right after the last batch checkpoint, racing the
	// completion write.
	f.store.cancelWhenProcessed = 120
	f.submit(t, EntityPersons, StrategySkip, personsCSV(120))

	job := f.run(t)

	if job.Status != StatusFailed {
		t.Fatalf("status = %q, want failed (completion must not overwrite a cancel)", job.Status)
	}
	if job.Summary != nil {
		t.Errorf("summary = %+v, want none on a cancelled job", job.Summary)
	}
}

func TestOrchestrator_ErrorListCapped(t *testing.T) {
	f := newFixture(t, map[string]string{})
	f.writer.createErr = fmt.Errorf("boom")
	f.submit(t, EntityPersons, StrategySkip, personsCSV(1100))

	job := f.run(t)

	if job.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", job.Status)
	}
	if job.Errored != 1100 {
		t.Errorf("errored = %d, want 1100", job.Errored)
	}
	if len(job.Errors) != MaxStoredErrors {
		t.Errorf("stored errors = %d, want %d", len(job.Errors), MaxStoredErrors)
	}
}

func TestOrchestrator_CaseInsensitiveHeaders(t *testing.T) {
	f := newFixture(t, map[string]string{})
	file := []byte("FIRSTNAME,LastName,Gender,STATIONCODE\nAmina,Okello,female,ST-001\n")
	f.submit(t, EntityPersons, StrategySkip, file)

	job := f.run(t)

	if job.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed (errors: %v)", job.Status, job.Errors)
	}
	if job.Succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", job.Succeeded)
	}
}
