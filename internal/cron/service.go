package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// parser accepts six-field expressions (with seconds), matching rcron.WithSeconds.
var parser = rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

// Job is an internal maintenance task run on a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) (string, error)
}

// JobState is the persisted record of a job's last run.
type JobState struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	Runs       int       `json:"runs"`
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	LastStatus string    `json:"lastStatus,omitempty"`
	LastResult string    `json:"lastResult,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
}

type entry struct {
	job     Job
	state   JobState
	entryID rcron.EntryID
	running bool
}

type Service struct {
	statePath string
	mu        sync.Mutex
	jobs      map[string]*entry
	cron      *rcron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	stopCh    chan struct{}
}

// NewService creates a scheduler that records job state in statePath. An
// empty path keeps state in memory only.
func NewService(statePath string) *Service {
	return &Service{
		statePath: statePath,
		jobs:      make(map[string]*entry),
	}
}

// AddJob registers job, scheduling it immediately when the service is running.
func (s *Service) AddJob(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}
	if _, err := parser.Parse(job.Schedule); err != nil {
		return fmt.Errorf("parse schedule %q for job %s: %w", job.Schedule, job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	e := &entry{job: job, state: JobState{Name: job.Name, Schedule: job.Schedule}}
	if prev, ok := s.loadState()[job.Name]; ok {
		e.state = prev
		e.state.Schedule = job.Schedule
	}
	s.jobs[job.Name] = e
	if s.cron != nil {
		s.register(e)
	}
	return nil
}

func (s *Service) register(e *entry) {
	name := e.job.Name
	id, err := s.cron.AddFunc(e.job.Schedule, func() {
		s.execute(s.runContext(), name)
	})
	if err != nil {
		log.Printf("[cron] failed to register job %s (%s): %v", name, e.job.Schedule, err)
		return
	}
	e.entryID = id
}

func (s *Service) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	s.mu.Lock()
	s.ctx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	s.cron = rcron.New(rcron.WithParser(parser))
	for _, e := range s.jobs {
		s.register(e)
	}
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("[cron] started with %d jobs", n)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	c := s.cron
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	close(stopCh)

	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[cron] stop timeout waiting for running jobs")
		}
	}
	log.Printf("[cron] stopped")
}

// RemoveJob unschedules and forgets the named job.
func (s *Service) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return false
	}
	if s.cron != nil && e.entryID != 0 {
		s.cron.Remove(e.entryID)
	}
	delete(s.jobs, name)
	return true
}

// ListJobs returns job states sorted by name.
func (s *Service) ListJobs() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobState, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunNow executes the named job synchronously.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	return s.execute(ctx, name)
}

// execute runs a job unless a previous run of it is still in progress.
func (s *Service) execute(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %s not found", name)
	}
	if e.running {
		s.mu.Unlock()
		log.Printf("[cron] job %s still running, skipping", name)
		return nil
	}
	e.running = true
	run := e.job.Run
	s.mu.Unlock()

	log.Printf("[cron] executing job %s", name)
	result, err := run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	e.running = false
	e.state.Runs++
	e.state.LastRunAt = time.Now()
	if err != nil {
		e.state.LastStatus = "error"
		e.state.LastError = err.Error()
		e.state.LastResult = ""
		log.Printf("[cron] job %s error: %v", name, err)
	} else {
		e.state.LastStatus = "ok"
		e.state.LastError = ""
		e.state.LastResult = truncate(result, 200)
		log.Printf("[cron] job %s result: %s", name, truncate(result, 100))
	}
	if saveErr := s.save(); saveErr != nil {
		log.Printf("[cron] warning: failed to save job state: %v", saveErr)
	}
	return err
}

// LoadState reads the job states recorded at path. A missing file yields none.
func LoadState(path string) ([]JobState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var states []JobState
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("parse job state: %w", err)
	}
	return states, nil
}

func (s *Service) loadState() map[string]JobState {
	out := make(map[string]JobState)
	if s.statePath == "" {
		return out
	}
	states, err := LoadState(s.statePath)
	if err != nil {
		log.Printf("[cron] warning: failed to load job state: %v", err)
		return out
	}
	for _, st := range states {
		out[st.Name] = st
	}
	return out
}

func (s *Service) save() error {
	if s.statePath == "" {
		return nil
	}
	states := make([]JobState, 0, len(s.jobs))
	for _, e := range s.jobs {
		states = append(states, e.state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })

	if err := os.MkdirAll(filepath.Dir(s.statePath), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.statePath, data, 0644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
