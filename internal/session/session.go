// Package session implements the Session & Tasks component: heartbeats,
// working-file tracking, the current task's step journal, and crash
// detection, all stored under reserved `_jm_*` scratchpad keys.
package session

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"justmemory/internal/errs"
	"justmemory/internal/logging"
	"justmemory/internal/store"
)

const (
	keyLastHeartbeat  = store.SessionKeyPrefix + "last_heartbeat"
	keySessionStart   = store.SessionKeyPrefix + "session_start"
	keyLastTool       = store.SessionKeyPrefix + "last_tool"
	keyWorkingFiles   = store.SessionKeyPrefix + "working_files"
	keyCurrentTask    = store.SessionKeyPrefix + "current_task"
	keyBriefingSeq    = store.SessionKeyPrefix + "briefing_seq"
	maxWorkingFiles   = 50
	staleHeartbeatAge = time.Minute
)

// Service is the Session & Tasks component, scoped to a single running
// process's session id.
type Service struct {
	db        *store.Store
	sessionID string
}

// New builds the Session & Tasks component with a freshly-generated
// session id for this process.
func New(db *store.Store) *Service {
	return &Service{db: db, sessionID: strings.ReplaceAll(uuid.New().String(), "-", "")}
}

// SessionID returns this process's session id, used for crash detection.
func (s *Service) SessionID() string { return s.sessionID }

type heartbeat struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Heartbeat records this process's liveness.
func (s *Service) Heartbeat(ctx context.Context, project string) error {
	hb := heartbeat{SessionID: s.sessionID, Timestamp: time.Now().UTC()}
	raw, _ := json.Marshal(hb)
	return s.db.SetScratchpad(ctx, project, keyLastHeartbeat, string(raw), nil)
}

// MarkSessionStart records the first-seen instant for this session, once.
func (s *Service) MarkSessionStart(ctx context.Context, project string) error {
	if _, err := s.db.GetScratchpad(ctx, project, keySessionStart); err == nil {
		return nil
	}
	raw, _ := json.Marshal(heartbeat{SessionID: s.sessionID, Timestamp: time.Now().UTC()})
	return s.db.SetScratchpad(ctx, project, keySessionStart, string(raw), nil)
}

// RecordToolCall logs a tool invocation and, for file-shaped tools, tracks
// the touched path in the deduped, capped working-files list.
func (s *Service) RecordToolCall(ctx context.Context, project, tool string, args map[string]any, success bool) error {
	argsJSON, _ := json.Marshal(args)
	if err := s.db.RecordToolCall(ctx, store.ToolCallLog{
		ID: strings.ReplaceAll(uuid.New().String(), "-", ""), ProjectID: project,
		ToolName: tool, Arguments: string(argsJSON), Success: success, Timestamp: time.Now().UTC(),
	}); err != nil {
		return err
	}

	raw, _ := json.Marshal(map[string]any{"tool": tool, "args": args, "at": time.Now().UTC()})
	if err := s.db.SetScratchpad(ctx, project, keyLastTool, string(raw), nil); err != nil {
		return err
	}

	if path := filePathFromArgs(args); path != "" {
		return s.appendWorkingFile(ctx, project, path)
	}
	return nil
}

func filePathFromArgs(args map[string]any) string {
	for _, key := range []string{"file_path", "path"} {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (s *Service) appendWorkingFile(ctx context.Context, project, path string) error {
	var files []string
	if entry, err := s.db.GetScratchpad(ctx, project, keyWorkingFiles); err == nil {
		_ = json.Unmarshal([]byte(entry.Value), &files)
	}
	for _, f := range files {
		if f == path {
			return nil
		}
	}
	files = append(files, path)
	if len(files) > maxWorkingFiles {
		files = files[len(files)-maxWorkingFiles:]
	}
	raw, _ := json.Marshal(files)
	return s.db.SetScratchpad(ctx, project, keyWorkingFiles, string(raw), nil)
}

// WorkingFiles returns the current session's deduped working-file list.
func (s *Service) WorkingFiles(ctx context.Context, project string) ([]string, error) {
	entry, err := s.db.GetScratchpad(ctx, project, keyWorkingFiles)
	if err != nil {
		return nil, nil
	}
	var files []string
	_ = json.Unmarshal([]byte(entry.Value), &files)
	return files, nil
}

// TaskStep is one entry in a task's step journal.
type TaskStep struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
}

// Task is the current task record, stored as a whole under
// _jm_current_task.
type Task struct {
	Description string     `json:"description"`
	TotalSteps  int        `json:"total_steps"`
	CurrentStep int        `json:"current_step"`
	Steps       []TaskStep `json:"steps"`
	StartedAt   time.Time  `json:"started_at"`
}

// SetTask replaces the current task.
func (s *Service) SetTask(ctx context.Context, project, description string, totalSteps int) (Task, error) {
	if description == "" {
		return Task{}, errs.New(errs.ValidationError, "task description must not be empty")
	}
	t := Task{Description: description, TotalSteps: totalSteps, StartedAt: time.Now().UTC()}
	if err := s.putTask(ctx, project, t); err != nil {
		return Task{}, err
	}
	return t, nil
}

// UpdateTask appends a step to the journal and advances the current step.
func (s *Service) UpdateTask(ctx context.Context, project string, stepIndex int, stepDescription string) (Task, error) {
	t, err := s.GetTask(ctx, project)
	if err != nil {
		return Task{}, err
	}
	t.Steps = append(t.Steps, TaskStep{Index: stepIndex, Description: stepDescription})
	t.CurrentStep = stepIndex
	if err := s.putTask(ctx, project, t); err != nil {
		return Task{}, err
	}
	return t, nil
}

// GetTask fetches the current task.
func (s *Service) GetTask(ctx context.Context, project string) (Task, error) {
	entry, err := s.db.GetScratchpad(ctx, project, keyCurrentTask)
	if err != nil {
		return Task{}, err
	}
	var t Task
	if err := json.Unmarshal([]byte(entry.Value), &t); err != nil {
		return Task{}, errs.Wrap(errs.SchemaError, err, "decode current task")
	}
	return t, nil
}

// ClearTask removes the current task.
func (s *Service) ClearTask(ctx context.Context, project string) error {
	err := s.db.DeleteScratchpad(ctx, project, keyCurrentTask)
	if errs.IsKind(err, errs.NotFound) {
		return nil
	}
	return err
}

func (s *Service) putTask(ctx context.Context, project string, t Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return errs.Wrap(errs.SchemaError, err, "encode task")
	}
	return s.db.SetScratchpad(ctx, project, keyCurrentTask, string(raw), nil)
}

// IncrementBriefingSeq returns the next value of the monotonic briefing
// sequence counter.
func (s *Service) IncrementBriefingSeq(ctx context.Context, project string) (int64, error) {
	var seq int64
	if entry, err := s.db.GetScratchpad(ctx, project, keyBriefingSeq); err == nil {
		seq, _ = strconv.ParseInt(entry.Value, 10, 64)
	}
	seq++
	if err := s.db.SetScratchpad(ctx, project, keyBriefingSeq, strconv.FormatInt(seq, 10), nil); err != nil {
		return 0, err
	}
	return seq, nil
}

// ClearSessionState removes every `_jm_*` key for project.
func (s *Service) ClearSessionState(ctx context.Context, project string) error {
	return s.db.ClearSessionState(ctx, project)
}

// CrashReport is the outcome of checking the last heartbeat against this
// session's own id.
type CrashReport struct {
	Crashed       bool
	LastHeartbeat time.Time
}

// CheckCrash implements the crash-detection rule from Section 4.8:
// if the last heartbeat belongs to a different session id and is older
// than the staleness threshold, the prior session is reported crashed.
// Corrupt JSON is treated as non-crashed.
func (s *Service) CheckCrash(ctx context.Context, project string) CrashReport {
	entry, err := s.db.GetScratchpad(ctx, project, keyLastHeartbeat)
	if err != nil {
		return CrashReport{}
	}
	var hb heartbeat
	if err := json.Unmarshal([]byte(entry.Value), &hb); err != nil {
		logging.SessionDebug("corrupt heartbeat JSON for project %s, treating as non-crashed", project)
		return CrashReport{}
	}
	if hb.SessionID == s.sessionID {
		return CrashReport{}
	}
	if time.Since(hb.Timestamp) >= staleHeartbeatAge {
		return CrashReport{Crashed: true, LastHeartbeat: hb.Timestamp}
	}
	return CrashReport{}
}
