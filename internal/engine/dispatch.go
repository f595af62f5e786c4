package engine

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"justmemory/internal/errs"
	"justmemory/internal/graph"
	"justmemory/internal/search"
	"justmemory/internal/store"
)

// Call dispatches a single tool invocation by name, the same shape every
// caller across the process boundary uses: a tool name plus a loosely typed
// parameter bag in, a result or a wire error out. It never panics on bad
// input — every failure comes back as an *errs.Error a caller can match on
// by Kind.
func (e *Engine) Call(ctx context.Context, tool string, params map[string]any) (any, error) {
	e.Touch()

	switch tool {
	// Memory
	case "memory_store":
		return e.callMemoryStore(ctx, params)
	case "memory_recall":
		return e.callMemoryRecall(ctx, params)
	case "memory_update":
		return e.callMemoryUpdate(ctx, params)
	case "memory_delete":
		return e.callMemoryDelete(ctx, params)
	case "memory_list":
		return e.callMemoryList(ctx, params)
	case "memory_search":
		return e.callMemorySearch(ctx, params)
	case "memory_stats":
		return e.callMemoryStats(ctx, params)
	case "memory_suggest":
		return e.callMemorySuggest(ctx, params)
	case "memory_find_contradictions":
		return e.callMemoryFindContradictions(ctx, params)

	// Confidence
	case "memory_confirm":
		return e.callConfirm(ctx, params)
	case "memory_contradict":
		return e.callContradict(ctx, params)

	// Graph
	case "memory_edge_create":
		return e.callEdgeCreate(ctx, params)
	case "memory_edge_query":
		return e.callEdgeQuery(ctx, params)
	case "memory_edge_invalidate":
		return e.callEdgeInvalidate(ctx, params)
	case "memory_graph_traverse":
		return e.callGraphTraverse(ctx, params)
	case "memory_search_contextual":
		return e.callSearchContextual(ctx, params)

	// Entities
	case "memory_entity_create":
		return e.callEntityCreate(ctx, params)
	case "memory_entity_get":
		return e.callEntityGet(ctx, params)
	case "memory_entity_link":
		return e.callEntityLink(ctx, params)
	case "memory_entity_search":
		return e.callEntitySearch(ctx, params)
	case "memory_entity_observe":
		return e.callEntityObserve(ctx, params)
	case "memory_entity_delete":
		return e.callEntityDelete(ctx, params)
	case "memory_entity_type_define":
		return e.callEntityTypeDefine(ctx, params)
	case "memory_entity_type_hierarchy":
		return e.callEntityTypeHierarchy(ctx, params)
	case "memory_entity_type_list":
		return e.callEntityTypeList(ctx, params)
	case "memory_entity_type_search_by_hierarchy":
		return e.callEntityTypeSearchByHierarchy(ctx, params)

	// Session
	case "memory_briefing":
		return e.callBriefing(ctx, params)
	case "memory_task_set":
		return e.callTaskSet(ctx, params)
	case "memory_task_update":
		return e.callTaskUpdate(ctx, params)
	case "memory_task_get":
		return e.callTaskGet(ctx, params)
	case "memory_task_clear":
		return e.callTaskClear(ctx, params)
	case "memory_scratch_set":
		return e.callScratchSet(ctx, params)
	case "memory_scratch_get":
		return e.callScratchGet(ctx, params)
	case "memory_scratch_delete":
		return e.callScratchDelete(ctx, params)
	case "memory_scratch_list":
		return e.callScratchList(ctx, params)
	case "memory_scratch_clear":
		return e.callScratchClear(ctx, params)
	case "memory_heartbeat":
		return e.callHeartbeat(ctx, params)

	// Contradictions
	case "memory_contradictions_scan":
		return e.callContradictionsScan(ctx, params)
	case "memory_contradictions_pending":
		return e.callContradictionsPending(ctx, params)
	case "memory_contradictions_resolve":
		return e.callContradictionsResolve(ctx, params)
	case "memory_contradictions_recalibrate":
		return e.callContradictionsRecalibrate(ctx, params)

	// Scheduler
	case "memory_scheduled_schedule":
		return e.callScheduledSchedule(ctx, params)
	case "memory_scheduled_list":
		return e.callScheduledList(ctx, params)
	case "memory_scheduled_check":
		return e.callScheduledCheck(ctx, params)
	case "memory_scheduled_complete":
		return e.callScheduledComplete(ctx, params)
	case "memory_scheduled_cancel":
		return e.callScheduledCancel(ctx, params)

	// Backup
	case "memory_backup_create":
		return e.callBackupCreate(ctx, params)
	case "memory_backup_restore":
		return e.callBackupRestore(ctx, params)
	case "memory_backup_list":
		return e.callBackupList(ctx, params)

	// Config
	case "memory_project_get":
		return e.callProjectGet(ctx, params)
	case "memory_project_set":
		return e.callProjectSet(ctx, params)
	case "memory_project_list":
		return e.callProjectList(ctx, params)

	default:
		return nil, unknownTool(tool)
	}
}

func (e *Engine) projectParam(params map[string]any) string {
	return optString(params, "project", e.CurrentProject())
}

// --- Memory ---

func (e *Engine) callMemoryStore(ctx context.Context, params map[string]any) (any, error) {
	content, err := requireString(params, "content")
	if err != nil {
		return nil, err
	}
	memType := optString(params, "type", "fact")
	tags := optStringSlice(params, "tags")
	importance := optFloat(params, "importance", 0.5)
	confidence := optFloat(params, "confidence", 0.8)
	return e.mem.Store(ctx, content, memType, tags, importance, confidence, e.projectParam(params))
}

func (e *Engine) callMemoryRecall(ctx context.Context, params map[string]any) (any, error) {
	id, err := requireString(params, "id")
	if err != nil {
		return nil, err
	}
	return e.mem.Recall(ctx, id, e.projectParam(params))
}

func (e *Engine) callMemoryUpdate(ctx context.Context, params map[string]any) (any, error) {
	id, err := requireString(params, "id")
	if err != nil {
		return nil, err
	}
	updates := optStringMap(params, "updates")
	return e.mem.Update(ctx, id, e.projectParam(params), updates)
}

func (e *Engine) callMemoryDelete(ctx context.Context, params map[string]any) (any, error) {
	id, err := requireString(params, "id")
	if err != nil {
		return nil, err
	}
	permanent := optBool(params, "permanent", false)
	if err := e.mem.Delete(ctx, id, e.projectParam(params), permanent); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": id}, nil
}

func (e *Engine) callMemoryList(ctx context.Context, params map[string]any) (any, error) {
	limit := optInt(params, "limit", 50)
	includeDeleted := optBool(params, "include_deleted", false)
	return e.mem.List(ctx, e.projectParam(params), limit, includeDeleted)
}

func (e *Engine) callMemorySearch(ctx context.Context, params map[string]any) (any, error) {
	query, err := requireString(params, "query")
	if err != nil {
		return nil, err
	}
	mode := search.Mode(optString(params, "mode", string(search.ModeHybrid)))
	limit := optInt(params, "limit", 10)
	minConfidence := optFloat(params, "min_confidence", 0)
	return e.srch.Search(ctx, mode, e.projectParam(params), query, limit, minConfidence)
}

func (e *Engine) callMemoryStats(ctx context.Context, params map[string]any) (any, error) {
	return e.brief.Stats(ctx, optString(params, "project", ""))
}

func (e *Engine) callMemorySuggest(ctx context.Context, params map[string]any) (any, error) {
	text, err := requireString(params, "text")
	if err != nil {
		return nil, err
	}
	limit := optInt(params, "limit", 0)
	return e.brief.SuggestFromContext(ctx, text, e.projectParam(params), limit)
}

func (e *Engine) callMemoryFindContradictions(ctx context.Context, params map[string]any) (any, error) {
	content, err := requireString(params, "content")
	if err != nil {
		return nil, err
	}
	existing, err := requireString(params, "existing_content")
	if err != nil {
		return nil, err
	}
	return e.contra.Compare(ctx, content, existing), nil
}

// --- Confidence ---

func (e *Engine) callConfirm(ctx context.Context, params map[string]any) (any, error) {
	id, err := requireString(params, "id")
	if err != nil {
		return nil, err
	}
	return e.mem.Confirm(ctx, id, e.projectParam(params))
}

func (e *Engine) callContradict(ctx context.Context, params map[string]any) (any, error) {
	id, err := requireString(params, "id")
	if err != nil {
		return nil, err
	}
	return e.mem.Contradict(ctx, id, e.projectParam(params))
}

// --- Graph ---

func (e *Engine) callEdgeCreate(ctx context.Context, params map[string]any) (any, error) {
	from, err := requireString(params, "from")
	if err != nil {
		return nil, err
	}
	to, err := requireString(params, "to")
	if err != nil {
		return nil, err
	}
	relationType, err := requireString(params, "relation_type")
	if err != nil {
		return nil, err
	}
	confidence := optFloat(params, "confidence", 1.0)
	metadata := optStringMap(params, "metadata")
	return e.grph.CreateEdge(ctx, from, to, relationType, confidence, metadata, e.projectParam(params))
}

func (e *Engine) callEdgeQuery(ctx context.Context, params map[string]any) (any, error) {
	memoryID, err := requireString(params, "memory_id")
	if err != nil {
		return nil, err
	}
	direction := store.EdgeDirection(optString(params, "direction", string(store.DirectionBoth)))
	includeInvalidated := optBool(params, "include_invalidated", false)
	return e.grph.QueryEdges(ctx, memoryID, e.projectParam(params), direction, includeInvalidated)
}

func (e *Engine) callEdgeInvalidate(ctx context.Context, params map[string]any) (any, error) {
	edgeID, err := requireString(params, "edge_id")
	if err != nil {
		return nil, err
	}
	if err := e.grph.InvalidateEdge(ctx, edgeID); err != nil {
		return nil, err
	}
	return map[string]any{"invalidated": edgeID}, nil
}

func (e *Engine) callGraphTraverse(ctx context.Context, params map[string]any) (any, error) {
	seed, err := requireString(params, "memory_id")
	if err != nil {
		return nil, err
	}
	p := activationParamsFrom(params)
	return e.srch.Spread(ctx, e.projectParam(params), []string{seed}, p)
}

func (e *Engine) callSearchContextual(ctx context.Context, params map[string]any) (any, error) {
	query, err := requireString(params, "query")
	if err != nil {
		return nil, err
	}
	limit := optInt(params, "limit", 10)
	p := activationParamsFrom(params)
	return e.srch.Contextual(ctx, e.projectParam(params), query, limit, p)
}

func activationParamsFrom(params map[string]any) search.ActivationParams {
	p := search.DefaultActivationParams()
	p.MaxHops = optInt(params, "max_hops", p.MaxHops)
	p.Decay = optFloat(params, "decay", p.Decay)
	return p
}

// --- Entities ---

func (e *Engine) callEntityCreate(ctx context.Context, params map[string]any) (any, error) {
	name, err := requireString(params, "name")
	if err != nil {
		return nil, err
	}
	entityType, err := requireString(params, "entity_type")
	if err != nil {
		return nil, err
	}
	observations := optStringSlice(params, "observations")
	return e.grph.CreateEntity(ctx, name, entityType, observations, e.projectParam(params))
}

func (e *Engine) callEntityGet(ctx context.Context, params map[string]any) (any, error) {
	name, err := requireString(params, "name")
	if err != nil {
		return nil, err
	}
	return e.grph.GetEntity(ctx, e.projectParam(params), name)
}

func (e *Engine) callEntityLink(ctx context.Context, params map[string]any) (any, error) {
	from, err := requireString(params, "from")
	if err != nil {
		return nil, err
	}
	to, err := requireString(params, "to")
	if err != nil {
		return nil, err
	}
	relationType, err := requireString(params, "relation_type")
	if err != nil {
		return nil, err
	}
	if err := e.grph.Link(ctx, from, relationType, to, e.projectParam(params)); err != nil {
		return nil, err
	}
	return map[string]any{"linked": true}, nil
}

func (e *Engine) callEntitySearch(ctx context.Context, params map[string]any) (any, error) {
	query := optString(params, "query", "")
	types := optStringSlice(params, "types")
	return e.grph.SearchEntities(ctx, e.projectParam(params), query, types)
}

func (e *Engine) callEntityObserve(ctx context.Context, params map[string]any) (any, error) {
	name, err := requireString(params, "name")
	if err != nil {
		return nil, err
	}
	entityType := optString(params, "entity_type", "")
	observations := optStringSlice(params, "observations")
	return e.grph.Observe(ctx, name, entityType, observations, e.projectParam(params))
}

func (e *Engine) callEntityDelete(ctx context.Context, params map[string]any) (any, error) {
	name, err := requireString(params, "name")
	if err != nil {
		return nil, err
	}
	if err := e.grph.DeleteEntity(ctx, e.projectParam(params), name); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": name}, nil
}

func (e *Engine) callEntityTypeDefine(ctx context.Context, params map[string]any) (any, error) {
	name, err := requireString(params, "name")
	if err != nil {
		return nil, err
	}
	description := optString(params, "description", "")
	var parent *string
	if p := optString(params, "parent", ""); p != "" {
		parent = &p
	}
	if err := e.grph.DefineEntityType(ctx, name, parent, description); err != nil {
		return nil, err
	}
	return map[string]any{"defined": name}, nil
}

func (e *Engine) callEntityTypeHierarchy(ctx context.Context, params map[string]any) (any, error) {
	name, err := requireString(params, "name")
	if err != nil {
		return nil, err
	}
	return e.grph.HierarchyOf(ctx, name)
}

func (e *Engine) callEntityTypeList(ctx context.Context, params map[string]any) (any, error) {
	return graph.DefaultEntityTypes, nil
}

func (e *Engine) callEntityTypeSearchByHierarchy(ctx context.Context, params map[string]any) (any, error) {
	entityType, err := requireString(params, "entity_type")
	if err != nil {
		return nil, err
	}
	query := optString(params, "query", "")
	return e.grph.SearchByTypeHierarchy(ctx, e.projectParam(params), entityType, query)
}

// --- Session ---

func (e *Engine) callBriefing(ctx context.Context, params map[string]any) (any, error) {
	return e.brief.Briefing(ctx, e.projectParam(params))
}

func (e *Engine) callTaskSet(ctx context.Context, params map[string]any) (any, error) {
	description, err := requireString(params, "description")
	if err != nil {
		return nil, err
	}
	totalSteps := optInt(params, "total_steps", 0)
	return e.sess.SetTask(ctx, e.projectParam(params), description, totalSteps)
}

func (e *Engine) callTaskUpdate(ctx context.Context, params map[string]any) (any, error) {
	stepIndex := optInt(params, "step_index", 0)
	stepDescription := optString(params, "step_description", "")
	return e.sess.UpdateTask(ctx, e.projectParam(params), stepIndex, stepDescription)
}

func (e *Engine) callTaskGet(ctx context.Context, params map[string]any) (any, error) {
	return e.sess.GetTask(ctx, e.projectParam(params))
}

func (e *Engine) callTaskClear(ctx context.Context, params map[string]any) (any, error) {
	if err := e.sess.ClearTask(ctx, e.projectParam(params)); err != nil {
		return nil, err
	}
	return map[string]any{"cleared": true}, nil
}

func (e *Engine) callScratchSet(ctx context.Context, params map[string]any) (any, error) {
	key, err := requireString(params, "key")
	if err != nil {
		return nil, err
	}
	value, err := requireString(params, "value")
	if err != nil {
		return nil, err
	}
	if err := e.db.SetScratchpad(ctx, e.projectParam(params), key, value, nil); err != nil {
		return nil, err
	}
	return map[string]any{"set": key}, nil
}

func (e *Engine) callScratchGet(ctx context.Context, params map[string]any) (any, error) {
	key, err := requireString(params, "key")
	if err != nil {
		return nil, err
	}
	return e.db.GetScratchpad(ctx, e.projectParam(params), key)
}

func (e *Engine) callScratchDelete(ctx context.Context, params map[string]any) (any, error) {
	key, err := requireString(params, "key")
	if err != nil {
		return nil, err
	}
	if err := e.db.DeleteScratchpad(ctx, e.projectParam(params), key); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": key}, nil
}

func (e *Engine) callScratchList(ctx context.Context, params map[string]any) (any, error) {
	hideReserved := optBool(params, "hide_reserved", true)
	return e.db.ListScratchpad(ctx, e.projectParam(params), hideReserved)
}

func (e *Engine) callScratchClear(ctx context.Context, params map[string]any) (any, error) {
	if err := e.db.ClearScratchpad(ctx, e.projectParam(params)); err != nil {
		return nil, err
	}
	return map[string]any{"cleared": true}, nil
}

func (e *Engine) callHeartbeat(ctx context.Context, params map[string]any) (any, error) {
	if err := e.sess.Heartbeat(ctx, e.projectParam(params)); err != nil {
		return nil, err
	}
	return map[string]any{"session_id": e.sess.SessionID()}, nil
}

// --- Contradictions ---

func (e *Engine) callContradictionsScan(ctx context.Context, params map[string]any) (any, error) {
	auto := optBool(params, "auto", false)
	n, err := e.contra.Scan(ctx, e.projectParam(params), auto)
	if err != nil {
		return nil, err
	}
	return map[string]any{"resolved": n}, nil
}

func (e *Engine) callContradictionsPending(ctx context.Context, params map[string]any) (any, error) {
	return e.contra.Pending(ctx, e.projectParam(params))
}

func (e *Engine) callContradictionsResolve(ctx context.Context, params map[string]any) (any, error) {
	id, err := requireString(params, "id")
	if err != nil {
		return nil, err
	}
	kind := store.ResolutionStatus(optString(params, "resolution", ""))
	if kind == "" {
		return nil, errs.New(errs.ValidationError, "missing required parameter %q", "resolution")
	}
	note := optString(params, "note", "")
	merged := optString(params, "merged_content", "")
	return e.contra.Resolve(ctx, id, kind, note, merged)
}

func (e *Engine) callContradictionsRecalibrate(ctx context.Context, params map[string]any) (any, error) {
	if err := e.contra.Recalibrate(ctx, e.projectParam(params)); err != nil {
		return nil, err
	}
	return map[string]any{"recalibrated": true}, nil
}

// --- Scheduler ---

func (e *Engine) callScheduledSchedule(ctx context.Context, params map[string]any) (any, error) {
	title, err := requireString(params, "title")
	if err != nil {
		return nil, err
	}
	description := optString(params, "description", "")
	schedule, err := requireString(params, "schedule")
	if err != nil {
		return nil, err
	}
	actionType := optString(params, "action_type", "")
	actionData := optStringMap(params, "action_data")
	return e.sched.Create(ctx, e.projectParam(params), title, description, schedule, actionType, actionData)
}

func (e *Engine) callScheduledList(ctx context.Context, params map[string]any) (any, error) {
	return e.sched.List(ctx, e.projectParam(params))
}

func (e *Engine) callScheduledCheck(ctx context.Context, params map[string]any) (any, error) {
	return e.sched.CheckDue(ctx, e.projectParam(params))
}

func (e *Engine) callScheduledComplete(ctx context.Context, params map[string]any) (any, error) {
	id, err := requireString(params, "id")
	if err != nil {
		return nil, err
	}
	if err := e.sched.Complete(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"completed": id}, nil
}

func (e *Engine) callScheduledCancel(ctx context.Context, params map[string]any) (any, error) {
	id, err := requireString(params, "id")
	if err != nil {
		return nil, err
	}
	if err := e.sched.Cancel(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"cancelled": id}, nil
}

// --- Backup ---

func (e *Engine) callBackupCreate(ctx context.Context, params map[string]any) (any, error) {
	path, err := e.db.Snapshot(ctx, e.cfg.BackupDir(), e.projectParam(params))
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": path}, nil
}

func (e *Engine) callBackupRestore(ctx context.Context, params map[string]any) (any, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return nil, err
	}
	mode := store.RestoreMode(optString(params, "mode", string(store.RestoreMerge)))
	return e.db.Restore(ctx, e.cfg.BackupDir(), path, mode)
}

func (e *Engine) callBackupList(ctx context.Context, params map[string]any) (any, error) {
	return listBackupFiles(e.cfg.BackupDir())
}

// listBackupFiles returns the backup directory's *.json artifacts, newest
// first. A missing backup directory (no backup taken yet) reports an empty
// list rather than an error.
func listBackupFiles(backupDir string) ([]string, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.NotAvailable, err, "list backup directory")
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// --- Config ---

func (e *Engine) callProjectGet(ctx context.Context, params map[string]any) (any, error) {
	return map[string]any{"project": e.projectParam(params)}, nil
}

func (e *Engine) callProjectSet(ctx context.Context, params map[string]any) (any, error) {
	name, err := requireString(params, "project")
	if err != nil {
		return nil, err
	}
	e.SetCurrentProject(name)
	return map[string]any{"project": name}, nil
}

func (e *Engine) callProjectList(ctx context.Context, params map[string]any) (any, error) {
	return e.db.ListDistinctProjects(ctx)
}
