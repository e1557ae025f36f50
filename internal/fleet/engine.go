package fleet

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/catherinevee/driftcert/internal/classifier"
	"github.com/catherinevee/driftcert/internal/concurrency"
	"github.com/catherinevee/driftcert/internal/forge"
	"github.com/catherinevee/driftcert/internal/logger"
	"github.com/catherinevee/driftcert/internal/models"
	"github.com/catherinevee/driftcert/internal/store"
)

const rosterHashKey = "roster_hash"

// SyncResult summarises one reconciliation pass
type SyncResult struct {
	NoOp            bool
	Added           int
	Updated         int
	Unchanged       int
	Reactivated     int
	Deactivated     int
	BranchesCreated int
	Errors          []string
}

// Engine reconciles the service registry with the declarative roster and
// materialises missing golden baselines.
type Engine struct {
	log        logger.Logger
	store      *store.Store
	forge      forge.Client
	masterPath string
	detailPath string
}

func NewEngine(st *store.Store, fc forge.Client, masterPath, detailPath string) *Engine {
	return &Engine{
		log:        logger.New("fleet-sync"),
		store:      st,
		forge:      fc,
		masterPath: masterPath,
		detailPath: detailPath,
	}
}

// Sync runs one full reconciliation. An unchanged roster over a registry
// with complete baselines short-circuits to a no-op.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	roster, err := LoadRoster(e.masterPath, e.detailPath)
	if err != nil {
		return nil, err
	}

	noop, err := e.isNoOp(ctx, roster)
	if err != nil {
		return nil, err
	}
	if noop {
		e.log.Info("roster unchanged and baselines complete, skipping sync")
		return &SyncResult{NoOp: true}, nil
	}

	result := &SyncResult{}
	existing, err := e.loadExisting(ctx)
	if err != nil {
		return nil, err
	}

	var pending []*models.Service
	rosterGroups := make(map[string]bool)

	for _, group := range roster.Master.Groups {
		if !group.IsEnabled() {
			continue
		}
		rosterGroups[group.Name] = true

		work, err := e.syncGroup(ctx, roster, group, existing, result)
		if err != nil {
			e.log.Error("group sync failed",
				logger.String("group", group.Name), logger.Err(err))
			result.Errors = append(result.Errors, fmt.Sprintf("group %s: %v", group.Name, err))
			continue
		}
		pending = append(pending, work...)
	}

	e.reconcileRemovals(ctx, roster, rosterGroups, existing, result)

	created, errs := e.materialiseBaselines(ctx, roster, pending)
	result.BranchesCreated = created
	result.Errors = append(result.Errors, errs...)

	if len(result.Errors) == 0 {
		if err := e.store.SetSyncValue(ctx, rosterHashKey, roster.Hash); err != nil {
			return result, fmt.Errorf("failed to persist roster hash: %w", err)
		}
	}

	e.log.Info("fleet sync complete",
		logger.Int("added", result.Added),
		logger.Int("updated", result.Updated),
		logger.Int("unchanged", result.Unchanged),
		logger.Int("deactivated", result.Deactivated),
		logger.Int("branches_created", result.BranchesCreated),
		logger.Int("errors", len(result.Errors)))

	return result, nil
}

// isNoOp checks the roster hash fast path: same hash, a populated registry,
// every roster group known, and every active service holding at least one
// active golden branch.
func (e *Engine) isNoOp(ctx context.Context, roster *Roster) (bool, error) {
	stored, err := e.store.GetSyncValue(ctx, rosterHashKey)
	if err != nil || stored != roster.Hash {
		return false, err
	}

	total, _, err := e.store.CountServices(ctx)
	if err != nil || total == 0 {
		return false, err
	}

	known, err := e.store.ListGroups(ctx)
	if err != nil {
		return false, err
	}
	knownSet := make(map[string]bool, len(known))
	for _, g := range known {
		knownSet[g] = true
	}
	for _, g := range roster.Master.Groups {
		if g.IsEnabled() && !knownSet[g.Name] {
			return false, nil
		}
	}

	services, err := e.store.ListServices(ctx, true)
	if err != nil {
		return false, err
	}
	for _, svc := range services {
		ok, err := e.store.HasActiveGolden(ctx, svc.ServiceID, svc.Environments)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (e *Engine) loadExisting(ctx context.Context) (map[string]*models.Service, error) {
	services, err := e.store.ListServices(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	out := make(map[string]*models.Service, len(services))
	for _, svc := range services {
		out[svc.ServiceID] = svc
	}
	return out, nil
}

// syncGroup discovers one group's projects and upserts the surviving ones.
// It returns the services whose baselines still need materialising.
func (e *Engine) syncGroup(ctx context.Context, roster *Roster, group RosterGroup, existing map[string]*models.Service, result *SyncResult) ([]*models.Service, error) {
	settings := roster.settingsFor(group.Name)

	projects, err := e.forge.ListGroupProjects(ctx, group.Name)
	if err != nil {
		return nil, err
	}

	filtered := make([]models.Project, 0, len(projects))
	for _, p := range projects {
		if p.Archived || !matchesFilters(p.PathWithNS, settings.IncludePatterns, settings.ExcludePatterns) {
			continue
		}
		filtered = append(filtered, p)
	}

	withBranch, err := e.forge.FilterProjectsWithBranch(ctx, filtered, settings.MainBranch)
	if err != nil {
		return nil, err
	}

	var pending []*models.Service
	for _, project := range withBranch {
		svc := &models.Service{
			ServiceID:    ServiceID(project.PathWithNS),
			DisplayName:  project.Name,
			RepoURL:      project.HTTPURLToRepo,
			MainBranch:   settings.MainBranch,
			Environments: settings.Environments,
			ConfigPaths:  settings.ConfigPaths,
			Group:        group.Name,
			Active:       true,
		}

		prev, known := existing[svc.ServiceID]
		switch {
		case !known:
			result.Added++
		case !prev.Active:
			result.Reactivated++
		case prev.RepoURL == svc.RepoURL && prev.MainBranch == svc.MainBranch:
			result.Unchanged++
		default:
			result.Updated++
		}

		if err := e.store.UpsertService(ctx, svc); err != nil {
			return nil, fmt.Errorf("failed to upsert %s: %w", svc.ServiceID, err)
		}

		complete, err := e.store.HasActiveGolden(ctx, svc.ServiceID, svc.Environments)
		if err != nil {
			return nil, err
		}
		if !complete {
			pending = append(pending, svc)
		}
	}
	return pending, nil
}

// reconcileRemovals soft-deletes groups that left the roster, gated on the
// minimum-services threshold and the maximum delete percentage.
func (e *Engine) reconcileRemovals(ctx context.Context, roster *Roster, rosterGroups map[string]bool, existing map[string]*models.Service, result *SyncResult) {
	known, err := e.store.ListGroups(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list groups: %v", err))
		return
	}

	var stale []string
	staleServices := 0
	for _, group := range known {
		if rosterGroups[group] {
			continue
		}
		stale = append(stale, group)
		for _, svc := range existing {
			if svc.Group == group && svc.Active {
				staleServices++
			}
		}
	}
	if len(stale) == 0 {
		return
	}

	_, active, err := e.store.CountServices(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("count services: %v", err))
		return
	}

	if active-staleServices < roster.Detail.Sync.MinServicesThreshold {
		e.log.Warn("skipping group cleanup, would drop below minimum services",
			logger.Int("stale_services", staleServices),
			logger.Int("min_services", roster.Detail.Sync.MinServicesThreshold))
		return
	}
	if active > 0 && float64(staleServices)/float64(active)*100 > roster.Detail.Sync.MaxDeletePercentage {
		e.log.Warn("skipping group cleanup, delete percentage exceeds limit",
			logger.Int("stale_services", staleServices),
			logger.Int("active", active))
		return
	}

	for _, group := range stale {
		n, err := e.store.DeactivateGroup(ctx, group)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("deactivate %s: %v", group, err))
			continue
		}
		result.Deactivated += int(n)
		e.log.Info("deactivated group",
			logger.String("group", group), logger.Int("services", int(n)))
	}
}

// materialiseBaselines creates the missing golden branches: one complete
// snapshot plus one env-filtered branch per environment, fanning out over a
// bounded pool of services with a nested bound on branch creation.
func (e *Engine) materialiseBaselines(ctx context.Context, roster *Roster, services []*models.Service) (int, []string) {
	if len(services) == 0 {
		return 0, nil
	}

	var mu sync.Mutex
	created := 0
	var errs []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultServiceWorkers)

	for _, svc := range services {
		svc := svc
		g.Go(func() error {
			n, err := e.materialiseService(gctx, roster, svc)
			mu.Lock()
			created += n
			if err != nil {
				errs = append(errs, fmt.Sprintf("service %s: %v", svc.ServiceID, err))
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return created, errs
}

func (e *Engine) materialiseService(ctx context.Context, roster *Roster, svc *models.Service) (int, error) {
	sem := concurrency.NewSemaphore(roster.Detail.Sync.MaxBranchWorkers)

	targets := append([]string{classifier.EnvGlobal}, svc.Environments...)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	var firstErr error

	for _, env := range targets {
		if err := sem.AcquireCtx(ctx); err != nil {
			return created, err
		}
		wg.Add(1)
		go func(env string) {
			defer wg.Done()
			defer sem.Release()

			envFilter := env
			if env == classifier.EnvGlobal {
				envFilter = ""
			}
			name := forge.BranchName(models.BranchGolden, env)
			if err := e.forge.CreateOrphanBranch(ctx, svc.RepoURL, svc.MainBranch, name, svc.ConfigPaths, envFilter); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			gb := &models.GoldenBranch{
				ServiceID:   svc.ServiceID,
				Environment: env,
				BranchName:  name,
				BranchType:  models.BranchGolden,
				IsActive:    true,
				CreatedAt:   time.Now().UTC(),
			}
			if err := e.store.SetActiveGoldenBranch(ctx, gb); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			mu.Lock()
			created++
			mu.Unlock()
		}(env)
	}
	wg.Wait()
	return created, firstErr
}

// ServiceID derives the registry key from the forge namespace path as
// {group}_{project_path}. Subgroup separators inside the project path
// collapse to dashes so the id stays a single flat token.
func ServiceID(pathWithNamespace string) string {
	group, rest, found := strings.Cut(pathWithNamespace, "/")
	if !found {
		return group
	}
	return group + "_" + strings.ReplaceAll(rest, "/", "-")
}

func matchesFilters(path string, include, exclude []string) bool {
	for _, pattern := range exclude {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pattern := range include {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}
