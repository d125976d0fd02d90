package bling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"blingsync/internal/config"
	apperrors "blingsync/internal/errors"
	"blingsync/internal/events"
	"blingsync/internal/logger"
	"blingsync/internal/models"
	"blingsync/internal/repository"
	blingapi "blingsync/internal/services/bling"
)

// Connector runs the Bling to database sync: list pages, gate and fetch
// details, map, upsert, and record the run.
type Connector struct {
	config      *config.Config
	client      *blingapi.Client
	fetcher     *blingapi.Fetcher
	transformer *blingapi.Transformer
	db          *gorm.DB
	runs        *repository.RunLog
	publisher   events.Publisher
	logger      *logger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg *config.Config, client *blingapi.Client, db *gorm.DB, publisher events.Publisher, logger *logger.Logger) *Connector {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Connector{
		config:      cfg,
		client:      client,
		fetcher:     blingapi.NewFetcher(client, cfg.PageSize, cfg.DelayOK, logger),
		transformer: blingapi.NewTransformer(cfg.ProductTypeFilter, cfg.ProductFormat, logger),
		db:          db,
		runs:        repository.NewRunLog(db),
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
		sleep:       sleep,
	}
}

// resourceSync binds one Bling resource to its record type.
type resourceSync[T models.Record] struct {
	resource  blingapi.Resource
	eventType string
	transform func(raw map[string]interface{}) (T, error)
	detail    func(ctx context.Context, id int64) (map[string]interface{}, error)
}

// Run syncs the named resources in order. It stops at the first fatal error;
// partial runs are not errors.
func (c *Connector) Run(ctx context.Context, resources []string, trigger string) ([]*models.SyncRun, error) {
	var runs []*models.SyncRun
	for _, name := range resources {
		var (
			run *models.SyncRun
			err error
		)
		switch name {
		case blingapi.ResourceProducts:
			run, err = c.SyncProducts(ctx, trigger)
		case blingapi.ResourceContacts:
			run, err = c.SyncContacts(ctx, trigger)
		default:
			return runs, apperrors.Newf(apperrors.ErrConfig, "unknown resource %q", name)
		}
		if run != nil {
			runs = append(runs, run)
		}
		if err != nil {
			return runs, err
		}
	}
	return runs, nil
}

func (c *Connector) SyncProducts(ctx context.Context, trigger string) (*models.SyncRun, error) {
	return syncResource(ctx, c, resourceSync[models.Product]{
		resource:  blingapi.ProductsResource(c.config.ProductTypeFilter, c.config.ProductStatus),
		eventType: events.TypeProductUpserted,
		transform: c.transformer.TransformProduct,
		detail:    c.client.GetProduct,
	}, trigger)
}

func (c *Connector) SyncContacts(ctx context.Context, trigger string) (*models.SyncRun, error) {
	return syncResource(ctx, c, resourceSync[models.Customer]{
		resource:  blingapi.ContactsResource(),
		eventType: events.TypeCustomerUpserted,
		transform: c.transformer.TransformCustomer,
		detail:    c.client.GetContact,
	}, trigger)
}

func syncResource[T models.Record](ctx context.Context, c *Connector, rs resourceSync[T], trigger string) (*models.SyncRun, error) {
	run := c.startRun(ctx, rs.resource.Name, trigger)
	c.logger.Info("Starting %s sync (run %s)", rs.resource.Name, run.ID)

	up := repository.NewUpserter[T](c.db, c.config.UpsertBatchSize, c.logger)
	up.OnCommit(func(ctx context.Context, records []T) {
		publishRecords(ctx, c, rs.eventType, run.ID, records)
	})

	var runErr error
	pager := c.fetcher.Pages(rs.resource)
	for pager.Next(ctx) {
		run.PagesFetched++
		if err := processPage(ctx, c, rs, up, run, pager.Items()); err != nil {
			runErr = err
			break
		}
	}
	// Rows already mapped are kept on interrupt or auth failure; only a
	// broken database skips the flush.
	if !apperrors.Is(runErr, apperrors.ErrPersistence) {
		if err := up.Flush(context.WithoutCancel(ctx)); err != nil && apperrors.Fatal(err) && runErr == nil {
			runErr = err
		}
	}

	listErr := pager.Err()
	if runErr == nil && listErr != nil && stops(ctx, listErr) {
		runErr = listErr
	}

	stats := up.Stats()
	run.Written = stats.Written
	run.Failed = stats.Failed
	switch {
	case runErr != nil:
		run.Status = models.SyncRunFailed
		run.Error = runErr.Error()
	case listErr != nil:
		run.Status = models.SyncRunPartial
		run.Error = listErr.Error()
	case stats.Failed > 0:
		run.Status = models.SyncRunPartial
	default:
		run.Status = models.SyncRunCompleted
	}

	c.finishRun(run)
	c.logger.WithFields(map[string]interface{}{
		"run_id":   run.ID,
		"resource": run.Resource,
		"status":   run.Status,
	}).Info("Finished %s sync: pages=%d processed=%d written=%d skipped=%d failed=%d details ok=%d skipped=%d failed=%d",
		run.Resource, run.PagesFetched, run.Processed, run.Written, run.Skipped, run.Failed,
		run.DetailsFetched, run.DetailsSkipped, run.DetailsFailed)

	return run, runErr
}

// processPage maps one page, fetches details for rows that need them and
// hands everything to the upserter.
func processPage[T models.Record](ctx context.Context, c *Connector, rs resourceSync[T], up *repository.Upserter[T], run *models.SyncRun, items []map[string]interface{}) error {
	records := make([]T, 0, len(items))
	ids := make([]int64, 0, len(items))
	for _, raw := range items {
		run.Processed++
		rec, err := rs.transform(raw)
		if err != nil {
			if !errors.Is(err, blingapi.ErrSkip) {
				c.logger.Warn("Could not map %s item: %v", rs.resource.Name, err)
			}
			run.Skipped++
			continue
		}
		records = append(records, rec)
		ids = append(ids, rec.ExternalID())
	}

	// Freshness is read before this page is written.
	snap, err := up.Snapshot(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("Could not read stored %s rows, fetching details for the whole page: %v", rs.resource.Name, err)
		snap = map[int64]repository.Freshness{}
	}

	now := c.now()
	for _, rec := range records {
		id := rec.ExternalID()
		f, found := snap[id]

		enriched := false
		if repository.NeedsDetails(f, found, now, c.config.DetailsMaxAge) {
			full, err := fetchDetail(ctx, c, rs, run, id)
			switch {
			case errors.Is(err, blingapi.ErrSkip):
				run.Skipped++
				continue
			case err != nil && stops(ctx, err):
				return err
			case err != nil:
				run.DetailsFailed++
				c.logger.Warn("Details for %s %d unavailable, keeping list data: %v", rs.resource.Name, id, err)
			default:
				rec = full
				enriched = true
				run.DetailsFetched++
			}
		} else {
			run.DetailsSkipped++
		}

		if !enriched {
			models.StripDetail(&rec)
		}
		if err := up.Add(ctx, rec, enriched); err != nil && stops(ctx, err) {
			return err
		}
	}
	return nil
}

func fetchDetail[T models.Record](ctx context.Context, c *Connector, rs resourceSync[T], run *models.SyncRun, id int64) (T, error) {
	var zero T
	if run.DetailsFetched+run.DetailsFailed > 0 && c.config.DetailDelay > 0 {
		if err := c.sleep(ctx, c.config.DetailDelay); err != nil {
			return zero, err
		}
	}

	raw, err := rs.detail(ctx, id)
	if err != nil {
		return zero, err
	}
	rec, err := rs.transform(raw)
	if err != nil {
		if errors.Is(err, blingapi.ErrSkip) {
			return zero, err
		}
		return zero, apperrors.Wrap(apperrors.ErrDataShape, "map detail", err)
	}
	if rec.ExternalID() != id {
		return zero, apperrors.Newf(apperrors.ErrDataShape, "detail for %d returned id %d", id, rec.ExternalID())
	}
	return rec, nil
}

func publishRecords[T models.Record](ctx context.Context, c *Connector, eventType, runID string, records []T) {
	batch := make([]events.Event, 0, len(records))
	for _, r := range records {
		e, err := events.New(eventType, r.EventKey(), r)
		if err != nil {
			c.logger.Warn("Could not encode %s event for %s: %v", eventType, r.EventKey(), err)
			continue
		}
		e.RunID = runID
		batch = append(batch, e)
	}
	if err := c.publisher.Publish(ctx, batch...); err != nil {
		c.logger.Warn("Publishing %d %s events failed: %v", len(batch), eventType, err)
	}
}

func (c *Connector) startRun(ctx context.Context, resource, trigger string) *models.SyncRun {
	run, err := c.runs.Start(ctx, resource, trigger)
	if err != nil {
		c.logger.Warn("Could not record %s run start: %v", resource, err)
		return &models.SyncRun{
			ID:        uuid.New().String(),
			Resource:  resource,
			Trigger:   trigger,
			Status:    models.SyncRunRunning,
			StartedAt: time.Now().UTC(),
		}
	}
	return run
}

func (c *Connector) finishRun(run *models.SyncRun) {
	if err := c.runs.Finish(run); err != nil {
		c.logger.Warn("Could not record %s run %s: %v", run.Resource, run.ID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e, err := events.New(events.TypeSyncCompleted, run.Resource, run)
	if err != nil {
		return
	}
	e.RunID = run.ID
	if err := c.publisher.Publish(ctx, e); err != nil {
		c.logger.Warn("Publishing %s for run %s failed: %v", events.TypeSyncCompleted, run.ID, err)
	}
}

// stops reports whether err ends the run instead of being counted.
func stops(ctx context.Context, err error) bool {
	return apperrors.Fatal(err) || ctx.Err() != nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
