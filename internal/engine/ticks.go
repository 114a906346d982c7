package engine

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/federata/federata/internal/catalog"
)

// extractTick runs one extraction over every writable group database,
// fanning out across members while serializing per member
func (e *Engine) extractTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, e.extractInterval)
	defer cancel()

	writable, err := e.store.ListWritableGroupDatabases(tickCtx)
	if err != nil {
		e.logger.Errorf("Failed to list writable group databases: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, gd := range writable {
		wg.Add(1)
		go func(gd catalog.GroupDatabase) {
			defer wg.Done()
			mu := e.locks.get(gd.MemberID + "/extract")
			mu.Lock()
			defer mu.Unlock()

			if _, err := e.extractor.Extract(tickCtx, gd); err != nil {
				e.handleMemberError(tickCtx, gd.MemberID, err)
				e.logger.Errorf("Extraction failed for group database %s: %v", gd.ID, err)
			}
		}(gd)
	}
	wg.Wait()
}

// applyTick applies pending obligations on every group database holding
// some, serializing applies per member
func (e *Engine) applyTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, e.applyInterval)
	defer cancel()

	readable, err := e.store.ListGroupDatabasesWithPending(tickCtx)
	if err != nil {
		e.logger.Errorf("Failed to list group databases with pending work: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, gd := range readable {
		wg.Add(1)
		go func(gd catalog.GroupDatabase) {
			defer wg.Done()
			mu := e.locks.get(gd.MemberID + "/apply")
			mu.Lock()
			defer mu.Unlock()

			if err := e.merger.ApplyPending(tickCtx, gd); err != nil {
				e.handleMemberError(tickCtx, gd.MemberID, err)
				e.logger.Errorf("Apply failed for group database %s: %v", gd.ID, err)
			}
		}(gd)
	}
	wg.Wait()
}

// retentionTick garbage-collects extraction archives whose obligations have
// all been applied: those older than retention.max_age, and beyond
// retention.max_count per source. A zero setting disables that bound.
// Extractions with unapplied obligations are never collected.
func (e *Engine) retentionTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, e.retentionInterval)
	defer cancel()

	maxAge := e.cfg.GetDuration("retention.max_age", 0)
	if maxAge > 0 {
		expired, err := e.store.ExpiredExtractions(tickCtx, time.Now().UTC().Add(-maxAge))
		if err != nil {
			e.logger.Errorf("Failed to list expired extractions: %v", err)
		} else {
			e.removeExtractions(tickCtx, expired)
		}
	}

	maxCount := e.cfg.GetInt("retention.max_count", 0)
	if maxCount > 0 {
		surplus, err := e.store.SurplusExtractions(tickCtx, maxCount)
		if err != nil {
			e.logger.Errorf("Failed to list surplus extractions: %v", err)
		} else {
			e.removeExtractions(tickCtx, surplus)
		}
	}
}

func (e *Engine) removeExtractions(ctx context.Context, extractions []catalog.GroupExtraction) {
	for _, ext := range extractions {
		if err := os.Remove(ext.FilePath); err != nil && !os.IsNotExist(err) {
			e.logger.Errorf("Failed to remove archive %s: %v", ext.FilePath, err)
			continue
		}
		if err := e.store.DeleteExtraction(ctx, ext.ID); err != nil {
			e.logger.Errorf("Failed to delete extraction %s: %v", ext.ID, err)
			continue
		}
		e.logger.Infof("Collected extraction %s (%s)", ext.ID, ext.FilePath)
	}
}
