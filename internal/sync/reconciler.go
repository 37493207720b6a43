package sync

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rainman19121979/spoolsync/internal/client"
	"github.com/rainman19121979/spoolsync/internal/models"
	"github.com/rainman19121979/spoolsync/internal/store"
)

// InvAPI is the Inv surface the reconciler consumes.
type InvAPI interface {
	ListSpools(ctx context.Context) ([]client.InvSpool, error)
	ListFilaments(ctx context.Context) ([]client.InvFilament, error)
	ListVendors(ctx context.Context) ([]client.InvVendor, error)
	CreateVendor(ctx context.Context, name string) (*client.InvVendor, error)
	CreateFilament(ctx context.Context, payload client.InvFilamentCreate) (*client.InvFilament, error)
	CreateSpool(ctx context.Context, payload client.InvSpoolCreate) (*client.InvSpool, error)
	UpdateSpool(ctx context.Context, id int64, payload client.InvSpoolUpdate) (*client.InvSpool, error)
	DeleteSpool(ctx context.Context, id int64) error
}

// CloudAPI is the Cloud surface the reconciler consumes.
type CloudAPI interface {
	ListFilaments(ctx context.Context) (map[string]client.CloudFilament, error)
	GetFilamentTypes(ctx context.Context) (map[string]client.CloudFilamentType, error)
	UpdateFilament(ctx context.Context, id string, payload client.CloudFilamentUpdate) error
	TestConnection(ctx context.Context) error
}

// ClientFactory builds fresh upstream clients from the current settings.
// Called once per tick so settings changes take effect without a restart.
type ClientFactory func(ctx context.Context) (InvAPI, CloudAPI, error)

// Reconciler drives one bidirectional sync pass between Cloud and Inv,
// mirroring the result into the local cache.
type Reconciler struct {
	clients   ClientFactory
	settings  store.SettingsRepository
	filaments store.FilamentRepository
	spools    store.SpoolRepository
	links     store.LinkRepository
	changes   store.ChangeLogRepository
	status    *StatusReporter
	logger    *slog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(
	clients ClientFactory,
	settings store.SettingsRepository,
	filaments store.FilamentRepository,
	spools store.SpoolRepository,
	links store.LinkRepository,
	changes store.ChangeLogRepository,
	status *StatusReporter,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		clients:   clients,
		settings:  settings,
		filaments: filaments,
		spools:    spools,
		links:     links,
		changes:   changes,
		status:    status,
		logger:    logger,
	}
}

// tickState carries the per-tick working set. Inv filament and vendor lists
// are appended to as records are created so later items in the same tick
// deduplicate against them.
type tickState struct {
	inv       InvAPI
	cloud     CloudAPI
	dryRun    bool
	epsilon   float64
	lastSync  time.Time
	types     map[string]client.CloudFilamentType
	codeIndex map[string]client.InvSpool
	invFils   []client.InvFilament
	vendors   []client.InvVendor
}

// RunTick executes one full reconciliation pass. A failure fetching either
// upstream aborts the tick; per-item failures are counted and skipped.
// LAST_SYNC_TIME advances only on clean completion.
func (r *Reconciler) RunTick(ctx context.Context) error {
	tickStart := time.Now().UTC()
	dryRun := r.settings.DryRun(ctx)
	epsilon := r.settings.Epsilon(ctx)
	lastSync := r.settings.LastSyncTime(ctx)

	runID := r.status.TickStarted(dryRun)
	logger := r.logger.With(slog.String("run_id", runID), slog.Bool("dry_run", dryRun))
	logger.Info("sync tick started")

	defer func() {
		tickDuration.Observe(time.Since(tickStart).Seconds())
	}()

	inv, cloud, err := r.clients(ctx)
	if err != nil {
		return r.abortTick(logger, fmt.Errorf("building upstream clients: %w", err))
	}

	cloudFils, err := cloud.ListFilaments(ctx)
	if err != nil {
		return r.abortTick(logger, fmt.Errorf("fetching cloud filaments: %w", err))
	}
	types, err := cloud.GetFilamentTypes(ctx)
	if err != nil {
		return r.abortTick(logger, fmt.Errorf("fetching cloud filament types: %w", err))
	}
	invSpools, err := inv.ListSpools(ctx)
	if err != nil {
		return r.abortTick(logger, fmt.Errorf("fetching inv spools: %w", err))
	}
	invFils, err := inv.ListFilaments(ctx)
	if err != nil {
		return r.abortTick(logger, fmt.Errorf("fetching inv filaments: %w", err))
	}
	vendors, err := inv.ListVendors(ctx)
	if err != nil {
		return r.abortTick(logger, fmt.Errorf("fetching inv vendors: %w", err))
	}

	st := &tickState{
		inv:       inv,
		cloud:     cloud,
		dryRun:    dryRun,
		epsilon:   epsilon,
		lastSync:  lastSync,
		types:     types,
		codeIndex: make(map[string]client.InvSpool, len(invSpools)),
		invFils:   invFils,
		vendors:   vendors,
	}
	for _, s := range invSpools {
		if s.LotNr != "" {
			st.codeIndex[s.LotNr] = s
		}
	}

	// Deterministic item order keeps vendor/filament dedup stable.
	ids := make([]string, 0, len(cloudFils))
	for id := range cloudFils {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cloudCodes := make(map[string]bool, len(cloudFils))
	var successes, failures int
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			r.status.TickFinished("cancelled")
			ticksTotal.WithLabelValues("error").Inc()
			return err
		}

		cf := cloudFils[id]
		if cf.UID == "" {
			logger.Warn("skipping cloud filament without uid", slog.String("cloud_id", id))
			continue
		}
		cloudCodes[cf.UID] = true

		if err := r.reconcileItem(ctx, logger, st, id, cf); err != nil {
			logger.Error("item reconciliation failed",
				slog.String("uid", cf.UID),
				slog.String("error", err.Error()),
			)
			r.status.ItemFailed()
			itemsTotal.WithLabelValues("error").Inc()
			failures++
			continue
		}
		r.status.ItemSucceeded()
		itemsTotal.WithLabelValues("ok").Inc()
		successes++
	}

	if err := ctx.Err(); err != nil {
		r.status.TickFinished("cancelled")
		ticksTotal.WithLabelValues("error").Inc()
		return err
	}

	cleanupErrs := r.cleanup(ctx, logger, st, cloudCodes)
	failures += cleanupErrs

	// The watermark only moves on a clean tick. Advancing it past a failed
	// item would flip a pending Inv correction to Cloud-authoritative on the
	// retry and overwrite it.
	if failures == 0 {
		if err := r.settings.SetLastSyncTime(ctx, tickStart); err != nil {
			return r.abortTick(logger, fmt.Errorf("persisting last sync time: %w", err))
		}
		r.status.SetLastSyncTime(tickStart)
	} else {
		logger.Warn("last sync time held back", slog.Int("failures", failures))
	}

	msg := fmt.Sprintf("%d synced, %d failed", successes, failures)
	r.status.TickFinished(msg)
	ticksTotal.WithLabelValues("ok").Inc()
	logger.Info("sync tick finished",
		slog.Int("successes", successes),
		slog.Int("failures", failures),
	)
	return nil
}

func (r *Reconciler) abortTick(logger *slog.Logger, err error) error {
	logger.Error("sync tick aborted", slog.String("error", err.Error()))
	r.status.TickFinished("aborted: " + err.Error())
	ticksTotal.WithLabelValues("error").Inc()
	return err
}

// reconcileItem runs the per-item pipeline: mirror the filament profile,
// ensure the Inv spool exists, reconcile usage in the authoritative
// direction, and mirror the resulting spool state.
func (r *Reconciler) reconcileItem(ctx context.Context, logger *slog.Logger, st *tickState, cloudID string, cf client.CloudFilament) error {
	norm := Normalize(cf, st.types)

	gpm := GramsPerMeter(norm.DensityGCM3, norm.DiameterMM)
	if gpm == 0 {
		gpm = FallbackGPM
	}
	totalWeight := round2(WeightFromLength(cf.Total.Float(), gpm))
	roundedTotal := RoundToStandardWeight(totalWeight, norm.Brand)
	norm.NominalWeight = roundedTotal

	// Step 1: mirror the profile locally.
	localFilID, err := r.filaments.Upsert(ctx, &norm)
	if err != nil {
		return err
	}
	_ = r.links.Upsert(ctx, &models.ExternalLink{
		LocalType:  "filament",
		LocalID:    localFilID,
		System:     "cloud",
		ExternalID: cloudID,
	})

	// Step 2: ensure the Inv spool exists.
	spool, exists := st.codeIndex[cf.UID]
	if !exists {
		if st.dryRun {
			logger.Info("dry-run: would create inv spool",
				slog.String("uid", cf.UID),
				slog.Float64("initial_weight_g", roundedTotal),
			)
		} else {
			sp, err := r.ensureInvSpool(ctx, logger, st, cf, norm, roundedTotal)
			if err != nil {
				return err
			}
			spool = *sp
			st.codeIndex[cf.UID] = spool
		}
	}

	// Step 3: reconcile usage.
	lengthUsedMM := cf.Total.Float() - cf.Left.Float()
	if lengthUsedMM < 0 {
		lengthUsedMM = 0
	}
	usedG := round2(WeightFromLength(lengthUsedMM, gpm))
	curUsed := spool.UsedWeight.Float()

	initial := spool.InitialWeight.Float()
	if initial == 0 {
		initial = roundedTotal
	}

	// A spool created this tick has fresh Inv timestamps that say nothing
	// about human intent; only pre-existing spools can be authoritative.
	invTS := time.Time{}
	if exists {
		invTS = latestTime(ParseTimestamp(spool.LastUsed), ParseTimestamp(spool.UpdatedAt))
	}

	mirrorUsed := usedG
	switch {
	case exists && invTS.After(st.lastSync) && math.Abs(usedG-curUsed) > st.epsilon:
		// A human touched the Inv spool after the last sync; Inv wins.
		if err := r.pushInvWeightToCloud(ctx, logger, st, cloudID, cf, norm, initial, curUsed, gpm); err != nil {
			return err
		}
		mirrorUsed = curUsed
	case math.Abs(usedG-curUsed) <= st.epsilon:
		mirrorUsed = curUsed
	case spool.Archived:
		// Archived spools take no further updates from Cloud.
		mirrorUsed = curUsed
	default:
		if st.dryRun {
			logger.Info("dry-run: would update inv used weight",
				slog.String("uid", cf.UID),
				slog.Float64("from_g", curUsed),
				slog.Float64("to_g", usedG),
			)
		} else {
			if err := r.updateInvUsedWeight(ctx, st, cf, spool, curUsed, usedG); err != nil {
				return err
			}
		}
		mirrorUsed = usedG
	}

	// Invariant: 0 <= used <= initial, even when upstream disagrees.
	if mirrorUsed < 0 {
		mirrorUsed = 0
	}
	if initial > 0 && mirrorUsed > initial {
		mirrorUsed = initial
	}

	// Step 4: mirror the spool locally.
	spoolWeight := spool.SpoolWeight.Float()
	if spoolWeight == 0 {
		spoolWeight = cf.SpoolWeight.Float()
	}
	local := &models.Spool{
		FilamentID:    localFilID,
		LotNr:         cf.UID,
		SpoolWeightG:  spoolWeight,
		InitialWeight: initial,
		UsedWeightG:   mirrorUsed,
		Price:         spool.Price.Float(),
		Archived:      spool.Archived,
		Source:        models.SourceCloud,
	}
	localSpoolID, err := r.spools.Upsert(ctx, local)
	if err != nil {
		return err
	}
	_ = r.links.Upsert(ctx, &models.ExternalLink{
		LocalType:  "spool",
		LocalID:    localSpoolID,
		System:     "cloud",
		ExternalID: cf.UID,
	})
	if spool.ID != 0 {
		_ = r.links.Upsert(ctx, &models.ExternalLink{
			LocalType:  "spool",
			LocalID:    localSpoolID,
			System:     "inv",
			ExternalID: strconv.FormatInt(spool.ID, 10),
		})
	}
	return nil
}

// ensureInvSpool creates the Inv spool for a Cloud code that has no match,
// reusing or creating the Inv filament (and vendor) first. Ordering within
// an item is vendor, then filament, then spool.
func (r *Reconciler) ensureInvSpool(
	ctx context.Context,
	logger *slog.Logger,
	st *tickState,
	cf client.CloudFilament,
	norm models.Filament,
	roundedTotal float64,
) (*client.InvSpool, error) {
	invFil := findReusableFilament(st.invFils, st.vendors, norm)
	if invFil == nil {
		vendor := findVendor(st.vendors, norm.Brand)
		if vendor == nil {
			v, err := st.inv.CreateVendor(ctx, norm.Brand)
			if err != nil {
				return nil, err
			}
			mutationsTotal.WithLabelValues("inv", "create_vendor").Inc()
			logger.Info("created inv vendor", slog.String("name", norm.Brand), slog.Int64("id", v.ID))
			st.vendors = append(st.vendors, *v)
			vendor = &st.vendors[len(st.vendors)-1]
		}

		f, err := st.inv.CreateFilament(ctx, client.InvFilamentCreate{
			Name:         norm.Name,
			VendorID:     vendor.ID,
			Material:     norm.Material,
			Diameter:     norm.DiameterMM,
			Density:      norm.DensityGCM3,
			ColorHex:     strings.TrimPrefix(norm.ColorHex, "#"),
			Weight:       roundedTotal,
			ExtruderTemp: norm.NozzleTempC,
			BedTemp:      norm.BedTempC,
			Price:        norm.Price,
		})
		if err != nil {
			return nil, err
		}
		mutationsTotal.WithLabelValues("inv", "create_filament").Inc()
		logger.Info("created inv filament", slog.String("name", norm.Name), slog.Int64("id", f.ID))

		// Make the new filament visible to later items in this tick.
		if f.VendorRef() == 0 {
			f.VendorID = vendor.ID
		}
		if f.Material == "" {
			f.Material = norm.Material
		}
		if f.Diameter.Float() == 0 {
			f.Diameter = client.Number(norm.DiameterMM)
		}
		if f.ColorHex == "" {
			f.ColorHex = strings.TrimPrefix(norm.ColorHex, "#")
		}
		st.invFils = append(st.invFils, *f)
		invFil = &st.invFils[len(st.invFils)-1]
	}

	sp, err := st.inv.CreateSpool(ctx, client.InvSpoolCreate{
		FilamentID:    invFil.ID,
		LotNr:         cf.UID,
		InitialWeight: roundedTotal,
		SpoolWeight:   cf.SpoolWeight.Float(),
		UsedWeight:    0,
		Price:         0,
		Archived:      false,
		LastUsed:      FormatTimestamp(int64(cf.LastUsed.Float())),
	})
	if err != nil {
		return nil, err
	}
	mutationsTotal.WithLabelValues("inv", "create_spool").Inc()
	logger.Info("created inv spool", slog.String("lot_nr", cf.UID), slog.Int64("id", sp.ID))

	// Inv may echo a sparse record; fill what we know.
	if sp.LotNr == "" {
		sp.LotNr = cf.UID
	}
	if sp.InitialWeight.Float() == 0 {
		sp.InitialWeight = client.Number(roundedTotal)
	}
	if sp.FilamentRef() == 0 {
		sp.FilamentID = invFil.ID
	}
	return sp, nil
}

// pushInvWeightToCloud back-propagates a human correction: the Inv
// used-weight stands, and Cloud receives the recomputed remaining length.
func (r *Reconciler) pushInvWeightToCloud(
	ctx context.Context,
	logger *slog.Logger,
	st *tickState,
	cloudID string,
	cf client.CloudFilament,
	norm models.Filament,
	initial, curUsed, gpm float64,
) error {
	typeID := cf.Type.ID
	if typeID == 0 {
		// Guessing a type id corrupts the Cloud record; fail the item.
		return fmt.Errorf("cloud filament %s has no resolvable type id", cf.UID)
	}

	remainingMM := LengthFromWeight(initial-curUsed, gpm)
	if remainingMM < 0 {
		remainingMM = 0
	}
	totalMM := cf.Total.Float()

	percentRemaining := 0.0
	if totalMM > 0 {
		percentRemaining = remainingMM / totalMM * 100
	}

	payload := client.CloudFilamentUpdate{
		Left:            math.Round(remainingMM),
		TotalLength:     totalMM,
		TotalLengthType: "m",
		LengthUsed:      round2(percentRemaining),
		LeftLengthType:  "percent",
		ColorName:       cf.ColorName,
		ColorHex:        strings.TrimPrefix(norm.ColorHex, "#"),
		Width:           norm.DiameterMM,
		Density:         norm.DensityGCM3,
		Brand:           norm.Brand,
		FilamentType:    typeID,
	}

	if st.dryRun {
		logger.Info("dry-run: would update cloud remaining length",
			slog.String("uid", cf.UID),
			slog.Float64("left_mm", payload.Left),
		)
		return nil
	}

	if err := st.cloud.UpdateFilament(ctx, cloudID, payload); err != nil {
		return err
	}
	mutationsTotal.WithLabelValues("cloud", "update_filament").Inc()

	_ = r.changes.Append(ctx, &models.ChangeEntry{
		Entity:   "filament",
		EntityID: 0,
		Field:    "left",
		OldValue: strconv.FormatFloat(cf.Left.Float(), 'f', 0, 64),
		NewValue: strconv.FormatFloat(payload.Left, 'f', 0, 64),
		Source:   models.SourceInv,
	})

	// Verify the write landed; Cloud silently ignores some bad payloads.
	fresh, err := st.cloud.ListFilaments(ctx)
	if err != nil {
		logger.Warn("could not verify cloud update", slog.String("uid", cf.UID), slog.String("error", err.Error()))
		return nil
	}
	if got, ok := fresh[cloudID]; ok {
		if math.Abs(got.Left.Float()-payload.Left) > 1.0 {
			logger.Warn("cloud update verification mismatch",
				slog.String("uid", cf.UID),
				slog.Float64("want_left_mm", payload.Left),
				slog.Float64("got_left_mm", got.Left.Float()),
			)
		}
	}
	return nil
}

// updateInvUsedWeight applies a Cloud-authoritative used-weight to Inv.
func (r *Reconciler) updateInvUsedWeight(
	ctx context.Context,
	st *tickState,
	cf client.CloudFilament,
	spool client.InvSpool,
	curUsed, usedG float64,
) error {
	upd := client.InvSpoolUpdate{UsedWeight: &usedG}

	if spool.LastUsed == "" {
		lastUsed := FormatTimestamp(int64(cf.LastUsed.Float()))
		if lastUsed == "" {
			lastUsed = time.Now().UTC().Format(time.RFC3339)
		}
		upd.LastUsed = &lastUsed
	}

	if _, err := st.inv.UpdateSpool(ctx, spool.ID, upd); err != nil {
		return err
	}
	mutationsTotal.WithLabelValues("inv", "update_spool").Inc()

	_ = r.changes.Append(ctx, &models.ChangeEntry{
		Entity:   "spool",
		EntityID: spool.ID,
		Field:    "used_weight",
		OldValue: strconv.FormatFloat(curUsed, 'f', 2, 64),
		NewValue: strconv.FormatFloat(usedG, 'f', 2, 64),
		Source:   models.SourceCloud,
	})
	return nil
}

// cleanup archives or deletes Inv spools whose code has vanished from
// Cloud: archived spools are left alone, used spools are archived, unused
// spools are deleted. Returns the number of failed cleanups.
func (r *Reconciler) cleanup(ctx context.Context, logger *slog.Logger, st *tickState, cloudCodes map[string]bool) int {
	lots := make([]string, 0, len(st.codeIndex))
	for lot := range st.codeIndex {
		if !cloudCodes[lot] {
			lots = append(lots, lot)
		}
	}
	sort.Strings(lots)

	failures := 0
	for _, lot := range lots {
		if ctx.Err() != nil {
			return failures
		}
		spool := st.codeIndex[lot]
		if spool.Archived {
			continue
		}

		if spool.UsedWeight.Float() > 0 {
			if st.dryRun {
				logger.Info("dry-run: would archive inv spool", slog.String("lot_nr", lot))
				continue
			}
			if err := r.archiveSpool(ctx, st, lot, spool); err != nil {
				logger.Error("archiving spool failed", slog.String("lot_nr", lot), slog.String("error", err.Error()))
				failures++
			}
			continue
		}

		if st.dryRun {
			logger.Info("dry-run: would delete inv spool", slog.String("lot_nr", lot))
			continue
		}
		if err := r.deleteSpool(ctx, st, lot, spool); err != nil {
			logger.Error("deleting spool failed", slog.String("lot_nr", lot), slog.String("error", err.Error()))
			failures++
		}
	}
	return failures
}

func (r *Reconciler) archiveSpool(ctx context.Context, st *tickState, lot string, spool client.InvSpool) error {
	archived := true
	if _, err := st.inv.UpdateSpool(ctx, spool.ID, client.InvSpoolUpdate{Archived: &archived}); err != nil {
		return err
	}
	mutationsTotal.WithLabelValues("inv", "archive_spool").Inc()

	if local, err := r.spools.GetByLotNr(ctx, lot); err == nil && local != nil {
		local.Archived = true
		if _, err := r.spools.Upsert(ctx, local); err != nil {
			return err
		}
		_ = r.changes.Append(ctx, &models.ChangeEntry{
			Entity:   "spool",
			EntityID: local.ID,
			Field:    "archived",
			OldValue: "false",
			NewValue: "true",
			Source:   models.SourceCloud,
		})
	}
	return nil
}

func (r *Reconciler) deleteSpool(ctx context.Context, st *tickState, lot string, spool client.InvSpool) error {
	if err := st.inv.DeleteSpool(ctx, spool.ID); err != nil {
		return err
	}
	mutationsTotal.WithLabelValues("inv", "delete_spool").Inc()

	if local, err := r.spools.GetByLotNr(ctx, lot); err == nil && local != nil {
		_ = r.changes.Append(ctx, &models.ChangeEntry{
			Entity:   "spool",
			EntityID: local.ID,
			Field:    "deleted",
			OldValue: lot,
			NewValue: "",
			Source:   models.SourceCloud,
		})
	}
	return r.spools.DeleteByLotNr(ctx, lot)
}

// findReusableFilament looks for an existing Inv filament that can own the
// new spool. A match requires material, diameter (within 0.01), vendor name
// and color to all agree; the first match in iteration order wins.
func findReusableFilament(fils []client.InvFilament, vendors []client.InvVendor, norm models.Filament) *client.InvFilament {
	vendorNames := make(map[int64]string, len(vendors))
	for _, v := range vendors {
		vendorNames[v.ID] = v.Name
	}

	normColor := strings.TrimPrefix(norm.ColorHex, "#")
	for i := range fils {
		f := &fils[i]
		if !strings.EqualFold(f.Material, norm.Material) {
			continue
		}
		if math.Abs(f.Diameter.Float()-norm.DiameterMM) > 0.01 {
			continue
		}
		if !strings.EqualFold(vendorNames[f.VendorRef()], norm.Brand) {
			continue
		}
		filColor := strings.TrimPrefix(f.ColorHex, "#")
		if filColor == "" && normColor == "" {
			return f
		}
		if filColor != "" && normColor != "" && strings.EqualFold(filColor, normColor) {
			return f
		}
	}
	return nil
}

// findVendor resolves a vendor by case-insensitive name.
func findVendor(vendors []client.InvVendor, name string) *client.InvVendor {
	for i := range vendors {
		if strings.EqualFold(vendors[i].Name, name) {
			return &vendors[i]
		}
	}
	return nil
}

func latestTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
