package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainman19121979/spoolsync/internal/client"
	"github.com/rainman19121979/spoolsync/internal/models"
)

// fakeSettings is an in-memory SettingsRepository for reconciler tests.
type fakeSettings struct {
	values       map[string]string
	secrets      map[string]string
	epsilon      float64
	dryRun       bool
	lastSync     time.Time
	lastSyncMark []time.Time
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{
		values:  map[string]string{},
		secrets: map[string]string{},
		epsilon: 0.5,
	}
}

func (f *fakeSettings) Get(_ context.Context, key string) (string, error) {
	return f.values[key], nil
}

func (f *fakeSettings) Set(_ context.Context, key, value string) error {
	f.values[key] = value
	return nil
}

func (f *fakeSettings) GetSecret(_ context.Context, key string) (string, error) {
	return f.secrets[key], nil
}

func (f *fakeSettings) SetSecret(_ context.Context, key, value string) error {
	f.secrets[key] = value
	return nil
}

func (f *fakeSettings) HasSecret(_ context.Context, key string) (bool, error) {
	return f.secrets[key] != "", nil
}

func (f *fakeSettings) SyncInterval(_ context.Context) time.Duration { return time.Minute }
func (f *fakeSettings) Epsilon(_ context.Context) float64            { return f.epsilon }
func (f *fakeSettings) DryRun(_ context.Context) bool                { return f.dryRun }
func (f *fakeSettings) LastSyncTime(_ context.Context) time.Time     { return f.lastSync }

func (f *fakeSettings) SetLastSyncTime(_ context.Context, t time.Time) error {
	f.lastSync = t
	f.lastSyncMark = append(f.lastSyncMark, t)
	return nil
}

// fakeFilamentRepo keys filaments by identity tuple like the real upsert.
type fakeFilamentRepo struct {
	byKey  map[string]*models.Filament
	nextID int64
}

func newFakeFilamentRepo() *fakeFilamentRepo {
	return &fakeFilamentRepo{byKey: map[string]*models.Filament{}, nextID: 1}
}

func (f *fakeFilamentRepo) Upsert(_ context.Context, fil *models.Filament) (int64, error) {
	key := fmt.Sprintf("%s|%s|%.2f", fil.Name, fil.Material, fil.DiameterMM)
	if existing, ok := f.byKey[key]; ok {
		fil.ID = existing.ID
	} else {
		fil.ID = f.nextID
		f.nextID++
	}
	cp := *fil
	f.byKey[key] = &cp
	return fil.ID, nil
}

func (f *fakeFilamentRepo) GetByID(_ context.Context, id int64) (*models.Filament, error) {
	for _, fil := range f.byKey {
		if fil.ID == id {
			cp := *fil
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeFilamentRepo) ListRecent(_ context.Context, _ int) ([]*models.Filament, error) {
	out := make([]*models.Filament, 0, len(f.byKey))
	for _, fil := range f.byKey {
		cp := *fil
		out = append(out, &cp)
	}
	return out, nil
}

type fakeSpoolRepo struct {
	byLot  map[string]*models.Spool
	nextID int64
}

func newFakeSpoolRepo() *fakeSpoolRepo {
	return &fakeSpoolRepo{byLot: map[string]*models.Spool{}, nextID: 1}
}

func (f *fakeSpoolRepo) Upsert(_ context.Context, s *models.Spool) (int64, error) {
	if existing, ok := f.byLot[s.LotNr]; ok {
		s.ID = existing.ID
	} else {
		s.ID = f.nextID
		f.nextID++
	}
	cp := *s
	f.byLot[s.LotNr] = &cp
	return s.ID, nil
}

func (f *fakeSpoolRepo) GetByLotNr(_ context.Context, lotNr string) (*models.Spool, error) {
	s, ok := f.byLot[lotNr]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSpoolRepo) DeleteByLotNr(_ context.Context, lotNr string) error {
	delete(f.byLot, lotNr)
	return nil
}

func (f *fakeSpoolRepo) ListRecent(_ context.Context, _ int) ([]*models.Spool, error) {
	out := make([]*models.Spool, 0, len(f.byLot))
	for _, s := range f.byLot {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

type fakeLinkRepo struct {
	links []models.ExternalLink
}

func (f *fakeLinkRepo) Upsert(_ context.Context, link *models.ExternalLink) error {
	f.links = append(f.links, *link)
	return nil
}

func (f *fakeLinkRepo) GetByExternal(_ context.Context, system, externalID string) (*models.ExternalLink, error) {
	for i := range f.links {
		if f.links[i].System == system && f.links[i].ExternalID == externalID {
			cp := f.links[i]
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeChangeLog struct {
	entries []models.ChangeEntry
}

func (f *fakeChangeLog) Append(_ context.Context, e *models.ChangeEntry) error {
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeChangeLog) ListByEntity(_ context.Context, entity string, entityID int64, _ int) ([]*models.ChangeEntry, error) {
	var out []*models.ChangeEntry
	for i := range f.entries {
		if f.entries[i].Entity == entity && f.entries[i].EntityID == entityID {
			cp := f.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeInv records all mutations against an in-memory Inv.
type fakeInv struct {
	spools    []client.InvSpool
	filaments []client.InvFilament
	vendors   []client.InvVendor

	createdVendors   []string
	createdFilaments []client.InvFilamentCreate
	createdSpools    []client.InvSpoolCreate
	updates          map[int64][]client.InvSpoolUpdate
	deleted          []int64

	nextID int64

	listErr error
}

func newFakeInv() *fakeInv {
	return &fakeInv{updates: map[int64][]client.InvSpoolUpdate{}, nextID: 100}
}

func (f *fakeInv) ListSpools(_ context.Context) ([]client.InvSpool, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]client.InvSpool{}, f.spools...), nil
}

func (f *fakeInv) ListFilaments(_ context.Context) ([]client.InvFilament, error) {
	return append([]client.InvFilament{}, f.filaments...), nil
}

func (f *fakeInv) ListVendors(_ context.Context) ([]client.InvVendor, error) {
	return append([]client.InvVendor{}, f.vendors...), nil
}

func (f *fakeInv) CreateVendor(_ context.Context, name string) (*client.InvVendor, error) {
	f.nextID++
	v := client.InvVendor{ID: f.nextID, Name: name}
	f.vendors = append(f.vendors, v)
	f.createdVendors = append(f.createdVendors, name)
	return &v, nil
}

func (f *fakeInv) CreateFilament(_ context.Context, payload client.InvFilamentCreate) (*client.InvFilament, error) {
	f.nextID++
	fil := client.InvFilament{
		ID:       f.nextID,
		Name:     payload.Name,
		Material: payload.Material,
		Diameter: client.Number(payload.Diameter),
		Density:  client.Number(payload.Density),
		ColorHex: payload.ColorHex,
		VendorID: payload.VendorID,
	}
	f.filaments = append(f.filaments, fil)
	f.createdFilaments = append(f.createdFilaments, payload)
	return &fil, nil
}

func (f *fakeInv) CreateSpool(_ context.Context, payload client.InvSpoolCreate) (*client.InvSpool, error) {
	f.nextID++
	sp := client.InvSpool{
		ID:            f.nextID,
		LotNr:         payload.LotNr,
		UsedWeight:    client.Number(payload.UsedWeight),
		InitialWeight: client.Number(payload.InitialWeight),
		SpoolWeight:   client.Number(payload.SpoolWeight),
		FilamentID:    payload.FilamentID,
		LastUsed:      payload.LastUsed,
	}
	f.spools = append(f.spools, sp)
	f.createdSpools = append(f.createdSpools, payload)
	return &sp, nil
}

func (f *fakeInv) UpdateSpool(_ context.Context, id int64, payload client.InvSpoolUpdate) (*client.InvSpool, error) {
	f.updates[id] = append(f.updates[id], payload)
	for i := range f.spools {
		if f.spools[i].ID != id {
			continue
		}
		if payload.UsedWeight != nil {
			f.spools[i].UsedWeight = client.Number(*payload.UsedWeight)
		}
		if payload.Archived != nil {
			f.spools[i].Archived = *payload.Archived
		}
		if payload.LastUsed != nil {
			f.spools[i].LastUsed = *payload.LastUsed
		}
		cp := f.spools[i]
		return &cp, nil
	}
	return nil, fmt.Errorf("spool %d not found", id)
}

func (f *fakeInv) DeleteSpool(_ context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

// fakeCloud serves a fixed catalog and applies updates to it so the
// post-update verification read sees the new values.
type fakeCloud struct {
	filaments map[string]client.CloudFilament
	types     map[string]client.CloudFilamentType

	updates map[string][]client.CloudFilamentUpdate

	listErr error
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		filaments: map[string]client.CloudFilament{},
		types:     map[string]client.CloudFilamentType{},
		updates:   map[string][]client.CloudFilamentUpdate{},
	}
}

func (f *fakeCloud) ListFilaments(_ context.Context) (map[string]client.CloudFilament, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make(map[string]client.CloudFilament, len(f.filaments))
	for k, v := range f.filaments {
		out[k] = v
	}
	return out, nil
}

func (f *fakeCloud) GetFilamentTypes(_ context.Context) (map[string]client.CloudFilamentType, error) {
	return f.types, nil
}

func (f *fakeCloud) UpdateFilament(_ context.Context, id string, payload client.CloudFilamentUpdate) error {
	f.updates[id] = append(f.updates[id], payload)
	if cf, ok := f.filaments[id]; ok {
		cf.Left = client.Number(payload.Left)
		f.filaments[id] = cf
	}
	return nil
}

func (f *fakeCloud) TestConnection(_ context.Context) error { return nil }

type testEnv struct {
	settings  *fakeSettings
	filaments *fakeFilamentRepo
	spools    *fakeSpoolRepo
	links     *fakeLinkRepo
	changes   *fakeChangeLog
	inv       *fakeInv
	cloud     *fakeCloud
	status    *StatusReporter
	rec       *Reconciler
}

func newTestEnv() *testEnv {
	env := &testEnv{
		settings:  newFakeSettings(),
		filaments: newFakeFilamentRepo(),
		spools:    newFakeSpoolRepo(),
		links:     &fakeLinkRepo{},
		changes:   &fakeChangeLog{},
		inv:       newFakeInv(),
		cloud:     newFakeCloud(),
		status:    NewStatusReporter(),
	}
	factory := func(ctx context.Context) (InvAPI, CloudAPI, error) {
		return env.inv, env.cloud, nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.rec = NewReconciler(factory, env.settings, env.filaments, env.spools, env.links, env.changes, env.status, logger)
	return env
}

func plaType() client.CloudFilamentType {
	return client.CloudFilamentType{
		ID:               3,
		MaterialTypeName: "PLA",
		Brand:            "Polymaker",
		ProfileName:      "PolyTerra PLA",
		Dia:              1.75,
		Density:          1.24,
		NozzleTemp:       210,
		BedTemp:          60,
	}
}

func TestRunTickCreatesInvSpoolForNewCloudCode(t *testing.T) {
	env := newTestEnv()
	env.cloud.types["3"] = plaType()
	env.cloud.filaments["101"] = client.CloudFilament{
		UID:       "AB12",
		Type:      client.TypeRef{ID: 3},
		ColorName: "Lava Red",
		ColorHex:  "e63322",
		Total:     335570, // about 1000 g of PLA
		Left:      234987,
	}

	require.NoError(t, env.rec.RunTick(context.Background()))

	// Vendor, filament and spool were created in order.
	require.Equal(t, []string{"Polymaker"}, env.inv.createdVendors)
	require.Len(t, env.inv.createdFilaments, 1)
	assert.Equal(t, "PolyTerra PLA Lava Red", env.inv.createdFilaments[0].Name)
	assert.Equal(t, "PLA", env.inv.createdFilaments[0].Material)

	require.Len(t, env.inv.createdSpools, 1)
	created := env.inv.createdSpools[0]
	assert.Equal(t, "AB12", created.LotNr)
	assert.Equal(t, 1000.0, created.InitialWeight)
	assert.Equal(t, 0.0, created.UsedWeight)

	// Cloud is authoritative for the fresh spool's consumption.
	spoolID := env.inv.spools[0].ID
	require.Len(t, env.inv.updates[spoolID], 1)
	require.NotNil(t, env.inv.updates[spoolID][0].UsedWeight)
	assert.InDelta(t, 299.74, *env.inv.updates[spoolID][0].UsedWeight, 0.01)

	// Local mirror holds the reconciled state.
	local, err := env.spools.GetByLotNr(context.Background(), "AB12")
	require.NoError(t, err)
	require.NotNil(t, local)
	assert.InDelta(t, 299.74, local.UsedWeightG, 0.01)
	assert.Equal(t, 1000.0, local.InitialWeight)
	assert.Equal(t, models.SourceCloud, local.Source)

	// No Cloud mutations for a brand-new spool.
	assert.Empty(t, env.cloud.updates)

	// The tick completed and advanced the watermark.
	require.Len(t, env.settings.lastSyncMark, 1)
	snap := env.status.Snapshot()
	require.NotNil(t, snap.LastRun)
	assert.Equal(t, 1, snap.LastRun.Successes)
	assert.Equal(t, 0, snap.LastRun.Errors)
}

func TestRunTickNoOpWithinEpsilon(t *testing.T) {
	env := newTestEnv()
	env.cloud.types["3"] = plaType()
	env.cloud.filaments["101"] = client.CloudFilament{
		UID:   "AB12",
		Type:  client.TypeRef{ID: 3},
		Total: 335570,
		Left:  234987, // about 299.74 g used
	}
	env.inv.spools = []client.InvSpool{{
		ID:            500,
		LotNr:         "AB12",
		UsedWeight:    299.80,
		InitialWeight: 1000,
		UpdatedAt:     "2024-05-01T10:00:00Z",
	}}
	env.settings.lastSync = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, env.rec.RunTick(context.Background()))

	assert.Empty(t, env.inv.updates)
	assert.Empty(t, env.cloud.updates)
	assert.Empty(t, env.inv.createdSpools)

	local, err := env.spools.GetByLotNr(context.Background(), "AB12")
	require.NoError(t, err)
	require.NotNil(t, local)
	assert.Equal(t, 299.80, local.UsedWeightG)
}

func TestRunTickInvAuthoritative(t *testing.T) {
	env := newTestEnv()
	env.cloud.types["3"] = plaType()
	env.cloud.filaments["101"] = client.CloudFilament{
		UID:   "AB12",
		Type:  client.TypeRef{ID: 3},
		Total: 335570,
		Left:  235000, // Cloud thinks about 299.70 g used
	}
	// A human corrected the spool weight after the last sync.
	env.inv.spools = []client.InvSpool{{
		ID:            500,
		LotNr:         "AB12",
		UsedWeight:    596.85,
		InitialWeight: 1000,
		LastUsed:      "2024-05-03T09:00:00Z",
	}}
	env.settings.lastSync = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, env.rec.RunTick(context.Background()))

	// Inv wins: the remaining length flows to Cloud, Inv stays untouched.
	assert.Empty(t, env.inv.updates)
	require.Len(t, env.cloud.updates["101"], 1)
	upd := env.cloud.updates["101"][0]

	// 1000 - 596.85 = 403.15 g remaining, at 2.98 g/m.
	assert.InDelta(t, 135285, upd.Left, 1)
	assert.Equal(t, "m", upd.TotalLengthType)
	assert.Equal(t, "percent", upd.LeftLengthType)
	assert.InDelta(t, 40.31, upd.LengthUsed, 0.05) // percent remaining
	assert.Equal(t, int64(3), upd.FilamentType)

	// The local mirror keeps the Inv-side weight.
	local, err := env.spools.GetByLotNr(context.Background(), "AB12")
	require.NoError(t, err)
	require.NotNil(t, local)
	assert.Equal(t, 596.85, local.UsedWeightG)
}

func TestRunTickCloudAuthoritativeForStaleSpool(t *testing.T) {
	env := newTestEnv()
	env.cloud.types["3"] = plaType()
	env.cloud.filaments["101"] = client.CloudFilament{
		UID:   "AB12",
		Type:  client.TypeRef{ID: 3},
		Total: 335570,
		Left:  167785, // about half used
	}
	// Untouched since before the last sync: Cloud wins.
	env.inv.spools = []client.InvSpool{{
		ID:            500,
		LotNr:         "AB12",
		UsedWeight:    100,
		InitialWeight: 1000,
		LastUsed:      "2024-05-01T09:00:00Z",
	}}
	env.settings.lastSync = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, env.rec.RunTick(context.Background()))

	require.Len(t, env.inv.updates[500], 1)
	require.NotNil(t, env.inv.updates[500][0].UsedWeight)
	assert.InDelta(t, 500.0, *env.inv.updates[500][0].UsedWeight, 0.1)
	assert.Empty(t, env.cloud.updates)

	// The applied change is recorded.
	var found bool
	for _, e := range env.changes.entries {
		if e.Entity == "spool" && e.Field == "used_weight" {
			found = true
			assert.Equal(t, models.SourceCloud, e.Source)
		}
	}
	assert.True(t, found, "expected a used_weight change entry")
}

func TestRunTickCleanup(t *testing.T) {
	env := newTestEnv()
	env.cloud.types["3"] = plaType()
	// Cloud catalog is empty; both Inv spools lost their codes.
	env.inv.spools = []client.InvSpool{
		{ID: 500, LotNr: "GONE", UsedWeight: 50, InitialWeight: 1000},
		{ID: 501, LotNr: "NEWB", UsedWeight: 0, InitialWeight: 1000},
	}
	env.spools.Upsert(context.Background(), &models.Spool{LotNr: "GONE", FilamentID: 1})
	env.spools.Upsert(context.Background(), &models.Spool{LotNr: "NEWB", FilamentID: 1})

	require.NoError(t, env.rec.RunTick(context.Background()))

	// Used spool is archived, unused spool is deleted.
	require.Len(t, env.inv.updates[500], 1)
	require.NotNil(t, env.inv.updates[500][0].Archived)
	assert.True(t, *env.inv.updates[500][0].Archived)
	assert.Equal(t, []int64{501}, env.inv.deleted)

	local, err := env.spools.GetByLotNr(context.Background(), "GONE")
	require.NoError(t, err)
	require.NotNil(t, local)
	assert.True(t, local.Archived)

	gone, err := env.spools.GetByLotNr(context.Background(), "NEWB")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestRunTickCleanupSkipsArchived(t *testing.T) {
	env := newTestEnv()
	env.inv.spools = []client.InvSpool{
		{ID: 500, LotNr: "OLDY", UsedWeight: 50, Archived: true},
	}

	require.NoError(t, env.rec.RunTick(context.Background()))

	assert.Empty(t, env.inv.updates)
	assert.Empty(t, env.inv.deleted)
}

func TestRunTickDryRunPerformsNoMutations(t *testing.T) {
	env := newTestEnv()
	env.settings.dryRun = true
	env.cloud.types["3"] = plaType()
	env.cloud.filaments["101"] = client.CloudFilament{
		UID:   "AB12",
		Type:  client.TypeRef{ID: 3},
		Total: 335570,
		Left:  234987,
	}
	env.inv.spools = []client.InvSpool{
		{ID: 500, LotNr: "GONE", UsedWeight: 50, InitialWeight: 1000},
	}

	require.NoError(t, env.rec.RunTick(context.Background()))

	assert.Empty(t, env.inv.createdVendors)
	assert.Empty(t, env.inv.createdFilaments)
	assert.Empty(t, env.inv.createdSpools)
	assert.Empty(t, env.inv.updates)
	assert.Empty(t, env.inv.deleted)
	assert.Empty(t, env.cloud.updates)

	snap := env.status.Snapshot()
	require.NotNil(t, snap.LastRun)
	assert.True(t, snap.LastRun.DryRun)
}

func TestRunTickAbortsOnCloudFetchFailure(t *testing.T) {
	env := newTestEnv()
	env.cloud.listErr = fmt.Errorf("connection refused")
	env.inv.spools = []client.InvSpool{
		{ID: 500, LotNr: "SAFE", UsedWeight: 0, InitialWeight: 1000},
	}

	err := env.rec.RunTick(context.Background())
	require.Error(t, err)

	// No cleanup ran against the unreachable catalog, and the watermark
	// did not advance.
	assert.Empty(t, env.inv.deleted)
	assert.Empty(t, env.inv.updates)
	assert.Empty(t, env.settings.lastSyncMark)

	snap := env.status.Snapshot()
	require.NotNil(t, snap.LastRun)
	assert.Equal(t, StateIdle, snap.State)
}

func TestRunTickIsolatesItemFailures(t *testing.T) {
	env := newTestEnv()
	env.cloud.types["3"] = plaType()
	// First item has no resolvable type id and a fresh Inv correction, so
	// the Cloud push fails; the second item must still reconcile.
	env.cloud.filaments["100"] = client.CloudFilament{
		UID:   "BAD1",
		Type:  client.TypeRef{Name: "Mystery PLA"},
		Total: 335570,
		Left:  235000,
	}
	env.cloud.filaments["200"] = client.CloudFilament{
		UID:   "GOOD",
		Type:  client.TypeRef{ID: 3},
		Total: 335570,
		Left:  234987,
	}
	env.inv.spools = []client.InvSpool{
		{ID: 500, LotNr: "BAD1", UsedWeight: 596.85, InitialWeight: 1000, LastUsed: "2024-05-03T09:00:00Z"},
		{ID: 501, LotNr: "GOOD", UsedWeight: 299.80, InitialWeight: 1000, UpdatedAt: "2024-05-01T10:00:00Z"},
	}
	env.settings.lastSync = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, env.rec.RunTick(context.Background()))

	snap := env.status.Snapshot()
	require.NotNil(t, snap.LastRun)
	assert.Equal(t, 1, snap.LastRun.Successes)
	assert.Equal(t, 1, snap.LastRun.Errors)

	// The failed item holds the watermark so the next tick retries it.
	assert.Empty(t, env.settings.lastSyncMark)
}

func TestRunTickHeldWatermarkPreservesInvCorrection(t *testing.T) {
	env := newTestEnv()
	// The Cloud record has no resolvable type id, so the Inv-authoritative
	// push fails on the first tick.
	env.cloud.filaments["100"] = client.CloudFilament{
		UID:   "AB12",
		Type:  client.TypeRef{Name: "Mystery PLA"},
		Total: 335570,
		Left:  234987,
	}
	env.inv.spools = []client.InvSpool{
		{ID: 500, LotNr: "AB12", UsedWeight: 500.0, InitialWeight: 1000, LastUsed: "2024-05-03T09:00:00Z"},
	}
	env.settings.lastSync = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, env.rec.RunTick(context.Background()))
	assert.Empty(t, env.cloud.updates)
	assert.Empty(t, env.settings.lastSyncMark)

	// The type id shows up before the next tick. With the watermark held
	// back, the human correction is still Inv-authoritative and reaches
	// Cloud instead of being overwritten by the cloud-derived usage.
	env.cloud.types["3"] = plaType()
	cf := env.cloud.filaments["100"]
	cf.Type = client.TypeRef{ID: 3}
	env.cloud.filaments["100"] = cf

	require.NoError(t, env.rec.RunTick(context.Background()))

	require.Len(t, env.cloud.updates, 1)
	assert.Empty(t, env.inv.updates)
	assert.Len(t, env.settings.lastSyncMark, 1)

	spool, err := env.spools.GetByLotNr(context.Background(), "AB12")
	require.NoError(t, err)
	require.NotNil(t, spool)
	assert.InDelta(t, 500.0, spool.UsedWeightG, 0.001)
}

func TestRunTickLeftExceedingTotalMeansNothingUsed(t *testing.T) {
	env := newTestEnv()
	env.cloud.types["3"] = plaType()
	// An over-reported remaining length clamps to zero usage rather than
	// going negative.
	env.cloud.filaments["100"] = client.CloudFilament{
		UID:   "AB12",
		Type:  client.TypeRef{ID: 3},
		Total: 335570,
		Left:  400000,
	}
	env.inv.spools = []client.InvSpool{
		{ID: 500, LotNr: "AB12", UsedWeight: 0, InitialWeight: 1000},
	}

	require.NoError(t, env.rec.RunTick(context.Background()))

	assert.Empty(t, env.inv.updates)
	assert.Empty(t, env.cloud.updates)

	spool, err := env.spools.GetByLotNr(context.Background(), "AB12")
	require.NoError(t, err)
	require.NotNil(t, spool)
	assert.Zero(t, spool.UsedWeightG)

	snap := env.status.Snapshot()
	require.NotNil(t, snap.LastRun)
	assert.Equal(t, 1, snap.LastRun.Successes)
	assert.Equal(t, 0, snap.LastRun.Errors)
}

func TestRunTickSkipsCloudEntriesWithoutUID(t *testing.T) {
	env := newTestEnv()
	env.cloud.filaments["300"] = client.CloudFilament{
		Type:  client.TypeRef{Name: "PLA"},
		Total: 1000,
	}

	require.NoError(t, env.rec.RunTick(context.Background()))

	assert.Empty(t, env.inv.createdSpools)
	snap := env.status.Snapshot()
	require.NotNil(t, snap.LastRun)
	assert.Equal(t, 0, snap.LastRun.Successes)
	assert.Equal(t, 0, snap.LastRun.Errors)
}

func TestRunTickCancelledBetweenItems(t *testing.T) {
	env := newTestEnv()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env.cloud.filaments["100"] = client.CloudFilament{
		UID:   "AB12",
		Type:  client.TypeRef{Name: "PLA"},
		Total: 1000,
	}

	err := env.rec.RunTick(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, env.settings.lastSyncMark)
}
