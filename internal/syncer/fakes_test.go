package syncer

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/raphaelgruber/assetcheck/internal/models"
	"github.com/raphaelgruber/assetcheck/internal/remote"
)

type fakeTabular struct {
	mu         sync.Mutex
	rows       [][]string
	appendErrs []error
	appends    int
	getErr     error
	updateErr  error
	updates    []string

	entered chan struct{}
	release chan struct{}
}

func (f *fakeTabular) Get(context.Context, string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return slices.Clone(f.rows), nil
}

func (f *fakeTabular) Append(_ context.Context, _ string, rows [][]string) error {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	if len(f.appendErrs) > 0 {
		err := f.appendErrs[0]
		f.appendErrs = f.appendErrs[1:]
		if err != nil {
			return err
		}
	}
	f.rows = append(f.rows, rows...)
	return nil
}

// Update writes values at the range start; the fake holds the sheet from row 1.
func (f *fakeTabular) Update(_ context.Context, rng string, values [][]string) error {
	r, err := remote.ParseRange(rng)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, rng)
	if f.updateErr != nil {
		return f.updateErr
	}
	for i, vals := range values {
		idx := r.StartRow - 1 + i
		if idx < 0 || idx >= len(f.rows) {
			return remote.ErrNotFound
		}
		row := slices.Clone(f.rows[idx])
		for j, v := range vals {
			col := r.StartCol + j
			for len(row) <= col {
				row = append(row, "")
			}
			row[col] = v
		}
		f.rows[idx] = row
	}
	return nil
}

func (f *fakeTabular) snapshot() ([][]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.rows), f.appends
}

type fakeCreds struct {
	mu       sync.Mutex
	authed   bool
	grant    bool
	requests []string
}

func (f *fakeCreds) IsAuthenticated(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authed
}

func (f *fakeCreds) Token(context.Context) (string, error) {
	if !f.IsAuthenticated(context.Background()) {
		return "", remote.ErrNoCredential
	}
	return "tok", nil
}

func (f *fakeCreds) RequestAccess(_ context.Context, scope string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, scope)
	return f.grant, nil
}

type fakeBlobs struct {
	mu        sync.Mutex
	folders   []string
	uploads   []string
	failNames map[string]error
}

func (f *fakeBlobs) recover(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failNames, name)
}

func (f *fakeBlobs) EnsureFolder(_ context.Context, name, parent string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders = append(f.folders, parent+"/"+name)
	return "id:" + name, nil
}

func (f *fakeBlobs) Upload(_ context.Context, _ []byte, filename, _, folder string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNames[filename]; err != nil {
		return "", err
	}
	f.uploads = append(f.uploads, folder+"/"+filename)
	return "https://drive.google.com/uc?id=" + filename, nil
}

type fakeAttachments struct {
	mu      sync.Mutex
	data    map[string]map[int][]models.Attachment
	evicted []string
}

func newFakeAttachments() *fakeAttachments {
	return &fakeAttachments{data: make(map[string]map[int][]models.Attachment)}
}

func (f *fakeAttachments) add(session string, step int, names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[session] == nil {
		f.data[session] = make(map[int][]models.Attachment)
	}
	for _, n := range names {
		f.data[session][step] = append(f.data[session][step], models.Attachment{
			Name: n, MimeType: "image/jpeg", Data: []byte(n),
		})
	}
}

func (f *fakeAttachments) Steps(session string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Sorted(maps.Keys(f.data[session]))
}

func (f *fakeAttachments) List(session string, step int) []models.Attachment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.data[session][step])
}

func (f *fakeAttachments) Evict(_ context.Context, session string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, session)
	f.evicted = append(f.evicted, session)
	return nil
}

func (f *fakeAttachments) wasEvicted(session string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.evicted, session)
}

func testBatch(ts string, results ...models.Result) models.ResultBatch {
	key := models.SessionKey{AssetID: "A1", ProcedureID: "P1", Timestamp: ts}
	rows := make([]models.ResultRow, len(results))
	for i, r := range results {
		rows[i] = models.ResultRow{
			AssetID:       key.AssetID,
			AssetName:     "Pump",
			ProcedureID:   key.ProcedureID,
			ProcedureName: "Annual",
			Timestamp:     ts,
			Technicians:   "Alice",
			StepNumber:    i + 1,
			Result:        r,
			PerformedBy:   "Technician: Alice",
		}
	}
	return models.ResultBatch{Key: key, AssetName: "Pump", ProcedureName: "Annual", Rows: rows}
}
