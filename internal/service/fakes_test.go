package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/assetcheck/internal/remote"
)

var _ remote.TabularStore = (*fakeSheets)(nil)

// fakeSheets keeps rows per sheet name; ranges are reduced to their sheet.
type fakeSheets struct {
	mu     sync.Mutex
	sheets map[string][][]string
	getErr map[string]error
	appErr error
	// onAppend runs before each append; a non-nil error fails it.
	onAppend func(ctx context.Context) error
}

func newFakeSheets() *fakeSheets {
	return &fakeSheets{sheets: make(map[string][][]string), getErr: make(map[string]error)}
}

func sheetOf(rng string) string {
	name, _, _ := strings.Cut(rng, "!")
	return name
}

func (f *fakeSheets) Get(_ context.Context, rng string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.getErr[sheetOf(rng)]; err != nil {
		return nil, err
	}
	return slices.Clone(f.sheets[sheetOf(rng)]), nil
}

func (f *fakeSheets) Append(ctx context.Context, rng string, rows [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onAppend != nil {
		if err := f.onAppend(ctx); err != nil {
			return err
		}
	}
	if f.appErr != nil {
		return f.appErr
	}
	f.sheets[sheetOf(rng)] = append(f.sheets[sheetOf(rng)], rows...)
	return nil
}

func (f *fakeSheets) Update(context.Context, string, [][]string) error { return nil }

func (f *fakeSheets) rows(sheet string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sheets[sheet])
}

func (f *fakeSheets) set(sheet string, rows [][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sheets[sheet] = rows
}

type fakeCreds struct{ ok bool }

func (c fakeCreds) IsAuthenticated(context.Context) bool { return c.ok }

func (c fakeCreds) Token(context.Context) (string, error) { return "tok", nil }

func (c fakeCreds) RequestAccess(context.Context, string) (bool, error) { return c.ok, nil }

func testRanges() CatalogRanges {
	return CatalogRanges{
		Assets:      "Assets!A2:Z",
		Procedures:  "TestProcedures!A2:Z",
		Contractors: "Contractors!A2:Z",
		History:     "TestResults!A2:Q",
	}
}

func seedCatalog(f *fakeSheets) {
	f.set("Assets", [][]string{
		{"A1", "Pump 1", "Pump", "North"},
		{"A2", "Boiler 1", "Boiler"},
	})
	f.set("TestProcedures", [][]string{
		{"P1", "Pump", "Pump check", "1", "Inspect housing", "", "", "", "20"},
		{"P1", "Pump", "Pump check", "2", "Run pump"},
		{"P2", "Boiler", "Boiler check", "1", "Inspect"},
		{"P3", "pump", "Lowercase type", "1", "Look"},
	})
	f.set("Contractors", [][]string{
		{"Pump", "Bob", "Acme", "Fitter"},
		{"pump", "Eve", "Beta"},
		{"Boiler", "Zed", "Zeta"},
		{"Boiler", "Ann", "Acme"},
	})
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}
