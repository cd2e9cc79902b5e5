package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalogapp "github.com/tytya04/zakupki/internal/catalog/application"
	catalogdomain "github.com/tytya04/zakupki/internal/catalog/domain"
	"github.com/tytya04/zakupki/internal/catalog/index"
	"github.com/tytya04/zakupki/internal/draft/application"
	"github.com/tytya04/zakupki/internal/draft/domain"
	"github.com/tytya04/zakupki/internal/ingest/resolver"
)

type memRepo struct {
	drafts map[uuid.UUID]*domain.DraftOrder
}

func newMemRepo() *memRepo {
	return &memRepo{drafts: map[uuid.UUID]*domain.DraftOrder{}}
}

func (r *memRepo) GetOrCreate(_ context.Context, scope domain.Scope, operatorID uuid.UUID) (domain.DraftOrder, error) {
	for _, d := range r.drafts {
		if d.Status == domain.StatusDraft && d.RestaurantID == scope.RestaurantID && d.ScheduledFor.Equal(scope.ScheduledFor) {
			return *d, nil
		}
	}
	d := &domain.DraftOrder{
		ID:           uuid.New(),
		RestaurantID: scope.RestaurantID,
		BranchID:     scope.BranchID,
		OperatorID:   operatorID,
		ScheduledFor: scope.ScheduledFor,
		Status:       domain.StatusDraft,
		Version:      1,
	}
	r.drafts[d.ID] = d
	return *d, nil
}

func (r *memRepo) Get(_ context.Context, id uuid.UUID) (domain.DraftOrder, error) {
	d, ok := r.drafts[id]
	if !ok {
		return domain.DraftOrder{}, application.ErrDraftNotFound
	}
	return *d, nil
}

func (r *memRepo) AppendLines(_ context.Context, draftID uuid.UUID, version int, lines []domain.DraftLine) error {
	d, ok := r.drafts[draftID]
	if !ok {
		return application.ErrDraftNotFound
	}
	if d.Version != version {
		return application.ErrStaleDraft
	}
	d.Lines = append(d.Lines, lines...)
	d.Version++
	return nil
}

func (r *memRepo) UpdateLine(_ context.Context, draftID uuid.UUID, version int, line domain.DraftLine) error {
	d, ok := r.drafts[draftID]
	if !ok {
		return application.ErrDraftNotFound
	}
	if d.Version != version {
		return application.ErrStaleDraft
	}
	for i := range d.Lines {
		if d.Lines[i].ID == line.ID {
			d.Lines[i] = line
			d.Version++
			return nil
		}
	}
	return domain.ErrLineNotFound
}

func (r *memRepo) DeleteLine(_ context.Context, draftID uuid.UUID, version int, lineID uuid.UUID) error {
	d, ok := r.drafts[draftID]
	if !ok {
		return application.ErrDraftNotFound
	}
	if d.Version != version {
		return application.ErrStaleDraft
	}
	for i := range d.Lines {
		if d.Lines[i].ID == lineID {
			d.Lines = append(d.Lines[:i], d.Lines[i+1:]...)
			d.Version++
			return nil
		}
	}
	return domain.ErrLineNotFound
}

func (r *memRepo) Convert(_ context.Context, draftID uuid.UUID, _ string) (domain.FirmOrder, error) {
	d, ok := r.drafts[draftID]
	if !ok {
		return domain.FirmOrder{}, application.ErrDraftNotFound
	}
	fo, err := domain.NewFirmOrder(*d)
	if err != nil {
		return domain.FirmOrder{}, err
	}
	d.Status = domain.StatusSent
	return fo, nil
}

func (r *memRepo) Cancel(_ context.Context, draftID uuid.UUID) error {
	d, ok := r.drafts[draftID]
	if !ok {
		return application.ErrDraftNotFound
	}
	if !d.Editable() {
		return domain.ErrDraftNotEditable
	}
	d.Status = domain.StatusCancelled
	return nil
}

type memLoader struct {
	products []catalogdomain.Product
	synonyms []catalogdomain.Synonym
}

func (l memLoader) LoadProducts(context.Context) ([]catalogdomain.Product, error) {
	return l.products, nil
}

func (l memLoader) LoadSynonyms(context.Context) ([]catalogdomain.Synonym, error) {
	return l.synonyms, nil
}

func testProducts() []catalogdomain.Product {
	return []catalogdomain.Product{
		{ID: uuid.New(), CanonicalName: "Картофель", Unit: "кг"},
		{ID: uuid.New(), CanonicalName: "Морковь мытая", Unit: "кг"},
		{ID: uuid.New(), CanonicalName: "Томаты черри", Unit: "кг"},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *memRepo) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	ix := index.New()
	products := testProducts()
	ix.Rebuild(products, []catalogdomain.Synonym{{Text: "морковка", CanonicalName: "Морковь мытая"}})

	repo := newMemRepo()
	res := resolver.New(ix)
	drafts := application.NewService(log, repo, res, ix)
	catalog := catalogapp.NewService(log, memLoader{products: products}, ix)

	h := NewHandler(log, drafts, catalog, res, nil, nil)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, repo
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestIngestRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/ingest", map[string]any{
		"restaurant_id": uuid.New(),
		"operator_id":   uuid.New(),
		"scheduled_for": time.Now().Add(24 * time.Hour).UTC(),
		"text":          "Картофель - 50 - кг\nМорковка 30 кг\nЧерри",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out domain.BatchResult
	decodeBody(t, resp, &out)
	assert.NotEqual(t, uuid.Nil, out.DraftID)
	assert.Len(t, out.Matched, 2)
	require.Len(t, out.Unmatched, 1)
	assert.NotEmpty(t, out.Unmatched[0].Suggestions)
	assert.Empty(t, out.Malformed)
}

func TestIngestRejectsEmptyText(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/ingest", map[string]any{
		"restaurant_id": uuid.New(),
		"operator_id":   uuid.New(),
		"scheduled_for": time.Now().UTC(),
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetDraftNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/drafts/" + uuid.NewString())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetDraftInvalidID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/drafts/not-a-uuid")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConvertFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/ingest", map[string]any{
		"restaurant_id": uuid.New(),
		"operator_id":   uuid.New(),
		"scheduled_for": time.Now().Add(24 * time.Hour).UTC(),
		"text":          "Картофель 50 кг",
	})
	var batch domain.BatchResult
	decodeBody(t, resp, &batch)
	require.Len(t, batch.Matched, 1)

	resp = postJSON(t, fmt.Sprintf("%s/drafts/%s/convert", srv.URL, batch.DraftID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	decodeBody(t, resp, &out)
	assert.NotEmpty(t, out["firm_order_id"])
	assert.EqualValues(t, 1, out["lines"])

	// A sealed draft rejects further ingestion.
	resp = postJSON(t, srv.URL+"/ingest", map[string]any{
		"draft_id":      batch.DraftID,
		"restaurant_id": uuid.New(),
		"operator_id":   uuid.New(),
		"scheduled_for": time.Now().UTC(),
		"text":          "Лук 5 кг",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestConvertRejectsUnresolvedLines(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/ingest", map[string]any{
		"restaurant_id": uuid.New(),
		"operator_id":   uuid.New(),
		"scheduled_for": time.Now().Add(24 * time.Hour).UTC(),
		"text":          "Черри 5 кг",
	})
	var batch domain.BatchResult
	decodeBody(t, resp, &batch)
	require.Len(t, batch.Unmatched, 1)

	resp = postJSON(t, fmt.Sprintf("%s/drafts/%s/convert", srv.URL, batch.DraftID), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestEditAndRemoveLine(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/ingest", map[string]any{
		"restaurant_id": uuid.New(),
		"operator_id":   uuid.New(),
		"scheduled_for": time.Now().Add(24 * time.Hour).UTC(),
		"text":          "Картофель 50 кг",
	})
	var batch domain.BatchResult
	decodeBody(t, resp, &batch)
	require.Len(t, batch.Matched, 1)
	lineID := batch.Matched[0].Line.ID

	req, err := http.NewRequest(http.MethodPatch,
		fmt.Sprintf("%s/drafts/%s/lines/%s", srv.URL, batch.DraftID, lineID),
		bytes.NewReader([]byte(`{"quantity":"75"}`)))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view domain.LineView
	decodeBody(t, resp, &view)
	assert.True(t, decimal.NewFromInt(75).Equal(view.Quantity))

	req, err = http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/drafts/%s/lines/%s", srv.URL, batch.DraftID, lineID), nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestEditQuantityRejectsNonPositive(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/ingest", map[string]any{
		"restaurant_id": uuid.New(),
		"operator_id":   uuid.New(),
		"scheduled_for": time.Now().Add(24 * time.Hour).UTC(),
		"text":          "Картофель 50 кг",
	})
	var batch domain.BatchResult
	decodeBody(t, resp, &batch)
	lineID := batch.Matched[0].Line.ID

	req, err := http.NewRequest(http.MethodPatch,
		fmt.Sprintf("%s/drafts/%s/lines/%s", srv.URL, batch.DraftID, lineID),
		bytes.NewReader([]byte(`{"quantity":"0"}`)))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelDraft(t *testing.T) {
	srv, repo := newTestServer(t)

	resp := postJSON(t, srv.URL+"/ingest", map[string]any{
		"restaurant_id": uuid.New(),
		"operator_id":   uuid.New(),
		"scheduled_for": time.Now().Add(24 * time.Hour).UTC(),
		"text":          "Картофель 50 кг",
	})
	var batch domain.BatchResult
	decodeBody(t, resp, &batch)

	resp = postJSON(t, fmt.Sprintf("%s/drafts/%s/cancel", srv.URL, batch.DraftID), nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, domain.StatusCancelled, repo.drafts[batch.DraftID].Status)
}

func TestCatalogSearch(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/catalog/search?q=черри")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Candidates []catalogdomain.MatchCandidate `json:"candidates"`
	}
	decodeBody(t, resp, &out)
	require.NotEmpty(t, out.Candidates)
	assert.Equal(t, "Томаты черри", out.Candidates[0].Product.CanonicalName)

	resp, err = http.Get(srv.URL + "/catalog/search?q=черри&limit=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCatalogRebuild(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/catalog/rebuild", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]int
	decodeBody(t, resp, &out)
	assert.Equal(t, 3, out["products"])
}
