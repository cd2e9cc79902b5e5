package resolver

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tytya04/zakupki/internal/catalog/domain"
	"github.com/tytya04/zakupki/internal/catalog/index"
)

func seed(ix *index.Index) {
	ix.Rebuild(
		[]domain.Product{
			{ID: uuid.New(), CanonicalName: "Картофель", Unit: "ящик"},
			{ID: uuid.New(), CanonicalName: "Картофель", Unit: "кг"},
			{ID: uuid.New(), CanonicalName: "Морковь мытая", Unit: "кг"},
			{ID: uuid.New(), CanonicalName: "Морковь по-корейски", Unit: "уп"},
		},
		[]domain.Synonym{
			{Text: "Морковь", CanonicalName: "Морковь мытая"},
		},
	)
}

func TestResolveExactShortCircuits(t *testing.T) {
	ix := index.New()
	seed(ix)
	r := New(ix)

	got := r.Resolve("картофель", LimitInteractive)
	require.Len(t, got, 2)
	for _, c := range got {
		assert.Equal(t, domain.ReasonExact, c.Reason)
		assert.Equal(t, 1.0, c.Score)
	}
	// Deterministic unit order for same-name candidates.
	assert.Equal(t, "кг", got[0].Product.Unit)
	assert.Equal(t, "ящик", got[1].Product.Unit)
}

func TestResolveSynonymBeatsFuzzy(t *testing.T) {
	ix := index.New()
	seed(ix)
	r := New(ix)

	// "Морковь" is both a synonym of "Морковь мытая" and a fuzzy/partial
	// match for two products. The synonym must be the sole result.
	got := r.Resolve("Морковь", LimitInteractive)
	require.Len(t, got, 1)
	assert.Equal(t, domain.ReasonSynonym, got[0].Reason)
	assert.Equal(t, 1.0, got[0].Score)
	assert.Equal(t, "Морковь мытая", got[0].Product.CanonicalName)
}

func TestResolveFallsBackToFuzzy(t *testing.T) {
	ix := index.New()
	seed(ix)
	r := New(ix)

	got := r.Resolve("картофел", LimitInteractive)
	require.NotEmpty(t, got)
	assert.Equal(t, "Картофель", got[0].Product.CanonicalName)
	assert.NotEqual(t, domain.ReasonExact, got[0].Reason)
	assert.Less(t, got[0].Score, 1.0)
}

func TestResolveEmptyResultIsNotAnError(t *testing.T) {
	ix := index.New()
	seed(ix)
	r := New(ix)

	assert.Empty(t, r.Resolve("вертолет", LimitInteractive))
}

func TestResolveQuickPickLimit(t *testing.T) {
	ix := index.New()
	names := []string{"Перец красный", "Перец желтый", "Перец зеленый", "Перец чили", "Перец болгарский"}
	products := make([]domain.Product, 0, len(names))
	for _, n := range names {
		products = append(products, domain.Product{ID: uuid.New(), CanonicalName: n, Unit: "кг"})
	}
	ix.Rebuild(products, nil)
	r := New(ix)

	got := r.Resolve("перец", LimitQuickPick)
	assert.Len(t, got, LimitQuickPick)
}
