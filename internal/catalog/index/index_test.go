package index

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tytya04/zakupki/internal/catalog/domain"
)

func product(name, unit string) domain.Product {
	return domain.Product{ID: uuid.New(), CanonicalName: name, Unit: unit}
}

func buildTestIndex(t *testing.T) *Index {
	t.Helper()
	ix := New()
	ix.Rebuild(
		[]domain.Product{
			product("Картофель", "кг"),
			product("Картофель", "ящик"),
			product("Морковь мытая", "кг"),
			product("Лук репчатый", "кг"),
			product("Томаты черри", "кг"),
			product("Масло подсолнечное 0,5 л", "бут"),
		},
		[]domain.Synonym{
			{Text: "Морковь", CanonicalName: "Морковь мытая"},
			{Text: "Картошка", CanonicalName: "Картофель"},
		},
	)
	return ix
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Картофель", "картофель"},
		{"  ЛУК   репчатый  ", "лук репчатый"},
		{"Масло, подсолнечное - 0,5л.", "масло подсолнечное 0 5л"},
		{"---", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestLookupExactCaseInsensitive(t *testing.T) {
	ix := buildTestIndex(t)

	got := ix.LookupExact("кАрТоФеЛь")
	require.Len(t, got, 2, "both units of the same name must come back")
	for _, p := range got {
		assert.Equal(t, "Картофель", p.CanonicalName)
	}

	assert.Empty(t, ix.LookupExact("Черри"))
}

func TestLookupSynonym(t *testing.T) {
	ix := buildTestIndex(t)

	got := ix.LookupSynonym("морковь")
	require.Len(t, got, 1)
	assert.Equal(t, "Морковь мытая", got[0].CanonicalName)

	assert.Empty(t, ix.LookupSynonym("морковь мытая"), "canonical names are not synonyms")
}

func TestUnitsForOrderedByFrequency(t *testing.T) {
	ix := New()
	ix.Rebuild([]domain.Product{
		product("Сыр", "кг"),
		product("Сыр", "шт"),
		product("Сыр", "кг"),
	}, nil)

	assert.Equal(t, []string{"кг", "шт"}, ix.UnitsFor("сыр"))
	assert.Empty(t, ix.UnitsFor("неизвестное"))
}

func TestSearchCandidatesRankingAndFloor(t *testing.T) {
	ix := buildTestIndex(t)

	got := ix.SearchCandidates("черри", 10)
	require.NotEmpty(t, got)
	assert.Equal(t, "Томаты черри", got[0].Product.CanonicalName)
	assert.Equal(t, domain.ReasonPartial, got[0].Reason, "whole-token hit inside a longer name")
	assert.Less(t, got[0].Score, 1.0)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score, "descending score order")
	}
}

func TestSearchCandidatesTypo(t *testing.T) {
	ix := buildTestIndex(t)

	got := ix.SearchCandidates("картфель", 10)
	require.NotEmpty(t, got)
	assert.Equal(t, "Картофель", got[0].Product.CanonicalName)
	assert.Equal(t, domain.ReasonFuzzy, got[0].Reason)
}

func TestSearchCandidatesEmptyResult(t *testing.T) {
	ix := buildTestIndex(t)

	assert.Empty(t, ix.SearchCandidates("вертолет", 10), "no error, just no candidates")
	assert.Empty(t, ix.SearchCandidates("", 10))
	assert.Empty(t, ix.SearchCandidates("картофель", 0))
}

func TestSearchCandidatesLimit(t *testing.T) {
	ix := New()
	ix.Rebuild([]domain.Product{
		product("Перец красный", "кг"),
		product("Перец желтый", "кг"),
		product("Перец зеленый", "кг"),
		product("Перец чили", "кг"),
	}, nil)

	got := ix.SearchCandidates("перец", 3)
	assert.Len(t, got, 3)
}

func TestRebuildSwapsAtomically(t *testing.T) {
	ix := buildTestIndex(t)
	require.NotEmpty(t, ix.LookupExact("Картофель"))

	ix.Rebuild([]domain.Product{product("Свекла", "кг")}, nil)

	assert.Empty(t, ix.LookupExact("Картофель"))
	assert.Len(t, ix.LookupExact("Свекла"), 1)
}
