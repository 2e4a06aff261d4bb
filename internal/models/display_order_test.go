package models

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareDisplayOrder(t *testing.T) {
	tests := []struct {
		name string
		a, b DisplayOrder
		want int
	}{
		{"integers", "1", "2", -1},
		{"equal numeric", "1.0", "1", 0},
		{"fraction before integer", "1.5", "2", -1},
		{"numeric not lexical", "10", "9", 1},
		{"negative", "-1", "0", -1},
		{"invalid after valid", "abc", "1", 1},
		{"valid before invalid", "1000000", "abc", -1},
		{"empty after valid", "", "1", 1},
		{"two invalid are equal", "abc", "", 0},
		{"fraction syntax rejected", "1/2", "1", 1},
		{"exponent rejected", "1e999999", "1", 1},
		{"hex rejected", "0x10", "1", 1},
		{"underscore rejected", "1_000", "1", 1},
		{"surrounding space allowed", " 2 ", "3", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, CompareDisplayOrder(tt.a, tt.b))
		})
	}
}

func TestDisplayOrderStableSortKeepsTies(t *testing.T) {
	type row struct {
		id    string
		order DisplayOrder
	}
	rows := []row{{"a", "2"}, {"b", "x"}, {"c", "1.0"}, {"d", "y"}, {"e", "1"}}
	sort.SliceStable(rows, func(i, j int) bool {
		return CompareDisplayOrder(rows[i].order, rows[j].order) < 0
	})

	var got []string
	for _, r := range rows {
		got = append(got, r.id)
	}
	require.Equal(t, []string{"c", "e", "a", "b", "d"}, got)
}

func TestBetween(t *testing.T) {
	tests := []struct {
		name string
		a, b DisplayOrder
		want DisplayOrder
	}{
		{"adjacent integers", "1", "2", "1.5"},
		{"reversed bounds", "2", "1", "1.5"},
		{"narrow gap", "1", "1.5", "1.25"},
		{"wide gap", "1", "5", "3"},
		{"no lower bound", "", "1", "0.5"},
		{"no upper bound", "3.7", "", "4"},
		{"no bounds", "", "", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Between(tt.a, tt.b))
		})
	}
}

func TestBetweenRepeatedInsertStaysOrdered(t *testing.T) {
	lo, hi := DisplayOrder("1"), DisplayOrder("2")
	for i := 0; i < 30; i++ {
		mid := Between(lo, hi)
		require.Equal(t, -1, CompareDisplayOrder(lo, mid), "iteration %d", i)
		require.Equal(t, -1, CompareDisplayOrder(mid, hi), "iteration %d", i)
		hi = mid
	}
}

func TestAfterAndMax(t *testing.T) {
	require.Equal(t, DisplayOrder("2"), After("1"))
	require.Equal(t, DisplayOrder("4"), After("3.75"))
	require.Equal(t, DisplayOrder("0"), After("-0.5"))
	require.Equal(t, DisplayOrder("1"), After("junk"))
	require.Equal(t, DisplayOrder("1"), FirstDisplayOrder())

	require.Equal(t, DisplayOrder("10"), MaxDisplayOrder("2", "10", "abc", "9.5"))
	require.Equal(t, DisplayOrder(""), MaxDisplayOrder("abc", ""))
}

func TestDisplayOrderLengthCap(t *testing.T) {
	longest := DisplayOrder("1." + strings.Repeat("5", MaxDisplayOrderLength-2))
	require.True(t, longest.Valid())
	require.False(t, DisplayOrder(string(longest)+"5").Valid())
}
