package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContainsAll(t *testing.T) {
	cases := []struct {
		s      string
		subs   []string
		fold   bool
		expect bool
	}{
		{"Vertebrate Animal Form (5B) Regulated", []string{"vertebrate animal", "regulated"}, true, true},
		{"Vertebrate Animal Form (5A)", []string{"vertebrate animal", "regulated"}, true, false},
		{"Research Plan", []string{"research plan"}, false, false},
		{"anything", nil, true, false},
	}
	for _, test := range cases {
		require.Equal(t, test.expect, ContainsAll(test.s, test.subs, test.fold), test.s)
	}
}

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "judytest", NormalizeName("  Judy \n Test "))
	require.Equal(t, NormalizeName("vanderberg"), NormalizeName("Van Der\tBerg"))
}

func TestSafeFilename(t *testing.T) {
	require.Equal(t, "Smith, Jane - Rose", SafeFilename("Smith,  Jane\n/ Rose"))
}
