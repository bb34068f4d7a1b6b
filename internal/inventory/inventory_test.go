package inventory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `[
  {"id": "42", "numero_contrato": "CT-42", "valor_total_devido": 1500.5},
  {"id": "7", "numero_contrato": "CT-7", "quitado": true},
  {"id": "9", "numero_contrato": "CT-9", "prescrito": true}
]`

func TestDecode(t *testing.T) {
	list, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)
	assert.Equal(t, []string{"42", "7", "9"}, list.IDs())

	c, ok := list.Lookup("42")
	require.True(t, ok)
	assert.Equal(t, "CT-42", c.Number)
	assert.Equal(t, 1500.5, c.TotalDue)

	_, ok = list.Lookup("404")
	assert.False(t, ok)

	open := list.Filter(func(c Contract) bool { return !c.PaidOff && !c.Prescribed })
	assert.Equal(t, []string{"42"}, open.IDs())
}

func TestDecodeRejectsBadLists(t *testing.T) {
	for _, doc := range []string{`[{"id": ""}]`, `[{"id": "1"}, {"id": "1"}]`, `{`} {
		_, err := Decode(strings.NewReader(doc))
		assert.Error(t, err, doc)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contratos.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	list, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
