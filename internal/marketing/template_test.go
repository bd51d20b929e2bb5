package marketing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	t.Parallel()

	vars := map[string]string{
		VarFirstName:   "Mei",
		VarTriggerName: "Welcome",
	}
	got := renderTemplate("Hi {{first_name}}, {{trigger_name}} gift inside! {{unknown}}", vars)
	assert.Equal(t, "Hi Mei, Welcome gift inside! {{unknown}}", got)
	assert.Empty(t, renderTemplate("", vars))
	assert.Equal(t, "plain", renderTemplate("plain", nil))
}

func TestFormatter(t *testing.T) {
	t.Parallel()

	f := DefaultFormatter()
	assert.Equal(t, "1,234,567", f.Number(1234567))
	money := f.Money(decimal.RequireFromString("1234.5"))
	assert.Contains(t, money, "$")
	assert.Contains(t, money, "1,234.50")

	de, err := NewFormatter("de", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "1.234.567", de.Number(1234567))

	_, err = NewFormatter("en", "XYZW")
	assert.Error(t, err)
	_, err = NewFormatter("!!", "USD")
	assert.Error(t, err)
}
