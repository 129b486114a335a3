package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalSortsKeysCompactly(t *testing.T) {
	data, err := Canonical(map[string]any{
		"title":  "<磁盘> & more",
		"labels": map[string]string{"b": "2", "a": "1"},
		"metric": "",
		"source": "zabbix",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"labels":{"a":"1","b":"2"},"metric":"","source":"zabbix","title":"<磁盘> & more"}`, string(data))
}

func TestComputeMatchesKnownDigest(t *testing.T) {
	want := sha256.Sum256([]byte(`{"labels":{"alertname":"disk_space_low"},"metric":"disk_space_low","source":"prometheus","title":"disk_space_low"}`))
	got := Compute("prometheus", map[string]string{"alertname": "disk_space_low"}, "disk_space_low", "disk_space_low")
	assert.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestComputeIgnoresLabelOrder(t *testing.T) {
	a := map[string]string{}
	b := map[string]string{}
	keys := []string{"severity", "instance", "job", "alertname", "namespace", "zone"}
	for i, k := range keys {
		a[k] = k + "-v"
		b[keys[len(keys)-1-i]] = keys[len(keys)-1-i] + "-v"
	}
	for i := 0; i < 20; i++ {
		assert.Equal(t, Compute("grafana", a, "cpu", "High CPU"), Compute("grafana", b, "cpu", "High CPU"))
	}
}

func TestComputeFormatAndSensitivity(t *testing.T) {
	fp := Compute("prometheus", nil, "", "")
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), fp)
	assert.Equal(t, fp, Compute("prometheus", map[string]string{}, "", ""))

	base := Compute("prometheus", map[string]string{"host": "a"}, "m", "t")
	assert.NotEqual(t, base, Compute("zabbix", map[string]string{"host": "a"}, "m", "t"))
	assert.NotEqual(t, base, Compute("prometheus", map[string]string{"host": "b"}, "m", "t"))
	assert.NotEqual(t, base, Compute("prometheus", map[string]string{"host": "a"}, "m2", "t"))
	assert.NotEqual(t, base, Compute("prometheus", map[string]string{"host": "a"}, "m", "t2"))
}

func TestCanonicalKeepsLineSeparatorsRaw(t *testing.T) {
	data, err := Canonical(map[string]string{"k": "a\u2028b\u2029c"})
	require.NoError(t, err)
	assert.Equal(t, "{\"k\":\"a\u2028b\u2029c\"}", string(data))

	want := sha256.Sum256([]byte("{\"labels\":{\"note\":\"x\u2028y\"},\"metric\":\"m\",\"source\":\"custom\",\"title\":\"t\"}"))
	assert.Equal(t, hex.EncodeToString(want[:]), Compute("custom", map[string]string{"note": "x\u2028y"}, "m", "t"))
}

func TestCanonicalLeavesLiteralEscapeText(t *testing.T) {
	// a backslash followed by the text u2028 is not a separator
	data, err := Canonical(map[string]string{"k": `\u2028`, "j": `\\u2029`})
	require.NoError(t, err)
	assert.Equal(t, `{"j":"\\\\u2029","k":"\\u2028"}`, string(data))
}
