package report

import (
	"bytes"
	"fmt"

	"github.com/prometheus/common/expfmt"
)

// Export renders the metrics in Prometheus text format.
func (m *Metrics) Export() (string, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return "", fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}
