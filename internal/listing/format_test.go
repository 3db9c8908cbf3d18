package listing

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiwatching/accord/pkg/protocol"
)

func sampleRequests() []*protocol.Request {
	now := time.Now().UTC().Add(-2 * time.Hour)
	return []*protocol.Request{
		{ID: "req-charge-idem", From: "billing", To: "payments",
			Scope: protocol.ScopeExternal, Type: protocol.TypeAddition,
			Priority: protocol.PriorityHigh, Status: protocol.StatusApproved,
			Created: now, Updated: now,
			RelatedContract: "contracts/payments/charge-api.md"},
		{ID: "req-question", From: "payments", To: "platform",
			Scope: protocol.ScopeExternal, Type: protocol.TypeQuestion,
			Priority: protocol.PriorityLow, Status: protocol.StatusPending,
			Created: now, Updated: now},
	}
}

func TestFormatTable(t *testing.T) {
	var buf bytes.Buffer

	count := FormatTable(&buf, sampleRequests(), 0)
	assert.Equal(t, 2, count)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "req-charge-idem")
	assert.Contains(t, output, "approved")
	assert.Contains(t, output, "2h")
	assert.Contains(t, output, "2 requests found")
	assert.NotContains(t, output, "malformed")
}

func TestFormatTable_Empty(t *testing.T) {
	var buf bytes.Buffer

	count := FormatTable(&buf, nil, 0)
	assert.Zero(t, count)
	assert.Contains(t, buf.String(), "No requests found")
}

func TestFormatTable_ReportsSkipped(t *testing.T) {
	var buf bytes.Buffer

	FormatTable(&buf, sampleRequests(), 3)
	assert.Contains(t, buf.String(), "3 malformed records skipped")
}

func TestFormatJSONL(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, FormatJSONL(&buf, sampleRequests()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "req-charge-idem", first["id"])
	assert.Equal(t, "approved", first["status"])
	assert.Equal(t, "contracts/payments/charge-api.md", first["related_contract"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "req-question", second["id"])
	_, hasContract := second["related_contract"]
	assert.False(t, hasContract, "empty optional fields are omitted")
}
