package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemaDeclaresEngineTables(t *testing.T) {
	ddl := Schema()
	for _, table := range []string{
		"inventory_items",
		"inventory_movements",
		"sequence_counters",
		"documents",
		"document_lines",
		"quotations",
		"quotation_lines",
		"quotation_delivery_history",
		"quotation_payments",
		"idempotency_keys",
		"audit_logs",
	} {
		require.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	require.True(t, strings.Contains(ddl, "CHECK (on_hand_qty >= 0)"))
}

func TestSchemaMoneyColumnsHoldComputedScale(t *testing.T) {
	ddl := Schema()
	require.Equal(t, 2, strings.Count(ddl, "subtotal         NUMERIC(28, 4)")+strings.Count(ddl, "subtotal            NUMERIC(28, 4)"))
	require.Equal(t, 2, strings.Count(ddl, "amount           NUMERIC(28, 4)"))
	require.Equal(t, 2, strings.Count(ddl, "round_off        NUMERIC(18, 4)")+strings.Count(ddl, "round_off           NUMERIC(18, 4)"))
	require.Equal(t, 2, strings.Count(ddl, "unit_price       NUMERIC(18, 4)"))
	require.NotContains(t, ddl, "NUMERIC(18, 2)")
}
