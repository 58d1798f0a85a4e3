package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func liveSchema() map[string]map[string]bool {
	found := make(map[string]map[string]bool, len(probeColumns))
	for table, cols := range probeColumns {
		found[table] = make(map[string]bool, len(cols))
		for _, col := range cols {
			found[table][col] = true
		}
	}
	return found
}

func TestMissingColumnsCleanSchema(t *testing.T) {
	assert.Empty(t, missingColumns(liveSchema()))
}

func TestMissingColumnsDetectsDroppedColumn(t *testing.T) {
	found := liveSchema()
	delete(found[TableSnapshots], "total_volume")
	delete(found[TableIndicators], "timeframe")

	missing := missingColumns(found)
	assert.Equal(t, []string{"coin_data.total_volume", "indicator_data.timeframe"}, missing)
}

func TestMissingColumnsDetectsAbsentTable(t *testing.T) {
	found := liveSchema()
	delete(found, TableSyncLogs)

	missing := missingColumns(found)
	assert.Contains(t, missing, "sync_logs (table absent)")
}

func TestMissingColumnsIgnoresExtras(t *testing.T) {
	found := liveSchema()
	found[TableSnapshots]["operator_note"] = true
	found["unrelated_table"] = map[string]bool{"id": true}

	assert.Empty(t, missingColumns(found), "extra columns and tables are fine")
}
