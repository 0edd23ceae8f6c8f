package recording_test

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarchlab/cachescope/cache"
	"github.com/sarchlab/cachescope/coherence"
	"github.com/sarchlab/cachescope/hierarchy"
	"github.com/sarchlab/cachescope/recording"
	"github.com/sarchlab/cachescope/timing"
)

func setupWriter(t *testing.T) *recording.Writer {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)

	w := recording.NewWriterWithDB(db)
	t.Cleanup(func() { w.Close() })

	return w
}

func TestWriterCreateTable(t *testing.T) {
	w := setupWriter(t)

	w.CreateTable("test_table", struct {
		ID   int
		Name string
	}{})

	var tableName string
	err := w.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='test_table';",
	).Scan(&tableName)
	require.NoError(t, err)
	assert.Equal(t, "test_table", tableName)
}

func TestWriterInsertAndFlush(t *testing.T) {
	w := setupWriter(t)

	type row struct {
		ID   int
		Name string
	}
	w.CreateTable("test_table", row{})
	w.InsertData("test_table", row{1, "Task1"})
	w.Flush()

	var id int
	var name string
	err := w.QueryRow("SELECT ID, Name FROM test_table WHERE ID=1;").Scan(&id, &name)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, "Task1", name)
}

func TestWriterListTables(t *testing.T) {
	w := setupWriter(t)

	w.CreateTable("one", struct{ ID int }{})
	w.CreateTable("two", struct{ ID int }{})

	assert.ElementsMatch(t, []string{"one", "two"}, w.ListTables())
}

func TestWriterRejectsNestedStructs(t *testing.T) {
	w := setupWriter(t)

	type inner struct{ ID int }

	assert.Panics(t, func() {
		w.CreateTable("bad", struct{ Inner inner }{})
	})
}

func TestWriterInsertIntoMissingTablePanics(t *testing.T) {
	w := setupWriter(t)

	assert.Panics(t, func() {
		w.InsertData("nope", struct{ ID int }{})
	})
}

func TestRecorderProgressRows(t *testing.T) {
	w := setupWriter(t)
	r := recording.NewRecorderWithWriter(w)

	r.Progress(100, hierarchy.Stats{
		L1D:           cache.Stats{Hits: 90, Misses: 10},
		Invalidations: 3,
	})
	r.Progress(200, hierarchy.Stats{
		L1D: cache.Stats{Hits: 180, Misses: 20},
	})
	r.Flush()

	var count int
	require.NoError(t, w.QueryRow(
		"SELECT COUNT(*) FROM "+recording.ProgressTable+";").Scan(&count))
	assert.Equal(t, 2, count)

	var events, hits uint64
	require.NoError(t, w.QueryRow(
		"SELECT Events, L1DHits FROM "+recording.ProgressTable+
			" WHERE Run=? ORDER BY Events DESC LIMIT 1;", r.Run(),
	).Scan(&events, &hits))
	assert.Equal(t, uint64(200), events)
	assert.Equal(t, uint64(180), hits)
}

func TestRecorderFinalRows(t *testing.T) {
	w := setupWriter(t)
	r := recording.NewRecorderWithWriter(w)

	model := timing.NewModel(timing.IntelLatency())
	model.Record(timing.ResolveL1, false, true)

	r.Final(hierarchy.Stats{
		L1D:   cache.Stats{Hits: 9, Misses: 1},
		HasL3: true,
	}, model, []coherence.LineReport{
		{LineAddr: 0x1000, Accesses: []coherence.Access{{Thread: 1}, {Thread: 2}}},
	})
	r.Flush()

	var levels int
	require.NoError(t, w.QueryRow(
		"SELECT COUNT(*) FROM "+recording.LevelStatsTable+";").Scan(&levels))
	assert.Equal(t, 4, levels, "l1d, l1i, l2, l3")

	var cycles uint64
	require.NoError(t, w.QueryRow(
		"SELECT TotalCycles FROM "+recording.TimingTable+" WHERE Run=?;", r.Run(),
	).Scan(&cycles))
	assert.Equal(t, uint64(timing.IntelLatency().L1Hit), cycles)

	var fsCount int
	require.NoError(t, w.QueryRow(
		"SELECT AccessCount FROM "+recording.FalseSharingTable+
			" WHERE LineAddr=4096;").Scan(&fsCount))
	assert.Equal(t, 2, fsCount)
}

func TestRecorderSkipsL3WhenAbsent(t *testing.T) {
	w := setupWriter(t)
	r := recording.NewRecorderWithWriter(w)

	r.Final(hierarchy.Stats{}, timing.NewModel(timing.IntelLatency()), nil)
	r.Flush()

	var levels int
	require.NoError(t, w.QueryRow(
		"SELECT COUNT(*) FROM "+recording.LevelStatsTable+";").Scan(&levels))
	assert.Equal(t, 3, levels)
}
