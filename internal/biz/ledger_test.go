package biz

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLedger() *Ledger {
	l := NewLedger()
	l.Append(InconsistencyRecord{EntityType: "users", EntityID: "1", Type: CacheOnly, Fixed: true})
	l.Append(InconsistencyRecord{EntityType: "users", EntityID: "2", Type: DBOnly})
	l.Append(InconsistencyRecord{EntityType: "orders", EntityID: "1", Type: DataMismatch})
	l.Append(InconsistencyRecord{EntityType: "orders", EntityID: "2", Type: DataMismatch, Fixed: true})
	return l
}

func TestLedger_Query(t *testing.T) {
	l := seedLedger()

	tests := []struct {
		name   string
		filter LedgerFilter
		want   []string
	}{
		{"all", LedgerFilter{}, []string{"users/1", "users/2", "orders/1", "orders/2"}},
		{"by entity", LedgerFilter{EntityType: "orders"}, []string{"orders/1", "orders/2"}},
		{"by type", LedgerFilter{Type: DataMismatch}, []string{"orders/1", "orders/2"}},
		{"unfixed", LedgerFilter{Fixed: boolPtr(false)}, []string{"users/2", "orders/1"}},
		{"fixed mismatch", LedgerFilter{Type: DataMismatch, Fixed: boolPtr(true)}, []string{"orders/2"}},
		{"limit", LedgerFilter{Limit: 1}, []string{"users/1"}},
		{"no match", LedgerFilter{EntityType: "carts"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make([]string, 0)
			for _, rec := range l.Query(tt.filter) {
				got = append(got, rec.EntityType+"/"+rec.EntityID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLedger_Stats(t *testing.T) {
	st := seedLedger().Stats()

	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 2, st.Fixed)
	assert.Equal(t, 2, st.Pending)
	assert.Equal(t, map[InconsistencyType]int{CacheOnly: 1, DBOnly: 1, DataMismatch: 2}, st.ByType)
	assert.Equal(t, map[string]int{"users": 2, "orders": 2}, st.ByEntity)
}

func TestLedger_ClearEntity(t *testing.T) {
	l := seedLedger()
	l.ClearEntity("users")

	assert.Equal(t, []string{"orders"}, l.Entities())
	assert.Equal(t, 2, l.Stats().Total)

	l.Clear()
	assert.Zero(t, l.Stats().Total)
	assert.Empty(t, l.Query(LedgerFilter{}))
}

func TestLedger_FindUpdate(t *testing.T) {
	l := seedLedger()

	rec, ok := l.Find("users", "2")
	require.True(t, ok)
	assert.False(t, rec.Fixed)

	rec.Fixed = true
	assert.True(t, l.Update(rec))
	assert.Equal(t, 1, l.Stats().Pending)

	_, ok = l.Find("users", "404")
	assert.False(t, ok)
	assert.False(t, l.Update(InconsistencyRecord{EntityType: "users", EntityID: "404"}))
}

func TestLedger_QueryReturnsCopies(t *testing.T) {
	l := seedLedger()
	recs := l.Query(LedgerFilter{})
	recs[0].Fixed = false

	assert.Equal(t, 2, l.Stats().Fixed)
}

func TestLedger_Concurrent(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Append(InconsistencyRecord{EntityType: "users", Type: DBOnly})
				_ = l.Stats()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, l.Stats().Total)
}
