package transfer

import (
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"goa.design/txconsole/runtime/console/status"
)

type update struct {
	id      string
	label   string
	txIndex *int
	txHash  string
	status  string
	message string
	offset  int
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func (u update) meta() Meta {
	return Meta{ID: u.id, Label: u.label, TxIndex: u.txIndex, TxHash: u.txHash, Status: status.Code(u.status)}
}

func (u update) ts() time.Time {
	return epoch.Add(time.Duration(u.offset) * time.Second)
}

// TestUpsertLastNonEmptyWriteWinsProperty verifies that for any sequence of
// updates sharing one ID, CreatedAt is the first event's timestamp and every
// field holds the last non-empty value supplied for it.
func TestUpsertLastNonEmptyWriteWinsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("field-by-field last non-empty write wins", prop.ForAll(
		func(updates []update) bool {
			r := NewRegistry()
			var want Record
			for i, u := range updates {
				u.id = "t1"
				r.Upsert(u.meta(), u.message, u.ts())
				if i == 0 {
					want.CreatedAt = u.ts()
				}
				if u.label != "" {
					want.Label = u.label
				}
				if u.txIndex != nil {
					want.TxIndex = u.txIndex
				}
				if u.txHash != "" {
					want.TxHash = u.txHash
				}
				if u.status != "" {
					want.Status = status.Code(u.status)
				}
				if u.message != "" {
					want.LastMessage = u.message
				}
				want.UpdatedAt = u.ts()
			}
			got, ok := r.Get("t1")
			if !ok || r.Len() != 1 {
				return false
			}
			if !got.CreatedAt.Equal(want.CreatedAt) || !got.UpdatedAt.Equal(want.UpdatedAt) {
				return false
			}
			if (got.TxIndex == nil) != (want.TxIndex == nil) {
				return false
			}
			if got.TxIndex != nil && *got.TxIndex != *want.TxIndex {
				return false
			}
			return got.Label == want.Label &&
				got.TxHash == want.TxHash &&
				got.Status == want.Status &&
				got.LastMessage == want.LastMessage
		},
		genUpdates(1, 12, gen.Const("t1")),
	))

	properties.TestingRun(t)
}

// TestSnapshotOrderProperty verifies snapshots are sorted by CreatedAt, keep
// first-seen order for ties and are stable across repeated calls.
func TestSnapshotOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("snapshot sorted by creation and stable", prop.ForAll(
		func(updates []update) bool {
			r := NewRegistry()
			var firstSeen []string
			created := make(map[string]time.Time)
			for _, u := range updates {
				if r.Upsert(u.meta(), u.message, u.ts()) {
					if _, ok := created[u.id]; !ok {
						created[u.id] = u.ts()
						firstSeen = append(firstSeen, u.id)
					}
				}
			}
			want := append([]string(nil), firstSeen...)
			sort.SliceStable(want, func(i, j int) bool {
				return created[want[i]].Before(created[want[j]])
			})
			snap := r.Snapshot()
			if !reflect.DeepEqual(ids(snap), nilIfEmpty(want)) {
				return false
			}
			for i := 1; i < len(snap); i++ {
				if snap[i].CreatedAt.Before(snap[i-1].CreatedAt) {
					return false
				}
			}
			return reflect.DeepEqual(snap, r.Snapshot())
		},
		genUpdates(0, 30, gen.OneConstOf("", "a", "b", "c", "d", "e")),
	))

	properties.TestingRun(t)
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return []string{}
	}
	return s
}

func genUpdates(minLen, maxLen int, ids gopter.Gen) gopter.Gen {
	return gen.IntRange(minLen, maxLen).FlatMap(func(n any) gopter.Gen {
		return gen.SliceOfN(n.(int), genUpdate(ids))
	}, reflect.TypeOf([]update{}))
}

func genUpdate(ids gopter.Gen) gopter.Gen {
	optional := func(g gopter.Gen) gopter.Gen {
		return gen.OneGenOf(gen.Const(""), g)
	}
	return gopter.CombineGens(
		ids,
		optional(gen.AlphaString()),
		gen.PtrOf(gen.IntRange(0, 20)),
		optional(gen.OneConstOf("0xabc", "0xdef", "0x123")),
		gen.OneConstOf("", "preparing", "submitted", "pending", "monitoring", "confirmed", "reverted", "replaced"),
		optional(gen.AlphaString()),
		gen.IntRange(-5, 5),
	).Map(func(vals []any) update {
		var idx *int
		if p, ok := vals[2].(*int); ok && p != nil {
			v := *p
			idx = &v
		}
		return update{
			id:      vals[0].(string),
			label:   vals[1].(string),
			txIndex: idx,
			txHash:  vals[3].(string),
			status:  vals[4].(string),
			message: vals[5].(string),
			offset:  vals[6].(int),
		}
	})
}
