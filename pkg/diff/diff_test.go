package diff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livelaunch/platform/pkg/common/models"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newDiffer() *Differ {
	return NewDiffer(
		models.NewStatusSet(models.StatusSuccess, models.StatusFailure, models.StatusPartialFailure),
		models.NewStatusSet(models.StatusGo, models.StatusHold, models.StatusInFlight, models.StatusSuccess),
	)
}

func launch() models.EventRecord {
	return models.EventRecord{
		ID:       "f2b3",
		Kind:     models.KindLaunch,
		Name:     "Falcon 9 | Starlink",
		Location: "Cape Canaveral",
		AgencyID: 121,
		MediaURL: "https://www.youtube.com/watch?v=abcdefghijk",
		ImageURL: "https://img.example/f9.png",
		Start:    now.Add(2 * time.Hour),
		End:      now.Add(3 * time.Hour),
		Status:   models.StatusTBD,
	}
}

func TestDiffCreated(t *testing.T) {
	cs := newDiffer().Diff(nil, launch(), now)

	assert.True(t, cs.Created)
	assert.True(t, cs.Relevant)
	assert.False(t, cs.StartChanged())
	assert.False(t, cs.Empty())
}

func TestDiffIdenticalIsEmpty(t *testing.T) {
	cached := launch()
	cs := newDiffer().Diff(&cached, launch(), now)

	assert.True(t, cs.Empty())
	assert.True(t, cs.Fields.Empty())
	assert.Nil(t, cs.Changes())
}

func TestDiffEachFieldIndependently(t *testing.T) {
	mutations := map[Field]func(*models.EventRecord){
		FieldStatus:        func(r *models.EventRecord) { r.Status = models.StatusTBC },
		FieldStart:         func(r *models.EventRecord) { r.Start = r.Start.Add(time.Minute) },
		FieldEnd:           func(r *models.EventRecord) { r.End = r.End.Add(time.Minute) },
		FieldMediaURL:      func(r *models.EventRecord) { r.MediaURL = models.NoStream },
		FieldImageURL:      func(r *models.EventRecord) { r.ImageURL = "" },
		FieldName:          func(r *models.EventRecord) { r.Name = "Falcon 9 | Transporter" },
		FieldLocation:      func(r *models.EventRecord) { r.Location = "Vandenberg" },
		FieldAgencyID:      func(r *models.EventRecord) { r.AgencyID = 44 },
		FieldBroadcastLive: func(r *models.EventRecord) { r.BroadcastLive = true },
		FieldDescription:   func(r *models.EventRecord) { r.Description = "payload" },
	}

	for field, mutate := range mutations {
		t.Run(field.String(), func(t *testing.T) {
			cached := launch()
			fresh := launch()
			mutate(&fresh)

			cs := newDiffer().Diff(&cached, fresh, now)

			assert.Equal(t, []Field{field}, cs.Fields.Fields())
			changes := cs.Changes()
			require.Len(t, changes, 1)
			assert.NotEqual(t, changes[0].Old, changes[0].New)
		})
	}
}

func TestDiffTimeEqualityIsByValue(t *testing.T) {
	cached := launch()
	fresh := launch()
	fresh.Start = fresh.Start.In(time.FixedZone("CEST", 2*60*60))

	cs := newDiffer().Diff(&cached, fresh, now)

	assert.True(t, cs.Empty())
}

func TestDiffStatusNotify(t *testing.T) {
	cached := launch()
	fresh := launch()
	fresh.Status = models.StatusGo

	cs := newDiffer().Diff(&cached, fresh, now)

	assert.True(t, cs.StatusNotify)
	assert.True(t, cs.Fields.Has(FieldStatus))
	assert.False(t, cs.CalendarFields().Has(FieldStatus))
}

func TestDiffStatusOutsideNotifiableSubset(t *testing.T) {
	cached := launch()
	cached.Status = models.StatusGo
	fresh := launch()
	fresh.Status = models.StatusTBC

	cs := newDiffer().Diff(&cached, fresh, now)

	assert.False(t, cs.StatusNotify)
	assert.True(t, cs.CalendarFields().Has(FieldStatus))
}

func TestCalendarFieldsDropAgency(t *testing.T) {
	cached := launch()
	fresh := launch()
	fresh.AgencyID = 7
	fresh.Name = "renamed"

	cs := newDiffer().Diff(&cached, fresh, now)

	assert.Equal(t, []Field{FieldName}, cs.CalendarFields().Fields())
}

func TestDiffBecameIrrelevantOnTerminalStatus(t *testing.T) {
	cached := launch()
	fresh := launch()
	fresh.Status = models.StatusSuccess

	cs := newDiffer().Diff(&cached, fresh, now)

	assert.True(t, cs.WasRelevant)
	assert.False(t, cs.Relevant)
	assert.True(t, cs.BecameIrrelevant())
	assert.False(t, cs.BecameRelevant())
}

func TestDiffBecameIrrelevantOnEnd(t *testing.T) {
	cached := launch()
	fresh := launch()
	fresh.Start = now.Add(-2 * time.Hour)
	fresh.End = now.Add(-time.Hour)

	cs := newDiffer().Diff(&cached, fresh, now)

	assert.True(t, cs.BecameIrrelevant())
}

func TestDiffBecameRelevant(t *testing.T) {
	cached := launch()
	cached.End = now.Add(-time.Minute)
	fresh := launch()

	cs := newDiffer().Diff(&cached, fresh, now)

	assert.True(t, cs.BecameRelevant())
	assert.True(t, cs.StartChanged() || cs.Fields.Has(FieldEnd))
}

func TestRemoved(t *testing.T) {
	cs := newDiffer().Removed(launch(), now)

	assert.True(t, cs.Removed)
	assert.True(t, cs.WasRelevant)
	assert.Nil(t, cs.Fresh)
	assert.False(t, cs.Empty())
}

func TestFieldSetString(t *testing.T) {
	s := FieldSet(0).With(FieldName).With(FieldStart)
	assert.Equal(t, "start,name", s.String())
	assert.Equal(t, "name", s.Without(FieldStart).String())
}
