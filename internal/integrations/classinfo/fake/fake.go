package fake

import (
	"context"
	"hash/fnv"

	"seatwatch/internal/integrations/classinfo"
	"seatwatch/internal/models"
)

// FakeClient is a local stand-in for the catalog scraper, for demos and tests
// without a browser. The seat status is deterministic per class number so
// repeated checks are stable within a run.
type FakeClient struct{}

func New() *FakeClient { return &FakeClient{} }

func (f *FakeClient) Lookup(ctx context.Context, classNumber string) (classinfo.ClassStatus, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(classNumber))
	v := h.Sum32()

	// 25% of classes have open seats.
	status := models.SeatStatusClosed
	if v%4 == 0 {
		status = models.SeatStatusOpen
	}

	return classinfo.ClassStatus{
		ClassNumber: classNumber,
		Course:      "FAKE 101",
		Title:       "Fake Catalog Entry",
		Instructors: []string{"Staff"},
		Days:        classinfo.NA,
		StartTime:   classinfo.NA,
		EndTime:     classinfo.NA,
		Location:    classinfo.NA,
		Dates:       classinfo.NA,
		Units:       "3",
		SeatStatus:  status,
	}, nil
}
