package jobs

import (
	"fmt"
	"testing"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

func TestAuditLogBounded(t *testing.T) {
	l := NewAuditLog(10)

	for i := 0; i < 25; i++ {
		l.Append(fmt.Sprintf("job-%d", i), models.AuditJobCreated, "system", nil)
	}

	if l.Len() != 10 {
		t.Fatalf("len = %d, want cap of 10", l.Len())
	}

	// Oldest truncated; newest survive with their original sequence numbers
	entries := l.Query(AuditQuery{})
	if entries[0].Sequence != 25 {
		t.Errorf("newest sequence = %d, want 25", entries[0].Sequence)
	}
	if entries[len(entries)-1].Sequence != 16 {
		t.Errorf("oldest retained sequence = %d, want 16", entries[len(entries)-1].Sequence)
	}
}

func TestAuditQueryFilters(t *testing.T) {
	l := NewAuditLog(100)
	l.Append("job-a", models.AuditJobCreated, "system", nil)
	l.Append("job-a", models.AuditJobStarted, "system", nil)
	l.Append("job-b", models.AuditJobCreated, "alice", nil)
	l.Append("job-a", models.AuditJobCompleted, "system", nil)

	byJob := l.Query(AuditQuery{JobID: "job-a"})
	if len(byJob) != 3 {
		t.Errorf("job filter: got %d, want 3", len(byJob))
	}
	// Newest first
	if byJob[0].Event != models.AuditJobCompleted {
		t.Errorf("first = %s, want JOB_COMPLETED", byJob[0].Event)
	}

	byEvent := l.Query(AuditQuery{Event: models.AuditJobCreated})
	if len(byEvent) != 2 {
		t.Errorf("event filter: got %d, want 2", len(byEvent))
	}

	paged := l.Query(AuditQuery{JobID: "job-a", Limit: 1, Offset: 1})
	if len(paged) != 1 || paged[0].Event != models.AuditJobStarted {
		t.Errorf("paged = %+v", paged)
	}
}

func TestAuditForJobOldestFirst(t *testing.T) {
	l := NewAuditLog(100)
	l.Append("job-a", models.AuditJobCreated, "system", nil)
	l.Append("job-b", models.AuditJobCreated, "system", nil)
	l.Append("job-a", models.AuditJobStarted, "system", nil)

	trail := l.ForJob("job-a")
	if len(trail) != 2 {
		t.Fatalf("len = %d, want 2", len(trail))
	}
	if trail[0].Event != models.AuditJobCreated || trail[1].Event != models.AuditJobStarted {
		t.Errorf("trail order wrong: %s then %s", trail[0].Event, trail[1].Event)
	}
}
