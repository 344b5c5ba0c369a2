package producer

import (
	"sort"
	"sync"
	"testing"

	"distributed-matmul/internal/domain"
)

func TestCursorClaimsEveryCellExactlyOnce(t *testing.T) {
	const rows, cols = 7, 9
	cur := newCursor(rows, cols)

	type claim struct {
		cell  domain.Cell
		jobID int
	}
	var (
		mu     sync.Mutex
		claims []claim
		wg     sync.WaitGroup
	)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				cell, id, ok := cur.next()
				if !ok {
					return
				}
				mu.Lock()
				claims = append(claims, claim{cell, id})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claims) != rows*cols {
		t.Fatalf("expected %d claims, got %d", rows*cols, len(claims))
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].jobID < claims[j].jobID })
	seen := map[domain.Cell]bool{}
	for i, c := range claims {
		if c.jobID != i {
			t.Fatalf("job ids are not contiguous: position %d has id %d", i, c.jobID)
		}
		if want := (domain.Cell{Row: i / cols, Col: i % cols}); c.cell != want {
			t.Errorf("job %d claimed %s, want %s", i, c.cell, want)
		}
		if seen[c.cell] {
			t.Errorf("cell %s claimed twice", c.cell)
		}
		seen[c.cell] = true
	}
	if cur.claimed() != rows*cols {
		t.Errorf("claimed() = %d, want %d", cur.claimed(), rows*cols)
	}
	if _, _, ok := cur.next(); ok {
		t.Error("exhausted cursor should not hand out more cells")
	}
}

func TestCollectorRejectsStrayResponses(t *testing.T) {
	out, _ := domain.NewMatrix(2, 2)
	col := newCollector(out)

	resp := &domain.Message{Type: domain.MessageTypeResponse, JobID: 3, Row: 1, Col: 1, InnerDim: 2, Payload: []int{50}}
	if err := col.store(resp); err != nil {
		t.Fatalf("store: %v", err)
	}
	if out.Data[1][1] != 50 {
		t.Errorf("expected 50 at (1,1), got %d", out.Data[1][1])
	}

	dup := *resp
	dup.Payload = []int{7}
	outside := &domain.Message{Type: domain.MessageTypeResponse, Row: 2, Col: 0, Payload: []int{1}}
	for _, m := range []*domain.Message{&dup, outside} {
		if err := col.store(m); err == nil {
			t.Errorf("expected rejection for %s", m.Cell())
		}
	}
	if out.Data[1][1] != 50 {
		t.Errorf("duplicate response overwrote the cell")
	}

	missing := col.missing()
	if len(missing) != 3 {
		t.Errorf("expected 3 missing cells, got %v", missing)
	}
}
