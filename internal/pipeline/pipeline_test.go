package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docsearch/internal/domain"
	"github.com/kailas-cloud/docsearch/internal/domain/access"
)

func TestUploadIsSearchableByDepartment(t *testing.T) {
	e := newEnv(t, access.ModeFilter)

	e.upload("sales/report.txt", "sales", "Quarterly revenue report for the northern region")
	e.waitIndexed(1)

	id := domain.DocumentID(rawBucket, "sales/report.txt")
	doc, ok := e.index.get(id)
	if !ok {
		t.Fatalf("document %s not indexed", id)
	}
	if doc.Department != "sales" || doc.SourceKey != "sales/report.txt" {
		t.Errorf("unexpected document: %+v", doc)
	}

	art, err := e.store.Get(context.Background(), transformedBucket, "sales/report.txt.txt")
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if art.Tags[domain.DefaultDepartmentTag] != "sales" {
		t.Errorf("artifact tags: %v", art.Tags)
	}

	res, err := e.pipeline.Search().Search(context.Background(), domain.SearchQuery{
		Text: "revenue report", CallerDepartment: "sales",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.IndexSize != 1 || len(res.Hits) != 1 || res.Hits[0].DocumentID != id {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Hits[0].Department != "sales" {
		t.Errorf("hit department: got %q", res.Hits[0].Department)
	}

	res, err = e.pipeline.Search().Search(context.Background(), domain.SearchQuery{
		Text: "revenue report", CallerDepartment: "marketing",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Hits) != 0 || res.IndexSize != 1 {
		t.Errorf("marketing must not see sales documents: %+v", res)
	}
}

func TestRefundPolicyRanksFirst(t *testing.T) {
	e := newEnv(t, access.ModeFilter)

	docs := map[string]string{
		"sales/refunds.txt":  "Our refund policy allows returns within thirty days",
		"sales/pricing.txt":  "Pricing tiers for enterprise customers",
		"sales/shipping.txt": "Shipping takes five business days",
		"sales/contacts.txt": "Regional sales contacts and phone numbers",
		"sales/warranty.txt": "Warranty covers manufacturing defects for one year",
	}
	for k, body := range docs {
		e.upload(k, "sales", body)
	}
	e.waitIndexed(len(docs))

	res, err := e.pipeline.Search().Search(context.Background(), domain.SearchQuery{
		Text: "refund policy", CallerDepartment: "sales",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.IndexSize != 5 {
		t.Errorf("index size: got %d, want 5", res.IndexSize)
	}
	if len(res.Hits) == 0 || len(res.Hits) > domain.DefaultK {
		t.Fatalf("hits: got %d, want 1..%d", len(res.Hits), domain.DefaultK)
	}
	if want := domain.DocumentID(rawBucket, "sales/refunds.txt"); res.Hits[0].DocumentID != want {
		t.Errorf("top hit: got %q (%s), want refunds", res.Hits[0].DocumentID, res.Hits[0].Text)
	}
	for i := 1; i < len(res.Hits); i++ {
		if res.Hits[i].Score > res.Hits[i-1].Score {
			t.Errorf("hits not ordered by score: %+v", res.Hits)
		}
	}
}

func TestDuplicateDeliveryIndexesOnce(t *testing.T) {
	e := newEnv(t, access.ModeOpen)

	e.upload("sales/report.txt", "sales", "Quarterly revenue report")
	e.waitIndexed(1)

	env, err := domain.NewEnvelope(domain.UploadEvent{
		Bucket: rawBucket, ObjectKey: "sales/report.txt", ContentType: "text/plain",
	}, time.Now()).Encode()
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if err := e.queue.Publish(context.Background(), env); err != nil {
			t.Fatal(err)
		}
	}

	eventually(t, 5*time.Second, func() bool {
		return e.extractor.calls.Load() >= 4 && e.settled()
	}, "redeliveries processed")

	if n, _ := e.index.Count(context.Background()); n != 1 {
		t.Errorf("documents: got %d, want 1", n)
	}
}

func TestSameKeyLastWriteWins(t *testing.T) {
	e := newEnv(t, access.ModeOpen)
	id := domain.DocumentID(rawBucket, "marketing/brief.txt")

	e.upload("marketing/brief.txt", "marketing", "first draft of the campaign brief")
	e.waitIndexed(1)

	e.upload("marketing/brief.txt", "marketing", "final campaign brief approved")
	eventually(t, 5*time.Second, func() bool {
		d, _ := e.index.get(id)
		return d.Text == "final campaign brief approved" && e.settled()
	}, "second version indexed")

	if n, _ := e.index.Count(context.Background()); n != 1 {
		t.Errorf("documents: got %d, want 1", n)
	}
}

func TestDepartmentIsCarriedToEveryDocument(t *testing.T) {
	e := newEnv(t, access.ModeOpen)

	uploads := map[string]string{
		"sales/a.txt":     "sales",
		"sales/b.txt":     "sales",
		"marketing/c.txt": "marketing",
		"marketing/d.txt": "north-america marketing",
	}
	for k, dept := range uploads {
		e.upload(k, dept, "document "+k)
	}
	e.waitIndexed(len(uploads))

	for _, d := range e.index.all() {
		if want := uploads[d.SourceKey]; d.Department.String() != want {
			t.Errorf("%s: department %q, want %q", d.SourceKey, d.Department, want)
		}
	}
}

func TestExtractionInFlightIsOne(t *testing.T) {
	e := newEnv(t, access.ModeOpen, func(_ *Config, x *countingExtractor) {
		x.delay = 10 * time.Millisecond
	})

	// a second consumer on the same queue must not raise the cap
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.pipeline.Worker().Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	for i := range 6 {
		e.upload(fmt.Sprintf("sales/doc-%d.txt", i), "sales", fmt.Sprintf("document number %d", i))
	}
	e.waitIndexed(6)

	if peak := e.extractor.peak.Load(); peak != 1 {
		t.Errorf("extraction peak concurrency: got %d, want 1", peak)
	}
}

func TestTransientFailureIsRedelivered(t *testing.T) {
	e := newEnv(t, access.ModeOpen, func(_ *Config, x *countingExtractor) {
		x.failures.Store(1)
		x.failWith = fmt.Errorf("extract: %w", domain.ErrExtractionUnavailable)
	})

	start := time.Now()
	e.upload("sales/report.txt", "sales", "Quarterly revenue report")
	e.waitIndexed(1)

	if calls := e.extractor.calls.Load(); calls != 2 {
		t.Errorf("extraction calls: got %d, want 2", calls)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("redelivered after %s, before the visibility timeout", elapsed)
	}
	if dl := e.queue.DeadLetters(); len(dl) != 0 {
		t.Errorf("unexpected dead letters: %+v", dl)
	}
}

func TestExtractionFailureRecoversWithinBound(t *testing.T) {
	e := newEnv(t, access.ModeOpen, func(_ *Config, x *countingExtractor) {
		x.failures.Store(2)
		x.failWith = fmt.Errorf("extract: %w", domain.ErrExtractionFailed)
	})

	e.upload("sales/report.txt", "sales", "Quarterly revenue report")
	e.waitIndexed(1)

	if calls := e.extractor.calls.Load(); calls != 3 {
		t.Errorf("extraction calls: got %d, want 3", calls)
	}
	if dl := e.queue.DeadLetters(); len(dl) != 0 {
		t.Errorf("unexpected dead letters: %+v", dl)
	}
}

func TestMissingDepartmentIsDeadLettered(t *testing.T) {
	e := newEnv(t, access.ModeOpen)

	e.upload("sales/untagged.txt", "", "no owner")
	eventually(t, 5*time.Second, func() bool { return len(e.queue.DeadLetters()) == 1 }, "dead letter")

	if n, _ := e.index.Count(context.Background()); n != 0 {
		t.Errorf("documents: got %d, want 0", n)
	}
	if calls := e.extractor.calls.Load(); calls != 0 {
		t.Errorf("extraction calls: got %d, want 0", calls)
	}
}

func TestUnroutedUploadIsIgnored(t *testing.T) {
	e := newEnv(t, access.ModeOpen)

	e.upload("hr/salaries.txt", "hr", "confidential")
	e.upload("sales/archive.zip", "sales", "binary")
	e.upload("sales/report.txt", "sales", "Quarterly revenue report")
	e.waitIndexed(1)

	if n, _ := e.index.Count(context.Background()); n != 1 {
		t.Errorf("documents: got %d, want 1", n)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	e := newEnv(t, access.ModeFilter)

	res, err := e.pipeline.Search().Search(context.Background(), domain.SearchQuery{
		Text: "anything", CallerDepartment: "sales",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Hits == nil || len(res.Hits) != 0 || res.IndexSize != 0 {
		t.Errorf("unexpected result: %+v", res)
	}

	_, err = e.pipeline.Search().Search(context.Background(), domain.SearchQuery{Text: "   "})
	if !errors.Is(err, domain.ErrInvalidQuery) {
		t.Errorf("blank query: got %v, want ErrInvalidQuery", err)
	}
}

func TestEnsureIndex(t *testing.T) {
	e := newEnv(t, access.ModeFilter)
	if err := e.pipeline.EnsureIndex(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.index.mu.Lock()
	defer e.index.mu.Unlock()
	if e.index.ensured != 1 {
		t.Errorf("ensure calls: got %d", e.index.ensured)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}, Config{}, zap.NewNop()); err == nil {
		t.Fatal("expected error for missing deps")
	}
}
