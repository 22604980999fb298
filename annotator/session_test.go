package annotator

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/dbopen"
	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/dom/htmldom"
	"github.com/hazyhaar/pinpoint/idgen"
	"github.com/hazyhaar/pinpoint/location"
	"github.com/hazyhaar/pinpoint/observability"
	"github.com/hazyhaar/pinpoint/screenshot"
	"github.com/hazyhaar/pinpoint/store"
	"github.com/hazyhaar/pinpoint/upload"
)

const dashboard = `<html><body>
<h1 id="title">Sales</h1>
<div id="chart" data-cord-annotation-location='{"page":"/dash","chart":"sales"}'>chart</div>
<div id="table" data-cord-annotation-location='{"page":"/dash","table":"orders"}'>table</div>
</body></html>`

func dashboardDoc(t *testing.T) *htmldom.Document {
	t.Helper()
	doc := htmldom.MustParse(dashboard, htmldom.WithViewport(800, 600))
	doc.SetLayout(doc.ByID("title"), htmldom.Layout{Rect: dom.Rect{Left: 0, Top: 0, Width: 800, Height: 40}})
	doc.SetLayout(doc.ByID("chart"), htmldom.Layout{Rect: dom.Rect{Left: 100, Top: 100, Width: 200, Height: 100}})
	doc.SetLayout(doc.ByID("table"), htmldom.Layout{Rect: dom.Rect{Left: 100, Top: 300, Width: 400, Height: 200}})
	return doc
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(context.Background(), store.Config{DB: dbopen.OpenMemory(t)})
	if err != nil {
		t.Fatal(err)
	}
	return st
}

// solidRaster paints the requested area grey, or fails with err.
func solidRaster(err error) screenshot.Rasterizer {
	return screenshot.RasterizerFunc(func(_ context.Context, _ string, w, h, scale float64) (image.Image, error) {
		if err != nil {
			return nil, err
		}
		img := image.NewRGBA(image.Rect(0, 0, int(w*scale), int(h*scale)))
		draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{Y: 0xcc}), image.Point{}, draw.Src)
		return img, nil
	})
}

type sessionOpts struct {
	store    bool
	uploader upload.Uploader
	raster   screenshot.Rasterizer
	// observe wires metrics and the audit trail; tests Close them to
	// flush before querying.
	observe bool
	doc     *htmldom.Document
}

func newTestSession(t *testing.T, o sessionOpts) *Session {
	t.Helper()
	cfg := SessionConfig{
		Document: o.doc,
		Uploader: o.uploader,
		SourceID: "src-1",
		IDs:      idgen.Sequence("ann"),
	}
	if o.doc == nil {
		cfg.Document = dashboardDoc(t)
	}
	if o.store {
		cfg.Store = testStore(t)
	}
	if o.observe {
		db := dbopen.OpenMemory(t)
		if cfg.Store != nil {
			db = cfg.Store.DB()
		}
		if err := observability.Init(context.Background(), db); err != nil {
			t.Fatal(err)
		}
		cfg.Metrics = observability.NewMetricsManager(db, 0, time.Hour, nil)
		cfg.Audit = observability.NewAuditLogger(db, 0)
		t.Cleanup(func() {
			cfg.Metrics.Close()
			cfg.Audit.Close()
		})
	}
	if o.raster != nil {
		shots, err := screenshot.New(screenshot.Config{Rasterizer: o.raster})
		if err != nil {
			t.Fatal(err)
		}
		cfg.Screenshotter = shots
	}
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSession_RequiresDocument(t *testing.T) {
	if _, err := NewSession(SessionConfig{}); err == nil {
		t.Error("expected an error without a document")
	}
}

func TestCreateAnnotation_CaptureHandler(t *testing.T) {
	s := newTestSession(t, sessionOpts{store: true})
	ctx := context.Background()

	var gotPos annotation.CapturePosition
	err := s.Registry().SetCaptureHandler(location.Location{"page": "/dash"},
		func(_ context.Context, pos annotation.CapturePosition, el dom.Element) (*annotation.CaptureResult, error) {
			gotPos = pos
			return &annotation.CaptureResult{Location: location.Location{"bar": "q3"}, Label: "Q3 bar"}, nil
		})
	if err != nil {
		t.Fatal(err)
	}

	c, err := s.CreateAnnotation(ctx, CaptureRequest{Point: dom.Point{X: 150, Y: 125}, ThreadID: "t-1"})
	if err != nil {
		t.Fatal(err)
	}
	rec := c.Record
	if rec.ID != "ann-1" || !rec.Draft || rec.SourceID != "src-1" || rec.ThreadID != "t-1" {
		t.Errorf("record: %+v", rec.Annotation)
	}
	if !location.Equal(rec.Location, location.Location{"page": "/dash", "chart": "sales"}) {
		t.Errorf("location: %v", rec.Location)
	}
	if !location.Equal(rec.CustomLocation, location.Location{"bar": "q3"}) || rec.CustomLabel != "Q3 bar" {
		t.Errorf("capture result not merged: %v %q", rec.CustomLocation, rec.CustomLabel)
	}
	if gotPos != (annotation.CapturePosition{X: 50, Y: 25}) {
		t.Errorf("capture position: %+v", gotPos)
	}
	if rec.CoordsRelativeToTarget != (annotation.Point{X: 0.25, Y: 0.25}) {
		t.Errorf("relative coords: %+v", rec.CoordsRelativeToTarget)
	}

	tracked := s.Tracker().Annotations()
	if len(tracked) != 1 || tracked[0].ID != "ann-1" {
		t.Fatalf("tracked: %+v", tracked)
	}
	pos := s.Resolve(ctx, tracked[0], false)
	if pos.Match != location.MatchExact || pos.Document == nil || pos.Document.X != 150 || pos.Document.Y != 125 {
		t.Errorf("resolved: %+v", pos)
	}
}

func TestCreateAnnotation_LabelFromRequestWins(t *testing.T) {
	s := newTestSession(t, sessionOpts{})
	s.Registry().SetCaptureHandler(location.Location{"page": "/dash"},
		func(context.Context, annotation.CapturePosition, dom.Element) (*annotation.CaptureResult, error) {
			return &annotation.CaptureResult{Label: "from handler"}, nil
		})
	c, err := s.CreateAnnotation(context.Background(), CaptureRequest{Point: dom.Point{X: 150, Y: 350}, Label: "mine"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Record.CustomLabel != "mine" {
		t.Errorf("label: %q", c.Record.CustomLabel)
	}
}

func TestCreateAnnotation_HandlerPanicIsIsolated(t *testing.T) {
	s := newTestSession(t, sessionOpts{})
	s.Registry().SetCaptureHandler(location.Location{"page": "/dash"},
		func(context.Context, annotation.CapturePosition, dom.Element) (*annotation.CaptureResult, error) {
			panic("host bug")
		})
	c, err := s.CreateAnnotation(context.Background(), CaptureRequest{Point: dom.Point{X: 150, Y: 125}})
	if err != nil {
		t.Fatal(err)
	}
	if c.Record.CustomLocation != nil {
		t.Errorf("custom location from a panicking handler: %v", c.Record.CustomLocation)
	}
}

func TestCreateAnnotation_NoTargetUsesRequestLocation(t *testing.T) {
	s := newTestSession(t, sessionOpts{})
	c, err := s.CreateAnnotation(context.Background(), CaptureRequest{
		Point:    dom.Point{X: 700, Y: 580},
		Location: location.Location{"page": "/dash"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !location.Equal(c.Record.Location, location.Location{"page": "/dash"}) {
		t.Errorf("location: %v", c.Record.Location)
	}
	if c.Record.CoordsRelativeToTarget != annotation.Centre {
		t.Errorf("coords: %+v", c.Record.CoordsRelativeToTarget)
	}
}

func TestCreateAnnotation_Screenshot(t *testing.T) {
	mem := upload.NewMemory("https://cdn.test")
	s := newTestSession(t, sessionOpts{store: true, uploader: mem, raster: solidRaster(nil)})

	c, err := s.CreateAnnotation(context.Background(), CaptureRequest{Point: dom.Point{X: 150, Y: 125}, Screenshot: true})
	if err != nil {
		t.Fatal(err)
	}
	if c.ScreenshotError != "" {
		t.Fatalf("screenshot error: %s", c.ScreenshotError)
	}
	if want := "https://cdn.test/screenshots/ann-1/regular.png"; c.Record.ScreenshotURL != want {
		t.Errorf("url = %q, want %q", c.Record.ScreenshotURL, want)
	}
	obj, ok := mem.Get(upload.ScreenshotKey("ann-1", "regular"))
	if !ok || obj.ContentType != upload.ContentTypePNG || len(obj.Data) == 0 {
		t.Errorf("uploaded object: %+v %v", obj.ContentType, ok)
	}
	if !strings.Contains(c.Record.Excerpt, "Sales") {
		t.Errorf("excerpt: %q", c.Record.Excerpt)
	}
}

func TestCreateAnnotation_ScreenshotFailureIsReported(t *testing.T) {
	s := newTestSession(t, sessionOpts{store: true, raster: solidRaster(errors.New("gpu lost"))})
	ctx := context.Background()

	c, err := s.CreateAnnotation(ctx, CaptureRequest{Point: dom.Point{X: 150, Y: 125}, Screenshot: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(c.ScreenshotError, "gpu lost") {
		t.Errorf("screenshot error: %q", c.ScreenshotError)
	}
	if c.Record.ScreenshotURL != "" {
		t.Errorf("url: %q", c.Record.ScreenshotURL)
	}
	if _, err := s.List(ctx, store.Filter{}); err != nil {
		t.Fatal(err)
	}
}

func TestScreenshot_DataURLWithoutUploader(t *testing.T) {
	s := newTestSession(t, sessionOpts{raster: solidRaster(nil)})
	res, err := s.Screenshot(context.Background(), ScreenshotRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.URL, "data:image/png;base64,") {
		t.Errorf("url: %.40s", res.URL)
	}
	if res.Width != 800 || res.Height != 600 {
		t.Errorf("size: %dx%d", res.Width, res.Height)
	}
}

func TestScreenshot_NotConfigured(t *testing.T) {
	s := newTestSession(t, sessionOpts{})
	if _, err := s.Screenshot(context.Background(), ScreenshotRequest{}); !errors.Is(err, ErrNoScreenshotter) {
		t.Errorf("err = %v", err)
	}
}

func TestCommitDelete(t *testing.T) {
	s := newTestSession(t, sessionOpts{store: true})
	ctx := context.Background()

	c, err := s.CreateAnnotation(ctx, CaptureRequest{Point: dom.Point{X: 150, Y: 125}})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := s.Commit(ctx, c.Record.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Draft || rec.CommittedAt == nil {
		t.Errorf("not committed: %+v", rec)
	}
	if _, err := s.Commit(ctx, c.Record.ID); !errors.Is(err, store.ErrImmutable) {
		t.Errorf("second commit: %v", err)
	}

	if err := s.Delete(ctx, c.Record.ID); err != nil {
		t.Fatal(err)
	}
	if n := len(s.Tracker().Annotations()); n != 0 {
		t.Errorf("tracked after delete: %d", n)
	}
	if err := s.Delete(ctx, c.Record.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestDelete_DraftWithoutStore(t *testing.T) {
	s := newTestSession(t, sessionOpts{})
	ctx := context.Background()
	c, err := s.CreateAnnotation(ctx, CaptureRequest{Point: dom.Point{X: 150, Y: 125}})
	if err != nil {
		t.Fatal(err)
	}
	recs, err := s.List(ctx, store.Filter{Location: location.Location{"chart": "sales"}})
	if err != nil || len(recs) != 1 {
		t.Fatalf("list: %v %v", recs, err)
	}
	if err := s.Delete(ctx, c.Record.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, c.Record.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestShow_FiltersTrackedSet(t *testing.T) {
	s := newTestSession(t, sessionOpts{store: true})
	ctx := context.Background()
	for _, p := range []dom.Point{{X: 150, Y: 125}, {X: 150, Y: 350}} {
		if _, err := s.CreateAnnotation(ctx, CaptureRequest{Point: p}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Show(ctx, location.Location{"table": "orders"}); err != nil {
		t.Fatal(err)
	}
	tracked := s.Tracker().Annotations()
	if len(tracked) != 1 || tracked[0].Location["table"] != "orders" {
		t.Errorf("tracked: %+v", tracked)
	}
	if err := s.Show(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if n := len(s.Tracker().Annotations()); n != 2 {
		t.Errorf("tracked after reset: %d", n)
	}
}

func TestClick(t *testing.T) {
	s := newTestSession(t, sessionOpts{})
	ctx := context.Background()
	clicked := make(chan string, 1)
	s.Registry().SetClickHandler(location.Location{"chart": "sales"}, func(_ context.Context, a annotation.Annotation) error {
		clicked <- a.ID
		return nil
	})

	c, err := s.CreateAnnotation(ctx, CaptureRequest{Point: dom.Point{X: 150, Y: 125}})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Click(ctx, c.Record.ID); err != nil {
		t.Fatal(err)
	}
	select {
	case id := <-clicked:
		if id != c.Record.ID {
			t.Errorf("clicked %q", id)
		}
	default:
		t.Fatal("click handler not called")
	}
	if err := s.Click(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing: %v", err)
	}
}

func TestCoordinatesRoundTrip(t *testing.T) {
	s := newTestSession(t, sessionOpts{})
	v, err := s.EncodeCoordinates(dom.Point{X: 150, Y: 125})
	if err != nil {
		t.Fatal(err)
	}
	p, err := s.DecodeCoordinates(v)
	if err != nil {
		t.Fatal(err)
	}
	if abs(p.X-150) > 0.01 || abs(p.Y-125) > 0.01 {
		t.Errorf("decoded %+v", p)
	}
}

func TestRun_PublishesStoredAnnotations(t *testing.T) {
	s := newTestSession(t, sessionOpts{store: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.CreateAnnotation(ctx, CaptureRequest{Point: dom.Point{X: 150, Y: 125}}); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := s.Positions().Positions["ann-1"]; ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("annotation never positioned")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("run: %v", err)
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func TestScreenshot_TargetUnderPoint(t *testing.T) {
	doc := htmldom.MustParse(`<html><body>
<div id="a" data-cord-screenshot-target>one</div>
<div id="b" data-cord-screenshot-target>two</div>
</body></html>`, htmldom.WithViewport(800, 600))
	doc.SetLayout(doc.ByID("a"), htmldom.Layout{Rect: dom.Rect{Left: 0, Top: 0, Width: 100, Height: 50}})
	doc.SetLayout(doc.ByID("b"), htmldom.Layout{Rect: dom.Rect{Left: 0, Top: 100, Width: 300, Height: 80}})
	s := newTestSession(t, sessionOpts{raster: solidRaster(nil), doc: doc})
	ctx := context.Background()

	tests := []struct {
		name  string
		point *dom.Point
		w, h  int
	}{
		{"no point keeps the first target", nil, 100, 50},
		{"inside the second target", &dom.Point{X: 50, Y: 140}, 300, 80},
		{"inside the first target", &dom.Point{X: 10, Y: 10}, 100, 50},
		{"outside every target", &dom.Point{X: 700, Y: 500}, 100, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Screenshot(ctx, ScreenshotRequest{Point: tt.point})
			if err != nil {
				t.Fatal(err)
			}
			if res.Width != tt.w || res.Height != tt.h {
				t.Errorf("size %dx%d, want %dx%d", res.Width, res.Height, tt.w, tt.h)
			}
		})
	}
}

func TestScreenshot_HighlightedText(t *testing.T) {
	s := newTestSession(t, sessionOpts{raster: solidRaster(nil)})
	hl := &annotation.HighlightedTextConfig{
		StartElementXPath: "/html/body/h1",
		EndElementXPath:   "/html/body/h1",
		EndNodeOffset:     5,
		SelectedText:      "Sales",
	}
	res, err := s.Screenshot(context.Background(), ScreenshotRequest{Point: &dom.Point{X: 150, Y: 125}, Highlight: hl})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Highlighted {
		t.Error("selection not painted")
	}
	if _, ok := res.TimingsMS[screenshot.StepHighlight]; !ok {
		t.Errorf("timings: %v", res.TimingsMS)
	}
}

func TestCreateAnnotation_KeepsHighlight(t *testing.T) {
	s := newTestSession(t, sessionOpts{store: true, raster: solidRaster(nil)})
	ctx := context.Background()
	hl := &annotation.HighlightedTextConfig{
		StartElementXPath: "/html/body/h1",
		EndElementXPath:   "/html/body/h1",
		EndNodeOffset:     5,
		SelectedText:      "Sales",
	}
	c, err := s.CreateAnnotation(ctx, CaptureRequest{Point: dom.Point{X: 150, Y: 125}, Highlight: hl, Screenshot: true})
	if err != nil {
		t.Fatal(err)
	}
	if c.ScreenshotError != "" {
		t.Fatalf("screenshot error: %s", c.ScreenshotError)
	}
	rec, err := s.store.Get(ctx, c.Record.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.HighlightedTextConfig == nil || rec.HighlightedTextConfig.SelectedText != "Sales" {
		t.Errorf("highlight not stored: %+v", rec.HighlightedTextConfig)
	}
}

func TestScreenshot_RecordsStepTimings(t *testing.T) {
	s := newTestSession(t, sessionOpts{raster: solidRaster(nil), observe: true})
	ctx := context.Background()
	res, err := s.Screenshot(ctx, ScreenshotRequest{AnnotationID: "shot-1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.TimingsMS[screenshot.StepTotal]; !ok {
		t.Errorf("timings: %v", res.TimingsMS)
	}

	s.metrics.Close()
	got, err := s.metrics.Query(ctx, observability.MetricFilter{
		Name:   observability.MetricScreenshotStep,
		Labels: map[string]string{"annotation": "shot-1", "session": s.ID()},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(res.TimingsMS) {
		t.Fatalf("stored %d metrics for %d steps", len(got), len(res.TimingsMS))
	}
	steps := make(map[string]bool)
	for _, m := range got {
		steps[m.Labels["step"]] = true
	}
	for _, want := range []string{screenshot.StepClone, screenshot.StepRasterize, screenshot.StepTotal} {
		if !steps[want] {
			t.Errorf("step %q not recorded: %v", want, steps)
		}
	}
}

func TestAuditTrail_Lifecycle(t *testing.T) {
	s := newTestSession(t, sessionOpts{store: true, observe: true})
	ctx := context.Background()

	c, err := s.CreateAnnotation(ctx, CaptureRequest{Point: dom.Point{X: 150, Y: 125}, Label: "check"})
	if err != nil {
		t.Fatal(err)
	}
	id := c.Record.ID
	if _, err := s.Commit(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Commit(ctx, id); !errors.Is(err, store.ErrImmutable) {
		t.Fatalf("second commit: %v", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}

	s.audit.Close()
	entries, err := s.AuditTrail(ctx, observability.AuditFilter{AnnotationID: id})
	if err != nil {
		t.Fatal(err)
	}
	want := []struct{ op, status string }{
		{observability.OpAnnotationCreate, observability.StatusSuccess},
		{observability.OpAnnotationCommit, observability.StatusSuccess},
		{observability.OpAnnotationCommit, observability.StatusError},
		{observability.OpAnnotationDelete, observability.StatusSuccess},
	}
	if len(entries) != len(want) {
		t.Fatalf("entries: %d", len(entries))
	}
	for i, w := range want {
		e := entries[i]
		if e.Operation != w.op || e.Status != w.status {
			t.Errorf("entry %d: %s/%s, want %s/%s", i, e.Operation, e.Status, w.op, w.status)
		}
		if e.SessionID != s.ID() {
			t.Errorf("entry %d session: %q", i, e.SessionID)
		}
	}
	if !strings.Contains(entries[0].Parameters, `"label":"check"`) {
		t.Errorf("create parameters: %s", entries[0].Parameters)
	}
	if !strings.Contains(entries[0].Result, `"chart":"sales"`) {
		t.Errorf("create result: %s", entries[0].Result)
	}
}

func TestAuditTrail_Disabled(t *testing.T) {
	s := newTestSession(t, sessionOpts{})
	entries, err := s.AuditTrail(context.Background(), observability.AuditFilter{})
	if err != nil || entries != nil {
		t.Errorf("got %v %v", entries, err)
	}
}
