// Package filing finds the documents linked from a report page, downloads
// them into the download root and prints page snapshots to PDF.
package filing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/twstock-cli/internal/fetcher"
	"github.com/sells-group/twstock-cli/internal/model"
	"github.com/sells-group/twstock-cli/internal/normalize"
	"github.com/sells-group/twstock-cli/internal/resilience"
)

// DefaultSelector matches links to PDF documents.
const DefaultSelector = "a[href$='.pdf'], a[href*='.pdf?']"

var pdfMagic = []byte("%PDF")

var unsafeName = regexp.MustCompile(`[^0-9A-Za-z._-]+`)

// Options configures a Retriever.
type Options struct {
	Root        string
	Concurrency int
	Breaker     *resilience.CircuitBreaker
}

// Retriever downloads filings for report pages.
type Retriever struct {
	fetch   fetcher.Fetcher
	root    string
	limit   int
	breaker *resilience.CircuitBreaker
}

// New creates a Retriever writing under opts.Root.
func New(f fetcher.Fetcher, opts Options) *Retriever {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewCircuitBreaker(5, 0)
	}
	return &Retriever{fetch: f, root: opts.Root, limit: opts.Concurrency, breaker: opts.Breaker}
}

// Link is a discovered document and where it will be stored.
type Link struct {
	URL    string
	Period string
	Path   string
}

// Discover returns the document links on page matching selector, resolved
// against the page URL and deduplicated by target path.
func (r *Retriever) Discover(page model.Page, selector string) ([]Link, error) {
	if selector == "" {
		selector = DefaultSelector
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, eris.Wrap(err, "filing: parse page")
	}
	base, err := url.Parse(page.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "filing: parse page url %s", page.URL)
	}

	var links []Link
	seen := make(map[string]bool)
	doc.Find(selector).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" || strings.HasPrefix(href, "javascript:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			zap.L().Debug("filing: skipping malformed link", zap.String("href", href))
			return
		}
		abs := base.ResolveReference(ref)

		period := linkPeriod(a.Text(), abs)
		p := r.TargetPath(page.StockID, page.Report, period)
		if seen[p] {
			return
		}
		seen[p] = true
		links = append(links, Link{URL: abs.String(), Period: period, Path: p})
	})
	return links, nil
}

// linkPeriod derives the period key from the link text, then the file name.
// Links without a recognizable period are keyed by their file name.
func linkPeriod(text string, u *url.URL) string {
	if fp, ok := normalize.ParsePeriod(text); ok {
		return fp.Key()
	}
	name := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	if fp, ok := normalize.ParsePeriod(name); ok {
		return fp.Key()
	}
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_")
	if name == "" {
		return "unknown"
	}
	return name
}

// TargetPath is <root>/<id>/<report>_<period>.pdf.
func (r *Retriever) TargetPath(id model.Identifier, report model.ReportType, period string) string {
	return filepath.Join(r.root, id.String(), string(report)+"_"+period+".pdf")
}

// Retrieve downloads every document linked from page. Existing targets are
// reported as skipped. The returned error joins all download failures and is
// marked DownloadFailed; filings that did succeed are still returned.
func (r *Retriever) Retrieve(ctx context.Context, page model.Page, selector string) ([]model.Filing, error) {
	links, err := r.Discover(page, selector)
	if err != nil {
		return nil, resilience.Mark(resilience.KindDownloadFailed, err)
	}
	if len(links) == 0 {
		return nil, nil
	}

	var (
		mu       sync.Mutex
		filings  []model.Filing
		failures []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for _, l := range links {
		g.Go(func() error {
			f, err := r.download(gctx, page, l)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				zap.L().Warn("filing: download failed",
					zap.String("stock_id", page.StockID.String()),
					zap.String("report", string(page.Report)),
					zap.String("url", l.URL),
					zap.Error(err),
				)
				return nil
			}
			filings = append(filings, f)
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		return filings, resilience.Mark(resilience.KindDownloadFailed, errors.Join(failures...))
	}
	return filings, nil
}

func (r *Retriever) download(ctx context.Context, page model.Page, l Link) (model.Filing, error) {
	f := model.Filing{StockID: page.StockID, Report: page.Report, Period: l.Period, URL: l.URL, Path: l.Path}

	if exists(l.Path) {
		f.Skipped = true
		return f, nil
	}
	if err := r.breaker.Allow(); err != nil {
		return f, eris.Wrapf(err, "filing: %s", l.URL)
	}

	resp, err := r.fetch.Download(ctx, l.URL)
	if err != nil {
		r.breaker.Record(err)
		return f, err
	}
	defer resp.Body.Close() //nolint:errcheck

	// Read the head to check the PDF signature, then stream the rest.
	head := make([]byte, len(pdfMagic))
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		r.breaker.Record(err)
		return f, eris.Wrapf(err, "filing: read %s", l.URL)
	}
	head = head[:n]
	if err := checkPDF(resp.ContentType, head); err != nil {
		// Content mismatches do not count against the host.
		r.breaker.Record(nil)
		return f, eris.Wrapf(err, "filing: %s", l.URL)
	}

	if err := writeAtomic(l.Path, io.MultiReader(bytes.NewReader(head), resp.Body)); err != nil {
		r.breaker.Record(err)
		return f, err
	}
	r.breaker.Record(nil)
	return f, nil
}

// checkPDF accepts application/pdf, or application/octet-stream (and a
// missing type) when the body starts with the PDF signature.
func checkPDF(contentType string, head []byte) error {
	mt := ""
	if contentType != "" {
		parsed, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return eris.Errorf("unparseable content type %q", contentType)
		}
		mt = parsed
	}
	switch mt {
	case "application/pdf", "application/x-pdf":
		return nil
	case "", "application/octet-stream", "binary/octet-stream":
		if bytes.HasPrefix(head, pdfMagic) {
			return nil
		}
		return eris.New("body is not a PDF")
	default:
		return eris.Errorf("unexpected content type %q", mt)
	}
}

// Snapshot stores the output of printPDF under the page's snapshot name. An
// existing snapshot is kept and reported as skipped.
func (r *Retriever) Snapshot(ctx context.Context, page model.Page, printPDF func(ctx context.Context) ([]byte, error)) (model.Filing, error) {
	period := model.Snapshot().Key()
	f := model.Filing{
		StockID: page.StockID,
		Report:  page.Report,
		Period:  period,
		URL:     page.URL,
		Path:    r.TargetPath(page.StockID, page.Report, period),
	}
	if exists(f.Path) {
		f.Skipped = true
		return f, nil
	}

	data, err := printPDF(ctx)
	if err != nil {
		return f, resilience.Mark(resilience.KindDownloadFailed, eris.Wrap(err, "filing: print page"))
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return f, resilience.Mark(resilience.KindDownloadFailed, eris.New("filing: printed page is not a PDF"))
	}
	if err := writeAtomic(f.Path, bytes.NewReader(data)); err != nil {
		return f, resilience.Mark(resilience.KindDownloadFailed, err)
	}
	return f, nil
}

func exists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Size() > 0
}

// writeAtomic writes into a temp file next to dst and renames it into place,
// so a crash never leaves a partial file under the final name.
func writeAtomic(dst string, src io.Reader) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "filing: create %s", dir)
	}

	tmp := filepath.Join(dir, "."+uuid.NewString()+".part")
	out, err := os.Create(tmp)
	if err != nil {
		return eris.Wrapf(err, "filing: create %s", tmp)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "filing: write %s", dst)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "filing: close %s", dst)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "filing: rename %s", dst)
	}
	return nil
}
