package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"

	pdfbridge "github.com/pdfbridge-workbench/pdfbridge-go"
)

// demoEngine stands in for the real rendering engine: it treats the
// document as fixed-size pages of raw bytes and "extracts" hex previews as
// page text.
type demoEngine struct {
	transport *pdfbridge.RangeTransport
	pageSize  int64
	total     int64

	mu    sync.Mutex
	bytes map[int64][]byte
}

func (e *demoEngine) OnDataRange(begin int64, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bytes[begin] = data
}

func (e *demoEngine) NumPages() int {
	n := e.total / e.pageSize
	if e.total%e.pageSize != 0 {
		n++
	}
	return int(n)
}

func (e *demoEngine) PageText(ctx context.Context, page int) (string, []string, error) {
	begin := int64(page-1) * e.pageSize
	end := begin + e.pageSize
	if end > e.total {
		end = e.total
	}
	e.transport.RequestDataRange(begin, end)
	e.transport.Wait()

	e.mu.Lock()
	data := e.bytes[begin]
	e.mu.Unlock()
	text := fmt.Sprintf("page %d: %d bytes", page, len(data))
	return text, []string{text}, nil
}

func (e *demoEngine) RenderPage(ctx context.Context, page int) error {
	_, _, err := e.PageText(ctx, page)
	return err
}

func main() {
	server := flag.String("server", "http://localhost:8080/bridge", "bridge endpoint")
	doc := flag.String("doc", "", "document url or path")
	flag.Parse()
	if *doc == "" {
		log.Fatal("usage: viewer -doc <url or path>")
	}

	bridge := pdfbridge.NewBridge(&pdfbridge.HTTPTransport{URL: *server}, nil)
	viewer := pdfbridge.NewViewer(bridge, nil, nil)

	session, err := viewer.OpenDocument(context.Background(), *doc, 1)
	if err != nil {
		log.Fatalf("open failed: %v", err)
	}
	fmt.Printf("opened %s: %d bytes, session %s\n", *doc, session.TotalBytes, session.ID)

	engine := &demoEngine{pageSize: 64 << 10, total: session.TotalBytes, bytes: make(map[int64][]byte)}
	engine.transport = pdfbridge.NewRangeTransport(*doc, session.TotalBytes, session.Fetcher, engine, nil)

	preloader := pdfbridge.NewPreloader(pdfbridge.PreloaderConfig{
		Engine: engine,
		Cache:  session.Texts,
		Gate:   session.Gate,
		OnProgress: func(loaded, total int) {
			fmt.Printf("\rpreloading %d/%d", loaded, total)
		},
		OnComplete: func(errs []pdfbridge.PageError) {
			if len(errs) == 0 {
				fmt.Println("\npreload complete")
				return
			}
			var pages []string
			for _, e := range errs {
				pages = append(pages, fmt.Sprint(e.Page))
			}
			fmt.Printf("\npreload finished with errors on pages %s\n", strings.Join(pages, ", "))
		},
	})
	preloader.Run(session.Context())

	scheduler := pdfbridge.NewRenderScheduler(engine, session.Gate, nil)
	scheduler.OnRendered = func(page int) {
		viewer.SetPage(session, int64(page))
	}
	scheduler.Request(int(session.Page))
}
