package pdf

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const defaultTimeout = 30 * time.Second

// A4 尺寸与页边距，单位英寸。
const (
	a4Width   = 8.27
	a4Height  = 11.69
	marginIn  = 0.5
	footerCSS = `font-size:8px;width:100%;text-align:center;color:#888;`
)

// Renderer prints sanitised CV HTML to PDF in headless Chromium.
// Each call launches its own browser so a crashed page cannot poison later exports.
type Renderer struct {
	browserBin string
	timeout    time.Duration
}

// NewRenderer 的 browserBin 为空时使用本机 Chromium，找不到则交给 go-rod 下载。
func NewRenderer(browserBin string, timeout time.Duration) *Renderer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Renderer{browserBin: browserBin, timeout: timeout}
}

// Render returns the PDF bytes of htmlContent on A4 with a page-number footer.
func (r *Renderer) Render(ctx context.Context, htmlContent string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	launch := launcher.New().Context(ctx).Headless(true).NoSandbox(true)
	switch {
	case r.browserBin != "":
		launch = launch.Bin(r.browserBin)
	default:
		if path, ok := launcher.LookPath(); ok {
			launch = launch.Bin(path)
		}
	}
	controlURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	defer launch.Cleanup()

	browser := rod.New().Context(ctx).ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer func() { _ = browser.Close() }()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() { _ = page.Close() }()

	if err := page.SetDocumentContent(htmlContent); err != nil {
		return nil, fmt.Errorf("set document content: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	reader, err := page.PDF(printOptions())
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf bytes: %w", err)
	}
	return data, nil
}

func printOptions() *proto.PagePrintToPDF {
	width, height, margin := a4Width, a4Height, marginIn
	return &proto.PagePrintToPDF{
		PrintBackground:     true,
		PaperWidth:          &width,
		PaperHeight:         &height,
		MarginTop:           &margin,
		MarginBottom:        &margin,
		MarginLeft:          &margin,
		MarginRight:         &margin,
		DisplayHeaderFooter: true,
		HeaderTemplate:      "<span></span>",
		FooterTemplate: `<div style="` + footerCSS + `">` +
			`<span class="pageNumber"></span> / <span class="totalPages"></span></div>`,
	}
}
