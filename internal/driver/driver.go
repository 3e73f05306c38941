// Package driver is a browser-behavior driver built on rod. It exposes
// the element conditions, waits, and actions that scenario steps need,
// against a headless (or attached) Chrome instance. Selectors starting
// with "//" are treated as XPath, everything else as CSS.
package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gantry/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// DefaultWait bounds condition waits when no timeout is given.
const DefaultWait = 1500 * time.Millisecond

// Options configures the driver.
type Options struct {
	// DebuggerURL attaches to an already-running Chrome. Empty means
	// launch a new instance.
	DebuggerURL string

	// Bin overrides the browser binary for launches.
	Bin string

	// Headless launches without a window (with GPU disabled).
	Headless bool

	// DefaultWait overrides the package default condition wait.
	DefaultWait time.Duration

	// ViewportWidth/Height size the page. Zero keeps browser defaults.
	ViewportWidth  int
	ViewportHeight int

	// NavigationTimeout bounds page loads. Zero means 30s.
	NavigationTimeout time.Duration
}

func (o Options) navigationTimeout() time.Duration {
	if o.NavigationTimeout == 0 {
		return 30 * time.Second
	}
	return o.NavigationTimeout
}

func (o Options) defaultWait() time.Duration {
	if o.DefaultWait == 0 {
		return DefaultWait
	}
	return o.DefaultWait
}

// Driver drives one page of one browser.
type Driver struct {
	opts     Options
	browser  *rod.Browser
	page     *rod.Page
	launched bool
}

// New creates an unstarted driver.
func New(opts Options) *Driver {
	return &Driver{opts: opts}
}

// Start connects to or launches the browser and opens a blank page.
func (d *Driver) Start(ctx context.Context) error {
	controlURL := d.opts.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(d.opts.Headless)
		if d.opts.Headless {
			launch = launch.Set("disable-gpu")
		}
		if d.opts.Bin != "" {
			launch = launch.Bin(d.opts.Bin)
		}
		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		controlURL = url
		d.launched = true
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}
	d.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		d.browser = nil
		return fmt.Errorf("create page: %w", err)
	}
	d.page = page

	if d.opts.ViewportWidth > 0 && d.opts.ViewportHeight > 0 {
		err := (proto.EmulationSetDeviceMetricsOverride{
			Width:             d.opts.ViewportWidth,
			Height:            d.opts.ViewportHeight,
			DeviceScaleFactor: 1.0,
			Mobile:            false,
		}).Call(page)
		if err != nil {
			logging.Get(logging.CategoryDriver).Warn("set viewport: %v", err)
		}
	}

	logging.Get(logging.CategoryDriver).Info("driver started (launched=%v)", d.launched)
	return nil
}

// Close closes the page and, when the driver launched the browser, the
// browser itself.
func (d *Driver) Close() error {
	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}
	if d.browser != nil {
		err := d.browser.Close()
		d.browser = nil
		return err
	}
	return nil
}

// Page exposes the underlying rod page for callers that need raw access.
func (d *Driver) Page() *rod.Page {
	return d.page
}

// Open navigates to a URL and waits for load.
func (d *Driver) Open(url string) error {
	page := d.page.Timeout(d.opts.navigationTimeout())
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	logging.Get(logging.CategoryDriver).Debug("opened %s", url)
	return nil
}

// URL returns the current page URL.
func (d *Driver) URL() (string, error) {
	info, err := d.page.Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

// Title returns the current page title.
func (d *Driver) Title() (string, error) {
	res, err := d.page.Evaluate(rod.Eval(`() => document.title`))
	if err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return res.Value.Str(), nil
}

// Cookies returns the browser cookies visible to the current page.
func (d *Driver) Cookies() ([]*proto.NetworkCookie, error) {
	cookies, err := d.page.Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return cookies, nil
}

// Cookie returns the named cookie, or nil when it is not set.
func (d *Driver) Cookie(name string) (*proto.NetworkCookie, error) {
	cookies, err := d.Cookies()
	if err != nil {
		return nil, err
	}
	for _, c := range cookies {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, nil
}

// IsXPath reports whether a selector should be treated as XPath.
func IsXPath(selector string) bool {
	return strings.HasPrefix(selector, "//")
}

// Element resolves a selector, waiting up to the default wait for it to
// appear.
func (d *Driver) Element(selector string) (*rod.Element, error) {
	page := d.page.Timeout(d.opts.defaultWait())
	var el *rod.Element
	var err error
	if IsXPath(selector) {
		el, err = page.ElementX(selector)
	} else {
		el, err = page.Element(selector)
	}
	if err != nil {
		return nil, fmt.Errorf("element %q: %w", selector, err)
	}
	return el, nil
}

// Exists reports whether the selector matches right now, without waiting.
func (d *Driver) Exists(selector string) (bool, error) {
	var has bool
	var err error
	if IsXPath(selector) {
		has, _, err = d.page.HasX(selector)
	} else {
		has, _, err = d.page.Has(selector)
	}
	if err != nil {
		return false, fmt.Errorf("has %q: %w", selector, err)
	}
	return has, nil
}

// ElementText returns the element's visible text.
func (d *Driver) ElementText(selector string) (string, error) {
	el, err := d.Element(selector)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("text of %q: %w", selector, err)
	}
	return text, nil
}

// ElementAttribute returns an attribute value; missing attributes return
// the empty string.
func (d *Driver) ElementAttribute(selector, name string) (string, error) {
	el, err := d.Element(selector)
	if err != nil {
		return "", err
	}
	val, err := el.Attribute(name)
	if err != nil {
		return "", fmt.Errorf("attribute %q of %q: %w", name, selector, err)
	}
	if val == nil {
		return "", nil
	}
	return *val, nil
}

// ElementValue returns the element's value property.
func (d *Driver) ElementValue(selector string) (string, error) {
	el, err := d.Element(selector)
	if err != nil {
		return "", err
	}
	prop, err := el.Property("value")
	if err != nil {
		return "", fmt.Errorf("value of %q: %w", selector, err)
	}
	return prop.Str(), nil
}

// ElementCSSProperty returns a computed style value. Color-like values
// are normalized to #rrggbb.
func (d *Driver) ElementCSSProperty(selector, property string) (string, error) {
	el, err := d.Element(selector)
	if err != nil {
		return "", err
	}
	res, err := el.Eval(`(prop) => getComputedStyle(this).getPropertyValue(prop)`, property)
	if err != nil {
		return "", fmt.Errorf("css %q of %q: %w", property, selector, err)
	}
	raw := strings.TrimSpace(res.Value.Str())
	if color, ok := NormalizeColor(raw); ok {
		return color, nil
	}
	return raw, nil
}

// ElementInViewport reports whether the element is completely inside
// the visible viewport.
func (d *Driver) ElementInViewport(selector string) (bool, error) {
	el, err := d.Element(selector)
	if err != nil {
		return false, err
	}
	res, err := el.Eval(`() => {
		const r = this.getBoundingClientRect();
		return r.left >= 0 && r.top >= 0 &&
			r.right <= document.documentElement.clientWidth &&
			r.bottom <= document.documentElement.clientHeight;
	}`)
	if err != nil {
		return false, fmt.Errorf("viewport check for %q: %w", selector, err)
	}
	return res.Value.Bool(), nil
}

// ElementFocused reports whether the element is the active element.
func (d *Driver) ElementFocused(selector string) (bool, error) {
	el, err := d.Element(selector)
	if err != nil {
		return false, err
	}
	res, err := el.Eval(`() => this === document.activeElement`)
	if err != nil {
		return false, fmt.Errorf("focus check for %q: %w", selector, err)
	}
	return res.Value.Bool(), nil
}

// ElementHasClass reports whether the element's class list contains the
// given class.
func (d *Driver) ElementHasClass(selector, class string) (bool, error) {
	attr, err := d.ElementAttribute(selector, "class")
	if err != nil {
		return false, err
	}
	return classListContains(attr, class), nil
}

// classListContains matches a class token within a class attribute.
func classListContains(attr, class string) bool {
	for _, c := range strings.Fields(attr) {
		if c == class {
			return true
		}
	}
	return false
}

// ElementLocation returns the element's page coordinates.
func (d *Driver) ElementLocation(selector string) (x, y float64, err error) {
	el, err := d.Element(selector)
	if err != nil {
		return 0, 0, err
	}
	shape, err := el.Shape()
	if err != nil {
		return 0, 0, fmt.Errorf("shape of %q: %w", selector, err)
	}
	box := shape.Box()
	if box == nil {
		return 0, 0, fmt.Errorf("element %q has no box", selector)
	}
	return box.X, box.Y, nil
}

// ElementSize returns the element's rendered size.
func (d *Driver) ElementSize(selector string) (w, h float64, err error) {
	el, err := d.Element(selector)
	if err != nil {
		return 0, 0, err
	}
	shape, err := el.Shape()
	if err != nil {
		return 0, 0, fmt.Errorf("shape of %q: %w", selector, err)
	}
	box := shape.Box()
	if box == nil {
		return 0, 0, fmt.Errorf("element %q has no box", selector)
	}
	return box.Width, box.Height, nil
}
