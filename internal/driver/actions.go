package driver

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// Click clicks an element.
func (d *Driver) Click(selector string) error {
	el, err := d.Element(selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// DoubleClick double-clicks an element.
func (d *Driver) DoubleClick(selector string) error {
	el, err := d.Element(selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 2); err != nil {
		return fmt.Errorf("double-click %q: %w", selector, err)
	}
	return nil
}

// Fill clears the element and types the given text into it.
func (d *Driver) Fill(selector, text string) error {
	el, err := d.Element(selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("select text in %q: %w", selector, err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("input into %q: %w", selector, err)
	}
	return nil
}

// Clear empties an input element.
func (d *Driver) Clear(selector string) error {
	el, err := d.Element(selector)
	if err != nil {
		return err
	}
	if _, err := el.Eval(`() => { this.value = ""; this.dispatchEvent(new Event("input", {bubbles: true})); }`); err != nil {
		return fmt.Errorf("clear %q: %w", selector, err)
	}
	return nil
}

// Submit submits the form containing the element.
func (d *Driver) Submit(selector string) error {
	el, err := d.Element(selector)
	if err != nil {
		return err
	}
	if _, err := el.Eval(`() => (this.form || this.closest("form")).submit()`); err != nil {
		return fmt.Errorf("submit %q: %w", selector, err)
	}
	return nil
}

// namedKeys maps step key names to rod input keys. Single characters
// fall through to literal typing.
var namedKeys = map[string]input.Key{
	"ENTER":     input.Enter,
	"TAB":       input.Tab,
	"ESCAPE":    input.Escape,
	"BACKSPACE": input.Backspace,
	"DELETE":    input.Delete,
	"SPACE":     input.Space,
	"UP":        input.ArrowUp,
	"DOWN":      input.ArrowDown,
	"LEFT":      input.ArrowLeft,
	"RIGHT":     input.ArrowRight,
	"HOME":      input.Home,
	"END":       input.End,
	"PAGE_UP":   input.PageUp,
	"PAGE_DOWN": input.PageDown,
}

// LookupKey resolves a key name to a rod key. Names longer than one
// character must be known; single characters are typed literally.
func LookupKey(name string) (input.Key, bool, error) {
	if key, ok := namedKeys[strings.ToUpper(name)]; ok && len(name) > 1 {
		return key, true, nil
	}
	if len(name) == 1 {
		return 0, false, nil
	}
	return 0, false, fmt.Errorf("unknown key %q", name)
}

// PressKey presses a named key (ENTER, ESCAPE, ...) or types a single
// character at the page level.
func (d *Driver) PressKey(name string) error {
	key, named, err := LookupKey(name)
	if err != nil {
		return err
	}
	if named {
		if err := d.page.Keyboard.Type(key); err != nil {
			return fmt.Errorf("press %q: %w", name, err)
		}
		return nil
	}
	if err := d.page.InsertText(name); err != nil {
		return fmt.Errorf("type %q: %w", name, err)
	}
	return nil
}

// SendKeys focuses the element and types into it. A named special key
// (ENTER, ESCAPE, ...) is pressed; any other text is typed literally.
func (d *Driver) SendKeys(selector, text string) error {
	el, err := d.Element(selector)
	if err != nil {
		return err
	}
	if err := el.Focus(); err != nil {
		return fmt.Errorf("focus %q: %w", selector, err)
	}
	if key, ok := namedKeys[strings.ToUpper(text)]; ok && len(text) > 1 {
		if err := d.page.Keyboard.Type(key); err != nil {
			return fmt.Errorf("send %q to %q: %w", text, selector, err)
		}
		return nil
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("send keys to %q: %w", selector, err)
	}
	return nil
}

// ClickLinkText clicks an anchor located by its text. With partial the
// text may be a substring of the link text.
func (d *Driver) ClickLinkText(text string, partial bool) error {
	el, err := d.page.Timeout(d.opts.defaultWait()).ElementX(linkTextXPath(text, partial))
	if err != nil {
		return fmt.Errorf("link %q: %w", text, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click link %q: %w", text, err)
	}
	return nil
}

func linkTextXPath(text string, partial bool) string {
	lit := xpathLiteral(text)
	if partial {
		return "//a[contains(normalize-space(.), " + lit + ")]"
	}
	return "//a[normalize-space(.)=" + lit + "]"
}

// xpathLiteral quotes arbitrary text as an XPath 1.0 string expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	if len(quoted) == 1 {
		return quoted[0]
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// DragTo drags one element onto another with the mouse.
func (d *Driver) DragTo(source, target string) error {
	from, err := d.elementCenter(source)
	if err != nil {
		return err
	}
	to, err := d.elementCenter(target)
	if err != nil {
		return err
	}

	mouse := d.page.Mouse
	if err := mouse.MoveTo(from); err != nil {
		return fmt.Errorf("drag %q: %w", source, err)
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("drag %q: %w", source, err)
	}
	if err := mouse.MoveTo(to); err != nil {
		return fmt.Errorf("drag %q to %q: %w", source, target, err)
	}
	if err := mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("drop on %q: %w", target, err)
	}
	return nil
}

func (d *Driver) elementCenter(selector string) (proto.Point, error) {
	el, err := d.Element(selector)
	if err != nil {
		return proto.Point{}, err
	}
	shape, err := el.Shape()
	if err != nil {
		return proto.Point{}, fmt.Errorf("shape of %q: %w", selector, err)
	}
	box := shape.Box()
	if box == nil {
		return proto.Point{}, fmt.Errorf("element %q has no box", selector)
	}
	return proto.Point{X: box.X + box.Width/2, Y: box.Y + box.Height/2}, nil
}

// SelectBy names the strategies for choosing a select option.
type SelectBy string

const (
	SelectByValue SelectBy = "value"
	SelectByText  SelectBy = "text"
	SelectByIndex SelectBy = "index"
	// Any other SelectBy value is treated as an attribute name.
)

// SelectOption chooses an option within a select element. by is one of
// the SelectBy strategies or an arbitrary attribute name; arg is the
// value/text/index/attribute value.
func (d *Driver) SelectOption(selector string, by SelectBy, arg string) error {
	el, err := d.Element(selector)
	if err != nil {
		return err
	}

	var optSelector string
	var selType rod.SelectorType
	switch by {
	case SelectByText:
		optSelector = arg
		selType = rod.SelectorTypeText
	case SelectByValue:
		optSelector = fmt.Sprintf(`option[value=%q]`, arg)
		selType = rod.SelectorTypeCSSSector
	case SelectByIndex:
		optSelector = fmt.Sprintf(`option:nth-of-type(%s)`, arg)
		selType = rod.SelectorTypeCSSSector
	default:
		// Any other strategy is treated as an option attribute name.
		optSelector = fmt.Sprintf(`option[%s=%q]`, string(by), arg)
		selType = rod.SelectorTypeCSSSector
	}

	if err := el.Select([]string{optSelector}, true, selType); err != nil {
		return fmt.Errorf("select option %q in %q: %w", arg, selector, err)
	}
	return nil
}

// MoveTo moves the mouse over the element.
func (d *Driver) MoveTo(selector string) error {
	el, err := d.Element(selector)
	if err != nil {
		return err
	}
	if err := el.Hover(); err != nil {
		return fmt.Errorf("move to %q: %w", selector, err)
	}
	return nil
}

// ScrollTo scrolls the window to a coordinate.
func (d *Driver) ScrollTo(x, y int) error {
	if _, err := d.page.Evaluate(rod.Eval(`(x, y) => window.scrollTo(x, y)`, x, y)); err != nil {
		return fmt.Errorf("scroll to (%d,%d): %w", x, y, err)
	}
	return nil
}

// ScrollToBottom scrolls to the bottom of the document.
func (d *Driver) ScrollToBottom() error {
	if _, err := d.page.Evaluate(rod.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)); err != nil {
		return fmt.Errorf("scroll to bottom: %w", err)
	}
	return nil
}

// ScrollToElement brings the element into view.
func (d *Driver) ScrollToElement(selector string) error {
	el, err := d.Element(selector)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("scroll to %q: %w", selector, err)
	}
	return nil
}

// Pause sleeps for a number of milliseconds.
func (d *Driver) Pause(ms int) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// DialogExpectation handles the next JavaScript dialog. Create it before
// triggering the dialog, then Accept or Dismiss.
type DialogExpectation struct {
	page   *rod.Page
	wait   func() *proto.PageJavascriptDialogOpening
	handle func(*proto.PageHandleJavaScriptDialog) error
}

// ExpectDialog arms handling for the next dialog on the page.
func (d *Driver) ExpectDialog() *DialogExpectation {
	wait, handle := d.page.HandleDialog()
	return &DialogExpectation{page: d.page, wait: wait, handle: handle}
}

// Accept waits for the dialog and accepts it, returning the dialog text.
// promptText is entered into prompt dialogs; ignored otherwise.
func (e *DialogExpectation) Accept(promptText string) (string, error) {
	dialog := e.wait()
	err := e.handle(&proto.PageHandleJavaScriptDialog{Accept: true, PromptText: promptText})
	if err != nil {
		return "", fmt.Errorf("accept dialog: %w", err)
	}
	return dialog.Message, nil
}

// Dismiss waits for the dialog and dismisses it, returning the dialog
// text.
func (e *DialogExpectation) Dismiss() (string, error) {
	dialog := e.wait()
	err := e.handle(&proto.PageHandleJavaScriptDialog{Accept: false})
	if err != nil {
		return "", fmt.Errorf("dismiss dialog: %w", err)
	}
	return dialog.Message, nil
}
