package driver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
)

// Condition names an observable element state. The names match the
// phrasing scenario steps use.
type Condition string

const (
	CondExist        Condition = "exist"
	CondVisible      Condition = "be visible"
	CondEnabled      Condition = "be enabled"
	CondChecked      Condition = "be checked"
	CondSelected     Condition = "be selected"
	CondContainText  Condition = "contain a text"
	CondContainValue Condition = "contain a value"
)

// ParseCondition maps a step phrase to a Condition. The empty string
// defaults to existence.
func ParseCondition(s string) (Condition, error) {
	switch Condition(strings.TrimSpace(s)) {
	case "":
		return CondExist, nil
	case CondExist, CondVisible, CondEnabled, CondChecked, CondSelected,
		CondContainText, CondContainValue:
		return Condition(strings.TrimSpace(s)), nil
	default:
		return "", fmt.Errorf("unknown condition %q", s)
	}
}

// check evaluates the condition once. arg carries the expected
// text/value for the contain conditions.
func (d *Driver) check(selector string, cond Condition, arg string) (bool, error) {
	if cond == CondExist {
		return d.Exists(selector)
	}

	exists, err := d.Exists(selector)
	if err != nil || !exists {
		return false, err
	}

	el, err := d.Element(selector)
	if err != nil {
		return false, err
	}

	switch cond {
	case CondVisible:
		return el.Visible()
	case CondEnabled:
		return !boolProperty(el, "disabled"), nil
	case CondChecked:
		return boolProperty(el, "checked"), nil
	case CondSelected:
		// Option elements report "selected", checkboxes "checked".
		return boolProperty(el, "selected") || boolProperty(el, "checked"), nil
	case CondContainText:
		text, err := el.Text()
		if err != nil {
			return false, err
		}
		return strings.Contains(text, arg), nil
	case CondContainValue:
		prop, err := el.Property("value")
		if err != nil {
			return false, err
		}
		return strings.Contains(prop.Str(), arg), nil
	default:
		return false, fmt.Errorf("unknown condition %q", cond)
	}
}

// IsVisible reports whether the element is rendered visibly.
func (d *Driver) IsVisible(selector string) (bool, error) {
	return d.check(selector, CondVisible, "")
}

// IsEnabled reports whether the element accepts interaction.
func (d *Driver) IsEnabled(selector string) (bool, error) {
	return d.check(selector, CondEnabled, "")
}

// IsSelected reports whether an option or checkbox is selected.
func (d *Driver) IsSelected(selector string) (bool, error) {
	return d.check(selector, CondSelected, "")
}

func boolProperty(el *rod.Element, name string) bool {
	prop, err := el.Property(name)
	if err != nil {
		return false
	}
	return prop.Bool()
}

// WaitFor polls until the condition (or its negation) holds, up to
// timeout. Zero timeout means the driver's default wait. Returns false
// without error when the deadline passes, mirroring a timed-out
// expected-condition wait.
func (d *Driver) WaitFor(selector string, cond Condition, negated bool, timeout time.Duration, arg string) (bool, error) {
	if timeout == 0 {
		timeout = d.opts.defaultWait()
	}
	deadline := time.Now().Add(timeout)

	for {
		ok, err := d.check(selector, cond, arg)
		if err != nil {
			return false, err
		}
		if ok != negated {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}

var (
	hexColorRe = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	rgbColorRe = regexp.MustCompile(`^rgba?\(\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)\s*(?:,\s*[\d.]+\s*)?\)$`)
)

// NormalizeColor canonicalizes hex and rgb()/rgba() color strings to
// lowercase #rrggbb. Returns false for non-color input.
func NormalizeColor(s string) (string, bool) {
	s = strings.TrimSpace(s)

	if m := hexColorRe.FindStringSubmatch(s); m != nil {
		hex := strings.ToLower(m[1])
		if len(hex) == 3 {
			hex = strings.Repeat(string(hex[0]), 2) +
				strings.Repeat(string(hex[1]), 2) +
				strings.Repeat(string(hex[2]), 2)
		}
		return "#" + hex, true
	}

	if m := rgbColorRe.FindStringSubmatch(s); m != nil {
		var parts [3]int
		for i := 0; i < 3; i++ {
			n, err := strconv.Atoi(m[i+1])
			if err != nil || n > 255 {
				return "", false
			}
			parts[i] = n
		}
		return fmt.Sprintf("#%02x%02x%02x", parts[0], parts[1], parts[2]), true
	}

	return "", false
}
