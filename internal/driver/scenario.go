package driver

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gantry/internal/logging"

	"gopkg.in/yaml.v3"
)

// Scenario is a YAML-described sequence of browser steps, the unit the
// behavior-test stage executes.
type Scenario struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url,omitempty"`
	Steps   []Step `yaml:"steps"`
}

// Step is one scenario action. Exactly one action field may be set.
type Step struct {
	Open      string         `yaml:"open,omitempty"`
	Click     string         `yaml:"click,omitempty"`
	ClickLink *ClickLinkStep `yaml:"click_link,omitempty"`
	Fill      *FillStep      `yaml:"fill,omitempty"`
	Press     string         `yaml:"press,omitempty"`
	Wait      *WaitStep      `yaml:"wait,omitempty"`
	Assert    *AssertStep    `yaml:"assert,omitempty"`
	Select    *SelectStep    `yaml:"select,omitempty"`
	Scroll    *ScrollStep    `yaml:"scroll,omitempty"`
	Drag      *DragStep      `yaml:"drag,omitempty"`
	Pause     int            `yaml:"pause,omitempty"`
}

// ClickLinkStep clicks a link located by its text.
type ClickLinkStep struct {
	Text    string `yaml:"text"`
	Partial bool   `yaml:"partial,omitempty"`
}

// DragStep drags one element onto another.
type DragStep struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// FillStep types a value into an element.
type FillStep struct {
	Element string `yaml:"element"`
	Value   string `yaml:"value"`
}

// WaitStep waits for an element condition.
type WaitStep struct {
	Element   string `yaml:"element"`
	Condition string `yaml:"condition,omitempty"`
	Value     string `yaml:"value,omitempty"`
	Negated   bool   `yaml:"negated,omitempty"`
	TimeoutMs int    `yaml:"timeout_ms,omitempty"`
}

// AssertStep checks an element condition immediately and fails the
// scenario when it does not hold.
type AssertStep struct {
	Element   string `yaml:"element"`
	Condition string `yaml:"condition,omitempty"`
	Value     string `yaml:"value,omitempty"`
	Negated   bool   `yaml:"negated,omitempty"`
}

// SelectStep chooses a select option.
type SelectStep struct {
	Element string `yaml:"element"`
	By      string `yaml:"by,omitempty"`
	Arg     string `yaml:"arg"`
}

// ScrollStep scrolls the window: to an element, to "bottom", or to x/y.
type ScrollStep struct {
	Element string `yaml:"element,omitempty"`
	To      string `yaml:"to,omitempty"`
	X       int    `yaml:"x,omitempty"`
	Y       int    `yaml:"y,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks that every step is well-formed.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step required")
	}
	for i, step := range s.Steps {
		if err := step.validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func (st *Step) validate() error {
	set := 0
	if st.Open != "" {
		set++
	}
	if st.Click != "" {
		set++
	}
	if st.ClickLink != nil {
		set++
		if st.ClickLink.Text == "" {
			return fmt.Errorf("click_link: text required")
		}
	}
	if st.Fill != nil {
		set++
		if st.Fill.Element == "" {
			return fmt.Errorf("fill: element required")
		}
	}
	if st.Press != "" {
		set++
		if _, _, err := LookupKey(st.Press); err != nil {
			return err
		}
	}
	if st.Wait != nil {
		set++
		if st.Wait.Element == "" {
			return fmt.Errorf("wait: element required")
		}
		if _, err := ParseCondition(st.Wait.Condition); err != nil {
			return fmt.Errorf("wait: %w", err)
		}
	}
	if st.Assert != nil {
		set++
		if st.Assert.Element == "" {
			return fmt.Errorf("assert: element required")
		}
		if _, err := ParseCondition(st.Assert.Condition); err != nil {
			return fmt.Errorf("assert: %w", err)
		}
	}
	if st.Select != nil {
		set++
		if st.Select.Element == "" {
			return fmt.Errorf("select: element required")
		}
	}
	if st.Scroll != nil {
		set++
		if st.Scroll.Element == "" && st.Scroll.To != "bottom" &&
			st.Scroll.X == 0 && st.Scroll.Y == 0 {
			return fmt.Errorf("scroll: element, to: bottom, or x/y required")
		}
	}
	if st.Drag != nil {
		set++
		if st.Drag.From == "" || st.Drag.To == "" {
			return fmt.Errorf("drag: from and to required")
		}
	}
	if st.Pause > 0 {
		set++
	}

	if set == 0 {
		return fmt.Errorf("empty step")
	}
	if set > 1 {
		return fmt.Errorf("step must have exactly one action, found %d", set)
	}
	return nil
}

// Run executes the scenario against the driver. The first failing step
// aborts with an error naming its position.
func (s *Scenario) Run(ctx context.Context, d *Driver) error {
	log := logging.Get(logging.CategoryDriver)
	log.Info("scenario %q: %d step(s)", s.Name, len(s.Steps))

	for i, step := range s.Steps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.runStep(d, step); err != nil {
			return fmt.Errorf("scenario %q step %d: %w", s.Name, i+1, err)
		}
	}
	log.Info("scenario %q passed", s.Name)
	return nil
}

func (s *Scenario) runStep(d *Driver, st Step) error {
	switch {
	case st.Open != "":
		return d.Open(s.resolveURL(st.Open))
	case st.Click != "":
		return d.Click(st.Click)
	case st.ClickLink != nil:
		return d.ClickLinkText(st.ClickLink.Text, st.ClickLink.Partial)
	case st.Fill != nil:
		return d.Fill(st.Fill.Element, st.Fill.Value)
	case st.Press != "":
		return d.PressKey(st.Press)
	case st.Wait != nil:
		cond, _ := ParseCondition(st.Wait.Condition)
		ok, err := d.WaitFor(st.Wait.Element, cond, st.Wait.Negated,
			time.Duration(st.Wait.TimeoutMs)*time.Millisecond, st.Wait.Value)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("wait: %q never satisfied %q (negated=%v)",
				st.Wait.Element, cond, st.Wait.Negated)
		}
		return nil
	case st.Assert != nil:
		cond, _ := ParseCondition(st.Assert.Condition)
		ok, err := d.check(st.Assert.Element, cond, st.Assert.Value)
		if err != nil {
			return err
		}
		if ok == st.Assert.Negated {
			return fmt.Errorf("assert: %q should%s %q",
				st.Assert.Element, negation(st.Assert.Negated), cond)
		}
		return nil
	case st.Select != nil:
		by := SelectBy(st.Select.By)
		if st.Select.By == "" {
			by = SelectByValue
		}
		return d.SelectOption(st.Select.Element, by, st.Select.Arg)
	case st.Scroll != nil:
		switch {
		case st.Scroll.Element != "":
			return d.ScrollToElement(st.Scroll.Element)
		case st.Scroll.To == "bottom":
			return d.ScrollToBottom()
		default:
			return d.ScrollTo(st.Scroll.X, st.Scroll.Y)
		}
	case st.Drag != nil:
		return d.DragTo(st.Drag.From, st.Drag.To)
	case st.Pause > 0:
		d.Pause(st.Pause)
		return nil
	}
	return fmt.Errorf("empty step")
}

func negation(negated bool) string {
	if negated {
		return " not"
	}
	return ""
}

// resolveURL joins relative step URLs onto the scenario base URL.
func (s *Scenario) resolveURL(u string) string {
	if s.BaseURL == "" || strings.Contains(u, "://") {
		return u
	}
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(u, "/")
}
