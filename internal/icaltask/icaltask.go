// Package icaltask converts between iCalendar VTODO components and tasks.
package icaltask

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cyp0633/libtaskinst/datetime"
	"github.com/cyp0633/libtaskinst/task"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

const ProductID = "-//libtaskinst//Task Instances//EN"

// Series is a task together with the overrides that share its UID. Overrides carry an
// Override shape whose MasterID is zero until the master is stored.
type Series struct {
	Master    *task.Task
	Overrides []*task.Task
}

// Decode reads every VTODO of r. Components sharing a UID are grouped; the one without a
// RECURRENCE-ID is the master, the others are its overrides. Overrides whose master is
// missing become plain tasks.
func Decode(r io.Reader) ([]Series, error) {
	dec := ical.NewDecoder(r)

	var todos []*ical.Component
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode calendar: %w", err)
		}
		for _, child := range cal.Children {
			if child.Name == ical.CompToDo {
				todos = append(todos, child)
			}
		}
	}

	var (
		order   []string
		masters = map[string]*task.Task{}
		pending = map[string][]*task.Task{}
	)
	for _, comp := range todos {
		t, err := FromComponent(comp)
		if err != nil {
			return nil, err
		}
		if _, seen := masters[t.UID]; !seen {
			if _, seen := pending[t.UID]; !seen {
				order = append(order, t.UID)
			}
		}
		if t.Kind() == task.KindOverride {
			pending[t.UID] = append(pending[t.UID], t)
			continue
		}
		if _, dup := masters[t.UID]; dup {
			return nil, fmt.Errorf("duplicate VTODO with UID %q", t.UID)
		}
		masters[t.UID] = t
	}

	var out []Series
	for _, uid := range order {
		master, ok := masters[uid]
		if !ok {
			for _, o := range pending[uid] {
				o.Shape = task.Plain{}
				out = append(out, Series{Master: o})
			}
			continue
		}
		if master.Kind() != task.KindMaster {
			for _, o := range pending[uid] {
				o.Shape = task.Plain{}
				out = append(out, Series{Master: o})
			}
			out = append(out, Series{Master: master})
			continue
		}
		for _, o := range pending[uid] {
			shape, _ := o.OverrideShape()
			shape.OriginalAllDay = master.IsAllDay()
			o.Shape = shape
		}
		out = append(out, Series{Master: master, Overrides: pending[uid]})
	}
	return out, nil
}

// FromComponent converts one VTODO. A RECURRENCE-ID yields an Override shape without a
// master, RRULE or RDATE a Master shape.
func FromComponent(comp *ical.Component) (*task.Task, error) {
	if comp.Name != ical.CompToDo {
		return nil, fmt.Errorf("expected %s, got %s", ical.CompToDo, comp.Name)
	}
	t := &task.Task{Shape: task.Plain{}}

	uid, err := comp.Props.Text(ical.PropUID)
	if err != nil {
		return nil, fmt.Errorf("UID: %w", err)
	}
	if uid == "" {
		return nil, errors.New("VTODO without UID")
	}
	t.UID = uid
	if t.Title, err = comp.Props.Text(ical.PropSummary); err != nil {
		return nil, fmt.Errorf("SUMMARY of %s: %w", uid, err)
	}
	if t.Description, err = comp.Props.Text(ical.PropDescription); err != nil {
		return nil, fmt.Errorf("DESCRIPTION of %s: %w", uid, err)
	}

	if t.Start, err = dateProp(comp, ical.PropDateTimeStart); err != nil {
		return nil, fmt.Errorf("DTSTART of %s: %w", uid, err)
	}
	if t.Due, err = dateProp(comp, ical.PropDue); err != nil {
		return nil, fmt.Errorf("DUE of %s: %w", uid, err)
	}
	if prop := comp.Props.Get(ical.PropDuration); prop != nil && t.Due.IsAbsent() {
		d, err := datetime.ParseDuration(prop.Value)
		if err != nil {
			return nil, fmt.Errorf("DURATION of %s: %w", uid, err)
		}
		t.Duration = mo.Some(d)
	}
	if anchor, ok := t.Anchor().Get(); ok && anchor.Kind() == datetime.Zoned {
		t.TimeZone = anchor.Location().String()
	}

	if prop := comp.Props.Get(ical.PropStatus); prop != nil {
		if t.Status, err = task.ParseStatus(prop.Value); err != nil {
			return nil, fmt.Errorf("STATUS of %s: %w", uid, err)
		}
	}
	if prop := comp.Props.Get(ical.PropCompleted); prop != nil {
		c, err := prop.DateTime(time.UTC)
		if err != nil {
			return nil, fmt.Errorf("COMPLETED of %s: %w", uid, err)
		}
		t.Completed = mo.Some(c)
	}

	if prop := comp.Props.Get(ical.PropRecurrenceID); prop != nil && prop.Value != "" {
		ot, err := parseDate(prop)
		if err != nil {
			return nil, fmt.Errorf("RECURRENCE-ID of %s: %w", uid, err)
		}
		t.Shape = task.Override{OriginalTime: ot, OriginalSyncID: uid}
		return t, nil
	}

	var rule string
	if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil {
		rule = strings.TrimPrefix(prop.Value, "RRULE:")
	}
	rdates, err := dateList(comp, ical.PropRecurrenceDates)
	if err != nil {
		return nil, fmt.Errorf("RDATE of %s: %w", uid, err)
	}
	exdates, err := dateList(comp, ical.PropExceptionDates)
	if err != nil {
		return nil, fmt.Errorf("EXDATE of %s: %w", uid, err)
	}
	t.Shape = task.Recurring(rule, rdates, exdates)
	return t, nil
}

// Encode writes the given series as one VCALENDAR. Overrides are written with the UID of
// their master and a RECURRENCE-ID.
func Encode(w io.Writer, series []Series, now time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)

	for _, s := range series {
		cal.Children = append(cal.Children, ToComponent(s.Master, s.Master.UID, now))
		for _, o := range s.Overrides {
			cal.Children = append(cal.Children, ToComponent(o, s.Master.UID, now))
		}
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

// ToComponent converts t into a VTODO with the given UID.
func ToComponent(t *task.Task, uid string, now time.Time) *ical.Component {
	comp := ical.NewComponent(ical.CompToDo)
	comp.Props.SetText(ical.PropUID, uid)
	comp.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	if !t.Created.IsZero() {
		comp.Props.SetDateTime(ical.PropCreated, t.Created.UTC())
	}
	if !t.LastModified.IsZero() {
		comp.Props.SetDateTime(ical.PropLastModified, t.LastModified.UTC())
	}
	if t.Title != "" {
		comp.Props.SetText(ical.PropSummary, t.Title)
	}
	if t.Description != "" {
		comp.Props.SetText(ical.PropDescription, t.Description)
	}

	if start, ok := t.Start.Get(); ok {
		comp.Props.Set(dateValueProp(ical.PropDateTimeStart, start))
	}
	if due, ok := t.Due.Get(); ok {
		comp.Props.Set(dateValueProp(ical.PropDue, due))
	} else if d, ok := t.Duration.Get(); ok {
		prop := ical.NewProp(ical.PropDuration)
		prop.Value = d.String()
		comp.Props.Set(prop)
	}

	status := ical.NewProp(ical.PropStatus)
	status.Value = t.Status.String()
	comp.Props.Set(status)
	if c, ok := t.Completed.Get(); ok {
		comp.Props.SetDateTime(ical.PropCompleted, c.UTC())
	}

	switch shape := t.Shape.(type) {
	case task.Master:
		if shape.Rule != "" {
			prop := ical.NewProp(ical.PropRecurrenceRule)
			prop.Value = shape.Rule
			comp.Props.Set(prop)
		}
		for _, d := range shape.RDates {
			comp.Props.Add(dateValueProp(ical.PropRecurrenceDates, d))
		}
		for _, d := range shape.ExDates {
			comp.Props.Add(dateValueProp(ical.PropExceptionDates, d))
		}
	case task.Override:
		comp.Props.Set(dateValueProp(ical.PropRecurrenceID, shape.OriginalTime))
	}
	return comp
}

func dateValueProp(name string, d datetime.DateTime) *ical.Prop {
	prop := ical.NewProp(name)
	prop.Value = d.Value()
	if d.IsAllDay() {
		prop.Params.Set(ical.ParamValue, "DATE")
	}
	if tzid := d.TZID(); tzid != "" {
		prop.Params.Set(ical.ParamTimezoneID, tzid)
	}
	return prop
}

func dateProp(comp *ical.Component, name string) (mo.Option[datetime.DateTime], error) {
	prop := comp.Props.Get(name)
	if prop == nil || prop.Value == "" {
		return mo.None[datetime.DateTime](), nil
	}
	d, err := parseDate(prop)
	if err != nil {
		return mo.None[datetime.DateTime](), err
	}
	return mo.Some(d), nil
}

func parseDate(prop *ical.Prop) (datetime.DateTime, error) {
	value := prop.Value
	if strings.EqualFold(prop.Params.Get(ical.ParamValue), "DATE") && len(value) > 8 {
		value = value[:8]
	}
	return datetime.Parse(value, prop.Params.Get(ical.ParamTimezoneID))
}

// dateList collects the comma separated values of every property with the given name.
func dateList(comp *ical.Component, name string) ([]datetime.DateTime, error) {
	var out []datetime.DateTime
	for _, prop := range comp.Props.Values(name) {
		tzid := prop.Params.Get(ical.ParamTimezoneID)
		for _, v := range strings.Split(prop.Value, ",") {
			if v = strings.TrimSpace(v); v == "" {
				continue
			}
			p := ical.Prop{Name: name, Params: ical.Params{}, Value: v}
			if tzid != "" {
				p.Params.Set(ical.ParamTimezoneID, tzid)
			}
			if strings.EqualFold(prop.Params.Get(ical.ParamValue), "DATE") {
				p.Params.Set(ical.ParamValue, "DATE")
			}
			d, err := parseDate(&p)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
	}
	return out, nil
}
