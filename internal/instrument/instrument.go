package instrument

import (
	"fmt"
	"time"

	"github.com/philosquare/zju-tem/internal/internaltypes"
)

// Instrument describes one bookable machine on the portal. Instances are
// passed by value; the catalog never hands out anything mutable.
type Instrument struct {
	// Name is the short handle used in requests, e.g. "OLD_F20".
	Name string
	// DisplayName is the portal's human-readable name.
	DisplayName string
	// ID is the portal's identifier, posted as instrumentId.
	ID string
	// PublishWeekday and PublishTime are the weekly instant the portal
	// opens this instrument's slots for the following week.
	PublishWeekday time.Weekday
	PublishTime    Clock
}

// Clock is a time of day without a date.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// At combines the clock with day's calendar date in day's location.
func (c Clock) At(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, day.Location())
}

// Catalog is a read-only name/id index over a fixed instrument set.
type Catalog struct {
	byName map[string]Instrument
	byID   map[string]Instrument
	all    []Instrument
}

func NewCatalog(instruments ...Instrument) (*Catalog, error) {
	c := &Catalog{
		byName: make(map[string]Instrument, len(instruments)),
		byID:   make(map[string]Instrument, len(instruments)),
	}
	for _, ins := range instruments {
		if ins.Name == "" || ins.ID == "" {
			return nil, fmt.Errorf("instrument needs both name and id: %+v", ins)
		}
		if _, dup := c.byName[ins.Name]; dup {
			return nil, fmt.Errorf("duplicate instrument name %q", ins.Name)
		}
		if _, dup := c.byID[ins.ID]; dup {
			return nil, fmt.Errorf("duplicate instrument id %q", ins.ID)
		}
		c.byName[ins.Name] = ins
		c.byID[ins.ID] = ins
		c.all = append(c.all, ins)
	}
	return c, nil
}

func (c *Catalog) Get(name string) (Instrument, error) {
	ins, ok := c.byName[name]
	if !ok {
		return Instrument{}, fmt.Errorf("instrument %q: %w", name, internaltypes.ErrNotFound)
	}
	return ins, nil
}

func (c *Catalog) GetByID(id string) (Instrument, error) {
	ins, ok := c.byID[id]
	if !ok {
		return Instrument{}, fmt.Errorf("instrument id %q: %w", id, internaltypes.ErrNotFound)
	}
	return ins, nil
}

// All returns the instruments in registration order.
func (c *Catalog) All() []Instrument {
	out := make([]Instrument, len(c.all))
	copy(out, c.all)
	return out
}

// DefaultCatalog holds the three TEM-lab instruments the portal exposes.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Instrument{
			Name:           "OLD_F20",
			DisplayName:    "场发射透射电镜F20-118（老F20）",
			ID:             "28ad18ae3ebb4f91b1d52553019ca381",
			PublishWeekday: time.Saturday,
			PublishTime:    Clock{Hour: 12},
		},
		Instrument{
			Name:           "NEW_F20",
			DisplayName:    "场发射透射电镜F20-112（新F20）",
			ID:             "563e690aae7b41dfb6da1880f291e65b",
			PublishWeekday: time.Saturday,
			PublishTime:    Clock{Hour: 12},
		},
		Instrument{
			Name:           "FIB",
			DisplayName:    "双束聚焦微纳加工仪FIB",
			ID:             "23ba4d2d9470434a905b4049ef457648",
			PublishWeekday: time.Monday,
			PublishTime:    Clock{Hour: 8},
		},
	)
	if err != nil {
		panic(err) // static data, cannot fail
	}
	return c
}
