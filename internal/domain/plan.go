package domain

import (
	"fmt"
	"strconv"
	"time"
)

// DurationUnit единица длительности окна доступа
type DurationUnit string

const (
	DurationUnitHour DurationUnit = "hour"
	DurationUnitDay  DurationUnit = "day"
)

// PlanDuration длина окна доступа. Хранится как количество и единица, чтобы
// выводить ее в исходном виде.
type PlanDuration struct {
	Amount int          `json:"amount"`
	Unit   DurationUnit `json:"unit"`
}

// Std переводит длительность в time.Duration.
func (d PlanDuration) Std() time.Duration {
	switch d.Unit {
	case DurationUnitHour:
		return time.Duration(d.Amount) * time.Hour
	case DurationUnitDay:
		return time.Duration(d.Amount) * 24 * time.Hour
	default:
		return 0
	}
}

func (d PlanDuration) String() string {
	if d.Amount == 1 {
		return fmt.Sprintf("1 %s", d.Unit)
	}
	return fmt.Sprintf("%d %ss", d.Amount, d.Unit)
}

// Plan неизменяемое описание тарифа.
type Plan struct {
	Key      string       `json:"key"`
	Label    string       `json:"label"`
	Duration PlanDuration `json:"duration"`
	Price    float64      `json:"price"`
	Currency string       `json:"currency"`
	IsTrial  bool         `json:"is_trial"`
}

// Catalog статическая упорядоченная таблица тарифов, загружается один раз при
// старте.
type Catalog struct {
	plans []Plan
	byKey map[string]Plan
}

// NewCatalog создает каталог. Ключи уникальны и не пусты, пробный тариф не
// больше одного.
func NewCatalog(plans []Plan) (*Catalog, error) {
	c := &Catalog{
		plans: make([]Plan, 0, len(plans)),
		byKey: make(map[string]Plan, len(plans)),
	}

	trials := 0
	for _, p := range plans {
		if p.Key == "" {
			return nil, fmt.Errorf("%w: empty plan key", ErrInvalidInput)
		}
		if _, dup := c.byKey[p.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate plan key %q", ErrInvalidInput, p.Key)
		}
		if p.Duration.Std() <= 0 {
			return nil, fmt.Errorf("%w: plan %q has no duration", ErrInvalidInput, p.Key)
		}
		if p.IsTrial {
			trials++
		}
		c.plans = append(c.plans, p)
		c.byKey[p.Key] = p
	}
	if trials > 1 {
		return nil, fmt.Errorf("%w: more than one trial plan", ErrInvalidInput)
	}

	return c, nil
}

// DefaultCatalog возвращает стандартные тарифы: бесплатный час и четыре платных
// окна.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]Plan{
		{Key: "trial", Label: "1 Hour - Free", Duration: PlanDuration{Amount: 1, Unit: DurationUnitHour}, Price: 0, Currency: "USD", IsTrial: true},
		{Key: "1d", Label: "1 Day - $2", Duration: PlanDuration{Amount: 1, Unit: DurationUnitDay}, Price: 2, Currency: "USD"},
		{Key: "7d", Label: "7 Days - $10", Duration: PlanDuration{Amount: 7, Unit: DurationUnitDay}, Price: 10, Currency: "USD"},
		{Key: "15d", Label: "15 Days - $15", Duration: PlanDuration{Amount: 15, Unit: DurationUnitDay}, Price: 15, Currency: "USD"},
		{Key: "30d", Label: "30 Days - $20", Duration: PlanDuration{Amount: 30, Unit: DurationUnitDay}, Price: 20, Currency: "USD"},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// All возвращает тарифы в порядке отображения.
func (c *Catalog) All() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Get ищет тариф по ключу.
func (c *Catalog) Get(key string) (Plan, bool) {
	p, ok := c.byKey[key]
	return p, ok
}

// Trial возвращает пробный тариф, если он есть в каталоге.
func (c *Catalog) Trial() (Plan, bool) {
	for _, p := range c.plans {
		if p.IsTrial {
			return p, true
		}
	}
	return Plan{}, false
}

// Resolve принимает ключ тарифа или длину окна в секундах (старый формат
// approve_<user>_<seconds>) и возвращает подходящий платный тариф.
func (c *Catalog) Resolve(keyOrSeconds string) (Plan, bool) {
	if p, ok := c.byKey[keyOrSeconds]; ok {
		return p, true
	}
	secs, err := strconv.ParseInt(keyOrSeconds, 10, 64)
	if err != nil || secs <= 0 {
		return Plan{}, false
	}
	want := time.Duration(secs) * time.Second
	for _, p := range c.plans {
		if !p.IsTrial && p.Duration.Std() == want {
			return p, true
		}
	}
	return Plan{}, false
}
