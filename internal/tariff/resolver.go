package tariff

import "sort"

// classPriority orders per-use classes for the fallback pick. Period tariffs
// are absent and therefore never chosen as a fallback.
var classPriority = map[Class]int{
	ClassMinute: 1,
	ClassHour:   2,
	ClassDay:    3,
}

// Decision is the outcome of resolving a vehicle's tariff on entry.
type Decision struct {
	Tariff  *Tariff
	Changed bool
}

// Resolve picks the tariff a vehicle should carry into a new session. The
// catalog must be in catalog order. current may be nil.
func Resolve(current *Tariff, catalog []Tariff) Decision {
	if current != nil && current.IsPeriod() {
		return Decision{Tariff: current}
	}

	var chosen *Tariff
	if current != nil && current.Class.PerUse() {
		chosen = firstOfClass(catalog, current.Class)
	}
	if chosen == nil {
		chosen = byPriority(catalog)
	}
	if chosen == nil {
		return Decision{Tariff: current}
	}
	changed := current == nil || current.ID != chosen.ID
	return Decision{Tariff: chosen, Changed: changed}
}

func firstOfClass(catalog []Tariff, class Class) *Tariff {
	for i := range catalog {
		if catalog[i].Class == class {
			return &catalog[i]
		}
	}
	return nil
}

func byPriority(catalog []Tariff) *Tariff {
	classes := make([]Class, 0, len(classPriority))
	for class := range classPriority {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classPriority[classes[i]] < classPriority[classes[j]] })
	for _, class := range classes {
		if t := firstOfClass(catalog, class); t != nil {
			return t
		}
	}
	return nil
}
